package helpers

import (
	"encoding/hex"
	"strings"
)

// MustHex decodes hex, spaces are ignored. Panics on invalid input, for tests and constants.
func MustHex(s string) []byte {
	b, err := hex.DecodeString(strings.Replace(s, " ", "", -1))
	if err != nil {
		panic(err)
	}
	return b
}
