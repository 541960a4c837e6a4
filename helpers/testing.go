package helpers

import (
	"math/rand"
	"time"
)

// RandUnix is for shuffling table tests, not crypto.
func RandUnix() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
