package credential

import (
	"os"

	"github.com/juju/errors"
)

// LoadKeyFile reads raw key material. Parsing happens in Issue.
func LoadKeyFile(path string) ([]byte, error) {
	if path == "" {
		return nil, KeyLoadError{Cause: errors.NotValidf("private key path empty")}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, KeyLoadError{Cause: errors.Annotatef(err, "path=%s", path)}
	}
	return b, nil
}

// IsKeyError reports startup-fatal credential errors.
func IsKeyError(err error) bool {
	switch errors.Cause(err).(type) {
	case KeyLoadError, SigningError:
		return true
	}
	return false
}
