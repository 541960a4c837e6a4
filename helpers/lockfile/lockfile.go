// Package lockfile is the process singleton: at most one agent touches the sensor.
// Lock is advisory flock(2), released by kernel when process dies.
package lockfile

import (
	"os"
	"strconv"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

var ErrLocked = errors.New("another instance holds the lock")

type Lock struct {
	path string
	f    *os.File
}

// Acquire never blocks, returns ErrLocked (via errors.Cause) if held elsewhere.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Annotatef(err, "lockfile open path=%s", path)
	}
	if err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, errors.Annotatef(ErrLocked, "lockfile path=%s", path)
		}
		return nil, errors.Annotatef(err, "lockfile flock path=%s", path)
	}
	// pid is informational only
	if err = f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &Lock{path: path, f: f}, nil
}

func (self *Lock) Path() string { return self.path }

// Release is idempotent.
func (self *Lock) Release() error {
	if self == nil || self.f == nil {
		return nil
	}
	f := self.f
	self.f = nil
	err := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return errors.Annotatef(err, "lockfile release path=%s", self.path)
}
