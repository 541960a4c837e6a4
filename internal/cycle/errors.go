package cycle

import (
	"context"
	"fmt"
	"io"

	"github.com/juju/errors"
	"github.com/temoto/airq/hardware/sds011"
	"github.com/temoto/airq/internal/credential"
)

//go:generate stringer -type=Category -trimprefix=Category
type Category uint8

const (
	CategoryNone Category = iota
	CategoryKeyLoad
	CategorySigning
	CategorySerialIO
	CategoryShortRead
	CategoryInvalidFrame
	CategoryPublish
	CategoryTimeout
	CategoryInterrupted
	CategoryInternal
)

var statusLines = map[Category]string{
	CategoryKeyLoad:      "private key could not be loaded, check tele.private_key_file",
	CategorySigning:      "credential could not be signed, check tele.algorithm matches key type",
	CategorySerialIO:     "sensor serial line failed, check serial.device",
	CategoryShortRead:    "sensor sent truncated frame",
	CategoryInvalidFrame: "sensor sent invalid frame",
	CategoryPublish:      "measurement was not accepted by bridge",
	CategoryTimeout:      "operation timed out",
	CategoryInterrupted:  "cycle interrupted",
	CategoryInternal:     "internal error",
}

// Error is terminal failure of one cycle.
type Error struct {
	Category Category
	State    State
	Err      error
}

func (self *Error) Error() string {
	return fmt.Sprintf("cycle state=%s category=%s: %v", self.State, self.Category, self.Err)
}

func (self *Error) Unwrap() error { return self.Err }

// Status is one human readable line for operator.
func (self *Error) Status() string {
	return fmt.Sprintf("%s (%s): %v", statusLines[self.Category], self.State, errors.Cause(self.Err))
}

func newError(state State, err error) *Error {
	return &Error{Category: Categorize(state, err), State: state, Err: err}
}

// Categorize prefers error type, state where it failed is the fallback.
func Categorize(state State, err error) Category {
	if err == nil {
		return CategoryNone
	}
	if errors.IsTimeout(err) {
		return CategoryTimeout
	}
	cause := errors.Cause(err)
	switch e := cause.(type) {
	case credential.KeyLoadError:
		return CategoryKeyLoad
	case credential.SigningError:
		return CategorySigning
	case sds011.ErrShortRead:
		return CategoryShortRead
	case sds011.ErrInvalidFrame, sds011.InvalidChecksum:
		return CategoryInvalidFrame
	case *Error:
		return e.Category
	default:
		switch cause {
		case context.Canceled, context.DeadlineExceeded:
			return CategoryInterrupted
		case io.EOF, io.ErrUnexpectedEOF:
			return CategoryShortRead
		}
	}

	switch state {
	case StateAwake, StateReading, StateSleeping:
		return CategorySerialIO
	case StateIdle, StatePublishing:
		return CategoryPublish
	}
	return CategoryInternal
}

// ErrorCategory returns CategoryNone for nil and non-cycle errors.
func ErrorCategory(err error) Category {
	if e, ok := err.(*Error); ok {
		return e.Category
	}
	return CategoryNone
}
