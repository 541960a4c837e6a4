package sds011

import (
	"context"
	"io"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/airq/helpers"
	"github.com/temoto/airq/log2"
)

// Sensor owns the serial line exclusively, not safe for concurrent use.
type Sensor struct {
	port io.ReadWriter
	log  *log2.Log
}

func NewSensor(port io.ReadWriter, log *log2.Log) *Sensor {
	return &Sensor{port: port, log: log}
}

func (self *Sensor) Wake() error  { return self.send(EncodeWake(), "wake") }
func (self *Sensor) Sleep() error { return self.send(EncodeSleep(), "sleep") }

func (self *Sensor) send(f Frame, name string) error {
	n, err := helpers.WriteAll(self.port, f.Bytes())
	self.log.Debugf("sds011 %s > (%02d) %s err=%v", name, n, f.Format(), err)
	return errors.Annotatef(err, "sds011 %s write", name)
}

type readResult struct {
	n   int
	err error
}

// Read waits for n bytes. Zero timeout waits forever (or until ctx is done).
// Truncated stream returns collected bytes and error with Cause io.ErrUnexpectedEOF or io.EOF.
// Timeout error satisfies errors.IsTimeout.
func (self *Sensor) Read(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, n)
	resultCh := make(chan readResult, 1)
	// blocking tty read can not be interrupted, on timeout reader goroutine is abandoned
	go func() {
		n, err := io.ReadFull(self.port, buf)
		resultCh <- readResult{n, err}
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		tmr := time.NewTimer(timeout)
		defer tmr.Stop()
		timeoutCh = tmr.C
	}

	select {
	case r := <-resultCh:
		b := buf[:r.n]
		self.log.Debugf("sds011 read < (%02d) %s err=%v", r.n, FormatHex(b), r.err)
		if r.err != nil {
			return b, errors.Annotatef(r.err, "sds011 read need=%d got=%d", n, r.n)
		}
		return b, nil

	case <-timeoutCh:
		return nil, errors.Timeoutf("sds011 read need=%d within %s", n, timeout)

	case <-ctx.Done():
		return nil, errors.Annotate(ctx.Err(), "sds011 read")
	}
}
