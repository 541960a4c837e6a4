package cycle

import (
	"context"
	"io"

	"github.com/juju/errors"
	"github.com/temoto/airq/hardware/sds011"
	"github.com/temoto/airq/internal/credential"
	"github.com/temoto/airq/internal/tele"
	"github.com/temoto/airq/log2"
)

// guard holds serial line and publish session for one cycle.
// Release must be deferred right after creation.
// Sleep frame goes out at most once and only if wake was attempted.
type guard struct {
	log     *log2.Log
	sensor  *sds011.Sensor
	session tele.Sessioner
	port    io.Closer // owned only when opened by cycle

	woke     bool
	slept    bool
	sleepErr error
	released bool
}

func newGuard(log *log2.Log, sensor *sds011.Sensor, session tele.Sessioner) *guard {
	return &guard{log: log, sensor: sensor, session: session}
}

func (self *guard) StartSession(ctx context.Context, cred credential.Credential) error {
	if self.session == nil {
		return errors.New("code error publish session is not configured")
	}
	return self.session.Start(ctx, cred)
}

func (self *guard) Wake() error {
	// partial write may have reached the sensor
	self.woke = true
	return self.sensor.Wake()
}

func (self *guard) Sleep() error {
	if !self.woke || self.slept {
		return nil
	}
	self.slept = true
	self.sleepErr = self.sensor.Sleep()
	if self.sleepErr != nil {
		self.log.Errorf("sensor sleep err=%v", self.sleepErr)
	}
	return self.sleepErr
}

func (self *guard) Release() {
	if self.released {
		return
	}
	self.released = true
	_ = self.Sleep()
	if self.session != nil {
		self.session.Stop()
	}
	if self.port != nil {
		if err := self.port.Close(); err != nil {
			self.log.Errorf("serial close err=%v", err)
		}
	}
}
