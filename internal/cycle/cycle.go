// Package cycle runs one measurement: wake sensor, settle, read, publish, sleep.
//
//	Idle -> Awake -> Settling -> Reading -> Publishing -> Sleeping -> Done
//	any failure -> Failed -> Done
//
// Sensor is put back to sleep on every path after wake was attempted, including panic.
package cycle

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/airq/hardware/sds011"
	"github.com/temoto/airq/helpers"
	"github.com/temoto/airq/internal/credential"
	"github.com/temoto/airq/internal/measure"
	"github.com/temoto/airq/internal/tele"
	"github.com/temoto/airq/log2"
)

//go:generate stringer -type=State -trimprefix=State
type State uint32

const (
	StateIdle       State = iota // t=loadKey,issue,session.Start +ok=Awake +err=Failed
	StateAwake                   // t=wake +ok=Settling +err=Failed
	StateSettling                // t=wait(settle) +ok=Reading +ctx=Failed
	StateReading                 // t=read,decode +ok=Publishing +err=Failed
	StatePublishing              // t=refresh?,publish +ok=Sleeping +err=Failed
	StateSleeping                // t=sleep ->Done
	StateFailed                  // t=sleep(best effort) ->Done
	StateDone
)

const (
	DefaultSettle      = 30 * time.Second
	DefaultReadTimeout = 10 * time.Second
)

type Config struct {
	ProjectID  string
	RegistryID string
	DeviceID   string
	Algorithm  string

	Settle      time.Duration
	ReadLength  int
	ReadTimeout time.Duration
	DecodeMode  sds011.DecodeMode
}

type Options struct {
	Config Config
	Log    *log2.Log
	Port   io.ReadWriter
	// OpenPort is used when Port is nil, serial line is opened after credential is issued.
	OpenPort    func() (io.ReadWriteCloser, error)
	Session     tele.Sessioner
	Credentials *credential.Manager
	LoadKey     func() ([]byte, error)
}

type Result struct {
	State       State // Done or Failed
	Measurement measure.Measurement
	Published   bool
	Err         error // *Error
	SleepErr    error
	Trace       []State
}

func (self Result) OK() bool { return self.Err == nil }

// Status is one line summary for operator.
func (self Result) Status() string {
	if e, ok := self.Err.(*Error); ok {
		return e.Status()
	}
	if self.Err != nil {
		return self.Err.Error()
	}
	return "published " + self.Measurement.String()
}

type Cycle struct {
	config   Config
	log      *log2.Log
	sensor   *sds011.Sensor
	session  tele.Sessioner
	creds    *credential.Manager
	loadKey  func() ([]byte, error)
	openPort func() (io.ReadWriteCloser, error)
	sensorID string

	// Replaced in tests.
	Now          func() time.Time
	Wait         func(ctx context.Context, d time.Duration) error
	XXX_testHook func(State)

	state State
	// per run
	g      *guard
	key    []byte
	cred   credential.Credential
	result Result
}

func New(opt Options) *Cycle {
	config := opt.Config
	if config.ReadLength == 0 {
		config.ReadLength = sds011.ResponseLength
	}
	if config.Algorithm == "" {
		config.Algorithm = credential.AlgorithmRS256
	}
	creds := opt.Credentials
	if creds == nil {
		creds = credential.NewManager(0)
	}
	self := &Cycle{
		config:   config,
		log:      opt.Log,
		session:  opt.Session,
		creds:    creds,
		loadKey:  opt.LoadKey,
		openPort: opt.OpenPort,
		sensorID: measure.SensorID(config.RegistryID, config.DeviceID),
		Now:      time.Now,
		Wait:     waitContext,
	}
	if opt.Port != nil {
		self.sensor = sds011.NewSensor(opt.Port, opt.Log)
	}
	return self
}

func (self *Cycle) State() State       { return State(atomic.LoadUint32((*uint32)(&self.state))) }
func (self *Cycle) setState(new State) { atomic.StoreUint32((*uint32)(&self.state), uint32(new)) }

// Run is not reentrant, one Cycle value per process invocation is the normal use.
func (self *Cycle) Run(ctx context.Context) (result Result) {
	self.g = newGuard(self.log, self.sensor, self.session)
	self.result = Result{Trace: make([]State, 0, 8)}
	self.setState(StateIdle)

	defer func() {
		if r := recover(); r != nil {
			current := self.State()
			err := errors.Errorf("panic: %v", r)
			self.log.Errorf("cycle state=%s %v", current, err)
			self.result.Err = &Error{Category: CategoryInternal, State: current, Err: err}
			self.result.Trace = append(self.result.Trace, StateFailed, StateDone)
		}
		self.g.Release()
		self.result.SleepErr = self.g.sleepErr
		self.result.State = StateDone
		if self.result.Err != nil {
			self.result.State = StateFailed
		}
		result = self.result
	}()

	for next := StateIdle; ; {
		self.setState(next)
		self.result.Trace = append(self.result.Trace, next)
		if self.XXX_testHook != nil {
			self.XXX_testHook(next)
		}
		if next == StateDone {
			break
		}
		next = self.enter(ctx, next)
	}
	return self.result
}

func (self *Cycle) enter(ctx context.Context, current State) State {
	switch current {
	case StateIdle:
		return self.fail(current, self.onIdle(ctx), StateAwake)

	case StateAwake:
		self.log.Infof("sensor wake")
		return self.fail(current, self.g.Wake(), StateSettling)

	case StateSettling:
		return self.fail(current, self.settle(ctx), StateReading)

	case StateReading:
		return self.fail(current, self.onReading(ctx), StatePublishing)

	case StatePublishing:
		return self.fail(current, self.onPublishing(ctx), StateSleeping)

	case StateSleeping:
		self.log.Infof("sensor sleep")
		_ = self.g.Sleep()
		return StateDone

	case StateFailed:
		// best effort, no-op when wake was not attempted
		_ = self.g.Sleep()
		return StateDone
	}
	panic(errors.Errorf("code error cycle enter state=%s", current))
}

func (self *Cycle) fail(current State, err error, next State) State {
	if err == nil {
		return next
	}
	e, ok := err.(*Error)
	if !ok {
		e = newError(current, err)
	}
	self.log.Errorf("%s", e.Error())
	self.result.Err = e
	return StateFailed
}

// Key problems are fatal before any sensor IO.
func (self *Cycle) onIdle(ctx context.Context) error {
	if self.loadKey == nil {
		return credential.KeyLoadError{Cause: errors.New("key source is not configured")}
	}
	key, err := self.loadKey()
	if err != nil {
		return errors.Trace(err)
	}
	self.key = key
	if err = self.issue(); err != nil {
		return errors.Trace(err)
	}
	if err = self.acquireSensor(); err != nil {
		return err
	}
	return errors.Annotate(self.g.StartSession(ctx, self.cred), "session start")
}

func (self *Cycle) acquireSensor() error {
	if self.sensor == nil {
		if self.openPort == nil {
			return &Error{Category: CategorySerialIO, State: StateIdle, Err: errors.New("serial port is not configured")}
		}
		port, err := self.openPort()
		if err != nil {
			return &Error{Category: CategorySerialIO, State: StateIdle, Err: errors.Annotate(err, "serial open")}
		}
		self.sensor = sds011.NewSensor(port, self.log)
		self.g.port = port
	}
	self.g.sensor = self.sensor
	return nil
}

func (self *Cycle) issue() error {
	cred, err := self.creds.Issue(self.Now(), self.config.ProjectID, self.key, self.config.Algorithm)
	if err != nil {
		return errors.Trace(err)
	}
	self.cred = cred
	self.log.Debugf("%s", cred.String())
	return nil
}

func (self *Cycle) settle(ctx context.Context) error {
	remaining := self.config.Settle
	for remaining > 0 {
		self.log.Infof("sensor settle, %s remaining", helpers.CountdownString(remaining))
		step := time.Second
		if remaining < step {
			step = remaining
		}
		if err := self.Wait(ctx, step); err != nil {
			return errors.Annotate(err, "settle")
		}
		remaining -= step
	}
	return nil
}

func (self *Cycle) onReading(ctx context.Context) error {
	b, err := self.sensor.Read(ctx, self.config.ReadLength, self.config.ReadTimeout)
	if err != nil {
		switch errors.Cause(err) {
		case io.EOF, io.ErrUnexpectedEOF:
			// decoder decides if partial frame is enough
		default:
			return errors.Trace(err)
		}
	}
	raw, err := sds011.Decode(b, self.config.DecodeMode)
	if err != nil {
		return errors.Annotatef(err, "decode mode=%s data=%s", self.config.DecodeMode, sds011.FormatHex(b))
	}
	self.result.Measurement = measure.FromReading(raw, self.sensorID, self.Now())
	self.log.Infof("measurement %s", self.result.Measurement.String())
	return nil
}

func (self *Cycle) onPublishing(ctx context.Context) error {
	now := self.Now()
	if !self.cred.IsValid(now) || self.cred.NeedsRefresh(now) {
		self.log.Infof("credential refresh, expires=%s", self.cred.ExpiresAt.Format(time.RFC3339))
		if err := self.issue(); err != nil {
			return errors.Trace(err)
		}
		if err := self.session.Refresh(ctx, self.cred); err != nil {
			return errors.Annotate(err, "session refresh")
		}
	}

	payload, err := measure.Serialize(self.result.Measurement)
	if err != nil {
		return errors.Trace(err)
	}
	topic := tele.Topic(self.config.DeviceID)
	if err = self.session.Publish(ctx, topic, payload); err != nil {
		return errors.Trace(err)
	}
	self.result.Published = true
	self.log.Infof("published topic=%s", topic)
	return nil
}

// SleepOnly puts sensor to sleep without measurement, for manual recovery.
func (self *Cycle) SleepOnly(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return newError(StateSleeping, err)
	}
	self.g = newGuard(self.log, nil, nil)
	defer self.g.Release()
	if err := self.acquireSensor(); err != nil {
		return err
	}
	if err := self.sensor.Sleep(); err != nil {
		return newError(StateSleeping, err)
	}
	return nil
}

func waitContext(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-tmr.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
