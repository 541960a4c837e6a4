package state

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/airq/hardware/sds011"
	"github.com/temoto/airq/helpers"
	"github.com/temoto/airq/internal/credential"
	"github.com/temoto/airq/internal/cycle"
	"github.com/temoto/airq/internal/tele"
	"github.com/temoto/airq/log2"
	"github.com/temoto/alive/v2"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Log          *log2.Log

	// Replaced in tests.
	OpenPort      func() (io.ReadWriteCloser, error)
	ClientFactory tele.ClientFactory
	EventHandler  tele.EventHandler
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}
	g := &Global{
		Alive:        alive.NewAlive(),
		BuildVersion: "unknown",
		Log:          log,
	}
	ctx := context.WithValue(context.Background(), log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Log.Debugf("build version=%s", g.BuildVersion)
	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		return errors.Annotate(err, "config")
	}
	if err := g.InitSerial(cfg); err != nil {
		return err
	}
	g.Log.Debugf("config: sensor=%s serial=%s bridge=%s:%d interval=%s settle=%s",
		cfg.Tele.RegistryID+"."+cfg.Tele.DeviceID, cfg.Serial.Device,
		cfg.Tele.MqttBridgeHostname, cfg.Tele.MqttBridgePort, cfg.Interval(), cfg.Settle())
	return nil
}

// InitSerial is enough for sensor-only commands, identity and tele are not checked.
func (g *Global) InitSerial(cfg *Config) error {
	g.Config = cfg
	if cfg.Serial.Device == "" {
		return errors.NotValidf("config serial.device empty,")
	}
	if g.OpenPort == nil {
		g.OpenPort = func() (io.ReadWriteCloser, error) {
			return sds011.OpenPort(cfg.Serial.Device, cfg.Serial.Baud)
		}
	}
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Fatal(err)
	}
}

func (g *Global) NewSession() (*tele.Session, error) {
	s, err := tele.NewSession(g.Config.Tele, g.Log, g.EventHandler)
	if err != nil {
		return nil, errors.Annotate(err, "tele")
	}
	if g.ClientFactory != nil {
		s.SetClientFactory(g.ClientFactory)
	}
	return s, nil
}

func (g *Global) NewCycle(session tele.Sessioner) *cycle.Cycle {
	c := g.Config
	return cycle.New(cycle.Options{
		Config: cycle.Config{
			ProjectID:   c.ProjectID,
			RegistryID:  c.RegistryID,
			DeviceID:    c.DeviceID,
			Algorithm:   c.Tele.Algorithm,
			Settle:      c.Settle(),
			ReadLength:  c.Serial.ReadLength,
			ReadTimeout: helpers.IntSecondDefault(c.Serial.ReadTimeoutSec, cycle.DefaultReadTimeout),
			DecodeMode:  c.DecodeMode(),
		},
		Log:         g.Log,
		OpenPort:    g.OpenPort,
		Session:     session,
		Credentials: credential.NewManager(c.JwtLifetime()),
		LoadKey:     func() ([]byte, error) { return credential.LoadKeyFile(c.Tele.PrivateKeyFile) },
	})
}

// RunCycle is one full measurement, stops early when Alive is stopped.
func (g *Global) RunCycle(ctx context.Context) cycle.Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-g.Alive.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	started := time.Now()
	session, err := g.NewSession()
	if err != nil {
		// invalid tele config, nothing acquired yet
		e := &cycle.Error{Category: cycle.CategoryPublish, State: cycle.StateIdle, Err: err}
		return cycle.Result{State: cycle.StateFailed, Err: e, Trace: []cycle.State{cycle.StateIdle, cycle.StateFailed, cycle.StateDone}}
	}
	result := g.NewCycle(session).Run(ctx)
	g.Log.Infof("cycle end state=%s duration=%s trace=%v", result.State, time.Since(started).Round(time.Millisecond), result.Trace)
	return result
}

func (g *Global) SleepSensor(ctx context.Context) error {
	return g.NewCycle(nil).SleepOnly(ctx)
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Errorf(errors.ErrorStack(err))
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(err)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}
