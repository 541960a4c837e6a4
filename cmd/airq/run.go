package main

import (
	"context"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/airq/cmd/airq/subcmd"
	"github.com/temoto/airq/internal/cycle"
	"github.com/temoto/airq/internal/state"
)

var runMod = subcmd.Mod{Name: "run", Usage: "one measurement cycle (default)", Main: runMain}
var sleepMod = subcmd.Mod{Name: "sleep", Usage: "only put sensor to sleep", Main: sleepMain}

// Cycle failure is reported in status line, exit code differs from startup errors.
type cycleFailedError struct{ err error }

func (e cycleFailedError) Error() string { return "cycle failed: " + e.err.Error() }

func isCycleFailed(err error) bool {
	_, ok := errors.Cause(err).(cycleFailedError)
	return ok
}

func runMain(ctx context.Context, config *state.Config, args []string) error {
	if len(args) != 0 {
		return errors.Errorf("run: unexpected arguments %q", args)
	}
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	lock, err := acquireLock(g)
	if err != nil {
		return errors.Annotate(err, "run")
	}
	defer func() { g.Error(lock.Release()) }()
	subcmd.SdNotify(daemon.SdNotifyReady)

	result := g.RunCycle(ctx)
	if result.SleepErr != nil {
		g.Log.Errorf("sensor sleep err=%v", result.SleepErr)
	}
	if result.OK() {
		g.Log.Infof("status: %s", result.Status())
		return nil
	}
	g.Log.Errorf("status: %s", result.Status())
	switch cycle.ErrorCategory(result.Err) {
	case cycle.CategoryKeyLoad, cycle.CategorySigning:
		// startup-fatal, retry will not help
		return result.Err
	}
	return cycleFailedError{result.Err}
}

func sleepMain(ctx context.Context, config *state.Config, args []string) error {
	if len(args) != 0 {
		return errors.Errorf("sleep: unexpected arguments %q", args)
	}
	g := state.GetGlobal(ctx)
	if err := g.InitSerial(config); err != nil {
		return errors.Annotate(err, "config")
	}

	lock, err := acquireLock(g)
	if err != nil {
		return errors.Annotate(err, "sleep")
	}
	defer func() { g.Error(lock.Release()) }()

	if err = g.SleepSensor(ctx); err != nil {
		return errors.Annotate(err, "sensor sleep")
	}
	g.Log.Infof("sensor sleep ok")
	return nil
}
