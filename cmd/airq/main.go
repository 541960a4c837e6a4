// airq is one measurement per invocation: wake SDS011, settle, read, publish to MQTT bridge, sleep.
// External scheduler (cron, systemd timer) decides the interval.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/temoto/airq/cmd/airq/subcmd"
	"github.com/temoto/airq/helpers/lockfile"
	"github.com/temoto/airq/internal/state"
	"github.com/temoto/airq/internal/tele"
	"github.com/temoto/airq/log2"
)

var BuildVersion string = "unknown" // set by ldflags -X

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	runMod,
	sleepMod,
	bridgeMod,
}

const (
	exitOK = iota
	exitFatal
	exitCycleFailed
)

func main() {
	log.SetFlags(log2.LInteractiveFlags)

	flagset := flag.NewFlagSet("airq", flag.ExitOnError)
	flagConfig := flagset.String("config", "", "HCL config file, optional")
	state.BindFlags(flagset)
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: airq [flags] [command] [command flags]\nCommands:\n")
		for _, m := range modules {
			fmt.Fprintf(flagset.Output(), "  %-8s %s\n", m.Name, m.Usage)
		}
		flagset.PrintDefaults()
	}
	_ = flagset.Parse(os.Args[1:])

	mod, err := subcmd.Parse(flagset.Arg(0), modules)
	if err != nil {
		log.Error(err)
		flagset.Usage()
		os.Exit(exitFatal)
	}
	var args []string
	if flagset.NArg() > 1 {
		args = flagset.Args()[1:]
	}

	if subcmd.SdNotify("start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	}

	config, err := state.ReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	if err = config.ApplyFlags(flagset); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	if !config.LogDebug {
		log.SetLevel(log2.LInfo)
	}
	// paho writes via Println, level filter is by which loggers are bound
	pahoLog := log.Clone(log2.LInfo)
	pahoLog.SetPrefix("paho ")
	tele.BindPahoLog(pahoLog, config.Tele.MqttLogDebug)

	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion
	go stopOnSignal(g)

	log.Debugf("airq version=%s command=%s", BuildVersion, mod.Name)
	err = mod.Main(ctx, config, args)
	g.Stop()
	switch {
	case err == nil:
		os.Exit(exitOK)
	case isCycleFailed(err):
		os.Exit(exitCycleFailed)
	default:
		log.Errorf("%s", errors.ErrorStack(err))
		os.Exit(exitFatal)
	}
}

func stopOnSignal(g *state.Global) {
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	s := <-sigch
	g.Log.Infof("signal=%v, stopping", s)
	subcmd.SdNotify("STOPPING=1")
	g.Stop()
	// second signal is impatient user
	s = <-sigch
	g.Log.Errorf("signal=%v, exit now", s)
	os.Exit(exitFatal)
}

func acquireLock(g *state.Global) (*lockfile.Lock, error) {
	path := g.Config.LockPath
	if path == "" {
		return nil, nil
	}
	lock, err := lockfile.Acquire(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	g.Log.Debugf("lock acquired path=%s", lock.Path())
	return lock, nil
}
