package main

import (
	"context"
	"crypto/tls"
	"flag"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/airq/cmd/airq/subcmd"
	"github.com/temoto/airq/internal/bridge"
	"github.com/temoto/airq/internal/credential"
	"github.com/temoto/airq/internal/state"
)

var bridgeMod = subcmd.Mod{Name: "bridge", Usage: "local MQTT bridge emulator, verifies device JWT", Main: bridgeMain}

func bridgeMain(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	flagset := flag.NewFlagSet("bridge", flag.ContinueOnError)
	flagListen := flagset.String("listen", "tcp://127.0.0.1:1883", "tcp:// or tls:// listen URL")
	flagPublicKey := flagset.String("public_key", "", "device public key PEM, required")
	flagCert := flagset.String("tls_cert", "", "server certificate PEM for tls://")
	flagKey := flagset.String("tls_key", "", "server private key PEM for tls://")
	flagStrict := flagset.Bool("strict", false, "withhold PUBACK for payloads that are not measurements")
	if err := flagset.Parse(args); err != nil {
		return errors.Trace(err)
	}
	if config.ProjectID == "" {
		return errors.NotValidf("bridge: project_id empty,")
	}

	keyMaterial, err := credential.LoadKeyFile(*flagPublicKey)
	if err != nil {
		return errors.Annotate(err, "bridge public_key")
	}
	pub, err := credential.ParsePublicKey(keyMaterial)
	if err != nil {
		return errors.Annotate(err, "bridge public_key")
	}
	var tlsconf *tls.Config
	if *flagCert != "" {
		cert, err := tls.LoadX509KeyPair(*flagCert, *flagKey)
		if err != nil {
			return errors.Annotate(err, "bridge tls")
		}
		tlsconf = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	rec := bridge.NewRecorder(g.Log, *flagStrict)
	b := bridge.New(bridge.Options{
		Log:       g.Log,
		URL:       *flagListen,
		TLS:       tlsconf,
		OnConnect: bridge.JWTAuth(pub, config.ProjectID, g.Log, time.Now),
		OnPublish: rec.OnPublish,
	})
	if err = b.Listen(ctx); err != nil {
		return errors.Trace(err)
	}
	g.Log.Infof("bridge listening addr=%s project=%s", b.Addr(), config.ProjectID)
	subcmd.SdNotify(daemon.SdNotifyReady)

	stopch := g.Alive.StopChan()
	for {
		select {
		case msg := <-rec.C:
			g.Log.Debugf("bridge message client=%s topic=%s qos=%d len=%d", msg.ClientID, msg.Topic, msg.QOS, len(msg.Payload))
		case <-stopch:
			err = b.Close()
			g.Log.Infof("bridge stopped, measurements received=%d", len(rec.Measurements()))
			return errors.Annotate(err, "bridge close")
		}
	}
}
