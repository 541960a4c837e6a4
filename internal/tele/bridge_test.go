package tele

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/airq/internal/bridge"
	"github.com/temoto/airq/internal/credential"
	tele_config "github.com/temoto/airq/internal/tele/config"
	"github.com/temoto/airq/log2"
)

type bridgeEnv struct {
	t      testing.TB
	log    *log2.Log
	b      *bridge.Bridge
	rec    *bridge.Recorder
	keyPEM []byte
	config tele_config.Config
}

func newBridgeEnv(t *testing.T) *bridgeEnv {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	env := &bridgeEnv{
		t:      t,
		log:    log2.NewTest(t, log2.LDebug),
		keyPEM: pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}),
	}
	env.rec = bridge.NewRecorder(env.log, true)
	env.b = bridge.New(bridge.Options{
		Log:            env.log,
		URL:            "tcp://127.0.0.1:0",
		NetworkTimeout: 5 * time.Second,
		OnConnect:      bridge.JWTAuth(&key.PublicKey, "p", env.log, nil),
		OnPublish:      env.rec.OnPublish,
	})
	require.NoError(t, env.b.Listen(context.Background()))

	host, portString, err := net.SplitHostPort(env.b.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portString)
	require.NoError(t, err)
	env.config = testConfig()
	env.config.MqttBridgeHostname = host
	env.config.MqttBridgePort = port
	env.config.NetworkTimeoutSec = 5
	return env
}

func (env *bridgeEnv) issue(audience string) credential.Credential {
	cred, err := credential.NewManager(time.Hour).Issue(time.Now(), audience, env.keyPEM, credential.AlgorithmES256)
	require.NoError(env.t, err)
	return cred
}

func TestSessionBridge(t *testing.T) {
	t.Parallel()
	env := newBridgeEnv(t)
	defer func() { assert.NoError(t, env.b.Close()) }()

	events := &EventCounter{Next: LogHandler{Log: env.log}}
	s, err := NewSession(env.config, env.log, events)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, env.issue("p")))
	defer s.Stop()

	payload := []byte(`{"sensorID":"r.d","uniqueID":"u-r.d","timecollected":"2020-01-02 03:04:05","pmtwofive":1,"pmten":2}`)
	require.NoError(t, s.Publish(ctx, Topic("d"), payload))
	msg := <-env.rec.C
	assert.Equal(t, "/devices/d/events", msg.Topic)
	assert.Equal(t, QoS, msg.QOS)
	assert.Equal(t, ClientID(&env.config), msg.ClientID)
	require.Len(t, env.rec.Measurements(), 1)
	assert.Equal(t, 2.0, env.rec.Measurements()[0].PM10)
	assert.Len(t, events.Acks(), 1)

	// reconnect with fresh token keeps session usable
	require.NoError(t, s.Refresh(ctx, env.issue("p")))
	require.NoError(t, s.Publish(ctx, Topic("d"), payload))
	<-env.rec.C
	assert.Len(t, events.Acks(), 2)
}

func TestSessionBridgeRejected(t *testing.T) {
	t.Parallel()
	env := newBridgeEnv(t)
	defer func() { assert.NoError(t, env.b.Close()) }()

	s, err := NewSession(env.config, env.log, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, env.issue("wrong-audience")))
	defer s.Stop()

	err = s.Publish(ctx, Topic("d"), []byte("{}"))
	require.Error(t, err)
	assert.False(t, errors.IsTimeout(err), errors.ErrorStack(err))
	assert.Len(t, env.rec.Measurements(), 0)
}
