package tele

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/airq/internal/credential"
	tele_config "github.com/temoto/airq/internal/tele/config"
	"github.com/temoto/airq/log2"
)

func testConfig() tele_config.Config {
	return tele_config.Config{
		CloudRegion:        "europe-west1",
		MqttBridgeHostname: "localhost",
		MqttBridgePort:     8883,
		NetworkTimeoutSec:  1,
		Scheme:             "tcp",
		ProjectID:          "p",
		RegistryID:         "r",
		DeviceID:           "d",
	}
}

func testCred(token string) credential.Credential {
	now := time.Now().Truncate(time.Second)
	return credential.Credential{IssuedAt: now, ExpiresAt: now.Add(time.Hour), Audience: "p", Algorithm: "ES256", Token: token}
}

func newTestSession(t testing.TB, config tele_config.Config) (*Session, *MqttMock, *EventCounter) {
	log := log2.NewTest(t, log2.LDebug)
	events := &EventCounter{Next: LogHandler{Log: log}}
	s, err := NewSession(config, log, events)
	require.NoError(t, err)
	mock := NewMqttMock()
	s.SetClientFactory(mock.MockNew)
	return s, mock, events
}

func TestNames(t *testing.T) {
	t.Parallel()
	c := testConfig()
	assert.Equal(t, "/devices/d/events", Topic(c.DeviceID))
	assert.Equal(t, "projects/p/locations/europe-west1/registries/r/devices/d", ClientID(&c))
	assert.Equal(t, "tcp://localhost:8883", BrokerURL(&c))
	c.Scheme = ""
	assert.Equal(t, "ssl://localhost:8883", BrokerURL(&c))
}

func TestNewSessionInvalid(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	cases := []struct {
		name   string
		mutate func(*tele_config.Config)
		expect string
	}{
		{"hostname", func(c *tele_config.Config) { c.MqttBridgeHostname = "" }, "hostname"},
		{"scheme", func(c *tele_config.Config) { c.Scheme = "ws" }, "scheme=ws"},
		{"ca-missing", func(c *tele_config.Config) { c.Scheme = "ssl"; c.CaCerts = "/nonexistent/roots.pem" }, "ca_certs"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			config := testConfig()
			c.mutate(&config)
			_, err := NewSession(config, log, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.expect)
		})
	}
}

func TestSessionPublish(t *testing.T) {
	t.Parallel()
	s, mock, events := newTestSession(t, testConfig())
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, testCred("token1")))
	defer s.Stop()

	require.NoError(t, s.Publish(ctx, Topic("d"), []byte(`{"pmten":2}`)))
	msg := <-mock.Pub
	assert.Equal(t, "/devices/d/events", msg.Topic())
	assert.Equal(t, QoS, msg.Qos())
	assert.Equal(t, `{"pmten":2}`, string(msg.Payload()))
	assert.Equal(t, []string{"token1"}, mock.Passwords())
	assert.Equal(t, "projects/p/locations/europe-west1/registries/r/devices/d", mock.ClientID())
	assert.Equal(t, 1, events.Connects())
	assert.Equal(t, []uint16{1}, events.Acks())
}

func TestSessionPublishBeforeStart(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestSession(t, testConfig())
	err := s.Publish(context.Background(), "t", nil)
	assert.Equal(t, ErrNotStarted, errors.Cause(err))
}

func TestSessionConnectError(t *testing.T) {
	t.Parallel()
	s, mock, events := newTestSession(t, testConfig())
	mock.ConnectErr = errors.New("not authorized")
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, testCred("bad")))
	defer s.Stop()

	err := s.Publish(ctx, Topic("d"), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
	assert.False(t, errors.IsTimeout(err))
	assert.Len(t, mock.Pub, 0)
	require.Eventually(t, func() bool { return len(events.ConnectErrors()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestSessionPublishError(t *testing.T) {
	t.Parallel()
	s, mock, events := newTestSession(t, testConfig())
	mock.PublishErr = errors.New("broker rejected")
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, testCred("t")))
	defer s.Stop()

	err := s.Publish(ctx, Topic("d"), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker rejected")
	assert.Contains(t, err.Error(), "topic=/devices/d/events")
	assert.Len(t, events.Acks(), 0)
}

func TestSessionPublishTimeout(t *testing.T) {
	t.Parallel()
	s, mock, _ := newTestSession(t, testConfig())
	mock.PublishHang = true
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, testCred("t")))
	defer s.Stop()

	started := time.Now()
	err := s.Publish(ctx, Topic("d"), []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(errors.Cause(err)), errors.ErrorStack(err))
	assert.True(t, time.Since(started) >= 900*time.Millisecond)
}

func TestSessionConnectTimeout(t *testing.T) {
	t.Parallel()
	s, mock, _ := newTestSession(t, testConfig())
	mock.ConnectHang = true
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, testCred("t")))
	defer s.Stop()

	err := s.Publish(ctx, Topic("d"), []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(errors.Cause(err)), errors.ErrorStack(err))
	assert.Len(t, mock.Pub, 0)
}

func TestSessionPublishContextCancel(t *testing.T) {
	t.Parallel()
	s, mock, _ := newTestSession(t, testConfig())
	mock.PublishHang = true
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, testCred("t")))
	defer s.Stop()

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := s.Publish(ctx, Topic("d"), []byte("x"))
	require.Error(t, err)
	assert.Equal(t, context.Canceled, errors.Cause(err))
}

func TestSessionRefresh(t *testing.T) {
	t.Parallel()
	s, mock, events := newTestSession(t, testConfig())
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, testCred("old")))
	defer s.Stop()

	require.NoError(t, s.Refresh(ctx, testCred("new")))
	require.NoError(t, s.Publish(ctx, Topic("d"), []byte("x")))
	assert.Equal(t, []string{"old", "new"}, mock.Passwords())
	assert.Equal(t, 1, mock.Disconnects())
	assert.Equal(t, 2, events.Connects())
	assert.Equal(t, "new", s.Credential().Token)
}

func TestSessionStopIdempotent(t *testing.T) {
	t.Parallel()
	s, mock, _ := newTestSession(t, testConfig())
	s.Stop() // before start is no-op
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, testCred("t")))
	s.Stop()
	s.Stop()
	assert.Equal(t, 1, mock.Disconnects())
	assert.Equal(t, ErrNotStarted, errors.Cause(s.Publish(ctx, "t", nil)))
	assert.Equal(t, ErrNotStarted, errors.Cause(s.Refresh(ctx, testCred("x"))))
}

func TestSessionConnectionLost(t *testing.T) {
	t.Parallel()
	s, mock, events := newTestSession(t, testConfig())
	require.NoError(t, s.Start(context.Background(), testCred("t")))
	defer s.Stop()
	mock.Lose(errors.New("pingresp not received"))
	assert.Equal(t, 1, events.Lost())
}
