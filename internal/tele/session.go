package tele

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/airq/helpers"
	"github.com/temoto/airq/internal/credential"
	tele_config "github.com/temoto/airq/internal/tele/config"
	"github.com/temoto/airq/log2"
)

const (
	// At least once: duplicates are acceptable, loss is not.
	QoS byte = 1

	DefaultNetworkTimeout = 30 * time.Second
	DefaultKeepalive      = 60 * time.Second
	DefaultScheme         = "ssl"

	// Bridge authenticates with JWT password only.
	username = "unused"
	// milliseconds for paho Disconnect to finish in-flight work
	disconnectQuiesce = 250
)

var ErrNotStarted = errors.New("tele session is not started")

func Topic(deviceID string) string { return fmt.Sprintf("/devices/%s/events", deviceID) }

func ClientID(c *tele_config.Config) string {
	return fmt.Sprintf("projects/%s/locations/%s/registries/%s/devices/%s",
		c.ProjectID, c.CloudRegion, c.RegistryID, c.DeviceID)
}

func BrokerURL(c *tele_config.Config) string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = DefaultScheme
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.MqttBridgeHostname, c.MqttBridgePort)
}

// Sessioner is authenticated publish transport owned by one measurement cycle.
// Contract:
// - Start does not wait for network, connection errors surface in Publish
// - Publish blocks until broker ack, ctx done or network timeout
// - keepalive and reconnect run in background between Start and Stop
type Sessioner interface {
	Start(ctx context.Context, cred credential.Credential) error
	Refresh(ctx context.Context, cred credential.Credential) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Stop()
}

type ClientFactory func(*mqtt.ClientOptions) mqtt.Client

type Session struct {
	config         tele_config.Config
	log            *log2.Log
	handler        EventHandler
	newClient      ClientFactory
	networkTimeout time.Duration
	mopt           *mqtt.ClientOptions
	token          atomic.Value // string, read by paho connect goroutine

	mu      sync.Mutex
	cred    credential.Credential
	m       mqtt.Client
	connTok mqtt.Token
	stopped bool
}

var _ Sessioner = &Session{}

// NewSession fails only with invalid config, no network IO here.
func NewSession(config tele_config.Config, log *log2.Log, handler EventHandler) (*Session, error) {
	if handler == nil {
		handler = LogHandler{Log: log}
	}
	self := &Session{
		config:         config,
		log:            log,
		handler:        handler,
		newClient:      mqtt.NewClient,
		networkTimeout: helpers.IntSecondDefault(config.NetworkTimeoutSec, DefaultNetworkTimeout),
	}
	if config.MqttBridgeHostname == "" {
		return nil, errors.NotValidf("tele mqtt_bridge_hostname empty,")
	}

	keepAlive := helpers.IntSecondDefault(config.KeepaliveSec, DefaultKeepalive)
	brokerURL := BrokerURL(&config)
	self.mopt = mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(ClientID(&config)).
		SetCredentialsProvider(self.credentials).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetKeepAlive(keepAlive).
		SetPingTimeout(self.networkTimeout).
		SetConnectTimeout(self.networkTimeout).
		SetWriteTimeout(self.networkTimeout).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOnConnectHandler(self.onConnectHandler).
		SetConnectionLostHandler(self.connectLostHandler)

	switch scheme := defaultString(config.Scheme, DefaultScheme); scheme {
	case "ssl", "tls", "mqtts":
		tlsconf, err := newTLSConfig(config.CaCerts)
		if err != nil {
			return nil, errors.Annotatef(err, "tele broker=%s", brokerURL)
		}
		self.mopt.SetTLSConfig(tlsconf)
	case "tcp":
	default:
		return nil, errors.NotValidf("tele scheme=%s", scheme)
	}
	return self, nil
}

// SetClientFactory replaces paho client constructor, for tests.
func (self *Session) SetClientFactory(f ClientFactory) { self.newClient = f }

func (self *Session) Start(ctx context.Context, cred credential.Credential) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.m != nil {
		return errors.New("code error tele session Start twice")
	}
	self.cred = cred
	self.token.Store(cred.Token)
	self.m = self.newClient(self.mopt)
	self.log.Debugf("tele connect broker=%s client=%s", BrokerURL(&self.config), ClientID(&self.config))
	self.connectLocked()
	return nil
}

// Refresh reconnects with new credential. Bridge checks JWT only at connect.
func (self *Session) Refresh(ctx context.Context, cred credential.Credential) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.m == nil || self.stopped {
		return ErrNotStarted
	}
	self.log.Infof("tele refresh %s", cred.String())
	self.cred = cred
	self.token.Store(cred.Token)
	if self.m.IsConnectionOpen() {
		self.m.Disconnect(disconnectQuiesce)
	}
	self.connectLocked()
	return nil
}

func (self *Session) connectLocked() {
	tok := self.m.Connect()
	self.connTok = tok
	go func() {
		<-tok.Done()
		// success is reported by paho OnConnect handler
		if err := tok.Error(); err != nil {
			self.handler.OnConnect(err)
		}
	}()
}

func (self *Session) Publish(ctx context.Context, topic string, payload []byte) error {
	self.mu.Lock()
	m, connTok, stopped := self.m, self.connTok, self.stopped
	self.mu.Unlock()
	if m == nil || stopped {
		return ErrNotStarted
	}

	if err := self.wait(ctx, connTok, "connect"); err != nil {
		return err
	}
	tok := m.Publish(topic, QoS, false, payload)
	if err := self.wait(ctx, tok, "publish"); err != nil {
		return errors.Annotatef(err, "topic=%s", topic)
	}
	var id uint16
	if pt, ok := tok.(interface{ MessageID() uint16 }); ok {
		id = pt.MessageID()
	}
	self.handler.OnPublishAck(id)
	return nil
}

func (self *Session) wait(ctx context.Context, tok mqtt.Token, what string) error {
	tmr := time.NewTimer(self.networkTimeout)
	defer tmr.Stop()
	select {
	case <-tok.Done():
		return errors.Annotatef(tok.Error(), "tele %s", what)
	case <-tmr.C:
		return errors.Timeoutf("tele %s within %s", what, self.networkTimeout)
	case <-ctx.Done():
		return errors.Annotatef(ctx.Err(), "tele %s", what)
	}
}

// Stop is idempotent, stops paho keepalive and reconnect goroutines.
func (self *Session) Stop() {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.m == nil || self.stopped {
		return
	}
	self.stopped = true
	self.m.Disconnect(disconnectQuiesce)
	self.log.Debugf("tele disconnected")
}

func (self *Session) credentials() (string, string) {
	token, _ := self.token.Load().(string)
	return username, token
}

// Credential returns the one used for latest connect.
func (self *Session) Credential() credential.Credential {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.cred
}

func (self *Session) onConnectHandler(c mqtt.Client) {
	self.handler.OnConnect(nil)
}

func (self *Session) connectLostHandler(c mqtt.Client, err error) {
	self.handler.OnConnectionLost(err)
}

func newTLSConfig(caFile string) (*tls.Config, error) {
	tlsconf := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile != "" {
		cabytes, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.Annotatef(err, "TLS ca_certs")
		}
		tlsconf.RootCAs = x509.NewCertPool()
		if !tlsconf.RootCAs.AppendCertsFromPEM(cabytes) {
			return nil, errors.NotValidf("TLS ca_certs=%s no certificates,", caFile)
		}
	}
	return tlsconf, nil
}

func defaultString(main, def string) string {
	if main == "" {
		return def
	}
	return main
}

// BindPahoLog routes paho internal logging. Paho loggers are process globals,
// so this belongs to main, not to Session.
func BindPahoLog(log *log2.Log, debug bool) {
	if log == nil {
		return
	}
	mqtt.ERROR = log
	mqtt.CRITICAL = log
	mqtt.WARN = log
	if debug {
		mqtt.DEBUG = log
	}
}
