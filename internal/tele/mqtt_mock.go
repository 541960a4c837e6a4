package tele

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MqttMock is in-memory mqtt.Client. Session uses it via SetClientFactory(mock.MockNew).
type MqttMock struct {
	Pub chan MockMsg

	// Set before Start.
	ConnectErr  error
	PublishErr  error
	PublishHang bool
	ConnectHang bool

	mu          sync.Mutex
	opt         *mqtt.ClientOptions
	connected   bool
	connects    int
	disconnects int
	passwords   []string
	nextID      uint16
	subs        []MockSub
}
type MockSub struct {
	Pattern string
	Qos     byte
	Handler mqtt.MessageHandler
}

var _ mqtt.Client = &MqttMock{}

func NewMqttMock() *MqttMock {
	return &MqttMock{
		Pub:  make(chan MockMsg, 32),
		subs: make([]MockSub, 0, 16),
	}
}

func (self *MqttMock) MockNew(opt *mqtt.ClientOptions) mqtt.Client {
	self.mu.Lock()
	self.opt = opt
	self.mu.Unlock()
	return self
}

func (self *MqttMock) Connects() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connects
}

func (self *MqttMock) Disconnects() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.disconnects
}

// Passwords seen by each Connect, in order.
func (self *MqttMock) Passwords() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]string(nil), self.passwords...)
}

// ClientID as configured by session.
func (self *MqttMock) ClientID() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.opt == nil {
		return ""
	}
	return self.opt.ClientID
}

// Lose simulates broken connection.
func (self *MqttMock) Lose(err error) {
	self.mu.Lock()
	self.connected = false
	opt := self.opt
	self.mu.Unlock()
	if opt != nil && opt.OnConnectionLost != nil {
		opt.OnConnectionLost(self, err)
	}
}

func (self *MqttMock) Disconnect(uint) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.connected = false
	self.disconnects++
}

func (self *MqttMock) IsConnected() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connected
}
func (self *MqttMock) IsConnectionOpen() bool { return self.IsConnected() }

func (self *MqttMock) Connect() mqtt.Token {
	self.mu.Lock()
	self.connects++
	opt := self.opt
	if opt != nil && opt.CredentialsProvider != nil {
		_, password := opt.CredentialsProvider()
		self.passwords = append(self.passwords, password)
	}
	if self.ConnectHang {
		self.mu.Unlock()
		return newMockToken(nil, 0, false)
	}
	if self.ConnectErr != nil {
		err := self.ConnectErr
		self.mu.Unlock()
		return newMockToken(err, 0, true)
	}
	self.connected = true
	self.mu.Unlock()
	if opt != nil && opt.OnConnect != nil {
		opt.OnConnect(self)
	}
	return newMockToken(nil, 0, true)
}

func (self *MqttMock) Publish(topic string, qos byte, retain bool, payload interface{}) mqtt.Token {
	self.mu.Lock()
	self.nextID++
	id := self.nextID
	hang, err := self.PublishHang, self.PublishErr
	self.mu.Unlock()

	var p []byte
	switch x := payload.(type) {
	case []byte:
		p = x
	case string:
		p = []byte(x)
	}
	msg := MockMsg{T: topic, P: p, Q: qos, id: id}
	select {
	case self.Pub <- msg:
	default:
		// full channel would deadlock publisher
	}
	if hang {
		return newMockToken(nil, id, false)
	}
	return newMockToken(err, id, true)
}

func (self *MqttMock) Subscribe(pattern string, qos byte, handler mqtt.MessageHandler) mqtt.Token {
	self.mu.Lock()
	self.subs = append(self.subs, MockSub{pattern, qos, handler})
	self.mu.Unlock()
	return newMockToken(nil, 0, true)
}

func (self *MqttMock) AddRoute(string, mqtt.MessageHandler) { panic("not implemented") }

func (self *MqttMock) OptionsReader() mqtt.ClientOptionsReader {
	panic("not implemented")
}

func (self *MqttMock) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *MqttMock) Unsubscribe(...string) mqtt.Token { panic("not implemented") }

type mockToken struct {
	err  error
	id   uint16
	done chan struct{}
}

func newMockToken(err error, id uint16, complete bool) *mockToken {
	tok := &mockToken{err: err, id: id, done: make(chan struct{})}
	if complete {
		close(tok.done)
	}
	return tok
}

func (tok *mockToken) Error() error          { return tok.err }
func (tok *mockToken) Done() <-chan struct{} { return tok.done }
func (tok *mockToken) MessageID() uint16     { return tok.id }
func (tok *mockToken) Wait() bool            { <-tok.done; return true }
func (tok *mockToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-tok.done:
		return true
	case <-time.After(d):
		return false
	}
}

type MockMsg struct {
	T  string
	P  []byte
	Q  byte
	id uint16
}

func (msg MockMsg) Ack()              {}
func (msg MockMsg) Duplicate() bool   { return false }
func (msg MockMsg) MessageID() uint16 { return msg.id }
func (msg MockMsg) Payload() []byte   { return msg.P }
func (msg MockMsg) Qos() byte         { return msg.Q }
func (msg MockMsg) Retained() bool    { return false }
func (msg MockMsg) Topic() string     { return msg.T }
