package tele

import (
	"sync"

	"github.com/temoto/airq/log2"
)

// EventHandler receives session events from paho goroutines.
// Implementations must not block.
type EventHandler interface {
	OnConnect(err error)
	OnPublishAck(id uint16)
	OnConnectionLost(err error)
}

type LogHandler struct{ Log *log2.Log }

func (self LogHandler) OnConnect(err error) {
	if err != nil {
		self.Log.Errorf("tele connect err=%v", err)
		return
	}
	self.Log.Infof("tele connected")
}

func (self LogHandler) OnPublishAck(id uint16) { self.Log.Debugf("tele publish ack id=%d", id) }

func (self LogHandler) OnConnectionLost(err error) {
	self.Log.Errorf("tele connection lost err=%v", err)
}

// EventCounter remembers events, wraps optional Next handler.
type EventCounter struct {
	Next EventHandler

	mu        sync.Mutex
	connects  int
	connErrs  []error
	acks      []uint16
	lostCount int
}

func (self *EventCounter) OnConnect(err error) {
	self.mu.Lock()
	if err == nil {
		self.connects++
	} else {
		self.connErrs = append(self.connErrs, err)
	}
	self.mu.Unlock()
	if self.Next != nil {
		self.Next.OnConnect(err)
	}
}

func (self *EventCounter) OnPublishAck(id uint16) {
	self.mu.Lock()
	self.acks = append(self.acks, id)
	self.mu.Unlock()
	if self.Next != nil {
		self.Next.OnPublishAck(id)
	}
}

func (self *EventCounter) OnConnectionLost(err error) {
	self.mu.Lock()
	self.lostCount++
	self.mu.Unlock()
	if self.Next != nil {
		self.Next.OnConnectionLost(err)
	}
}

func (self *EventCounter) Connects() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connects
}

func (self *EventCounter) ConnectErrors() []error {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]error(nil), self.connErrs...)
}

func (self *EventCounter) Acks() []uint16 {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]uint16(nil), self.acks...)
}

func (self *EventCounter) Lost() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.lostCount
}
