package tele

import (
	"context"
	"sync"
	"testing"

	"github.com/juju/errors"
)

type Published struct {
	Topic   string
	Payload string
	Retain  bool
}

// BusMock records publishes in memory.
type BusMock struct {
	t          testing.TB
	mu         sync.Mutex
	pubs       []Published
	subs       map[string]MessageHandler
	connected  bool
	closed     bool
	ConnectErr error
	// PublishErr, when set, is returned by every Publish.
	PublishErr error
	// OnPublish runs after message is recorded.
	OnPublish func(Published)
}

var _ Bus = (*BusMock)(nil)

func NewBusMock(t testing.TB) *BusMock {
	return &BusMock{t: t, subs: make(map[string]MessageHandler)}
}

func (self *BusMock) Connect(ctx context.Context) error {
	if self.ConnectErr != nil {
		return self.ConnectErr
	}
	self.mu.Lock()
	self.connected = true
	self.mu.Unlock()
	return nil
}

func (self *BusMock) Publish(topic string, payload []byte, retain bool) error {
	self.mu.Lock()
	err := self.PublishErr
	if err == nil {
		if !self.connected {
			err = errors.Errorf("mock publish topic=%s not connected", topic)
		}
	}
	if err != nil {
		self.mu.Unlock()
		return err
	}
	p := Published{Topic: topic, Payload: string(payload), Retain: retain}
	self.pubs = append(self.pubs, p)
	hook := self.OnPublish
	self.mu.Unlock()
	self.t.Logf("mock publish topic=%s retain=%t payload=%s", topic, retain, payload)
	if hook != nil {
		hook(p)
	}
	return nil
}

func (self *BusMock) Subscribe(topic string, handler MessageHandler) error {
	self.mu.Lock()
	self.subs[topic] = handler
	self.mu.Unlock()
	return nil
}

func (self *BusMock) Close() {
	self.mu.Lock()
	self.closed = true
	self.connected = false
	self.mu.Unlock()
}

func (self *BusMock) SetPublishErr(err error) {
	self.mu.Lock()
	self.PublishErr = err
	self.mu.Unlock()
}

// Deliver passes message to subscriber as if it came from broker.
func (self *BusMock) Deliver(topic string, payload []byte) {
	self.mu.Lock()
	h, ok := self.subs[topic]
	self.mu.Unlock()
	if !ok {
		self.t.Errorf("not subscribed for topic=%s", topic)
		return
	}
	h(topic, payload)
}

func (self *BusMock) Published() []Published {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]Published(nil), self.pubs...)
}

// Topic filters published messages.
func (self *BusMock) Topic(topic string) []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	ss := make([]string, 0, len(self.pubs))
	for _, p := range self.pubs {
		if p.Topic == topic {
			ss = append(ss, p.Payload)
		}
	}
	return ss
}

func (self *BusMock) Reset() {
	self.mu.Lock()
	self.pubs = nil
	self.mu.Unlock()
}

func (self *BusMock) Closed() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.closed
}
