package tele

import (
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MqttMock is fake paho client. Connect runs OnConnect handler synchronously.
type MqttMock struct {
	Opt        *mqtt.ClientOptions
	Pub        chan MockMsg
	ConnectErr error
	PublishErr error

	mu        sync.Mutex
	connected bool
	subs      []MockSub
}
type MockSub struct {
	Pattern string
	Qos     byte
	Handler mqtt.MessageHandler
}

func NewMqttMock() *MqttMock {
	return &MqttMock{
		Pub:  make(chan MockMsg, 32),
		subs: make([]MockSub, 0, 16),
	}
}

func (self *MqttMock) MockNew(opt *mqtt.ClientOptions) mqtt.Client {
	self.Opt = opt
	return self
}

// TestPublish delivers message as if it came from broker.
func (self *MqttMock) TestPublish(t testing.TB, topic string, payload []byte) {
	self.mu.Lock()
	subs := append([]MockSub(nil), self.subs...)
	self.mu.Unlock()
	for _, sub := range subs {
		if topic == sub.Pattern {
			msg := MockMsg{T: topic, P: payload}
			if sub.Qos > 0 {
				msg.acked = make(chan struct{})
			}
			sub.Handler(self, msg)
			if sub.Qos > 0 {
				select {
				case <-msg.acked:
				default:
					t.Errorf("message='%s' handled without Ack()", string(payload))
					return
				}
			}
			return
		}
	}
	t.Errorf("not subscribed for topic=%s", topic)
}

// TestReconnect simulates connection restored after loss.
func (self *MqttMock) TestReconnect() {
	self.mu.Lock()
	self.subs = self.subs[:0]
	self.mu.Unlock()
	if self.Opt != nil && self.Opt.OnConnect != nil {
		self.Opt.OnConnect(self)
	}
}

func (self *MqttMock) Subscribed() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	ss := make([]string, len(self.subs))
	for i, sub := range self.subs {
		ss[i] = sub.Pattern
	}
	return ss
}

func (self *MqttMock) Disconnect(uint) {
	self.mu.Lock()
	self.connected = false
	self.mu.Unlock()
}
func (self *MqttMock) IsConnected() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connected
}
func (self *MqttMock) IsConnectionOpen() bool { return self.IsConnected() }

func (self *MqttMock) Connect() mqtt.Token {
	if self.ConnectErr != nil {
		return newMockToken(self.ConnectErr)
	}
	self.mu.Lock()
	self.connected = true
	self.mu.Unlock()
	if self.Opt != nil && self.Opt.OnConnect != nil {
		self.Opt.OnConnect(self)
	}
	return newMockToken(nil)
}

func (self *MqttMock) Publish(topic string, qos byte, retain bool, payload interface{}) mqtt.Token {
	if self.PublishErr != nil {
		return newMockToken(self.PublishErr)
	}
	var p []byte
	switch x := payload.(type) {
	case []byte:
		p = x
	case string:
		p = []byte(x)
	}
	self.Pub <- MockMsg{T: topic, P: p, q: qos, r: retain}
	return newMockToken(nil)
}

func (self *MqttMock) Subscribe(pattern string, qos byte, handler mqtt.MessageHandler) mqtt.Token {
	self.mu.Lock()
	self.subs = append(self.subs, MockSub{pattern, qos, handler})
	self.mu.Unlock()
	return newMockToken(nil)
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
	error
	done chan struct{}
}

func newMockToken(err error) mockToken {
	tok := mockToken{err, make(chan struct{})}
	close(tok.done)
	return tok
}

func (tok mockToken) Error() error                   { return tok.error }
func (tok mockToken) Wait() bool                     { return true }
func (tok mockToken) WaitTimeout(time.Duration) bool { return true }
func (tok mockToken) Done() <-chan struct{}          { return tok.done }

type MockMsg struct {
	T     string
	P     []byte
	q     byte
	r     bool
	acked chan struct{}
}

func (msg MockMsg) Ack() {
	if msg.acked != nil {
		close(msg.acked)
	}
}

func (msg MockMsg) Duplicate() bool   { return false }
func (msg MockMsg) MessageID() uint16 { return 0 }
func (msg MockMsg) Payload() []byte   { return msg.P }
func (msg MockMsg) Qos() byte         { return msg.q }
func (msg MockMsg) Retained() bool    { return msg.r }
func (msg MockMsg) Topic() string     { return msg.T }
