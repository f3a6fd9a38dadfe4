package tele

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/vebridge/helpers"
	"github.com/temoto/vebridge/log2"
)

const (
	DefaultKeepalive      = 60 * time.Second
	DefaultNetworkTimeout = 10 * time.Second

	qos = 1
)

type MqttOptions struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	KeepaliveSec   int
	NetworkTimeout time.Duration
	WillTopic      string
	WillPayload    []byte
	Log            *log2.Log
	// OnConnect runs after every (re)connect, subscriptions already restored.
	OnConnect func()
	// NewClient is mqtt.NewClient unless replaced in tests.
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

// Mqtt is Bus over paho client.
type Mqtt struct {
	log     *log2.Log
	opt     MqttOptions
	m       mqtt.Client
	timeout time.Duration

	mu   sync.Mutex
	subs map[string]MessageHandler
}

var _ Bus = (*Mqtt)(nil)

func NewMqtt(opt MqttOptions) *Mqtt {
	if opt.NewClient == nil {
		opt.NewClient = mqtt.NewClient
	}
	timeout := opt.NetworkTimeout
	if timeout <= 0 {
		timeout = DefaultNetworkTimeout
	}
	return &Mqtt{
		log:     opt.Log,
		opt:     opt,
		timeout: timeout,
		subs:    make(map[string]MessageHandler),
	}
}

// SetLogger routes paho internal messages into log.
// Package level state, call once from main.
func SetLogger(log *log2.Log, debug bool) {
	mqtt.ERROR = log.Clone(log2.LError)
	mqtt.CRITICAL = log.Clone(log2.LError)
	mqtt.WARN = log.Clone(log2.LInfo)
	if debug {
		mqtt.DEBUG = log.Clone(log2.LDebug)
	}
}

// Connect fails if broker is not reachable now.
// After first success, connection is restored automatically.
func (self *Mqtt) Connect(ctx context.Context) error {
	keepalive := helpers.IntSecondDefault(self.opt.KeepaliveSec, DefaultKeepalive)
	mopt := mqtt.NewClientOptions().
		AddBroker(self.opt.BrokerURL).
		SetClientID(self.opt.ClientID).
		SetCleanSession(true).
		SetKeepAlive(keepalive).
		SetPingTimeout(self.timeout).
		SetConnectTimeout(self.timeout).
		SetWriteTimeout(self.timeout).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetDefaultPublishHandler(self.messageHandler).
		SetOnConnectHandler(self.onConnectHandler).
		SetConnectionLostHandler(self.connectLostHandler)
	if self.opt.Username != "" {
		mopt.SetUsername(self.opt.Username)
		mopt.SetPassword(self.opt.Password)
	}
	if self.opt.WillTopic != "" {
		mopt.SetBinaryWill(self.opt.WillTopic, self.opt.WillPayload, qos, true)
	}
	self.m = self.opt.NewClient(mopt)

	self.log.Debugf("mqtt connecting broker=%s client_id=%s", self.opt.BrokerURL, self.opt.ClientID)
	if err := self.wait(ctx, self.m.Connect()); err != nil {
		return errors.Annotatef(err, "mqtt connect broker=%s", self.opt.BrokerURL)
	}
	self.log.Infof("mqtt connected broker=%s", self.opt.BrokerURL)
	return nil
}

func (self *Mqtt) Publish(topic string, payload []byte, retain bool) error {
	if self.m == nil {
		return errors.Errorf("mqtt publish topic=%s before connect", topic)
	}
	self.log.Debugf("mqtt publish topic=%s retain=%t payload=%s", topic, retain, payload)
	if err := self.wait(context.Background(), self.m.Publish(topic, qos, retain, payload)); err != nil {
		return errors.Annotatef(err, "mqtt publish topic=%s", topic)
	}
	return nil
}

// Subscribe remembers handler and restores subscription on every reconnect.
func (self *Mqtt) Subscribe(topic string, handler MessageHandler) error {
	self.mu.Lock()
	self.subs[topic] = handler
	self.mu.Unlock()
	if self.m == nil || !self.m.IsConnected() {
		return nil
	}
	return self.subscribe(self.m, topic, handler)
}

func (self *Mqtt) Close() {
	if self.m == nil {
		return
	}
	self.log.Debugf("mqtt disconnect")
	self.m.Disconnect(uint(self.timeout / time.Millisecond / 4))
}

func (self *Mqtt) wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(self.timeout):
		return errors.Timeoutf("mqtt network timeout=%v", self.timeout)
	}
}

func (self *Mqtt) subscribe(c mqtt.Client, topic string, handler MessageHandler) error {
	cb := func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
		msg.Ack()
	}
	if err := self.wait(context.Background(), c.Subscribe(topic, qos, cb)); err != nil {
		return errors.Annotatef(err, "mqtt subscribe topic=%s", topic)
	}
	self.log.Debugf("mqtt subscribed topic=%s", topic)
	return nil
}

func (self *Mqtt) messageHandler(c mqtt.Client, msg mqtt.Message) {
	self.log.Debugf("mqtt unexpected message topic=%s payload=%x", msg.Topic(), msg.Payload())
	msg.Ack()
}

func (self *Mqtt) connectLostHandler(c mqtt.Client, err error) {
	self.log.Errorf("mqtt connection lost err=%v", err)
}

func (self *Mqtt) onConnectHandler(c mqtt.Client) {
	self.mu.Lock()
	subs := make(map[string]MessageHandler, len(self.subs))
	for topic, h := range self.subs {
		subs[topic] = h
	}
	self.mu.Unlock()
	for topic, h := range subs {
		if err := self.subscribe(c, topic, h); err != nil {
			self.log.Error(err)
		}
	}
	if self.opt.OnConnect != nil {
		self.opt.OnConnect()
	}
}
