package state

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/temoto/vebridge/hardware/uart"
	"github.com/temoto/vebridge/internal/tele"
	"github.com/temoto/vebridge/log2"
)

type hardware struct {
	Uart struct {
		once
		Port uart.Uarter
	}
	Mqtt struct {
		once
		Bus       tele.Bus
		lk        sync.Mutex
		onConnect []func()
	}
}

// Uart opens serial port on first call.
func (g *Global) Uart() (uart.Uarter, error) {
	x := &g.Hardware.Uart // short alias
	_ = x.do(func() error {
		if x.Port != nil { // state-new testing mode
			return nil
		}
		cfg := &g.Config.Serial
		port, err := uart.Open(cfg.Port, g.Config.UartOptions())
		if err != nil {
			return errors.Annotatef(err, "config: serial.port=%s", cfg.Port)
		}
		x.Port = port
		return nil
	})
	return x.Port, x.err
}

// Bus creates MQTT client on first call. Caller must Connect.
func (g *Global) Bus() (tele.Bus, error) {
	x := &g.Hardware.Mqtt // short alias
	_ = x.do(func() error {
		if x.Bus != nil { // state-new testing mode
			return nil
		}
		cfg := &g.Config.Mqtt
		mqttLog := g.Log.Clone(log2.LInfo)
		if cfg.LogDebug {
			mqttLog.SetLevel(log2.LDebug)
		}
		tele.SetLogger(mqttLog, cfg.LogDebug)
		x.Bus = tele.NewMqtt(tele.MqttOptions{
			BrokerURL:      g.Config.BrokerURL(),
			ClientID:       cfg.ClientID,
			Username:       cfg.Username,
			Password:       cfg.Password,
			KeepaliveSec:   cfg.KeepaliveSec,
			NetworkTimeout: g.Config.NetworkTimeout(),
			WillTopic:      tele.Topics{Base: g.Config.BaseTopic()}.Status(),
			WillPayload:    []byte(tele.PayloadOffline),
			Log:            mqttLog,
			OnConnect:      g.onMqttConnect,
		})
		return nil
	})
	return x.Bus, x.err
}

// OnMqttConnect registers f to run after every broker (re)connect.
func (g *Global) OnMqttConnect(f func()) {
	x := &g.Hardware.Mqtt
	x.lk.Lock()
	x.onConnect = append(x.onConnect, f)
	x.lk.Unlock()
}

func (g *Global) onMqttConnect() {
	x := &g.Hardware.Mqtt
	x.lk.Lock()
	fs := append([]func(){}, x.onConnect...)
	x.lk.Unlock()
	for _, f := range fs {
		f()
	}
}

// CloseHardware releases serial port and MQTT connection, whichever were opened.
func (g *Global) CloseHardware() {
	if x := &g.Hardware.Mqtt; x.done() && x.Bus != nil {
		x.Bus.Close()
	}
	if x := &g.Hardware.Uart; x.done() && x.Port != nil {
		if err := x.Port.Close(); err != nil {
			g.Log.Error(errors.Annotate(err, "serial close"))
		}
	}
}

// ConnectBus is Bus() followed by Connect.
func (g *Global) ConnectBus(ctx context.Context) (tele.Bus, error) {
	bus, err := g.Bus()
	if err != nil {
		return nil, err
	}
	if err = bus.Connect(ctx); err != nil {
		return nil, err
	}
	return bus, nil
}

type once struct {
	sync.Mutex
	called uint32 // atomic bool
	err    error
}

func (o *once) done() bool {
	return atomic.LoadUint32(&o.called) == 1
}

func (o *once) do(f func() error) error {
	if o.done() { // fast path
		return o.err
	}
	o.Lock()
	defer o.Unlock()
	if o.done() {
		return o.err
	}
	o.err = f()
	atomic.StoreUint32(&o.called, 1)
	return o.err
}
