// Package charger drives one VE.Direct charger: availability tracking,
// telemetry publishing and current limit setpoint.
package charger

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/vebridge/hardware/uart"
	"github.com/temoto/vebridge/helpers"
	"github.com/temoto/vebridge/helpers/atomic_float"
	"github.com/temoto/vebridge/internal/state"
	"github.com/temoto/vebridge/internal/tele"
	"github.com/temoto/vebridge/internal/vedirect"
	"github.com/temoto/vebridge/log2"
)

// Port is serial side of controller.
type Port interface {
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
}

type Options struct {
	Topics       tele.Topics
	Manufacturer string
	Model        string
	InitialLimit float64
	FrameMax     int

	OfflineTimeout time.Duration
	ResendGap      time.Duration
	ResendDelay    time.Duration
	RateLimit      time.Duration
}

func OptionsFromConfig(c *state.Config) Options {
	return Options{
		Topics: tele.Topics{
			Base:            c.BaseTopic(),
			DiscoveryPrefix: c.Mqtt.DiscoveryPrefix,
			DeviceUID:       c.DeviceUID(),
			CurrentLimit:    c.Mqtt.CurrentLimitTopic,
		},
		Manufacturer:   c.Device.Manufacturer,
		Model:          c.Device.Model,
		InitialLimit:   c.InitialCurrentLimit(),
		FrameMax:       c.Serial.FrameMax,
		OfflineTimeout: c.OfflineTimeout(),
		ResendGap:      c.ResendGap(),
		ResendDelay:    c.ResendDelay(),
		RateLimit:      c.RateLimit(),
	}
}

func (o *Options) normalize() {
	if o.OfflineTimeout <= 0 {
		o.OfflineTimeout = state.DefaultOffline
	}
	if o.ResendGap <= 0 {
		o.ResendGap = state.DefaultResendGap
	}
	if o.ResendDelay <= 0 {
		o.ResendDelay = state.DefaultResendDelay
	}
	if o.RateLimit <= 0 {
		o.RateLimit = state.DefaultRateLimit
	}
}

// Controller state is owned by Run goroutine except currentLimit,
// which is also written by setpoint handler on MQTT goroutine.
// sendMu keeps limit store and serial write together, so the last command
// on the wire always matches currentLimit.
type Controller struct {
	log    *log2.Log
	bus    tele.Bus
	port   Port
	frames *vedirect.FrameReader
	opt    Options
	stat   Stat
	now    func() time.Time

	currentLimit *atomic_float.F64
	sendMu       sync.Mutex
	lastBlock    *atomic_clock.Clock // only for LastBlockAge

	mu            sync.Mutex
	lastFrame     time.Time
	available     bool
	resendPending bool
	resendAnchor  time.Time
}

func New(log *log2.Log, bus tele.Bus, port Port, opt Options) *Controller {
	opt.normalize()
	self := &Controller{
		log:          log,
		bus:          bus,
		port:         port,
		frames:       vedirect.NewFrameReader(port, opt.FrameMax),
		opt:          opt,
		now:          time.Now,
		currentLimit: atomic_float.NewF64(opt.InitialLimit),
		lastBlock:    atomic_clock.Now(),
		lastFrame:    time.Now(),
		available:    true,
	}
	return self
}

func (self *Controller) Stat() *Stat           { return &self.stat }
func (self *Controller) CurrentLimit() float64 { return self.currentLimit.Load() }

func (self *Controller) LastFrame() time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.lastFrame
}

// LastBlockAge is time since last text block, or since New if none yet.
func (self *Controller) LastBlockAge() time.Duration {
	return atomic_clock.Now().Sub(self.lastBlock)
}

func (self *Controller) Available() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.available
}

func (self *Controller) ResendPending() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.resendPending
}

// Start announces device and sends initial limit.
func (self *Controller) Start(ctx context.Context) error {
	if err := tele.PublishDiscovery(self.bus, self.opt.Topics, self.opt.Manufacturer, self.opt.Model); err != nil {
		return errors.Trace(err)
	}
	if err := self.PublishAvailability(); err != nil {
		return errors.Trace(err)
	}
	if err := self.bus.Subscribe(self.opt.Topics.CurrentLimit, self.onMessage); err != nil {
		return errors.Annotate(err, "setpoint subscribe")
	}
	now := self.now()
	self.mu.Lock()
	self.lastFrame = now
	self.mu.Unlock()
	return errors.Annotate(self.SendLimit(), "initial limit")
}

// PublishAvailability repeats current availability, used after MQTT reconnect
// because broker may have delivered will message meanwhile.
func (self *Controller) PublishAvailability() error {
	payload := tele.PayloadOffline
	if self.Available() {
		payload = tele.PayloadOnline
	}
	return self.publish(self.opt.Topics.Status(), []byte(payload))
}

// Run reads serial port until ctx is done or transport fails.
func (self *Controller) Run(ctx context.Context) error {
	if err := self.Start(ctx); err != nil {
		return err
	}
	for {
		f, err := self.frames.Next(ctx)
		now := self.now()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch {
			case uart.IsTimeout(err):
			case vedirect.IsOverflow(err):
				self.stat.Overflows.Add(1)
				self.log.Errorf("serial framing stall err=%v", err)
			default:
				return errors.Annotate(err, "serial read")
			}
			self.CheckElapsed(now)
			continue
		}

		self.CheckElapsed(now)
		published, err := self.OnFrame(ctx, now, f)
		if err != nil {
			return err
		}
		if published && !helpers.SleepCtx(ctx, self.opt.RateLimit) {
			return nil
		}
	}
}

// CheckElapsed runs on every poll, data or not.
func (self *Controller) CheckElapsed(now time.Time) {
	self.mu.Lock()
	silence := now.Sub(self.lastFrame)
	goOffline := self.available && silence > self.opt.OfflineTimeout
	if goOffline {
		self.available = false
	}
	if !self.resendPending && silence > self.opt.ResendGap {
		self.resendPending = true
		self.log.Infof("no serial data for %v, will resend limit on next blocks", silence.Truncate(time.Second))
	}
	self.mu.Unlock()

	if goOffline {
		self.log.Infof("charger unavailable, silence=%v", silence.Truncate(time.Second))
		if err := self.publish(self.opt.Topics.Status(), []byte(tele.PayloadOffline)); err != nil {
			self.log.Error(err)
		}
	}
}

// OnFrame handles one frame from serial. Returns true if telemetry was published.
func (self *Controller) OnFrame(ctx context.Context, now time.Time, f vedirect.Frame) (bool, error) {
	switch f.Kind {
	case vedirect.BinaryMessage:
		self.stat.BinaryFrames.Add(1)
		if self.log.Enabled(log2.LDebug) {
			self.log.Debugf("serial binary frame\n%s", helpers.HexDump(f.Bytes, "  "))
		}
		return false, nil

	case vedirect.TextBlock:
		self.stat.TextFrames.Add(1)
		if !vedirect.ChecksumValid(f) {
			self.stat.BadChecksums.Add(1)
			self.log.Debugf("serial text block checksum mismatch %q", f.Bytes)
		}
		published := false
		s := vedirect.NewBlockScanner(f.Bytes)
		for s.Scan() {
			ok, err := self.OnBlock(ctx, now, s.Block())
			if err != nil {
				return published, err
			}
			published = published || ok
		}
		return published, nil
	}
	return false, errors.NotValidf("frame kind=%s", f.Kind)
}

// OnBlock advances state on block arrival and publishes measurements.
// Returns true if any measurement was published.
// Error is only returned for serial write failure.
func (self *Controller) OnBlock(ctx context.Context, now time.Time, b vedirect.Block) (bool, error) {
	self.stat.Blocks.Add(1)

	self.mu.Lock()
	goOnline := !self.available
	self.available = true
	self.lastFrame = now
	self.lastBlock.SetNow()
	resend := false
	if self.resendPending {
		if self.resendAnchor.IsZero() {
			self.resendAnchor = now
		} else if now.Sub(self.resendAnchor) >= self.opt.ResendDelay {
			resend = true
			self.resendPending = false
			self.resendAnchor = time.Time{}
		}
	}
	self.mu.Unlock()

	if goOnline {
		self.log.Infof("charger available")
		if err := self.publish(self.opt.Topics.Status(), []byte(tele.PayloadOnline)); err != nil {
			self.log.Error(err)
		}
	}
	if resend {
		self.log.Infof("resending limit after gap")
		if err := self.SendLimit(); err != nil {
			return false, errors.Annotate(err, "resend limit")
		}
	}

	sample := b.Sample()
	if sample.Empty() {
		return false, nil
	}
	if sample.HasVoltage {
		if err := self.publish(self.opt.Topics.Voltage(), tele.FormatFloat(sample.Voltage)); err != nil {
			self.log.Error(err)
		}
	}
	if sample.HasCurrent {
		if err := self.publish(self.opt.Topics.Current(), tele.FormatFloat(sample.Current)); err != nil {
			self.log.Error(err)
		}
	}
	return true, nil
}

// OnSetpoint parses decimal amps, stores new limit and sends it immediately.
// Accepted range is 0..25.5 A (vedirect.MaxSetCurrent), command carries one byte of tenths.
// Bad or out of range payload leaves state unchanged.
func (self *Controller) OnSetpoint(ctx context.Context, payload []byte) error {
	s := strings.TrimSpace(string(payload))
	amps, err := strconv.ParseFloat(s, 64)
	if err != nil {
		self.stat.SetpointErrors.Add(1)
		return errors.NotValidf("setpoint payload=%q", payload)
	}
	if err = vedirect.ValidateSetCurrent(amps); err != nil {
		self.stat.SetpointErrors.Add(1)
		return errors.Annotatef(err, "setpoint payload=%q", payload)
	}
	self.sendMu.Lock()
	defer self.sendMu.Unlock()
	self.currentLimit.Store(amps)
	self.log.Infof("new current limit=%v A", amps)
	return self.sendLimit()
}

func (self *Controller) onMessage(topic string, payload []byte) {
	if err := self.OnSetpoint(context.Background(), payload); err != nil {
		self.log.Error(errors.Annotatef(err, "topic=%s", topic))
	}
}

// SendLimit writes current limit command to serial port.
func (self *Controller) SendLimit() error {
	self.sendMu.Lock()
	defer self.sendMu.Unlock()
	return self.sendLimit()
}

func (self *Controller) sendLimit() error {
	amps := self.currentLimit.Load()
	cmd := vedirect.EncodeSetCurrent(amps)
	self.log.Debugf("serial command %q", cmd)
	if _, err := self.port.Write(cmd); err != nil {
		return errors.Annotatef(err, "send current=%v", amps)
	}
	self.stat.Commands.Add(1)
	return nil
}

func (self *Controller) publish(topic string, payload []byte) error {
	if err := self.bus.Publish(topic, payload, true); err != nil {
		self.stat.PublishErrors.Add(1)
		return err
	}
	self.stat.Publishes.Add(1)
	return nil
}
