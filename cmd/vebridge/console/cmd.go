// Interactive setpoint console talking to charger directly, without MQTT.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/vebridge/cmd/vebridge/subcmd"
	"github.com/temoto/vebridge/hardware/uart"
	"github.com/temoto/vebridge/helpers"
	"github.com/temoto/vebridge/helpers/cli"
	"github.com/temoto/vebridge/internal/state"
	"github.com/temoto/vebridge/internal/vedirect"
)

const usage = `commands:
- set AMPS  send current limit, example: set 12.5
- status    last telemetry, setpoint echo and session counters
- block     last text block
- help      this text
`

const modName = "console"

var Mod = subcmd.Mod{Name: modName, Usage: "interactive current limit prompt", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	port, err := g.Uart()
	if err != nil {
		return errors.Annotate(err, "serial open")
	}
	s := NewSession(os.Stdout, port)
	runCtx, cancel := g.Context(ctx)
	defer cancel()
	readErr := make(chan error, 1)
	go func() { readErr <- s.ReadLoop(runCtx, vedirect.NewFrameReader(port, config.Serial.FrameMax)) }()

	if err = cli.MainLoop(modName, s.Exec, cli.Suggester(suggests)); err != nil {
		return errors.Annotate(err, "console input")
	}
	cancel()
	return <-readErr
}

var suggests = []prompt.Suggest{
	{Text: "set", Description: "send current limit AMPS"},
	{Text: "status", Description: "telemetry and session counters"},
	{Text: "block", Description: "last text block"},
	{Text: "help", Description: "usage"},
}

type Session struct {
	w    io.Writer
	port uart.Uarter
	now  func() time.Time

	mu        sync.Mutex
	block     vedirect.Block
	blockTime time.Time
	echo      int // -1 = unknown
	frames    int
	commands  int
	errors    int
}

func NewSession(w io.Writer, port uart.Uarter) *Session {
	return &Session{w: w, port: port, now: time.Now, echo: -1}
}

// ReadLoop feeds frames into session until ctx is done or serial fails.
func (self *Session) ReadLoop(ctx context.Context, frames *vedirect.FrameReader) error {
	for {
		f, err := frames.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if uart.IsTimeout(err) || vedirect.IsOverflow(err) {
				continue
			}
			return errors.Annotate(err, "serial read")
		}
		self.Frame(f)
	}
}

func (self *Session) Frame(f vedirect.Frame) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.frames++
	switch f.Kind {
	case vedirect.TextBlock:
		s := vedirect.NewBlockScanner(f.Bytes)
		for s.Scan() {
			self.block = s.Block()
			self.blockTime = self.now()
		}
	case vedirect.BinaryMessage:
		if amps, ok := vedirect.DecodeSetCurrentEcho(f.Bytes); ok {
			self.echo = int(amps)
		}
	}
}

func (self *Session) Exec(line string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}
	var err error
	switch parts[0] {
	case "set":
		err = self.set(parts[1:])
	case "status":
		self.status()
	case "block":
		var b vedirect.Block
		helpers.WithLock(&self.mu, func() { b = self.block })
		io.WriteString(self.w, vedirect.FormatBlock(b))
	case "help", "?":
		io.WriteString(self.w, usage)
	default:
		err = errors.NotValidf("command=%s (try help)", parts[0])
	}
	if err != nil {
		helpers.WithLock(&self.mu, func() { self.errors++ })
		fmt.Fprintf(self.w, "error: %v\n", err)
	}
}

func (self *Session) set(args []string) error {
	if len(args) != 1 {
		return errors.NotValidf("set expects AMPS")
	}
	amps, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return errors.NotValidf("amps=%q", args[0])
	}
	if err = vedirect.ValidateSetCurrent(amps); err != nil {
		return err
	}
	cmd := vedirect.EncodeSetCurrent(amps)
	if _, err = self.port.Write(cmd); err != nil {
		return err
	}
	helpers.WithLock(&self.mu, func() { self.commands++ })
	fmt.Fprintf(self.w, "sent %q\n", cmd)
	return nil
}

func (self *Session) status() {
	self.mu.Lock()
	defer self.mu.Unlock()
	sample := self.block.Sample()
	if self.blockTime.IsZero() {
		io.WriteString(self.w, "telemetry: none yet\n")
	} else {
		age := self.now().Sub(self.blockTime).Truncate(time.Second)
		v, i := "-", "-"
		if sample.HasVoltage {
			v = strconv.FormatFloat(sample.Voltage, 'f', -1, 64)
		}
		if sample.HasCurrent {
			i = strconv.FormatFloat(sample.Current, 'f', -1, 64)
		}
		fmt.Fprintf(self.w, "telemetry: voltage=%s V current=%s A age=%v\n", v, i, age)
	}
	if self.echo >= 0 {
		fmt.Fprintf(self.w, "setpoint echo: %d A\n", self.echo)
	}
	fmt.Fprintf(self.w, "session: frames=%d commands=%d errors=%d\n", self.frames, self.commands, self.errors)
}
