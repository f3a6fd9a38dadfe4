// Dump serial traffic: text blocks as tables, HEX protocol messages as hex/ascii.
package monitor

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/vebridge/cmd/vebridge/subcmd"
	"github.com/temoto/vebridge/hardware/uart"
	"github.com/temoto/vebridge/helpers"
	"github.com/temoto/vebridge/internal/state"
	"github.com/temoto/vebridge/internal/vedirect"
)

const modName = "monitor"

var Mod = subcmd.Mod{Name: modName, Usage: "[-filter PREFIX] [-no-text] dump serial frames", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	flags := flag.NewFlagSet(modName, flag.ContinueOnError)
	filter := flags.String("filter", "", "show only binary messages starting with prefix, example: :A1")
	noText := flags.Bool("no-text", false, "hide text blocks")
	if err := flags.Parse(args); err != nil {
		return errors.Annotate(err, "monitor flags")
	}

	port, err := g.Uart()
	if err != nil {
		return errors.Annotate(err, "serial open")
	}
	m := &Monitor{W: os.Stdout, Filter: []byte(*filter), NoText: *noText}
	runCtx, cancel := g.Context(ctx)
	defer cancel()
	g.Log.Infof("monitor serial=%s baud=%d", config.Serial.Port, config.Serial.Baudrate)
	return m.Run(runCtx, vedirect.NewFrameReader(port, config.Serial.FrameMax))
}

type Monitor struct {
	W      io.Writer
	Filter []byte
	NoText bool
}

// Run prints frames until ctx is done or serial fails.
func (self *Monitor) Run(ctx context.Context, frames *vedirect.FrameReader) error {
	for {
		f, err := frames.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch {
			case uart.IsTimeout(err):
				continue
			case vedirect.IsOverflow(err):
				if _, err = fmt.Fprintf(self.W, "! %v\n", err); err != nil {
					return errors.Annotate(err, "monitor output")
				}
				continue
			}
			return errors.Annotate(err, "serial read")
		}
		if err = self.Frame(f); err != nil {
			return err
		}
	}
}

// Frame renders one frame and writes it to W in single call.
func (self *Monitor) Frame(f vedirect.Frame) error {
	var sb strings.Builder
	self.format(&sb, f)
	if sb.Len() == 0 {
		return nil
	}
	if _, err := io.WriteString(self.W, sb.String()); err != nil {
		return errors.Annotate(err, "monitor output")
	}
	return nil
}

func (self *Monitor) format(sb *strings.Builder, f vedirect.Frame) {
	switch f.Kind {
	case vedirect.TextBlock:
		if self.NoText {
			return
		}
		checksum := "bad"
		if vedirect.ChecksumValid(f) {
			checksum = "ok"
		}
		for _, b := range vedirect.ParseBlocks(f.Bytes) {
			fmt.Fprintf(sb, "\n%schecksum: %s\n\n", vedirect.FormatBlock(b), checksum)
		}

	case vedirect.BinaryMessage:
		// leading CRLF of text block
		if bytes.Equal(f.Bytes, []byte("\r\n")) {
			return
		}
		if len(self.Filter) != 0 && !bytes.HasPrefix(f.Bytes, self.Filter) {
			return
		}
		sb.WriteString(helpers.HexDump(f.Bytes, ""))
		if amps, ok := vedirect.DecodeSetCurrentEcho(f.Bytes); ok {
			fmt.Fprintf(sb, "setpoint echo: %d A\n", amps)
		}
	}
}
