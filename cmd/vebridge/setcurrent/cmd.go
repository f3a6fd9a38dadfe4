// One shot: send charge current limit command and exit.
package setcurrent

import (
	"context"
	"flag"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/vebridge/cmd/vebridge/subcmd"
	"github.com/temoto/vebridge/hardware/uart"
	"github.com/temoto/vebridge/internal/state"
	"github.com/temoto/vebridge/internal/vedirect"
)

const modName = "set-current"

var Mod = subcmd.Mod{Name: modName, Usage: "[-wait DURATION] AMPS send current limit once", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	flags := flag.NewFlagSet(modName, flag.ContinueOnError)
	wait := flags.Duration("wait", 0, "wait for charger to echo setpoint, 0 to skip")
	if err := flags.Parse(args); err != nil {
		return errors.Annotate(err, "set-current flags")
	}
	if flags.NArg() != 1 {
		return errors.NotValidf("set-current expects one argument AMPS, got %q", flags.Args())
	}
	amps, err := strconv.ParseFloat(flags.Arg(0), 64)
	if err != nil {
		return errors.NotValidf("set-current amps=%q", flags.Arg(0))
	}
	if err = vedirect.ValidateSetCurrent(amps); err != nil {
		return err
	}

	port, err := g.Uart()
	if err != nil {
		return errors.Annotate(err, "serial open")
	}
	cmd := vedirect.EncodeSetCurrent(amps)
	g.Log.Infof("sending command: %q", cmd)
	if _, err = port.Write(cmd); err != nil {
		return errors.Annotate(err, "set-current")
	}
	if *wait <= 0 {
		return nil
	}

	runCtx, cancel := g.Context(ctx)
	defer cancel()
	echo, err := WaitEcho(runCtx, port, *wait)
	if err != nil {
		return err
	}
	g.Log.Infof("charger setpoint echo=%d A", echo)
	return nil
}

// WaitEcho reads lines until ":A2" setpoint echo or timeout.
func WaitEcho(ctx context.Context, port uart.Uarter, timeout time.Duration) (byte, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		line, err := port.ReadLine()
		if err != nil {
			if uart.IsTimeout(err) {
				continue
			}
			return 0, errors.Annotate(err, "wait echo")
		}
		if amps, ok := vedirect.DecodeSetCurrentEcho(line); ok {
			return amps, nil
		}
	}
	return 0, errors.Timeoutf("setpoint echo timeout=%v", timeout)
}
