// Sorry, workaround to import cycles.
package state_new

import (
	"context"
	"os"
	"testing"

	"github.com/temoto/alive/v2"
	"github.com/temoto/vebridge/hardware/uart"
	"github.com/temoto/vebridge/internal/state"
	"github.com/temoto/vebridge/internal/tele"
	"github.com/temoto/vebridge/log2"
)

func NewContext(log *log2.Log) (context.Context, *state.Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &state.Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, state.ContextKey, g)

	return ctx, g
}

// NewTestContext returns Global with in-memory serial device and message bus.
func NewTestContext(t testing.TB, buildVersion string, confString string) (context.Context, *state.Global, *uart.MockDevice, *tele.BusMock) {
	fs := state.NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	var log *log2.Log
	if os.Getenv("vebridge_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	g.BuildVersion = buildVersion

	port, dev := uart.NewMock(t)
	bus := tele.NewBusMock(t)
	g.Hardware.Uart.Port = port
	g.Hardware.Mqtt.Bus = bus
	g.MustInit(ctx, state.MustReadConfig(log, fs, "test-inline"))

	return ctx, g, dev, bus
}
