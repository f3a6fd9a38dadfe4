// Main service mode: serial telemetry to MQTT, setpoints back to charger.
package bridge

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/vebridge/cmd/vebridge/subcmd"
	"github.com/temoto/vebridge/internal/charger"
	"github.com/temoto/vebridge/internal/state"
	"github.com/temoto/vebridge/internal/tele"
)

var Mod = subcmd.Mod{Name: "bridge", Usage: "run charger to MQTT bridge (default)", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	port, err := g.Uart()
	if err != nil {
		return errors.Annotate(err, "serial open")
	}
	bus, err := g.Bus()
	if err != nil {
		return errors.Annotate(err, "mqtt init")
	}
	ctl := charger.New(g.Log, bus, port, charger.OptionsFromConfig(config))
	g.OnMqttConnect(func() {
		if err := ctl.PublishAvailability(); err != nil {
			g.Error(err, "mqtt reconnect")
		}
	})
	if err = bus.Connect(ctx); err != nil {
		return errors.Annotate(err, "mqtt connect")
	}

	runCtx, cancel := g.Context(ctx)
	defer cancel()
	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Debugf("bridge init complete, running")

	err = ctl.Run(runCtx)
	g.Log.Infof("bridge stop last_block_age=%v %s", ctl.LastBlockAge().Truncate(time.Millisecond), ctl.Stat())
	if err != nil {
		return errors.Annotate(err, "bridge")
	}
	// clean shutdown does not trigger will message
	status := tele.Topics{Base: config.BaseTopic()}.Status()
	if err = bus.Publish(status, []byte(tele.PayloadOffline), true); err != nil {
		g.Error(err, "publish offline")
	}
	return nil
}
