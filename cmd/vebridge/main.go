package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/temoto/vebridge/cmd/vebridge/bridge"
	"github.com/temoto/vebridge/cmd/vebridge/console"
	"github.com/temoto/vebridge/cmd/vebridge/monitor"
	"github.com/temoto/vebridge/cmd/vebridge/setcurrent"
	"github.com/temoto/vebridge/cmd/vebridge/subcmd"
	"github.com/temoto/vebridge/internal/state"
	state_new "github.com/temoto/vebridge/internal/state/new"
	"github.com/temoto/vebridge/log2"
)

var log = log2.NewStderr(log2.LDebug)
var BuildVersion string = "unknown" // set by ldflags -X

var modules = []subcmd.Mod{
	bridge.Mod,
	console.Mod,
	monitor.Mod,
	setcurrent.Mod,
}

func main() {
	flagConfig := flag.String("config", "vebridge.hcl", "config file, .hcl or .yaml")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config FILE] [command] [args]\ncommands:\n", os.Args[0])
		for _, m := range modules {
			fmt.Fprintf(flag.CommandLine.Output(), "  %-12s %s\n", m.Name, m.Usage)
		}
		flag.PrintDefaults()
	}
	flag.Parse()

	command := bridge.Mod.Name
	args := flag.Args()
	if len(args) != 0 {
		command, args = args[0], args[1:]
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		log.Fatal(err)
	}

	if subcmd.SdNotify("start") {
		// under systemd, assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	ctx, g := state_new.NewContext(log)
	g.BuildVersion = BuildVersion
	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Infof("signal=%v stopping", sig)
		g.Stop()
	}()

	err = mod.Main(ctx, config, args)
	g.CloseHardware()
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
