// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2025 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/daemon"
	"github.com/jessevdk/go-flags"

	"github.com/snapcore/dplink/cmd"
	"github.com/snapcore/dplink/config"
	"github.com/snapcore/dplink/daemon"
	"github.com/snapcore/dplink/dirs"
	"github.com/snapcore/dplink/hpd"
	"github.com/snapcore/dplink/hw"
	"github.com/snapcore/dplink/hw/sim"
	"github.com/snapcore/dplink/logger"
	"github.com/snapcore/dplink/notify/dbusnotify"
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

func init() {
	err := logger.SimpleSetup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: failed to activate logging: %s\n", err)
	}
}

type options struct {
	Config  string `long:"config" short:"c" description:"Configuration file" value-name:"<path>"`
	Sink    string `long:"sink" default:"single" choice:"none" choice:"single" choice:"mst" choice:"protected" description:"Simulated sink to attach"`
	Monitor bool   `long:"monitor" description:"Follow connector hot-plug uevents"`
	Version bool   `long:"version" description:"Print the version and exit"`

	WriteConfig string `long:"write-config" description:"Write the effective configuration to a file and exit" value-name:"<path>"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (*options, error) {
	var opts options
	p := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	p.ShortDescription = "DisplayPort link controller daemon"
	rest, err := p.ParseArgs(args)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("too many arguments: %q", rest)
	}
	return &opts, nil
}

// backend builds the controller the daemon drives. Only the simulated
// controller is available; kind picks the sink plugged into it.
func backend(kind string) (*hw.Backend, error) {
	h := sim.New()
	cfg := sim.DefaultSinkConfig
	switch kind {
	case "none":
		return h.Backend(), nil
	case "single":
	case "mst":
		cfg.MST = true
		cfg.SinkCount = 2
	case "protected":
		cfg.ContentProtected = true
	default:
		return nil, fmt.Errorf("unknown sink %q", kind)
	}
	h.Attach(sim.NewSink(cfg))
	return h.Backend(), nil
}

var (
	findConnector     = hpd.FindConnector
	connectDesktopBus = dbusnotify.Connect
	watchdogEnabled   = sddaemon.SdWatchdogEnabled
	sdNotify          = sddaemon.SdNotify
	signalNotify      = signal.Notify
)

func loadConfig(opts *options) (*config.Config, error) {
	path := opts.Config
	if path == "" {
		path = dirs.DplinkConfigFile
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Connector == "" && opts.Monitor {
		connector, err := findConnector()
		if err != nil {
			return nil, fmt.Errorf("cannot find a DisplayPort connector: %v", err)
		}
		cfg.Connector = connector
	}
	return cfg, nil
}

func desktopNotifier(cfg *config.Config) daemon.DesktopNotifier {
	if !cfg.DesktopNotifications {
		return nil
	}
	n, err := connectDesktopBus()
	if err != nil {
		logger.Noticef("cannot use desktop notifications: %v", err)
		return nil
	}
	return n
}

func runWatchdog(d *daemon.Daemon) (*time.Ticker, error) {
	usec, err := watchdogEnabled(false)
	if err != nil {
		return nil, fmt.Errorf("cannot check watchdog: %v", err)
	}
	// not running under a systemd watchdog
	if usec == 0 {
		return nil, nil
	}
	dur := usec / 2
	logger.Debugf("Setting up sd_notify() watchdog timer every %s", dur)
	wt := time.NewTicker(dur)

	go func() {
		for {
			select {
			case <-wt.C:
				sdNotify(false, sddaemon.SdNotifyWatchdog)
			case <-d.Dying():
				return
			}
		}
	}()

	return wt, nil
}

func run(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(Stdout, e.Message)
			return nil
		}
		return err
	}
	if opts.Version {
		fmt.Fprintf(Stdout, "dplinkd %s\n", cmd.Version)
		return nil
	}

	t0 := time.Now().Truncate(time.Millisecond)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if opts.WriteConfig != "" {
		return cfg.Save(opts.WriteConfig)
	}
	logger.SetConnector(cfg.Connector)
	be, err := backend(opts.Sink)
	if err != nil {
		return err
	}

	ch := make(chan os.Signal, 2)
	signalNotify(ch, syscall.SIGINT, syscall.SIGTERM)

	d, err := daemon.New(cfg, be, desktopNotifier(cfg))
	if err != nil {
		return err
	}
	d.Version = cmd.Version
	if err := d.Init(); err != nil {
		return err
	}

	d.Start(daemon.Options{Monitor: opts.Monitor})

	watchdog, err := runWatchdog(d)
	if err != nil {
		return fmt.Errorf("cannot run software watchdog: %v", err)
	}
	if watchdog != nil {
		defer watchdog.Stop()
	}

	logger.Debugf("activation done in %v", time.Now().Truncate(time.Millisecond).Sub(t0))

	select {
	case sig := <-ch:
		logger.Noticef("Exiting on %s signal.\n", sig)
	case <-d.Dying():
		// something called Stop()
	}

	return d.Stop()
}
