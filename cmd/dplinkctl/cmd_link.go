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
	"context"
	"fmt"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/dplink/connection"
	"github.com/snapcore/dplink/dp"
	"github.com/snapcore/dplink/hpd"
	"github.com/snapcore/dplink/i18n"
)

var shortConfigureHelp = i18n.G("Configure the alternate mode pins")
var longConfigureHelp = i18n.G(`
The configure command tells the daemon which pin assignment and plug
orientation were negotiated for the connector, and whether the hot-plug
signal is high.
`)

var shortReportHelp = i18n.G("Inject a hot-plug report")
var longReportHelp = i18n.G(`
The report command injects a raw status report as if it came from the
hot-plug signal source.
`)

var shortUnplugHelp = i18n.G("Report the cable as removed")
var longUnplugHelp = i18n.G(`
The unplug command tears the connection down as if the cable was removed.
`)

var shortValidateModeHelp = i18n.G("Check whether the link can carry a mode")
var longValidateModeHelp = i18n.G(`
The validate-mode command asks whether the currently trained link can
carry a display mode with the given pixel clock and color depth.
`)

type pinMixin struct {
	Pin     string `long:"pin" default:"C" choice:"C" choice:"D" choice:"E" description:"Negotiated pin assignment"`
	Flipped bool   `long:"flipped" description:"The plug is flipped"`
	HPDHigh bool   `long:"hpd-high" description:"The hot-plug signal is high"`
}

func (mx pinMixin) link() (connection.LinkConfig, error) {
	pin, err := hpd.ParsePinAssignment(mx.Pin)
	if err != nil {
		return connection.LinkConfig{}, err
	}
	cfg := connection.LinkConfig{PinAssignment: pin, HPDHigh: mx.HPDHigh}
	if mx.Flipped {
		cfg.Orientation = hpd.OrientationFlipped
	}
	return cfg, nil
}

type cmdConfigure struct {
	clientMixin
	pinMixin
}

type cmdReport struct {
	clientMixin
	pinMixin
	Detached     bool `long:"detached" description:"The cable is not attached"`
	Unconfigured bool `long:"unconfigured" description:"No pin assignment was negotiated yet"`
	IRQ          bool `long:"irq" description:"Report a hot-plug interrupt pulse"`
}

type cmdUnplug struct {
	clientMixin
}

type cmdValidateMode struct {
	clientMixin
	PixelClock int64  `long:"pixel-clock" required:"yes" description:"Pixel clock in kHz"`
	BPP        int    `long:"bpp" default:"24" description:"Bits per pixel"`
	Name       string `long:"name" description:"Mode name"`
}

func init() {
	addCommand("configure", shortConfigureHelp, longConfigureHelp, func() flags.Commander { return &cmdConfigure{} })
	addCommand("report", shortReportHelp, longReportHelp, func() flags.Commander { return &cmdReport{} })
	addCommand("unplug", shortUnplugHelp, longUnplugHelp, func() flags.Commander { return &cmdUnplug{} })
	addCommand("validate-mode", shortValidateModeHelp, longValidateModeHelp, func() flags.Commander { return &cmdValidateMode{} })
}

func (x *cmdConfigure) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	cfg, err := x.link()
	if err != nil {
		return err
	}
	st, err := x.client.Configure(context.Background(), cfg)
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func (x *cmdReport) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	cfg, err := x.link()
	if err != nil {
		return err
	}
	r := hpd.Report{
		Attached:   !x.Detached,
		Configured: !x.Unconfigured && !x.Detached,
		HPDHigh:    cfg.HPDHigh,
		IRQ:        x.IRQ,
	}
	if r.Configured {
		r.PinAssignment = cfg.PinAssignment
		r.Orientation = cfg.Orientation
	}
	st, err := x.client.Report(context.Background(), r)
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func (x *cmdUnplug) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	st, err := x.client.Disconnect(context.Background())
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func (x *cmdValidateMode) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	mode := dp.ModeTiming{Name: x.Name, PixelClockKHz: x.PixelClock, BitsPerPixel: x.BPP}
	if mode.Name == "" {
		mode.Name = fmt.Sprintf("%d kHz/%d bpp", x.PixelClock, x.BPP)
	}
	verdict, err := x.client.ValidateMode(context.Background(), mode)
	if err != nil {
		return err
	}
	if !verdict.Valid {
		return fmt.Errorf(i18n.G("mode %s cannot be used: %s"), mode, verdict.Reason)
	}
	fmt.Fprintf(Stdout, i18n.G("mode %s fits the link\n"), mode)
	return nil
}
