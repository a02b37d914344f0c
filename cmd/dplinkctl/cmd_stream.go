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
	"strconv"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/dplink/client"
	"github.com/snapcore/dplink/i18n"
)

var shortStreamHelp = i18n.G("Enable or disable a display stream")
var longStreamHelp = i18n.G(`
The stream command drives one display stream through its lifecycle:
enable, post-enable, pre-disable and disable. In multi-stream mode
set-info programs the stream's time slots.
`)

var shortPowerHelp = i18n.G("Suspend, resume or power the source")
var longPowerHelp = i18n.G(`
The power command suspends or resumes the link, or powers the source up
before a mode set (prepare) and back down after it (unprepare).
`)

var shortContentProtectionHelp = i18n.G("Stop or allow content protection")
var longContentProtectionHelp = i18n.G(`
The content-protection command stops content protection
authentication ("abort") or lets it run again ("allow").
`)

var shortAckHelp = i18n.G("Acknowledge a connect or disconnect notification")
var longAckHelp = i18n.G(`
The ack command acknowledges the pending connect notification, or with
--disconnect the pending disconnect notification.
`)

type cmdStream struct {
	clientMixin
	Panel string `long:"panel" description:"Panel name for the stream"`
	Audio bool   `long:"audio" description:"Enable audio on the stream"`
	Start int    `long:"start" description:"First time slot (set-info)"`
	Count int    `long:"count" description:"Number of time slots (set-info)"`
	PBN   int    `long:"pbn" description:"Payload bandwidth number (set-info)"`

	Positional struct {
		ID     string `positional-arg-name:"<stream>" required:"yes"`
		Action string `positional-arg-name:"<action>" required:"yes"`
	} `positional-args:"yes"`
}

type cmdPower struct {
	clientMixin
	PowerDown bool `long:"power-down" description:"Power the source down on unprepare"`

	Positional struct {
		Action string `positional-arg-name:"<action>" required:"yes"`
	} `positional-args:"yes"`
}

type cmdContentProtection struct {
	clientMixin
	Positional struct {
		Action string `positional-arg-name:"<abort|allow>" required:"yes"`
	} `positional-args:"yes"`
}

type cmdAck struct {
	clientMixin
	Disconnect bool `long:"disconnect" description:"Acknowledge a disconnect notification"`
}

func init() {
	addCommand("stream", shortStreamHelp, longStreamHelp, func() flags.Commander { return &cmdStream{} })
	addCommand("power", shortPowerHelp, longPowerHelp, func() flags.Commander { return &cmdPower{} })
	addCommand("content-protection", shortContentProtectionHelp, longContentProtectionHelp, func() flags.Commander { return &cmdContentProtection{} })
	addCommand("ack", shortAckHelp, longAckHelp, func() flags.Commander { return &cmdAck{} })
}

var streamActions = map[string]bool{
	"enable":      true,
	"post-enable": true,
	"pre-disable": true,
	"disable":     true,
	"set-info":    true,
}

func (x *cmdStream) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	id, err := strconv.Atoi(x.Positional.ID)
	if err != nil || id < 0 {
		return fmt.Errorf(i18n.G("invalid stream %q"), x.Positional.ID)
	}
	if !streamActions[x.Positional.Action] {
		return fmt.Errorf(i18n.G("unknown stream action %q"), x.Positional.Action)
	}
	action := client.StreamAction{
		Action: x.Positional.Action,
		Panel:  x.Panel,
		Audio:  x.Audio,
		Start:  x.Start,
		Count:  x.Count,
		PBN:    x.PBN,
	}
	st, err := x.client.Stream(context.Background(), id, action)
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func (x *cmdPower) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	switch x.Positional.Action {
	case "suspend", "resume", "prepare", "unprepare":
	default:
		return fmt.Errorf(i18n.G("unknown power action %q"), x.Positional.Action)
	}
	st, err := x.client.Power(context.Background(), x.Positional.Action, x.PowerDown)
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func (x *cmdContentProtection) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	var abort bool
	switch x.Positional.Action {
	case "abort":
		abort = true
	case "allow":
	default:
		return fmt.Errorf(i18n.G("unknown content protection action %q"), x.Positional.Action)
	}
	st, err := x.client.AbortContentProtection(context.Background(), abort)
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func (x *cmdAck) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	return x.client.Ack(context.Background(), !x.Disconnect)
}
