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

	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"

	"github.com/snapcore/dplink/i18n"
)

var shortWatchHelp = i18n.G("Follow link notifications")
var longWatchHelp = i18n.G(`
The watch command prints connect, disconnect and poor connection
notifications as they happen. Unless --no-ack is given every connect and
disconnect is acknowledged, standing in for the display consumer.
`)

type cmdWatch struct {
	clientMixin
	colorMixin
	NoAck bool `long:"no-ack" description:"Do not acknowledge notifications"`
	Count int  `long:"count" description:"Exit after this many messages"`
}

func init() {
	addCommand("watch", shortWatchHelp, longWatchHelp, func() flags.Commander { return &cmdWatch{} })
}

func (x *cmdWatch) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	x.setupColor()

	w, err := x.client.Watch(context.Background())
	if err != nil {
		return err
	}
	defer w.Close()

	warn := color.New(color.FgRed, color.Bold).SprintFunc()
	good := color.New(color.FgGreen).SprintFunc()
	for seen := 0; x.Count == 0 || seen < x.Count; seen++ {
		msg, err := w.Next()
		if err != nil {
			return fmt.Errorf(i18n.G("notification stream ended: %v"), err)
		}
		switch msg.Type {
		case "notification":
			n := msg.Notification
			if n == nil {
				continue
			}
			status := n.Status
			if n.Present {
				status = good(status)
			}
			fmt.Fprintf(Stdout, "%s: %s (%d bpp, pattern %d)\n", n.Name, status, n.BitDepth, n.TestPattern)
			if !x.NoAck {
				if err := w.Ack(n.Present); err != nil {
					return err
				}
			}
		case "poor-connection":
			fmt.Fprintf(Stdout, "%s: %s\n", warn(i18n.G("poor connection")), msg.Reason)
		default:
			fmt.Fprintf(Stdout, i18n.G("unknown message %q\n"), msg.Type)
		}
	}
	return nil
}
