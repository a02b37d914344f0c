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
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"

	"github.com/snapcore/dplink/connection"
	"github.com/snapcore/dplink/i18n"
)

var shortStatusHelp = i18n.G("Show the link status")
var longStatusHelp = i18n.G(`
The status command shows the state of the DisplayPort link: the
connection flags, the trained link parameters, the enabled streams and
the content protection state.
`)

type cmdStatus struct {
	clientMixin
	colorMixin

	JSON bool `long:"json" description:"Print the raw status as JSON"`
}

func init() {
	addCommand("status", shortStatusHelp, longStatusHelp, func() flags.Commander { return &cmdStatus{} })
}

func tabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(Stdout, 5, 3, 2, ' ', 0)
}

func stateColor(st connection.Status) func(a ...interface{}) string {
	switch {
	case st.PoorConnection:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case st.State.Has(connection.Connected):
		return color.New(color.FgGreen).SprintFunc()
	case st.State.Has(connection.Configured):
		return color.New(color.FgYellow).SprintFunc()
	}
	return fmt.Sprint
}

func yesNo(b bool) string {
	if b {
		return i18n.G("yes")
	}
	return i18n.G("no")
}

func (x *cmdStatus) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	x.setupColor()

	st, err := x.client.Status(context.Background())
	if err != nil {
		return err
	}
	if x.JSON {
		enc := json.NewEncoder(Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	w := tabWriter()
	defer w.Flush()

	link := st.Link
	fmt.Fprintf(w, "display:\t%s\n", st.Display)
	if st.Connector != "" {
		fmt.Fprintf(w, "connector:\t%s\n", st.Connector)
	}
	fmt.Fprintf(w, "state:\t%s\n", stateColor(link)(link.State.String()))
	if link.PoorConnection {
		fmt.Fprintf(w, "poor-connection:\t%s\n", yesNo(true))
	}
	if link.Session != "" {
		fmt.Fprintf(w, "session:\t%s\n", link.Session)
	}
	if link.State.Has(connection.Configured) {
		fmt.Fprintf(w, "pin-assignment:\t%s (%s)\n", link.Link.PinAssignment, link.Link.Orientation)
	}
	if link.Caps != nil {
		caps := link.Caps
		fmt.Fprintf(w, "sink:\trevision %d.%d, up to %s x%d\n", caps.Revision>>4, caps.Revision&0xf, caps.MaxRate, caps.MaxLanes)
	}
	if link.Params != nil {
		trained := i18n.G("trained")
		if !link.Params.Trained {
			trained = i18n.G("untrained")
		}
		fmt.Fprintf(w, "link:\t%s x%d (%s)\n", link.Params.Rate, link.Params.Lanes, trained)
	}
	fmt.Fprintf(w, "multi-stream:\t%s\n", yesNo(link.MST))
	if len(link.Streams) > 0 {
		streams := make([]string, 0, len(link.Streams))
		for _, s := range link.Streams {
			streams = append(streams, streamSummary(s))
		}
		fmt.Fprintf(w, "streams:\t%s\n", strings.Join(streams, ", "))
	}
	if link.HDCP != nil {
		fmt.Fprintf(w, "content-protection:\t%s (HDCP %d)\n", link.HDCP.State, link.HDCP.Version)
	}
	if link.TrainingFailures > 0 {
		fmt.Fprintf(w, "training-failures:\t%d\n", link.TrainingFailures)
	}
	fmt.Fprintf(w, "consumers:\t%d\n", st.Consumers)

	return nil
}

func streamSummary(s connection.StreamInfo) string {
	var notes []string
	if s.Active {
		notes = append(notes, "active")
	}
	if s.AudioOn {
		notes = append(notes, "audio")
	}
	if s.Slots != nil {
		notes = append(notes, fmt.Sprintf("slots %d+%d", s.Slots.Start, s.Slots.Count))
	}
	if len(notes) == 0 {
		return fmt.Sprint(s.ID)
	}
	return fmt.Sprintf("%d (%s)", s.ID, strings.Join(notes, ", "))
}

// printStatus is what the commands that change the link print.
func printStatus(st *connection.Status) {
	fmt.Fprintf(Stdout, "%s\n", stateColor(*st)(st.State.String()))
}
