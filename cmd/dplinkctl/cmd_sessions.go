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
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/dplink/i18n"
)

var shortSessionsHelp = i18n.G("List recorded connection sessions")
var longSessionsHelp = i18n.G(`
The sessions command lists the physical connections recorded in the
journal, oldest first. With a session id it shows that session's history.
`)

var shortPruneHelp = i18n.G("Forget old connection sessions")
var longPruneHelp = i18n.G(`
The prune-sessions command removes all but the newest sessions from the
journal.
`)

type cmdSessions struct {
	clientMixin
	Positional struct {
		ID string `positional-arg-name:"<session>"`
	} `positional-args:"yes"`
}

type cmdPruneSessions struct {
	clientMixin
	Keep int `long:"keep" default:"10" description:"Number of sessions to keep"`
}

func init() {
	addCommand("sessions", shortSessionsHelp, longSessionsHelp, func() flags.Commander { return &cmdSessions{} })
	addCommand("prune-sessions", shortPruneHelp, longPruneHelp, func() flags.Commander { return &cmdPruneSessions{} })
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeFormat)
}

func (x *cmdSessions) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	if x.Positional.ID != "" {
		return x.showSession(x.Positional.ID)
	}

	sessions, err := x.client.Sessions(context.Background())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(Stderr, i18n.G("No sessions recorded."))
		return nil
	}

	w := tabWriter()
	defer w.Flush()
	fmt.Fprintln(w, i18n.G("ID\tStarted\tUpdated\tEvents\tLast"))
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, fmtTime(s.Started), fmtTime(s.Updated), s.Events, s.Last)
	}
	return nil
}

func (x *cmdSessions) showSession(id string) error {
	s, err := x.client.Session(context.Background(), id)
	if err != nil {
		return err
	}

	w := tabWriter()
	defer w.Flush()
	fmt.Fprintln(w, i18n.G("Time\tKind\tDetail"))
	for _, ev := range s.History {
		detail := ev.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", fmtTime(ev.Time), ev.Kind, detail)
	}
	return nil
}

func (x *cmdPruneSessions) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	removed, err := x.client.PruneSessions(context.Background(), x.Keep)
	if err != nil {
		return err
	}
	fmt.Fprintf(Stdout, i18n.NG("Removed %d session.\n", "Removed %d sessions.\n", removed), removed)
	return nil
}
