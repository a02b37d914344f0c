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

package connection

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the set of independent connection flags.
type State uint32

const (
	Configured State = 1 << iota
	HostInitialized
	HostReady
	Connected
	ConnectNotified
	DisconnectNotified
	StreamsEnabled
	Suspended
	Aborted
	ContentProtectionAborted
	SourcePoweredDown
)

var stateNames = []string{
	"configured",
	"host-initialized",
	"host-ready",
	"connected",
	"connect-notified",
	"disconnect-notified",
	"streams-enabled",
	"suspended",
	"aborted",
	"content-protection-aborted",
	"source-powered-down",
}

// Has reports whether all of flags are set.
func (s State) Has(flags State) bool {
	return s&flags == flags
}

// Any reports whether any of flags is set.
func (s State) Any(flags State) bool {
	return s&flags != 0
}

// Names lists the set flags.
func (s State) Names() []string {
	names := []string{}
	for i, name := range stateNames {
		if s&(1<<uint(i)) != 0 {
			names = append(names, name)
		}
	}
	return names
}

func (s State) String() string {
	if s == 0 {
		return "idle"
	}
	return strings.Join(s.Names(), "|")
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var st State
	for _, name := range names {
		found := false
		for i, known := range stateNames {
			if name == known {
				st |= 1 << uint(i)
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown connection state %q", name)
		}
	}
	*s = st
	return nil
}

// Validate checks the implications between flags.
func (s State) Validate() error {
	switch {
	case s.Has(Connected) && !s.Has(HostReady):
		return fmt.Errorf("state %s: connected without a ready host", s)
	case s.Has(HostReady) && !s.Has(HostInitialized):
		return fmt.Errorf("state %s: host ready but not initialized", s)
	case s.Has(StreamsEnabled) && !s.Has(Connected):
		return fmt.Errorf("state %s: streams enabled while not connected", s)
	}
	return nil
}
