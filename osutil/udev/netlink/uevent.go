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

package netlink

import (
	"bytes"
	"fmt"
	"strings"
)

// KObjAction is the action carried by a kernel uevent.
type KObjAction string

const (
	ADD     KObjAction = "add"
	REMOVE  KObjAction = "remove"
	UPDATE  KObjAction = "update"
	CHANGE  KObjAction = "change"
	MOVE    KObjAction = "move"
	ONLINE  KObjAction = "online"
	OFFLINE KObjAction = "offline"
	BIND    KObjAction = "bind"
	UNBIND  KObjAction = "unbind"
)

func (a KObjAction) String() string {
	return string(a)
}

func parseAction(s string) (KObjAction, error) {
	switch a := KObjAction(s); a {
	case ADD, REMOVE, UPDATE, CHANGE, MOVE, ONLINE, OFFLINE, BIND, UNBIND:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// UEvent is a parsed kernel uevent.
type UEvent struct {
	Action KObjAction
	KObj   string
	Env    map[string]string
}

func (e UEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s@%s", e.Action, e.KObj)
	for _, k := range []string{"SUBSYSTEM", "DEVNAME", "HOTPLUG", "CONNECTOR"} {
		if v, ok := e.Env[k]; ok {
			fmt.Fprintf(&b, " %s=%s", k, v)
		}
	}
	return b.String()
}

// ParseUEvent parses a raw kernel uevent message of the form
// "action@devpath\0KEY=value\0...".
func ParseUEvent(raw []byte) (*UEvent, error) {
	if bytes.HasPrefix(raw, []byte("libudev")) {
		return nil, fmt.Errorf("udev-processed events are not supported")
	}
	fields := bytes.Split(raw, []byte{0})
	if len(fields) == 0 || len(fields[0]) == 0 {
		return nil, fmt.Errorf("empty uevent")
	}

	header := strings.SplitN(string(fields[0]), "@", 2)
	if len(header) != 2 {
		return nil, fmt.Errorf("invalid uevent header %q", fields[0])
	}
	action, err := parseAction(header[0])
	if err != nil {
		return nil, err
	}

	ev := &UEvent{
		Action: action,
		KObj:   header[1],
		Env:    make(map[string]string, len(fields)-1),
	}
	for _, f := range fields[1:] {
		if len(f) == 0 {
			continue
		}
		kv := strings.SplitN(string(f), "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid uevent property %q", f)
		}
		ev.Env[kv[0]] = kv[1]
	}
	return ev, nil
}
