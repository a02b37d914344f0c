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

package timeout

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Timeout is a time.Duration that marshals to and from human readable
// strings such as "2s" or "250ms" in both JSON and YAML.
type Timeout time.Duration

// Duration returns the timeout as a time.Duration.
func (t Timeout) Duration() time.Duration {
	return time.Duration(t)
}

func (t Timeout) String() string {
	return time.Duration(t).String()
}

// MarshalJSON is from the json.Marshaler interface.
func (t Timeout) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON is from the json.Unmarshaler interface.
func (t *Timeout) UnmarshalJSON(buf []byte) error {
	var str string
	if err := json.Unmarshal(buf, &str); err != nil {
		return err
	}
	return t.parse(str)
}

// MarshalYAML is from the yaml.Marshaler interface.
func (t Timeout) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// UnmarshalYAML is from the yaml.Unmarshaler interface.
func (t *Timeout) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}
	return t.parse(str)
}

func (t *Timeout) parse(str string) error {
	dur, err := time.ParseDuration(str)
	if err != nil {
		return err
	}
	if dur < 0 {
		return fmt.Errorf("invalid negative timeout %q", str)
	}
	*t = Timeout(dur)
	return nil
}
