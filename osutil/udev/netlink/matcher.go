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
	"fmt"
	"regexp"
)

// Matcher filters uevents.
type Matcher interface {
	Compile() error
	Evaluate(e UEvent) bool
}

// RuleDefinition matches an action (nil matches any) and a set of
// environment keys against regular expressions.
type RuleDefinition struct {
	Action *string
	Env    map[string]string

	rule *rule
}

type rule struct {
	action *regexp.Regexp
	env    map[string]*regexp.Regexp
}

// Compile prepares the rule for evaluation.
func (r *RuleDefinition) Compile() error {
	compiled := &rule{env: make(map[string]*regexp.Regexp, len(r.Env))}
	if r.Action != nil {
		re, err := regexp.Compile("^" + *r.Action + "$")
		if err != nil {
			return fmt.Errorf("invalid action rule: %v", err)
		}
		compiled.action = re
	}
	for k, v := range r.Env {
		re, err := regexp.Compile("^" + v + "$")
		if err != nil {
			return fmt.Errorf("invalid rule for %s: %v", k, err)
		}
		compiled.env[k] = re
	}
	r.rule = compiled
	return nil
}

// Evaluate reports whether the uevent matches the rule. Compile must
// have been called first.
func (r *RuleDefinition) Evaluate(e UEvent) bool {
	if r.rule == nil {
		return false
	}
	if r.rule.action != nil && !r.rule.action.MatchString(e.Action.String()) {
		return false
	}
	for k, re := range r.rule.env {
		v, ok := e.Env[k]
		if !ok || !re.MatchString(v) {
			return false
		}
	}
	return true
}

// RuleDefinitions matches when any of its rules does.
type RuleDefinitions struct {
	Rules []RuleDefinition
}

func (rs *RuleDefinitions) Compile() error {
	for i := range rs.Rules {
		if err := rs.Rules[i].Compile(); err != nil {
			return err
		}
	}
	return nil
}

func (rs *RuleDefinitions) Evaluate(e UEvent) bool {
	for i := range rs.Rules {
		if rs.Rules[i].Evaluate(e) {
			return true
		}
	}
	return false
}
