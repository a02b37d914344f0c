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

package testutil

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/check.v1"
)

type containsChecker struct {
	*check.CheckerInfo
}

// Contains checks that a string holds a substring, or that a slice or
// array holds an element deeply equal to the needle.
var Contains check.Checker = &containsChecker{
	&check.CheckerInfo{Name: "Contains", Params: []string{"haystack", "needle"}},
}

func (*containsChecker) Check(params []interface{}, names []string) (bool, string) {
	haystack, needle := params[0], params[1]
	if str, ok := haystack.(string); ok {
		sub, ok := needle.(string)
		if !ok {
			return false, "needle must be a string"
		}
		return strings.Contains(str, sub), ""
	}
	v := reflect.ValueOf(haystack)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return false, fmt.Sprintf("haystack is of unsupported type %T", haystack)
	}
	if want := reflect.TypeOf(needle); v.Type().Elem() != want {
		return false, fmt.Sprintf("haystack contains items of type %s but needle is a %s", v.Type().Elem(), want)
	}
	for i := 0; i < v.Len(); i++ {
		if reflect.DeepEqual(v.Index(i).Interface(), needle) {
			return true, ""
		}
	}
	return false, ""
}

// ErrorIs calls errors.Is with the provided arguments.
var ErrorIs = &errorIsChecker{
	&check.CheckerInfo{Name: "ErrorIs", Params: []string{"error", "target"}},
}

type errorIsChecker struct {
	*check.CheckerInfo
}

func (*errorIsChecker) Check(params []interface{}, names []string) (bool, string) {
	if params[0] == nil {
		return params[1] == nil, ""
	}
	err, ok := params[0].(error)
	if !ok {
		return false, "first argument must be an error"
	}
	target, ok := params[1].(error)
	if !ok {
		return false, "second argument must be an error"
	}
	return errors.Is(err, target), ""
}

type inOrderChecker struct {
	*check.CheckerInfo
}

// InOrder checks that the given needles appear in the haystack slice of
// strings in the given relative order, other items may be interleaved.
var InOrder check.Checker = &inOrderChecker{
	&check.CheckerInfo{Name: "InOrder", Params: []string{"haystack", "needles"}},
}

func (*inOrderChecker) Check(params []interface{}, names []string) (result bool, errMsg string) {
	haystack, ok := params[0].([]string)
	if !ok {
		return false, "haystack must be a []string"
	}
	needles, ok := params[1].([]string)
	if !ok {
		return false, "needles must be a []string"
	}
	i := 0
	for _, item := range haystack {
		if i < len(needles) && item == needles[i] {
			i++
		}
	}
	if i != len(needles) {
		return false, fmt.Sprintf("missing %q in order", needles[i])
	}
	return true, ""
}
