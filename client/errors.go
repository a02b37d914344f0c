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

package client

// ErrorKind distinguishes errors a caller may want to act on.
type ErrorKind string

const (
	ErrorKindNotReady       ErrorKind = "not-ready"
	ErrorKindAborted        ErrorKind = "aborted"
	ErrorKindPoorConnection ErrorKind = "poor-connection"
	ErrorKindModeRejected   ErrorKind = "mode-rejected"
	ErrorKindStreamLimit    ErrorKind = "stream-limit"
	ErrorKindNotConfigured  ErrorKind = "not-configured"
	ErrorKindUnknownSession ErrorKind = "unknown-session"
)

// Error is the error the daemon replied with.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// IsKind reports whether err is a daemon error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
