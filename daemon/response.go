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

package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/snapcore/dplink/logger"
)

// ResponseType is the response type
type ResponseType string

// there are two standard return types: a synchronous result and an
// error, each with a "type" field in the JSON object.
const (
	ResponseTypeSync  ResponseType = "sync"
	ResponseTypeError ResponseType = "error"
)

// Response knows how to serve itself
type Response interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

type resp struct {
	Type   ResponseType `json:"type"`
	Status int          `json:"status-code"`
	Result interface{}  `json:"result"`
}

func (r *resp) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"type":        r.Type,
		"status":      http.StatusText(r.Status),
		"status-code": r.Status,
		"result":      &r.Result,
	})
}

func (r *resp) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := r.Status
	bs, err := r.MarshalJSON()
	if err != nil {
		logger.Noticef("cannot marshal %#v to JSON: %v", *r, err)
		bs = nil
		status = http.StatusInternalServerError
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(bs)
}

// ErrorKind distinguishes the errors a client may want to act on.
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

type errorResult struct {
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

// SyncResponse builds a "sync" response from the given result.
func SyncResponse(result interface{}) Response {
	if err, ok := result.(error); ok {
		return InternalError("%v", err)
	}

	return &resp{
		Type:   ResponseTypeSync,
		Status: http.StatusOK,
		Result: result,
	}
}

// ErrorResponseFunc is a callable error Response.
type ErrorResponseFunc func(string, ...interface{}) Response

// ErrorResponse builds an "error" response from the given error status.
func ErrorResponse(status int) ErrorResponseFunc {
	return func(format string, v ...interface{}) Response {
		res := &errorResult{}
		if len(v) == 0 {
			res.Message = format
		} else {
			res.Message = fmt.Sprintf(format, v...)
		}
		if status == http.StatusInternalServerError {
			logger.Noticef("internal error: %s", res.Message)
		}
		return &resp{
			Type:   ResponseTypeError,
			Result: res,
			Status: status,
		}
	}
}

func (f ErrorResponseFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f("").ServeHTTP(w, r)
}

// standard error responses
var (
	BadRequest    = ErrorResponse(http.StatusBadRequest)
	NotFound      = ErrorResponse(http.StatusNotFound)
	BadMethod     = ErrorResponse(http.StatusMethodNotAllowed)
	Conflict      = ErrorResponse(http.StatusConflict)
	InternalError = ErrorResponse(http.StatusInternalServerError)
)

// kindedError is an error response carrying a kind.
func kindedError(status int, kind ErrorKind, err error) Response {
	return &resp{
		Type:   ResponseTypeError,
		Status: status,
		Result: &errorResult{Message: err.Error(), Kind: kind},
	}
}
