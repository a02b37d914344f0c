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


// Package logger is the process wide log used by every dplink component.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/snapcore/dplink/osutil"
)

// Logger is where formatted messages end up.
type Logger interface {
	// Notice is for messages an operator should see.
	Notice(msg string)
	// Debug is for messages that only matter when chasing a problem.
	Debug(msg string)
}

// DefaultFlags are used when running on a terminal.
const DefaultFlags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile

// DebugEnv switches debug output on for every Log.
const DebugEnv = "DPLINK_DEBUG"

// frames between log.Output and the caller of Noticef/Debugf/Panicf
const callDepth = 3

type nullLogger struct{}

func (nullLogger) Notice(string) {}
func (nullLogger) Debug(string)  {}

// NullLogger drops everything.
var NullLogger Logger = nullLogger{}

var (
	mu      sync.Mutex
	current = NullLogger
)

// Noticef logs a formatted notice.
func Noticef(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	mu.Lock()
	defer mu.Unlock()
	current.Notice(msg)
}

// Debugf logs a formatted debug message.
func Debugf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	mu.Lock()
	defer mu.Unlock()
	current.Debug(msg)
}

// Panicf logs the message as a notice and panics with it.
func Panicf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	mu.Lock()
	defer mu.Unlock()
	current.Notice("PANIC " + msg)
	panic(msg)
}

// SetLogger replaces the global logger.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// SetConnector tags every following line with the connector name. It
// only affects loggers created by New.
func SetConnector(name string) {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := current.(*Log); ok {
		l.setConnector(name)
	}
}

// WithLoggerLock runs f while holding the logger lock, so tests can read
// a mocked buffer without racing writers.
func WithLoggerLock(f func()) {
	mu.Lock()
	defer mu.Unlock()
	f()
}

// Log writes to an io.Writer through a log.Logger.
type Log struct {
	out   *log.Logger
	debug bool
}

// New returns a Log writing to w with the given log flags.
func New(w io.Writer, flag int) (Logger, error) {
	if w == nil {
		return nil, fmt.Errorf("cannot create logger without a writer")
	}
	return &Log{out: log.New(w, "", flag|log.Lmsgprefix)}, nil
}

func (l *Log) setConnector(name string) {
	if name == "" {
		l.out.SetPrefix("")
		return
	}
	l.out.SetPrefix(name + ": ")
}

// Notice writes msg unconditionally.
func (l *Log) Notice(msg string) {
	l.out.Output(callDepth, msg)
}

// Debug writes msg when debugging was requested for this Log or through
// the environment.
func (l *Log) Debug(msg string) {
	if l.debug || osutil.GetenvBool(DebugEnv) {
		l.out.Output(callDepth, "DEBUG: "+msg)
	}
}

func mock(debug bool) (*bytes.Buffer, func()) {
	buf := &bytes.Buffer{}
	mu.Lock()
	old := current
	current = &Log{out: log.New(buf, "", DefaultFlags|log.Lmsgprefix), debug: debug}
	mu.Unlock()
	return buf, func() { SetLogger(old) }
}

// MockLogger sends log output to a buffer until restore is called.
func MockLogger() (buf *bytes.Buffer, restore func()) {
	return mock(false)
}

// MockDebugLogger is MockLogger with debug output always on.
func MockDebugLogger() (buf *bytes.Buffer, restore func()) {
	return mock(true)
}

// SimpleSetup logs to stderr. Timestamps are left to journald unless a
// terminal is attached.
func SimpleSetup() error {
	flags := log.Lshortfile
	if os.Getenv("TERM") != "" {
		flags = DefaultFlags
	}
	l, err := New(os.Stderr, flags)
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}
