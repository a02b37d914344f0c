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
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/coreos/go-systemd/activation"
	sddaemon "github.com/coreos/go-systemd/daemon"
	"github.com/gorilla/mux"
	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v2"

	"github.com/snapcore/dplink/config"
	"github.com/snapcore/dplink/connection"
	"github.com/snapcore/dplink/hpd"
	"github.com/snapcore/dplink/hw"
	"github.com/snapcore/dplink/journal"
	"github.com/snapcore/dplink/logger"
)

// A Daemon listens for requests and routes them to the right command
type Daemon struct {
	Version  string
	cfg      *config.Config
	conn     *connection.Manager
	journal  *journal.Journal
	hub      *notificationHub
	monitor  *hpd.Monitor
	listener net.Listener
	tomb     tomb.Tomb
	router   *mux.Router
}

// Options tune what the daemon runs besides the connection manager.
type Options struct {
	// Monitor enables hot-plug sensing through kernel uevents.
	Monitor bool
}

// A ResponseFunc handles one of the individual verbs for a method
type ResponseFunc func(*Command, *http.Request) Response

// A Command routes a request to an individual per-verb ResponseFunc
type Command struct {
	Path string
	//
	GET    ResponseFunc
	POST   ResponseFunc
	DELETE ResponseFunc

	d *Daemon
}

func (c *Command) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var rspf ResponseFunc
	var rsp = BadMethod("method %q not allowed", r.Method)

	switch r.Method {
	case "GET":
		rspf = c.GET
	case "POST":
		rspf = c.POST
	case "DELETE":
		rspf = c.DELETE
	}

	if rspf != nil {
		rsp = rspf(c, r)
	}

	rsp.ServeHTTP(w, r)
}

type wrappedWriter struct {
	w http.ResponseWriter
	s int
}

func (w *wrappedWriter) Header() http.Header {
	return w.w.Header()
}

func (w *wrappedWriter) Write(bs []byte) (int, error) {
	return w.w.Write(bs)
}

func (w *wrappedWriter) WriteHeader(s int) {
	w.w.WriteHeader(s)
	w.s = s
}

// Hijack lets the notification stream take over the connection.
func (w *wrappedWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.w.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer cannot be hijacked")
	}
	w.s = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func logit(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := &wrappedWriter{w: w}
		t0 := time.Now()
		handler.ServeHTTP(ww, r)
		t := time.Since(t0)
		if !strings.HasSuffix(r.URL.Path, "/status") {
			logger.Debugf("%s %s %s %d", r.Method, r.URL, t, ww.s)
		}
	})
}

// getListener tries to get a listener for the given socket path from
// the listener map, and if it fails it tries to set it up directly.
func getListener(socketPath string, listenerMap map[string]net.Listener) (net.Listener, error) {
	if listener, ok := listenerMap[socketPath]; ok {
		return listener, nil
	}

	if c, err := net.Dial("unix", socketPath); err == nil {
		c.Close()
		return nil, fmt.Errorf("socket %q already in use", socketPath)
	}

	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return nil, err
	}

	address, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, err
	}

	runtime.LockOSThread()
	oldmask := unix.Umask(0111)
	listener, err := net.ListenUnix("unix", address)
	unix.Umask(oldmask)
	runtime.UnlockOSThread()
	if err != nil {
		return nil, err
	}

	logger.Debugf("socket %q was not activated; listening", socketPath)

	return listener, nil
}

var activationListeners = activation.Listeners

// Init sets up the Daemon's internal workings.
// Don't call more than once.
func (d *Daemon) Init() error {
	t0 := time.Now()
	listeners, err := activationListeners()
	if err != nil {
		return err
	}

	listenerMap := make(map[string]net.Listener, len(listeners))
	for _, listener := range listeners {
		if listener != nil {
			listenerMap[listener.Addr().String()] = listener
		}
	}

	listener, err := getListener(d.cfg.Socket, listenerMap)
	if err != nil {
		return fmt.Errorf("when trying to listen on %s: %v", d.cfg.Socket, err)
	}
	d.listener = listener

	d.addRoutes()

	logger.Debugf("init done in %s", time.Since(t0))
	logger.Noticef("started dplinkd %s for %s.", d.Version, d.cfg.Connector)

	return nil
}

func (d *Daemon) addRoutes() {
	d.router = mux.NewRouter()

	for _, c := range api {
		c := *c
		c.d = d
		d.router.Handle(c.Path, &c).Name(c.Path)
	}

	d.router.NotFoundHandler = NotFound("not found")
}

func (d *Daemon) startMonitor() error {
	ctx := d.tomb.Context(context.Background())
	d.monitor = hpd.NewMonitor(d.cfg.Connector, func(r hpd.Report) {
		if err := d.conn.Attention(ctx, r); err != nil {
			logger.Noticef("cannot handle %s hot-plug report: %v", d.cfg.Connector, err)
		}
	})
	if err := d.monitor.Connect(); err != nil {
		d.monitor = nil
		return err
	}
	return d.monitor.Run()
}

var sdNotify = sddaemon.SdNotify

// Start the Daemon
func (d *Daemon) Start(opts Options) {
	d.conn.Start()

	if opts.Monitor {
		if err := d.startMonitor(); err != nil {
			logger.Noticef("cannot monitor hot-plug events, only injected reports will be handled: %v", err)
		}
	}

	d.tomb.Go(func() error {
		if err := http.Serve(d.listener, logit(d.router)); err != nil && d.tomb.Err() == tomb.ErrStillAlive {
			return err
		}

		return nil
	})

	if _, err := sdNotify(false, sddaemon.SdNotifyReady); err != nil {
		logger.Noticef("cannot notify systemd: %v", err)
	}
}

// Stop shuts down the Daemon
func (d *Daemon) Stop() error {
	d.tomb.Kill(nil)
	if d.listener != nil {
		d.listener.Close()
	}
	if d.monitor != nil {
		if err := d.monitor.Stop(); err != nil {
			logger.Noticef("cannot stop hot-plug monitor: %v", err)
		}
		d.monitor.Disconnect()
	}
	d.hub.closeAll()
	if err := d.conn.Stop(); err != nil {
		logger.Noticef("cannot stop connection manager: %v", err)
	}
	if err := d.journal.Close(); err != nil {
		logger.Noticef("cannot close journal: %v", err)
	}

	return d.tomb.Wait()
}

// Dying is a tomb-ish thing
func (d *Daemon) Dying() <-chan struct{} {
	return d.tomb.Dying()
}

// New Daemon
func New(cfg *config.Config, backend *hw.Backend, desktop DesktopNotifier) (*Daemon, error) {
	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return nil, err
	}

	hub := newNotificationHub(cfg.DisplayName, desktop)
	opts := cfg.Options()
	opts.Notifier = hub
	opts.Recorder = j

	conn, err := connection.New(backend, opts)
	if err != nil {
		j.Close()
		return nil, err
	}
	hub.setAcknowledger(conn)

	return &Daemon{
		cfg:     cfg,
		conn:    conn,
		journal: j,
		hub:     hub,
	}, nil
}
