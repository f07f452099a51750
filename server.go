// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultListenAddr is the TCP address Server listens on if Addr is empty.
const DefaultListenAddr = ":7000"

// Server listens for incoming network connections and serves a Session on each.
type Server struct {
	Addr         string        // TCP address to listen on, DefaultListenAddr if empty
	Handler      StreamHandler // handler for Streams opened by clients
	MaxSessions  int           // maximum number of concurrent Sessions
	ReadTimeout  time.Duration // how long a Stream may wait for the peer
	WriteTimeout time.Duration // how long a Stream may wait for the send window
	Logger       *zap.Logger
	Metrics      *Metrics

	listeners      map[net.Listener]struct{}
	bytesWritten   int64
	bytesRead      int64
	mu             sync.Mutex
	serveErrorsMu  sync.Mutex
	serveErrors    map[string]int
	sessionLimiter chan struct{}
	doneChan       chan struct{}
	activeSessions map[*Session]struct{}
	netLog         bool
}

// tcpKeepAliveListener sets TCP keep-alive timeouts on accepted
// network connections so dead peers eventually go away.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

func (srv *Server) logger() *zap.Logger {
	if srv.Logger == nil {
		return zap.NewNop()
	}
	return srv.Logger
}

// Listen announces on the local network address.
func (srv *Server) Listen(address string) (net.Listener, error) {
	if address == "" {
		address = DefaultListenAddr
	}
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	srv.mu.Lock()
	srv.Addr = ln.Addr().String()
	srv.mu.Unlock()
	return tcpKeepAliveListener{ln.(*net.TCPListener)}, nil
}

// ListenAndServe listens on the TCP network address srv.Addr and then calls
// Serve to handle Sessions on incoming network connections.
func (srv *Server) ListenAndServe() (err error) {
	listener, err := srv.Listen(srv.Addr)
	if err == nil {
		err = srv.Serve(listener)
	}
	return
}

// Serve accepts incoming network connections on the Listener l, serving
// a new Session for each on its own goroutine.
func (srv *Server) Serve(l net.Listener) error {
	defer l.Close()
	var tempDelay time.Duration // how long to sleep on accept failure

	if err := func() error {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		select {
		case <-srv.getDoneChanLocked():
			return errors.WithStack(SessionClosedError{})
		default:
		}
		srv.trackListenerLocked(l, true)
		return nil
	}(); err != nil {
		return err
	}
	defer srv.trackListener(l, false)

	srv.logger().Info("listening", zap.String("addr", l.Addr().String()))
	for {
		rwc, err := l.Accept()
		if err != nil {
			select {
			case <-srv.getDoneChan():
				return errors.WithStack(SessionClosedError{})
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				srv.logger().Warn("accept error", zap.Error(err), zap.Duration("retry", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			return errors.WithStack(err)
		}
		tempDelay = 0
		go srv.ServeConn(rwc)
	}
}

// ServeConn serves a Session on rwc until it ends. It blocks while the
// maximum number of Sessions are active. Errors ending the Session are
// recorded and logged, never returned.
func (srv *Server) ServeConn(rwc io.ReadWriteCloser) {
	select {
	case srv.getSessionLimiter() <- struct{}{}:
	case <-srv.getDoneChan():
		rwc.Close()
		return
	}
	defer func() { <-srv.getSessionLimiter() }()

	srv.mu.Lock()
	netLog := srv.netLog
	srv.mu.Unlock()

	sess := NewSession(rwc, srv.logger())
	sess.NetLog(netLog)
	sess.StatsCollector = srv
	sess.ReadTimeout = srv.ReadTimeout
	sess.WriteTimeout = srv.WriteTimeout
	if !srv.trackSession(sess, true) {
		sess.Close()
		return
	}
	defer srv.trackSession(sess, false)

	srv.Metrics.sessionStarted()
	err := sess.Serve(srv.Handler)
	srv.Metrics.sessionEnded(err)
	if err != nil {
		srv.serveErrorsMu.Lock()
		if srv.serveErrors == nil {
			srv.serveErrors = make(map[string]int)
		}
		srv.serveErrors[errors.Cause(err).Error()]++
		srv.serveErrorsMu.Unlock()
	}
}

// NetLog enables or disables logging of frames and Stream state
// changes at debug level. This is a large volume of information.
func (srv *Server) NetLog(state bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.netLog = state
	for sess := range srv.activeSessions {
		sess.NetLog(state)
	}
}

// ServeErrors returns a copy of the serve errors map
func (srv *Server) ServeErrors() map[string]int {
	srv.serveErrorsMu.Lock()
	defer srv.serveErrorsMu.Unlock()
	m := make(map[string]int)
	for k, v := range srv.serveErrors {
		m[k] = v
	}
	return m
}

func (srv *Server) trackListener(ln net.Listener, add bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.trackListenerLocked(ln, add)
}

func (srv *Server) trackListenerLocked(ln net.Listener, add bool) {
	if srv.listeners == nil {
		srv.listeners = make(map[net.Listener]struct{})
	}
	if add {
		srv.listeners[ln] = struct{}{}
	} else {
		delete(srv.listeners, ln)
	}
}

// trackSession returns false if the Server is closed.
func (srv *Server) trackSession(sess *Session, add bool) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.activeSessions == nil {
		srv.activeSessions = make(map[*Session]struct{})
	}
	if add {
		select {
		case <-srv.getDoneChanLocked():
			return false
		default:
		}
		srv.activeSessions[sess] = struct{}{}
	} else {
		delete(srv.activeSessions, sess)
	}
	return true
}

func (srv *Server) getDoneChan() <-chan struct{} {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.getDoneChanLocked()
}

func (srv *Server) getDoneChanLocked() chan struct{} {
	if srv.doneChan == nil {
		srv.doneChan = make(chan struct{})
	}
	return srv.doneChan
}

func (srv *Server) closeDoneChanLocked() {
	ch := srv.getDoneChanLocked()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (srv *Server) getSessionLimiter() chan struct{} {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.sessionLimiter == nil {
		maxSessions := srv.MaxSessions
		if maxSessions < 1 {
			maxSessions = 1 + (ProtocolMaxConcurrentStreams / (int(MaxStreamID) + 1))
		}
		srv.sessionLimiter = make(chan struct{}, maxSessions)
	}
	return srv.sessionLimiter
}

func (srv *Server) closeListenersLocked() error {
	var err error
	for ln := range srv.listeners {
		if cerr := ln.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(srv.listeners, ln)
	}
	return err
}

func (srv *Server) sessions() (list []*Session) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for sess := range srv.activeSessions {
		list = append(list, sess)
	}
	return
}

// Close immediately closes all listeners and Sessions.
func (srv *Server) Close() error {
	srv.mu.Lock()
	srv.closeDoneChanLocked()
	err := srv.closeListenersLocked()
	srv.mu.Unlock()
	for _, sess := range srv.sessions() {
		sess.Close()
	}
	return err
}

// Shutdown stops accepting connections, then waits for Streams being served
// to finish until ctx is done before closing all Sessions.
func (srv *Server) Shutdown(ctx context.Context) (err error) {
	srv.mu.Lock()
	srv.closeDoneChanLocked()
	err = srv.closeListenersLocked()
	srv.mu.Unlock()

	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex
	for _, sess := range srv.sessions() {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			if serr := sess.Shutdown(ctx); serr != nil && !isClosedError(serr) {
				errMu.Lock()
				if firstErr == nil {
					firstErr = serr
				}
				errMu.Unlock()
			}
		}(sess)
	}
	wg.Wait()
	if err == nil {
		err = firstErr
	}
	return
}

// ActiveSessions returns the number of connected Sessions.
func (srv *Server) ActiveSessions() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.activeSessions)
}

// AddBytesWritten adds n to the number of bytes written statistic.
func (srv *Server) AddBytesWritten(n int64) {
	atomic.AddInt64(&srv.bytesWritten, n)
	srv.Metrics.AddBytesWritten(n)
}

// BytesWritten returns the current number of bytes written.
func (srv *Server) BytesWritten() int64 {
	return atomic.LoadInt64(&srv.bytesWritten)
}

// AddBytesRead adds n to the number of bytes read statistic.
func (srv *Server) AddBytesRead(n int64) {
	atomic.AddInt64(&srv.bytesRead, n)
	srv.Metrics.AddBytesRead(n)
}

// BytesRead returns the current number of bytes read.
func (srv *Server) BytesRead() int64 {
	return atomic.LoadInt64(&srv.bytesRead)
}
