// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DialFunc opens the transport for a client Session.
type DialFunc func(ctx context.Context, addr string) (io.ReadWriteCloser, error)

func dialTCP(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	var d net.Dialer
	rwc, err := d.DialContext(ctx, "tcp", addr)
	return rwc, errors.WithStack(err)
}

func startClientSession(rwc io.ReadWriteCloser, logger *zap.Logger) *Session {
	sess := NewSession(rwc, logger)
	go sess.Serve(nil)
	return sess
}

// Dial connects to a raprelay server over TCP and returns a running
// client Session.
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*Session, error) {
	rwc, err := dialTCP(ctx, addr)
	if err != nil {
		return nil, err
	}
	return startClientSession(rwc, logger), nil
}

// Client dials a raprelay server, maintaining one or more Sessions.
// No network connection is made until a request needs one.
type Client struct {
	Addr        string        // the address to dial
	DialTimeout time.Duration // dialing timeout
	Dialer      DialFunc      // transport dialer, TCP if nil
	Logger      *zap.Logger

	mu           sync.Mutex // protects those below
	lastError    error
	lastAttempt  time.Time
	firstAttempt time.Time
	sessions     []*Session
}

// NewClient returns a Client for the server at the given address.
func NewClient(addr string) *Client {
	return &Client{
		Addr:        addr,
		DialTimeout: time.Second * 60,
	}
}

// Close closes all Sessions.
func (c *Client) Close() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sess := range c.sessions {
		if serr := sess.Close(); err == nil {
			err = serr
		}
	}
	c.sessions = nil
	return
}

// dialLocked creates a new Session to the server.
// Must run with the mutex locked.
func (c *Client) dialLocked(ctx context.Context) (*Session, error) {
	dial := c.Dialer
	if dial == nil {
		dial = dialTCP
	}
	if c.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.DialTimeout)
		defer cancel()
	}
	rwc, err := dial(ctx, c.Addr)
	if err != nil {
		c.lastError = err
		c.lastAttempt = time.Now()
		if c.firstAttempt.IsZero() {
			c.firstAttempt = c.lastAttempt
		}
		return nil, c.offlineError()
	}
	c.lastError = nil
	c.lastAttempt = time.Time{}
	c.firstAttempt = time.Time{}
	sess := startClientSession(rwc, c.Logger)
	c.sessions = append(c.sessions, sess)
	return sess, nil
}

// selectBestLocked returns the open Session with the most free Streams,
// or nil if none have any. Closed Sessions are dropped.
// Must run with the mutex locked.
func (c *Client) selectBestLocked() (best *Session) {
	bestAvail := 0
	open := c.sessions[:0]
	for _, sess := range c.sessions {
		if sess.isClosed() {
			continue
		}
		open = append(open, sess)
		if avail := sess.AvailableStreams(); avail > bestAvail {
			bestAvail = avail
			best = sess
		}
	}
	for i := len(open); i < len(c.sessions); i++ {
		c.sessions[i] = nil
	}
	c.sessions = open
	return
}

func (c *Client) offlineError() (err error) {
	if err = c.lastError; err == nil {
		err = errors.New("upstream server unresponsive")
	}
	if c.firstAttempt != c.lastAttempt {
		err = errors.Wrap(err, fmt.Sprintf("no response for %v", time.Since(c.firstAttempt)))
	}
	return
}

// Session returns a Session with free Streams, dialing a new one if needed.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess := c.selectBestLocked(); sess != nil {
		return sess, nil
	}
	return c.dialLocked(ctx)
}

// AvailableStreams returns the number of Streams currently free
// across all Sessions.
func (c *Client) AvailableStreams() (streamCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sess := range c.sessions {
		if !sess.isClosed() {
			streamCount += sess.AvailableStreams()
		}
	}
	return
}

// RequestResponse calls Muxer.RequestResponse on a Session.
func (c *Client) RequestResponse(ctx context.Context, route string, p []byte) ([]byte, error) {
	sess, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}
	return sess.RequestResponse(ctx, route, p)
}

// RequestStream calls Muxer.RequestStream on a Session.
func (c *Client) RequestStream(ctx context.Context, route string, p []byte, each func([]byte) error) error {
	sess, err := c.Session(ctx)
	if err != nil {
		return err
	}
	return sess.RequestStream(ctx, route, p, each)
}

// FireAndForget calls Muxer.FireAndForget on a Session.
func (c *Client) FireAndForget(ctx context.Context, route string, p []byte) error {
	sess, err := c.Session(ctx)
	if err != nil {
		return err
	}
	return sess.FireAndForget(ctx, route, p)
}

// RequestChannel calls Muxer.RequestChannel on a Session.
func (c *Client) RequestChannel(ctx context.Context, route string, p []byte) (*Stream, error) {
	sess, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}
	return sess.RequestChannel(ctx, route, p)
}
