// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is one client connection: a Muxer with an identity and a
// teardown handler that runs exactly once when the connection ends.
// Errors ending one Session are logged by it and never reach others.
type Session struct {
	*Muxer
	ID      uuid.UUID
	Started time.Time

	logger       *zap.Logger
	mu           sync.Mutex
	onTeardown   []func(*Session, error)
	teardownOnce sync.Once
	serving      int32
}

// NewSession wraps rwc in a Muxer and gives it a new identity.
func NewSession(rwc io.ReadWriteCloser, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	sess := &Session{
		Muxer:   NewMuxer(rwc),
		ID:      uuid.New(),
		Started: time.Now(),
	}
	sess.logger = logger.With(zap.Stringer("session", sess.ID))
	sess.Muxer.Logger = sess.logger
	return sess
}

func (sess *Session) String() string {
	return fmt.Sprintf("[Session %s %v]", sess.ID, sess.Muxer)
}

// Logger returns the Session's logger.
func (sess *Session) Logger() *zap.Logger {
	return sess.logger
}

// OnTeardown adds fn to the functions called when the Session ends.
// They are called once, in the order added, with the error that ended the
// Session or nil for an orderly close.
func (sess *Session) OnTeardown(fn func(*Session, error)) {
	sess.mu.Lock()
	sess.onTeardown = append(sess.onTeardown, fn)
	sess.mu.Unlock()
}

func (sess *Session) teardown(err error) {
	sess.teardownOnce.Do(func() {
		if err != nil {
			sess.logger.Warn("session torn down", zap.Error(err), zap.Duration("uptime", time.Since(sess.Started)))
		} else {
			sess.logger.Info("session closed", zap.Duration("uptime", time.Since(sess.Started)))
		}
		sess.mu.Lock()
		fns := sess.onTeardown
		sess.onTeardown = nil
		sess.mu.Unlock()
		for _, fn := range fns {
			sess.runTeardown(fn, err)
		}
	})
}

func (sess *Session) runTeardown(fn func(*Session, error), err error) {
	defer func() {
		if p := recover(); p != nil {
			sess.logger.Error("teardown handler panic", zap.Any("panic", p))
		}
	}()
	fn(sess, err)
}

// Serve runs the Session until the connection ends or Close is called,
// serving Streams opened by the peer with h. The teardown handlers have
// run when it returns.
func (sess *Session) Serve(h StreamHandler) (err error) {
	atomic.StoreInt32(&sess.serving, 1)
	sess.logger.Debug("session started")
	err = sess.Muxer.Serve(h)
	sess.teardown(err)
	return
}

// Close closes the Session, aborting its Streams.
func (sess *Session) Close() (err error) {
	err = sess.Muxer.Close()
	if atomic.LoadInt32(&sess.serving) == 0 {
		sess.teardown(nil)
	}
	return
}
