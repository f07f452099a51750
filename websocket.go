// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// wsCloseTimeout bounds sending the close message.
const wsCloseTimeout = time.Second

// wsConn carries the frame stream in binary WebSocket messages.
// Message boundaries carry no meaning.
type wsConn struct {
	ws  *websocket.Conn
	rmu sync.Mutex // guards r
	r   io.Reader
	wmu sync.Mutex
}

// NewWebSocketConn adapts a WebSocket connection to an io.ReadWriteCloser
// suitable for a Muxer.
func NewWebSocketConn(ws *websocket.Conn) io.ReadWriteCloser {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (n int, err error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	for {
		if c.r == nil {
			var mt int
			if mt, c.r, err = c.ws.NextReader(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					err = io.EOF
				}
				return
			}
			if mt != websocket.BinaryMessage {
				c.r = nil
				return 0, errors.Wrap(ProtocolError{}, "non-binary websocket message")
			}
		}
		if n, err = c.r.Read(p); err == io.EOF {
			c.r = nil
			err = nil
			if n == 0 {
				continue
			}
		}
		return
	}
}

func (c *wsConn) Write(p []byte) (n int, err error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err = c.ws.WriteMessage(websocket.BinaryMessage, p); err == nil {
		n = len(p)
	}
	return
}

// Close sends a close message without waiting on a blocked Write,
// then closes the connection.
func (c *wsConn) Close() error {
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsCloseTimeout))
	return c.ws.Close()
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  FrameMaxSize,
	WriteBufferSize: FrameMaxSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades the HTTP request to a WebSocket and serves a
// Session on it until the connection ends.
func (srv *Server) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger().Info("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	srv.ServeConn(NewWebSocketConn(ws))
}

// DialWebSocketConn is a DialFunc treating addr as a WebSocket URL,
// for use as Client.Dialer.
func DialWebSocketConn(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return NewWebSocketConn(ws), nil
}

// DialWebSocket connects to a raprelay WebSocket endpoint such as
// "ws://localhost:8080/ws" and returns a running client Session.
func DialWebSocket(ctx context.Context, url string, logger *zap.Logger) (*Session, error) {
	rwc, err := DialWebSocketConn(ctx, url)
	if err != nil {
		return nil, err
	}
	return startClientSession(rwc, logger), nil
}
