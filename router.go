// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Route is one entry in a Router's route table.
type Route struct {
	Name string
	Mode InteractionMode

	requestResponse RequestResponseHandler
	requestStream   RequestStreamHandler
	fireAndForget   FireAndForgetHandler
	channel         ChannelHandler
}

func (r *Route) String() string {
	return fmt.Sprintf("[Route %q %v]", r.Name, r.Mode)
}

func (r *Route) serve(s *Stream, req []byte) error {
	switch r.Mode {
	case RequestResponse:
		return serveRequestResponse(s, req, r.requestResponse)
	case RequestStream:
		return serveRequestStream(s, req, r.requestStream)
	case FireAndForget:
		return serveFireAndForget(s, req, r.fireAndForget)
	case Channel:
		return serveChannel(s, req, r.channel)
	}
	return errors.WithStack(ModeMismatchError{Route: r.Name, Mode: r.Mode})
}

// Router dispatches Streams to handlers by route name. Routes are
// registered before the Router starts serving and never change after.
type Router struct {
	Logger  *zap.Logger
	Metrics *Metrics
	routes  map[string]*Route
}

// NewRouter returns an empty Router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		Logger: logger,
		routes: make(map[string]*Route),
	}
}

func (rt *Router) add(r *Route) {
	if r.Name == "" {
		panic("raprelay: empty route name")
	}
	if _, ok := rt.routes[r.Name]; ok {
		panic(fmt.Sprintf("raprelay: route %q registered twice", r.Name))
	}
	rt.routes[r.Name] = r
}

// HandleRequestResponse registers a request-response route.
func (rt *Router) HandleRequestResponse(name string, h RequestResponseHandler) {
	rt.add(&Route{Name: name, Mode: RequestResponse, requestResponse: h})
}

// HandleRequestStream registers a request-stream route.
func (rt *Router) HandleRequestStream(name string, h RequestStreamHandler) {
	rt.add(&Route{Name: name, Mode: RequestStream, requestStream: h})
}

// HandleFireAndForget registers a fire-and-forget route.
func (rt *Router) HandleFireAndForget(name string, h FireAndForgetHandler) {
	rt.add(&Route{Name: name, Mode: FireAndForget, fireAndForget: h})
}

// HandleChannel registers a channel route.
func (rt *Router) HandleChannel(name string, h ChannelHandler) {
	rt.add(&Route{Name: name, Mode: Channel, channel: h})
}

// Route returns the Route registered as name, or a RouteNotFoundError.
func (rt *Router) Route(name string) (*Route, error) {
	if r, ok := rt.routes[name]; ok {
		return r, nil
	}
	return nil, errors.WithStack(RouteNotFoundError{Route: name})
}

// Routes returns the registered route names in sorted order.
func (rt *Router) Routes() (names []string) {
	for name := range rt.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// ServeStream implements StreamHandler.
func (rt *Router) ServeStream(s *Stream, req []byte) {
	started := time.Now()
	logger := rt.Logger.With(zap.String("route", s.Route()), zap.Stringer("mode", s.Mode()), zap.Stringer("stream", s.ID))

	r, err := rt.Route(s.Route())
	if err != nil {
		rt.Metrics.routeNotFound()
	} else if r.Mode != s.Mode() {
		err = errors.WithStack(ModeMismatchError{Route: r.Name, Mode: s.Mode()})
	}

	if err == nil {
		err = rt.serveRoute(r, s, req, logger)
	}

	rt.Metrics.streamServed(s.Route(), s.Mode(), started, err)
	if err != nil {
		if isClosedError(err) {
			logger.Debug("stream ended by session close", zap.Error(err))
			return
		}
		logger.Info("stream failed", zap.Stringer("code", ErrorCodeOf(err)), zap.Error(err))
		if rerr := respondError(s, err); rerr != nil {
			logger.Debug("could not send error", zap.Error(rerr))
		}
	}
}

func (rt *Router) serveRoute(r *Route, s *Stream, req []byte, logger *zap.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			rt.Metrics.handlerPanic()
			logger.Error("stream handler panic", zap.Any("panic", p), zap.Stack("stack"))
			err = errors.Errorf("%v: handler panic: %v", r.Name, p)
		}
	}()
	return r.serve(s, req)
}
