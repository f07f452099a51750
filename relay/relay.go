// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

// Package relay serves the aircraft feed over the four raprelay
// interaction modes.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/linkdata/raprelay"
	"github.com/linkdata/raprelay/aircraft"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Route names served by a Relay.
const (
	RouteRequestResponse = "request-response"
	RouteRequestStream   = "request-stream"
	RouteFireAndForget   = "fire-and-forget"
	RouteChannel         = "channel"
)

// SinkTimeout bounds the handling of one fire-and-forget observation.
var SinkTimeout = 10 * time.Second

// NoDataError is returned when a response is required but the
// upstream feed had no aircraft.
type NoDataError struct{}

func (NoDataError) Error() string { return "upstream returned no aircraft" }

// ErrorCode implements raprelay.Coder.
func (NoDataError) ErrorCode() raprelay.ErrorCode { return raprelay.ErrorCodeNoData }

// Relay forwards requests to the upstream feed and republishes the results.
type Relay struct {
	fetcher aircraft.Fetcher
	sink    WeatherSink
	logger  *zap.SugaredLogger
	wg      sync.WaitGroup
}

// New creates a Relay. If sink is nil, observations are logged.
func New(fetcher aircraft.Fetcher, sink WeatherSink, logger *zap.SugaredLogger) *Relay {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	return &Relay{
		fetcher: fetcher,
		sink:    sink,
		logger:  logger,
	}
}

// Register adds the four routes to rt.
func (r *Relay) Register(rt *raprelay.Router) {
	rt.HandleRequestResponse(RouteRequestResponse, r.RequestResponse)
	rt.HandleRequestStream(RouteRequestStream, r.RequestStream)
	rt.HandleFireAndForget(RouteFireAndForget, r.FireAndForget)
	rt.HandleChannel(RouteChannel, r.Channel)
}

// Wait blocks until all fire-and-forget observations have been handled.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) fetch(ctx context.Context) ([]aircraft.Record, error) {
	recs, err := r.fetcher.FetchAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		switch raprelay.ErrorCodeOf(err) {
		case raprelay.ErrorCodeApplication, raprelay.ErrorCodeCanceled:
			// the fetcher gave up on its own
			err = raprelay.WithCode(err, raprelay.ErrorCodeUpstreamUnavailable)
		}
		return nil, err
	}
	return recs, nil
}

// RequestResponse fetches once and returns the first aircraft. The request
// is a timestamp marker and only logged.
func (r *Relay) RequestResponse(ctx context.Context, req []byte) ([]byte, error) {
	r.logger.Infow("request-response", "marker", string(req))
	recs, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.WithStack(NoDataError{})
	}
	return aircraft.EncodeRecord(recs[0])
}

// RequestStream fetches once and sends every aircraft in order.
func (r *Relay) RequestStream(ctx context.Context, req []byte, out raprelay.Sender) error {
	r.logger.Infow("request-stream", "marker", string(req))
	recs, err := r.fetch(ctx)
	if err != nil {
		return err
	}
	return sendRecords(ctx, out, recs)
}

func sendRecords(ctx context.Context, out raprelay.Sender, recs []aircraft.Record) error {
	for _, rec := range recs {
		b, err := aircraft.EncodeRecord(rec)
		if err != nil {
			return err
		}
		if err = out.Send(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// FireAndForget hands the observation to the sink and returns at once.
// Failures are only logged.
func (r *Relay) FireAndForget(ctx context.Context, req []byte) error {
	w, err := aircraft.DecodeWeather(req)
	if err != nil {
		r.logger.Warnw("fire-and-forget: bad observation", "error", err)
		return nil
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Errorw("fire-and-forget: sink panic", "panic", p)
			}
		}()
		sctx, cancel := context.WithTimeout(context.Background(), SinkTimeout)
		defer cancel()
		if err := r.sink.Record(sctx, w); err != nil {
			r.logger.Warnw("fire-and-forget: sink failed", "error", err, "observation", w.Observation)
		}
	}()
	return nil
}
