// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// Open starts a Stream on route using the given interaction mode, sending p
// in the Request record. Single value modes also send the final frame.
// The caller must Close the returned Stream.
func (mux *Muxer) Open(ctx context.Context, mode InteractionMode, route string, p []byte) (s *Stream, err error) {
	if !mode.IsValid() {
		return nil, errors.WithStack(ModeMismatchError{Route: route, Mode: mode})
	}
	if s, err = mux.NewStreamWait(ctx); err != nil {
		return
	}
	if err = s.sendRequest(ctx, mode, route, p); err == nil && mode != Channel {
		err = s.CloseSend()
	}
	if err != nil {
		s.Close()
		s = nil
	}
	return
}

// RequestResponse sends p to route and returns the single response value.
func (mux *Muxer) RequestResponse(ctx context.Context, route string, p []byte) (resp []byte, err error) {
	var s *Stream
	if s, err = mux.Open(ctx, RequestResponse, route, p); err != nil {
		return
	}
	defer s.Close()
	if resp, err = s.Recv(ctx); err != nil {
		if errors.Cause(err) == io.EOF {
			err = errors.Wrapf(ProtocolError{}, "%v: no response", route)
		}
		return nil, err
	}
	if _, err = s.Recv(ctx); errors.Cause(err) == io.EOF {
		err = nil
	} else if err == nil {
		err = errors.Wrapf(ProtocolError{}, "%v: more than one response", route)
	}
	return
}

// RequestStream sends p to route and calls each for every value received,
// in order, until the responder completes. If each returns an error the
// Stream is cancelled and that error returned.
func (mux *Muxer) RequestStream(ctx context.Context, route string, p []byte, each func([]byte) error) (err error) {
	var s *Stream
	if s, err = mux.Open(ctx, RequestStream, route, p); err != nil {
		return
	}
	defer s.Close()
	for {
		var v []byte
		if v, err = s.Recv(ctx); err != nil {
			if errors.Cause(err) == io.EOF {
				err = nil
			}
			return
		}
		if err = each(v); err != nil {
			return
		}
	}
}

// FireAndForget sends p to route. It returns once the request is written;
// the responder's outcome is never reported.
func (mux *Muxer) FireAndForget(ctx context.Context, route string, p []byte) (err error) {
	var s *Stream
	if s, err = mux.Open(ctx, FireAndForget, route, p); err == nil {
		go s.Close()
	}
	return
}

// RequestChannel opens a channel Stream on route with p as the first value.
// Further values are sent with Send, CloseSend ends the input and Recv reads
// the responder's values. The caller must Close the Stream.
func (mux *Muxer) RequestChannel(ctx context.Context, route string, p []byte) (*Stream, error) {
	return mux.Open(ctx, Channel, route, p)
}
