// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// InteractionMode is the cardinality of a Stream, sent in the Request record.
type InteractionMode byte

const (
	// RequestResponse is one value in, one value out.
	RequestResponse = InteractionMode(0x01)
	// RequestStream is one value in, any number of values out.
	RequestStream = InteractionMode(0x02)
	// FireAndForget is one value in, nothing out.
	FireAndForget = InteractionMode(0x03)
	// Channel is any number of values in both directions.
	Channel = InteractionMode(0x04)
)

var interactionModeTexts = map[InteractionMode]string{
	RequestResponse: "request-response",
	RequestStream:   "request-stream",
	FireAndForget:   "fire-and-forget",
	Channel:         "channel",
}

func (mode InteractionMode) String() string {
	if s, ok := interactionModeTexts[mode]; ok {
		return s
	}
	return fmt.Sprintf("InteractionMode(0x%02x)", byte(mode))
}

// IsValid returns true for the four known modes.
func (mode InteractionMode) IsValid() bool {
	_, ok := interactionModeTexts[mode]
	return ok
}

// RequestResponseHandler answers a request with exactly one value.
type RequestResponseHandler func(ctx context.Context, req []byte) ([]byte, error)

// RequestStreamHandler answers a request by sending values on out.
// Returning ends the stream.
type RequestStreamHandler func(ctx context.Context, req []byte, out Sender) error

// FireAndForgetHandler accepts a request. Nothing is sent back,
// whatever it returns.
type FireAndForgetHandler func(ctx context.Context, req []byte) error

// ChannelHandler exchanges values with the requester until it returns.
// The first value read from in is the request payload.
type ChannelHandler func(ctx context.Context, in Receiver, out Sender) error

// StreamHandler serves a Stream after its Request record has been read.
type StreamHandler interface {
	ServeStream(s *Stream, req []byte)
}

// StreamHandlerFunc adapts a function to a StreamHandler.
type StreamHandlerFunc func(s *Stream, req []byte)

// ServeStream calls fn(s, req).
func (fn StreamHandlerFunc) ServeStream(s *Stream, req []byte) {
	fn(s, req)
}

func serveRequestResponse(s *Stream, req []byte, h RequestResponseHandler) (err error) {
	ctx := s.Context()
	if err = s.readInputEOF(ctx); err == nil {
		var resp []byte
		if resp, err = h(ctx, req); err == nil {
			return s.Send(ctx, resp)
		}
	}
	return
}

func serveRequestStream(s *Stream, req []byte, h RequestStreamHandler) (err error) {
	ctx := s.Context()
	if err = s.readInputEOF(ctx); err == nil {
		err = h(ctx, req, s)
	}
	return
}

func serveFireAndForget(s *Stream, req []byte, h FireAndForgetHandler) (err error) {
	ctx := s.Context()
	if err = s.readInputEOF(ctx); err == nil {
		err = h(ctx, req)
	}
	return
}

// channelInput yields the request payload before reading the Stream.
type channelInput struct {
	s     *Stream
	first []byte
	read  bool
}

func (in *channelInput) Recv(ctx context.Context) ([]byte, error) {
	if !in.read {
		in.read = true
		return in.first, nil
	}
	return in.s.Recv(ctx)
}

func serveChannel(s *Stream, req []byte, h ChannelHandler) error {
	return h(s.Context(), &channelInput{s: s, first: req}, s)
}

// respondError sends err as an Error record unless the mode has no
// response, or the Stream or Muxer is already gone.
func respondError(s *Stream, err error) error {
	if err == nil || s.Mode() == FireAndForget {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultWriteTimeout)
	defer cancel()
	switch errors.Cause(err).(type) {
	case SessionClosedError:
		return nil
	}
	return s.SendError(ctx, err)
}
