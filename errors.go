// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
)

// ErrorCode classifies a stream error on the wire.
type ErrorCode byte

const (
	// ErrorCodeApplication is any handler failure without a more specific code.
	ErrorCodeApplication = ErrorCode(0x01)
	// ErrorCodeRouteNotFound means the requested route is not registered.
	ErrorCodeRouteNotFound = ErrorCode(0x02)
	// ErrorCodeUpstreamUnavailable means the upstream data source failed.
	ErrorCodeUpstreamUnavailable = ErrorCode(0x03)
	// ErrorCodeNoData means a response was required but upstream had none.
	ErrorCodeNoData = ErrorCode(0x04)
	// ErrorCodeSessionClosed means the session was torn down.
	ErrorCodeSessionClosed = ErrorCode(0x05)
	// ErrorCodeInvalidRequest means the request or a payload could not be used.
	ErrorCodeInvalidRequest = ErrorCode(0x06)
	// ErrorCodeCanceled means the stream was cancelled or its context expired.
	ErrorCodeCanceled = ErrorCode(0x07)
)

var errorCodeTexts = map[ErrorCode]string{
	ErrorCodeApplication:         "Application",
	ErrorCodeRouteNotFound:       "RouteNotFound",
	ErrorCodeUpstreamUnavailable: "UpstreamUnavailable",
	ErrorCodeNoData:              "NoData",
	ErrorCodeSessionClosed:       "SessionClosed",
	ErrorCodeInvalidRequest:      "InvalidRequest",
	ErrorCodeCanceled:            "Canceled",
}

func (code ErrorCode) String() string {
	if s, ok := errorCodeTexts[code]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(0x%02x)", byte(code))
}

// Coder is implemented by errors that know their wire ErrorCode.
type Coder interface {
	ErrorCode() ErrorCode
}

// ErrorCodeOf returns the ErrorCode for err, looking through the
// chain of causes. Errors without a code are ErrorCodeApplication.
func ErrorCodeOf(err error) ErrorCode {
	for err != nil {
		if c, ok := err.(Coder); ok {
			return c.ErrorCode()
		}
		switch err {
		case context.Canceled, context.DeadlineExceeded:
			return ErrorCodeCanceled
		case io.ErrClosedPipe:
			return ErrorCodeSessionClosed
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = cause.Cause()
	}
	return ErrorCodeApplication
}

// StreamError is an error received from, or sent to, the peer in an Error record.
type StreamError struct {
	Code    ErrorCode
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%v: %s", e.Code, e.Message)
}

// ErrorCode implements Coder.
func (e *StreamError) ErrorCode() ErrorCode { return e.Code }

type codedError struct {
	code ErrorCode
	err  error
}

func (e codedError) Error() string        { return e.err.Error() }
func (e codedError) Cause() error         { return e.err }
func (e codedError) Unwrap() error        { return e.err }
func (e codedError) ErrorCode() ErrorCode { return e.code }

// WithCode annotates err with the given ErrorCode.
// If err is nil, WithCode returns nil.
func WithCode(err error, code ErrorCode) error {
	if err == nil {
		return nil
	}
	return codedError{code: code, err: err}
}

// SessionClosedError is returned for operations attempted after teardown.
type SessionClosedError struct{}

func (SessionClosedError) Error() string        { return "session closed" }
func (SessionClosedError) ErrorCode() ErrorCode { return ErrorCodeSessionClosed }

// CanceledError is returned when sending on a Stream the peer has cancelled.
type CanceledError struct{}

func (CanceledError) Error() string        { return "stream canceled" }
func (CanceledError) ErrorCode() ErrorCode { return ErrorCodeCanceled }

// RouteNotFoundError is returned when no route matches the requested name.
type RouteNotFoundError struct {
	Route string
}

func (e RouteNotFoundError) Error() string        { return fmt.Sprintf("route not found: %q", e.Route) }
func (e RouteNotFoundError) ErrorCode() ErrorCode { return ErrorCodeRouteNotFound }

// ModeMismatchError is returned when a request uses an interaction mode
// the route was not registered with, or an unknown mode.
type ModeMismatchError struct {
	Route string
	Mode  InteractionMode
}

func (e ModeMismatchError) Error() string {
	return fmt.Sprintf("route %q does not accept %v", e.Route, e.Mode)
}
func (e ModeMismatchError) ErrorCode() ErrorCode { return ErrorCodeInvalidRequest }

// ErrUnhandledRecordType is returned when a frame head record type is unknown or unexpected.
type ErrUnhandledRecordType struct {
	Value RecordType // The invalid record type value received.
}

func (e ErrUnhandledRecordType) Error() string {
	return fmt.Sprintf("unhandled record type 0x%02x", byte(e.Value))
}
func (ErrUnhandledRecordType) ErrorCode() ErrorCode { return ErrorCodeInvalidRequest }

// ErrMissingFrameHead is returned when a frame was expected to have the HEAD bit set and contain a record.
type ErrMissingFrameHead struct{}

func (ErrMissingFrameHead) Error() string        { return "missing frame head" }
func (ErrMissingFrameHead) ErrorCode() ErrorCode { return ErrorCodeInvalidRequest }

// ErrFrameTooBig means a frame with more than FrameMaxPayloadSize bytes occured.
type ErrFrameTooBig struct{}

func (ErrFrameTooBig) Error() string { return "frame too big" }

// ErrLengthNegative is returned for strings with negative length.
type ErrLengthNegative struct{}

func (ErrLengthNegative) Error() string { return "length negative" }

// ErrLengthOverflow is returned for strings longer than 32K.
type ErrLengthOverflow struct{}

func (ErrLengthOverflow) Error() string { return "length overflow" }

// ErrTimeoutWaitingForReader means the reader timed out when closing the Muxer.
type ErrTimeoutWaitingForReader struct{}

func (ErrTimeoutWaitingForReader) Error() string { return "timeout waiting for reader at close" }

// ProtocolError is the error type used for reporting protocol errors,
// all of which are fatal to a Muxer.
type ProtocolError struct{}

func (err ProtocolError) Error() string { return "protocol error" }

// PanicError is the error type used for reporting peer panic errors,
// all of which are fatal to a muxer.
type PanicError struct{}

func (err PanicError) Error() string { return "peer panic" }

type timeoutError struct{}

func (timeoutError) Error() string   { return "deadline exceeded" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func isClosedError(err error) bool {
	switch errors.Cause(err) {
	case SessionClosedError{}:
		return true
	case io.ErrClosedPipe:
		return true
	case io.EOF:
		return true
	case io.ErrUnexpectedEOF:
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
