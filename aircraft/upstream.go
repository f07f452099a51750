// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package aircraft

import (
	"context"
	"fmt"
	"time"

	"github.com/linkdata/raprelay"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

// DefaultEndpoint is the upstream feed address used when none is configured.
const DefaultEndpoint = "http://localhost:7634/aircraft"

// DefaultTimeout bounds a single upstream fetch.
const DefaultTimeout = 5 * time.Second

// Fetcher returns the current snapshot of aircraft.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]Record, error)
}

// FetcherFunc adapts a function to a Fetcher.
type FetcherFunc func(ctx context.Context) ([]Record, error)

// FetchAll calls fn(ctx).
func (fn FetcherFunc) FetchAll(ctx context.Context) ([]Record, error) {
	return fn(ctx)
}

// UpstreamError is returned when the upstream feed can not be reached,
// answers with a non-2xx status or sends a body that does not parse.
type UpstreamError struct {
	Endpoint   string
	StatusCode int // zero if no response was received
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying error, if any. errors.Cause stops at the
// UpstreamError itself.
func (e *UpstreamError) Unwrap() error { return e.Err }

// ErrorCode implements raprelay.Coder.
func (e *UpstreamError) ErrorCode() raprelay.ErrorCode { return raprelay.ErrorCodeUpstreamUnavailable }

// Client fetches aircraft from the upstream feed with fasthttp.
// It does not cache or retry.
type Client struct {
	Endpoint string
	Timeout  time.Duration
	client   *fasthttp.Client
}

// NewClient returns a Client for endpoint. A zero timeout means DefaultTimeout.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		Endpoint: endpoint,
		Timeout:  timeout,
		client: &fasthttp.Client{
			Name:                "raprelay",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

type fetchResult struct {
	recs []Record
	err  error
}

// FetchAll performs one GET against the endpoint. If ctx is done first the
// call returns ctx's error at once; the abandoned request is bounded by
// the Client's timeout.
func (c *Client) FetchAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	ch := make(chan fetchResult, 1)
	go func() {
		recs, err := c.fetch()
		ch <- fetchResult{recs, err}
	}()
	select {
	case r := <-ch:
		return r.recs, r.err
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

func (c *Client) fetch() (recs []Record, err error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.Endpoint)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	if err = c.client.DoTimeout(req, resp, c.Timeout); err != nil {
		return nil, errors.WithStack(&UpstreamError{Endpoint: c.Endpoint, Err: err})
	}
	if sc := resp.StatusCode(); sc < 200 || sc > 299 {
		return nil, errors.WithStack(&UpstreamError{Endpoint: c.Endpoint, StatusCode: sc, Err: errors.New(fasthttp.StatusMessage(sc))})
	}
	if recs, err = DecodeRecords(resp.Body()); err != nil {
		return nil, errors.WithStack(&UpstreamError{Endpoint: c.Endpoint, Err: err})
	}
	return
}
