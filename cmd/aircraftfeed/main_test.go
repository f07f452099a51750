package main

import (
	"testing"

	"github.com/linkdata/raprelay/aircraft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func serve(h fasthttp.RequestHandler, method, path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	h(&ctx)
	return &ctx
}

func Test_newHandler(t *testing.T) {
	h := newHandler(aircraft.NewFeed(3, 1))

	ctx := serve(h, fasthttp.MethodGet, "/aircraft")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	recs, err := aircraft.DecodeRecords(ctx.Response.Body())
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	ctx = serve(h, fasthttp.MethodGet, "/other")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = serve(h, fasthttp.MethodPost, "/aircraft")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
}
