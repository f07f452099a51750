package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/linkdata/raprelay"
	"github.com/linkdata/raprelay/aircraft"
	"github.com/linkdata/raprelay/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelayClient(t *testing.T, recs []aircraft.Record) (*raprelay.Client, func()) {
	rt := raprelay.NewRouter(nil)
	rl := relay.New(aircraft.FetcherFunc(func(ctx context.Context) ([]aircraft.Record, error) {
		return recs, nil
	}), nil, nil)
	rl.Register(rt)
	srv := &raprelay.Server{Handler: rt}
	ln, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	c := raprelay.NewClient(ln.Addr().String())
	return c, func() {
		c.Close()
		srv.Close()
		rl.Wait()
	}
}

func Test_runInteraction(t *testing.T) {
	recs := []aircraft.Record{{Callsign: "SWA123"}, {Callsign: "AAL42"}}
	c, done := newRelayClient(t, recs)
	defer done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var buf bytes.Buffer
	require.NoError(t, runInteraction(ctx, c, relay.RouteRequestResponse, &buf))
	assert.Contains(t, buf.String(), "SWA123")

	buf.Reset()
	require.NoError(t, runInteraction(ctx, c, relay.RouteRequestStream, &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "SWA123")
	assert.Contains(t, lines[1], "AAL42")

	buf.Reset()
	require.NoError(t, runInteraction(ctx, c, relay.RouteFireAndForget, &buf))
	assert.Contains(t, buf.String(), "sent")

	buf.Reset()
	require.NoError(t, runInteraction(ctx, c, relay.RouteChannel, &buf))
	assert.Contains(t, buf.String(), "channel: ")

	assert.Error(t, runInteraction(ctx, c, "nope", &buf))
}

func Test_printRecord_bad_payload(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, printRecord(&buf, "x", []byte("{")))
	assert.Zero(t, buf.Len())
}
