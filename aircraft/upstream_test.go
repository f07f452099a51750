package aircraft

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/linkdata/raprelay"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func Test_Client_FetchAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/aircraft", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"callsign":"A1","altitude":100,"unknown":true},{"callsign":"B2","lat":1.5}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/aircraft", time.Second)
	recs, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "A1", recs[0].Callsign)
	assert.Equal(t, 100, recs[0].Altitude)
	assert.Equal(t, "B2", recs[1].Callsign)
	assert.Equal(t, 1.5, recs[1].Lat)
}

func Test_Client_emptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	recs, err := NewClient(srv.URL, time.Second).FetchAll(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, recs)
}

func Test_Client_failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
		case "/garbage":
			w.Write([]byte(`<html>not json</html>`))
		}
	}))
	defer srv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := ln.Addr().String()
	ln.Close()

	for _, endpoint := range []string{srv.URL + "/status", srv.URL + "/garbage", "http://" + deadAddr + "/aircraft"} {
		_, err := NewClient(endpoint, time.Second).FetchAll(context.Background())
		require.Error(t, err, endpoint)
		var ue *UpstreamError
		assert.True(t, errors.As(err, &ue), endpoint)
		assert.Equal(t, raprelay.ErrorCodeUpstreamUnavailable, raprelay.ErrorCodeOf(err), endpoint)
	}

	_, err = NewClient(srv.URL+"/status", time.Second).FetchAll(context.Background())
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusServiceUnavailable, ue.StatusCode)
}

func Test_UpstreamError_cause(t *testing.T) {
	bare := &UpstreamError{Endpoint: "http://feed", StatusCode: 503}
	err := errors.WithStack(bare)
	assert.Equal(t, bare, errors.Cause(err))
	assert.Equal(t, "upstream http://feed: status 503", err.Error())

	inner := errors.New("connection refused")
	wrapped := errors.WithStack(&UpstreamError{Endpoint: "http://feed", Err: inner})
	assert.IsType(t, &UpstreamError{}, errors.Cause(wrapped))
	assert.True(t, errors.Is(wrapped, inner))
	assert.Equal(t, raprelay.ErrorCodeUpstreamUnavailable, raprelay.ErrorCodeOf(wrapped))
}

func Test_Client_canceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(time.Millisecond*50, cancel)

	started := time.Now()
	_, err := NewClient(srv.URL, 5*time.Second).FetchAll(ctx)
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.True(t, time.Since(started) < time.Second)
	assert.Equal(t, raprelay.ErrorCodeCanceled, raprelay.ErrorCodeOf(err))

	_, err = NewClient(srv.URL, time.Second).FetchAll(ctx)
	assert.Equal(t, context.Canceled, errors.Cause(err))
}

func Test_FetcherFunc(t *testing.T) {
	var f Fetcher = FetcherFunc(func(ctx context.Context) ([]Record, error) {
		return []Record{testRecord}, nil
	})
	recs, err := f.FetchAll(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []Record{testRecord}, recs)
}

func Test_Feed_servesClient(t *testing.T) {
	ln := fasthttputil.NewInmemoryListener()
	defer ln.Close()
	feed := NewFeed(5, 1)
	go fasthttp.Serve(ln, feed.HandleFastHTTP)

	c := NewClient("http://feed/aircraft", time.Second)
	c.client.Dial = func(addr string) (net.Conn, error) { return ln.Dial() }

	first, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 5)
	second, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 5)
	for i := range first {
		assert.Equal(t, first[i].Callsign, second[i].Callsign)
		assert.NotEmpty(t, first[i].Reg)
		assert.True(t, second[i].Heading >= 0 && second[i].Heading < 360)
		assert.True(t, second[i].Altitude >= 500)
	}
}
