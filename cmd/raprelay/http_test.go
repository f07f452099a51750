package main

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linkdata/raprelay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHTTPTester(t *testing.T) (*raprelay.Server, *httptest.Server) {
	reg := prometheus.NewRegistry()
	rt := raprelay.NewRouter(nil)
	rt.HandleRequestResponse("ping", func(ctx context.Context, req []byte) ([]byte, error) {
		return []byte("pong"), nil
	})
	srv := &raprelay.Server{Handler: rt, Metrics: raprelay.NewMetrics(reg)}
	return srv, httptest.NewServer(newHTTPHandler(srv, reg))
}

func Test_HTTP_healthz(t *testing.T) {
	srv, hs := newHTTPTester(t)
	defer hs.Close()
	defer srv.Close()

	resp, err := http.Get(hs.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var hst healthStatus
	b, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &hst))
	assert.Equal(t, "ok", hst.Status)
	assert.Zero(t, hst.Sessions)
}

func Test_HTTP_metrics(t *testing.T) {
	srv, hs := newHTTPTester(t)
	defer hs.Close()
	defer srv.Close()

	resp, err := http.Get(hs.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func Test_HTTP_websocket(t *testing.T) {
	srv, hs := newHTTPTester(t)
	defer hs.Close()
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
	sess, err := raprelay.DialWebSocket(ctx, url, nil)
	require.NoError(t, err)
	defer sess.Close()
	resp, err := sess.RequestResponse(ctx, "ping", nil)
	assert.NoError(t, err)
	assert.Equal(t, []byte("pong"), resp)
}

func Test_HTTP_not_found(t *testing.T) {
	srv, hs := newHTTPTester(t)
	defer hs.Close()
	defer srv.Close()

	resp, err := http.Get(hs.URL + "/nothing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
