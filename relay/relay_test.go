package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/linkdata/raprelay"
	"github.com/linkdata/raprelay/aircraft"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const leaktestEnabled = true

var (
	recA = aircraft.Record{Callsign: "SAS123", Reg: "SE-RJX", FlightNo: "SK123", Type: "A320", Altitude: 35000, Heading: 270, Speed: 450, Lat: 59.65, Lon: 17.93}
	recB = aircraft.Record{Callsign: "NAX456", Reg: "LN-KKL", FlightNo: "DY456", Type: "B738", Altitude: 12000, Heading: 90, Speed: 310, Lat: 60.19, Lon: 11.1}
)

func fixedFetcher(recs []aircraft.Record, err error) aircraft.Fetcher {
	return aircraft.FetcherFunc(func(ctx context.Context) ([]aircraft.Record, error) {
		return recs, err
	})
}

// collector is a raprelay.Sender that keeps what it is sent.
type collector struct {
	mu   sync.Mutex
	vals [][]byte
	sent chan []byte
}

func newCollector() *collector {
	return &collector{sent: make(chan []byte, 100)}
}

func (c *collector) Send(ctx context.Context, p []byte) error {
	c.mu.Lock()
	c.vals = append(c.vals, p)
	c.mu.Unlock()
	select {
	case c.sent <- p:
	default:
	}
	return nil
}

func (c *collector) records(t *testing.T) (recs []aircraft.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.vals {
		rec, err := aircraft.DecodeRecord(p)
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return
}

func Test_Relay_RequestResponse_first(t *testing.T) {
	r := New(fixedFetcher([]aircraft.Record{recA, recB}, nil), nil, nil)
	b, err := r.RequestResponse(context.Background(), []byte("2018-06-01T12:00:00Z"))
	require.NoError(t, err)
	rec, err := aircraft.DecodeRecord(b)
	require.NoError(t, err)
	assert.Equal(t, recA, rec)
}

func Test_Relay_RequestResponse_no_data(t *testing.T) {
	r := New(fixedFetcher(nil, nil), nil, nil)
	b, err := r.RequestResponse(context.Background(), nil)
	assert.Nil(t, b)
	assert.Equal(t, NoDataError{}, errors.Cause(err))
	assert.Equal(t, raprelay.ErrorCodeNoData, raprelay.ErrorCodeOf(err))
}

func Test_Relay_RequestResponse_upstream_failure(t *testing.T) {
	r := New(fixedFetcher(nil, errors.New("connection refused")), nil, nil)
	_, err := r.RequestResponse(context.Background(), nil)
	assert.Error(t, err)
	assert.Equal(t, raprelay.ErrorCodeUpstreamUnavailable, raprelay.ErrorCodeOf(err))
}

func Test_Relay_fetch_deadline(t *testing.T) {
	// the fetcher's own deadline is an upstream failure
	r := New(fixedFetcher(nil, errors.WithStack(context.DeadlineExceeded)), nil, nil)
	_, err := r.RequestResponse(context.Background(), nil)
	assert.Equal(t, raprelay.ErrorCodeUpstreamUnavailable, raprelay.ErrorCodeOf(err))

	// the caller's deadline is not
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()
	r = New(aircraft.FetcherFunc(func(ctx context.Context) ([]aircraft.Record, error) {
		return nil, errors.WithStack(ctx.Err())
	}), nil, nil)
	_, err = r.RequestResponse(ctx, nil)
	assert.Equal(t, raprelay.ErrorCodeCanceled, raprelay.ErrorCodeOf(err))
}

func Test_Relay_RequestStream_order(t *testing.T) {
	recs := []aircraft.Record{recA, recB, {Callsign: "THIRD"}}
	r := New(fixedFetcher(recs, nil), nil, nil)
	out := newCollector()
	require.NoError(t, r.RequestStream(context.Background(), nil, out))
	assert.Equal(t, recs, out.records(t))
}

func Test_Relay_RequestStream_upstream_failure(t *testing.T) {
	upErr := &aircraft.UpstreamError{Endpoint: "http://upstream", StatusCode: 503}
	r := New(fixedFetcher(nil, upErr), nil, nil)
	out := newCollector()
	err := r.RequestStream(context.Background(), nil, out)
	assert.Equal(t, upErr, errors.Cause(err))
	assert.Equal(t, raprelay.ErrorCodeUpstreamUnavailable, raprelay.ErrorCodeOf(err))
	assert.Empty(t, out.records(t))
}

func Test_Relay_FireAndForget_sink_failure(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	got := make(chan aircraft.Weather, 1)
	sink := WeatherSinkFunc(func(ctx context.Context, w aircraft.Weather) error {
		got <- w
		return errors.New("sink is full")
	})
	r := New(fixedFetcher(nil, nil), sink, zap.NewNop().Sugar())
	w := aircraft.Weather{When: time.Date(2018, 6, 1, 12, 0, 0, 0, time.UTC), Observation: "sunny"}
	b, err := aircraft.EncodeWeather(w)
	require.NoError(t, err)

	assert.NoError(t, r.FireAndForget(context.Background(), b))
	r.Wait()
	select {
	case seen := <-got:
		assert.True(t, w.When.Equal(seen.When))
		assert.Equal(t, w.Observation, seen.Observation)
	default:
		t.Fatal("sink not called")
	}
}

func Test_Relay_FireAndForget_bad_observation(t *testing.T) {
	called := false
	sink := WeatherSinkFunc(func(ctx context.Context, w aircraft.Weather) error {
		called = true
		return nil
	})
	r := New(fixedFetcher(nil, nil), sink, nil)
	assert.NoError(t, r.FireAndForget(context.Background(), []byte("not json")))
	r.Wait()
	assert.False(t, called)
}

func Test_Relay_FireAndForget_sink_panic(t *testing.T) {
	sink := WeatherSinkFunc(func(ctx context.Context, w aircraft.Weather) error {
		panic("boom")
	})
	r := New(fixedFetcher(nil, nil), sink, nil)
	b, err := aircraft.EncodeWeather(aircraft.Weather{When: time.Now(), Observation: "hail"})
	require.NoError(t, err)
	assert.NoError(t, r.FireAndForget(context.Background(), b))
	r.Wait()
}

func Test_Relay_Register(t *testing.T) {
	rt := raprelay.NewRouter(nil)
	New(fixedFetcher(nil, nil), nil, nil).Register(rt)
	assert.Equal(t, []string{RouteChannel, RouteFireAndForget, RouteRequestResponse, RouteRequestStream}, rt.Routes())
	for name, mode := range map[string]raprelay.InteractionMode{
		RouteRequestResponse: raprelay.RequestResponse,
		RouteRequestStream:   raprelay.RequestStream,
		RouteFireAndForget:   raprelay.FireAndForget,
		RouteChannel:         raprelay.Channel,
	} {
		route, err := rt.Route(name)
		require.NoError(t, err)
		assert.Equal(t, mode, route.Mode)
	}
}
