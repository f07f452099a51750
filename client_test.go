package raprelay

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const noSrvAddr string = "192.0.2.1:1"

func Test_Client_NewClient(t *testing.T) {
	c := NewClient(noSrvAddr)
	assert.NotNil(t, c)
	assert.Zero(t, c.AvailableStreams())
	defer c.Close()
}

func Test_Client_no_answer(t *testing.T) {
	c := NewClient(noSrvAddr)
	defer c.Close()
	c.DialTimeout = time.Millisecond * 10
	sess, err := c.Session(context.Background())
	assert.Nil(t, sess)
	assert.Error(t, err)
}

func Test_Client_server_seems_offline(t *testing.T) {
	c := NewClient(noSrvAddr)
	defer c.Close()
	assert.Error(t, c.offlineError())
	c.DialTimeout = time.Millisecond * 10
	c.firstAttempt = time.Now().Add(-time.Second)
	sess, err := c.Session(context.Background())
	assert.Nil(t, sess)
	assert.Contains(t, err.Error(), "no response for")
}

func Test_Client_dial_and_close(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	st := newSrvTester(t)
	defer st.Close()
	c := NewClient(st.srv.Addr)
	c.DialTimeout = time.Second
	s1, err := c.Session(context.Background())
	assert.NoError(t, err)
	require.NotNil(t, s1)
	s2, err := c.Session(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.NotZero(t, c.AvailableStreams())
	assert.NoError(t, c.Close())
	assert.Zero(t, c.AvailableStreams())
}

func Test_Client_redials_closed_session(t *testing.T) {
	st := newSrvTester(t)
	defer st.Close()
	c := NewClient(st.srv.Addr)
	defer c.Close()
	s1, err := c.Session(context.Background())
	require.NoError(t, err)
	s1.Close()
	s2, err := c.Session(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}

func Test_Client_requests(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	st := newSrvTester(t)
	defer st.Close()
	c := NewClient(st.srv.Addr)
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	resp, err := c.RequestResponse(ctx, "echo", []byte("hi"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("hi"), resp)

	var got [][]byte
	assert.NoError(t, c.RequestStream(ctx, "repeat", []byte("abc"), func(p []byte) error {
		got = append(got, p)
		return nil
	}))
	assert.Equal(t, [][]byte{[]byte("abc"), []byte("abc"), []byte("abc")}, got)

	assert.NoError(t, c.FireAndForget(ctx, "drop", nil))

	s, err := c.RequestChannel(ctx, "upper", []byte("a"))
	require.NoError(t, err)
	p, err := s.Recv(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []byte("A"), p)
	assert.NoError(t, s.CloseSend())
	_, err = s.Recv(ctx)
	assert.Equal(t, io.EOF, errors.Cause(err))
	assert.NoError(t, s.Close())

	_, err = c.RequestResponse(ctx, "nowhere", nil)
	se, ok := err.(*StreamError)
	require.True(t, ok)
	assert.Equal(t, ErrorCodeRouteNotFound, se.Code)
}

func Test_Client_Dialer(t *testing.T) {
	dialed := false
	c := NewClient("pipe")
	c.Dialer = func(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
		dialed = true
		assert.Equal(t, "pipe", addr)
		return nil, errors.New("no pipes today")
	}
	_, err := c.RequestResponse(context.Background(), "echo", nil)
	assert.True(t, dialed)
	assert.Contains(t, err.Error(), "no pipes today")
}
