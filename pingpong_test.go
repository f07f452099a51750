package raprelay

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// pipedRelay runs fn with a client Session connected to a Server
// serving echoRouter over WebSocket.
func pipedRelay(fn func(sess *Session)) {
	srv := &Server{Handler: echoRouter()}
	hs := httptest.NewServer(http.HandlerFunc(srv.ServeWebSocket))
	defer hs.Close()
	defer srv.Close()
	sess, err := DialWebSocket(context.Background(), "ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer sess.Close()
	fn(sess)
}

func Benchmark_single_4k_frame_latency(b *testing.B) {
	pipedRelay(func(sess *Session) {
		ctx := context.Background()
		buf := make([]byte, 4096)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			p, err := sess.RequestResponse(ctx, "echo", buf)
			if err != nil {
				log.Fatalf("%v", err)
			}
			if len(p) != len(buf) {
				log.Fatalf("bad message")
			}
		}
		b.StopTimer()
	})
}

func Benchmark_streamed_4k_frame_latency(b *testing.B) {
	pipedRelay(func(sess *Session) {
		ctx := context.Background()
		buf := make([]byte, 4096)
		s, err := sess.RequestChannel(ctx, "upper", buf)
		if err != nil {
			log.Fatalf("%v", err)
		}
		defer s.Close()

		b.ResetTimer()
		go func() {
			for i := 1; i < b.N; i++ {
				if err := s.Send(ctx, buf); err != nil {
					log.Fatalf("%v", err)
				}
			}
			s.CloseSend()
		}()
		for i := 0; i < b.N; i++ {
			p, err := s.Recv(ctx)
			if err != nil {
				log.Fatalf("%v", err)
			}
			if len(p) != len(buf) {
				log.Fatalf("bad message")
			}
		}
		b.StopTimer()
	})
}
