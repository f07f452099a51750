// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/avast/retry-go"
	"github.com/linkdata/raprelay"
	"github.com/linkdata/raprelay/aircraft"
	"github.com/linkdata/raprelay/relay"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	flagAddr     = flag.String("addr", "127.0.0.1"+raprelay.DefaultListenAddr, "raprelay server TCP address")
	flagWS       = flag.String("ws", "", "raprelay WebSocket URL, overrides -addr (e.g. ws://localhost:8080/ws)")
	flagAttempts = flag.Uint("attempts", 5, "connection attempts before giving up")
	flagTimeout  = flag.Duration("timeout", 30*time.Second, "overall timeout")
	flagWeather  = flag.String("weather", "clear skies", "observation to send")
	flagVerbose  = flag.Bool("v", false, "log at debug level")
)

var usage = func() {
	fmt.Fprintf(os.Stderr, "usage: raprelayclient [flags] [request-response|request-stream|fire-and-forget|channel ...]\n"+
		"  With no arguments, all four interactions are run in order.\n")
	flag.CommandLine.PrintDefaults()
}

func main() {
	flag.CommandLine.Usage = usage
	flag.Parse()

	cfg := zap.NewDevelopmentConfig()
	if !*flagVerbose {
		cfg.Level.SetLevel(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("error: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	c := raprelay.NewClient(*flagAddr)
	c.Logger = logger.Named("client")
	if *flagWS != "" {
		c.Addr = *flagWS
		c.Dialer = raprelay.DialWebSocketConn
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *flagTimeout)
	defer cancel()

	err = retry.Do(
		func() error {
			_, err := c.Session(ctx)
			return err
		},
		retry.Attempts(*flagAttempts),
		retry.Delay(500*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			sugar.Warnw("connect failed", "attempt", n+1, "addr", c.Addr, "error", err)
		}),
	)
	if err != nil {
		sugar.Fatalw("could not connect", "addr", c.Addr, "error", err)
	}

	names := flag.Args()
	if len(names) == 0 {
		names = []string{relay.RouteRequestResponse, relay.RouteRequestStream, relay.RouteFireAndForget, relay.RouteChannel}
	}
	for _, name := range names {
		if err = runInteraction(ctx, c, name, os.Stdout); err != nil {
			sugar.Errorw("interaction failed", "route", name, "error", err)
		}
	}
}

func weather() aircraft.Weather {
	return aircraft.Weather{When: time.Now().UTC(), Observation: *flagWeather}
}

// marker identifies a request in the server log.
func marker() []byte {
	return []byte(time.Now().UTC().Format(time.RFC3339Nano))
}

func runInteraction(ctx context.Context, c *raprelay.Client, name string, w io.Writer) (err error) {
	switch name {
	case relay.RouteRequestResponse:
		var b []byte
		if b, err = c.RequestResponse(ctx, name, marker()); err == nil {
			err = printRecord(w, name, b)
		}
	case relay.RouteRequestStream:
		err = c.RequestStream(ctx, name, marker(), func(b []byte) error {
			return printRecord(w, name, b)
		})
	case relay.RouteFireAndForget:
		obs := weather()
		var b []byte
		if b, err = aircraft.EncodeWeather(obs); err == nil {
			if err = c.FireAndForget(ctx, name, b); err == nil {
				fmt.Fprintf(w, "%s: sent %v\n", name, obs)
			}
		}
	case relay.RouteChannel:
		err = runChannel(ctx, c, w)
	default:
		err = errors.Errorf("unknown interaction %q", name)
	}
	return
}

// runChannel sends one observation, then a second that supersedes it,
// and prints what comes back until the server ends the stream.
func runChannel(ctx context.Context, c *raprelay.Client, w io.Writer) error {
	b, err := aircraft.EncodeWeather(weather())
	if err != nil {
		return err
	}
	s, err := c.RequestChannel(ctx, relay.RouteChannel, b)
	if err != nil {
		return err
	}
	defer s.Close()
	if err = s.Send(ctx, b); err != nil {
		return err
	}
	if err = s.CloseSend(); err != nil {
		return err
	}
	for {
		p, err := s.Recv(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err = printRecord(w, relay.RouteChannel, p); err != nil {
			return err
		}
	}
}

func printRecord(w io.Writer, name string, b []byte) error {
	r, err := aircraft.DecodeRecord(b)
	if err == nil {
		_, err = fmt.Fprintf(w, "%s: %v\n", name, r)
	}
	return err
}
