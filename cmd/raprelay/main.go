// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

/*
	Relays an upstream aircraft feed to raprelay clients.

	Clients connect over TCP or WebSocket and use one connection for
	all four interaction modes:

	----------------------------------------------------------
	   request-response   latest aircraft
	   request-stream     every aircraft, in feed order
	   fire-and-forget    submit a weather observation
	   channel            weather in, aircraft out
	----------------------------------------------------------

	Usage: raprelay [flags] config.yml
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linkdata/raprelay"
	"github.com/linkdata/raprelay/aircraft"
	"github.com/linkdata/raprelay/relay"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	flagProfile = flag.Bool("profile", false, "write cpu profile to file")
	flagStats   = flag.Duration("stats", time.Minute, "interval between stats log lines, 0 disables")
)

var usage = func() {
	fmt.Fprintf(os.Stderr, "usage: raprelay [flags] config.yml\n")
	flag.CommandLine.PrintDefaults()
}

func main() {
	flag.CommandLine.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		log.Fatalf("error: config file location not specified")
	}
	os.Exit(serve(flag.Arg(0)))
}

// serve runs the relay until interrupted and returns the process exit code.
func serve(configPath string) int {
	c, err := relay.LoadConfig(configPath)
	if err != nil {
		log.Printf("error: %v", err)
		return 1
	}

	var logger *zap.Logger
	if c.Env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Printf("error: %v", err)
		return 1
	}
	defer logger.Sync()

	if *flagProfile {
		defer profile.Start().Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, c, logger); err != nil {
		logger.Error("raprelay: failed", zap.Error(err))
		return 1
	}
	logger.Info("raprelay: shutdown OK")
	return 0
}

func run(ctx context.Context, c relay.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := raprelay.NewMetrics(reg)

	rt := raprelay.NewRouter(logger.Named("router"))
	rt.Metrics = metrics
	rl := relay.New(aircraft.NewClient(c.Upstream.Endpoint, c.Upstream.Timeout), nil, sugar.Named("relay"))
	rl.Register(rt)

	srv := &raprelay.Server{
		Handler:      rt,
		MaxSessions:  c.Session.MaxSessions,
		ReadTimeout:  c.Session.ReadTimeout,
		WriteTimeout: c.Session.WriteTimeout,
		Logger:       logger.Named("server"),
		Metrics:      metrics,
	}
	srv.NetLog(c.Session.NetLog)

	ln, err := srv.Listen(c.Listen)
	if err != nil {
		return err
	}
	hs := &http.Server{
		Addr:    c.HTTP,
		Handler: newHTTPHandler(srv, reg),
	}

	sugar.Infow("raprelay: starting", "listen", ln.Addr().String(), "http", c.HTTP,
		"upstream", c.Upstream.Endpoint, "routes", rt.Routes())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); errors.Cause(err) != (raprelay.SessionClosedError{}) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := hs.ListenAndServe(); err != http.ErrServerClosed {
			return errors.WithStack(err)
		}
		return nil
	})
	if *flagStats > 0 {
		g.Go(func() error {
			logStats(gctx, srv, *flagStats, sugar)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("raprelay: shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if herr := hs.Shutdown(sctx); err == nil {
			err = herr
		}
		rl.Wait()
		return errors.WithStack(err)
	})
	return g.Wait()
}

func logStats(ctx context.Context, srv *raprelay.Server, interval time.Duration, sugar *zap.SugaredLogger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	lastRead, lastWritten := srv.BytesRead(), srv.BytesWritten()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			read, written := srv.BytesRead(), srv.BytesWritten()
			if read != lastRead || written != lastWritten {
				sugar.Infow("stats",
					"sessions", srv.ActiveSessions(),
					"bytes_in", read-lastRead,
					"bytes_out", written-lastWritten,
					"serve_errors", srv.ServeErrors())
				lastRead, lastWritten = read, written
			}
		}
	}
}
