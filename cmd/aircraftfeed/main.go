// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

// Serves a simulated aircraft feed for local testing of raprelay.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linkdata/raprelay/aircraft"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var (
	flagListen = flag.String("listen", ":7634", "HTTP service address")
	flagCount  = flag.Int("count", 25, "number of simulated aircraft")
	flagSeed   = flag.Int64("seed", 0, "random seed, 0 uses the current time")
)

func newHandler(feed *aircraft.Feed) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/aircraft":
			feed.HandleFastHTTP(ctx)
		default:
			ctx.NotFound()
		}
	}
}

func main() {
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("error: %v", err)
	}
	defer logger.Sync()

	seed := *flagSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	feed := aircraft.NewFeed(*flagCount, seed)
	feed.Logger = logger

	s := &fasthttp.Server{
		Handler:      newHandler(feed),
		Name:         "aircraftfeed",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		exit := make(chan os.Signal, 1)
		signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
		<-exit
		logger.Info("aircraftfeed: shutting down")
		s.Shutdown()
	}()

	logger.Info("aircraftfeed: listening", zap.String("addr", *flagListen), zap.Int("aircraft", *flagCount))
	if err = s.ListenAndServe(*flagListen); err != nil {
		logger.Fatal("aircraftfeed: serve", zap.Error(err))
	}
	logger.Info("aircraftfeed: shutdown OK")
}
