// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/linkdata/raprelay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

type healthStatus struct {
	Status       string `json:"status"`
	Sessions     int    `json:"sessions"`
	BytesRead    int64  `json:"bytes_read"`
	BytesWritten int64  `json:"bytes_written"`
}

func newHTTPHandler(srv *raprelay.Server, reg *prometheus.Registry) http.Handler {
	router := httprouter.New()
	router.GET("/ws", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		srv.ServeWebSocket(w, r)
	})
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.GET("/healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		serveHealth(w, srv)
	})
	return router
}

func serveHealth(w http.ResponseWriter, srv *raprelay.Server) {
	b, err := json.Marshal(healthStatus{
		Status:       "ok",
		Sessions:     srv.ActiveSessions(),
		BytesRead:    srv.BytesRead(),
		BytesWritten: srv.BytesWritten(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(b)
}
