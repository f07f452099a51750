// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

/*
Package raprelay implements a multiplexed streaming RPC protocol and the
sessions, routing and transports needed to serve it.

A Muxer multiplexes concurrent Streams over a single connection, identified by a (small) unsigned integer. The side opening Streams maintains the set of identifiers that are free and may use them in any order.

A Stream is one interaction in one of four modes: request-response, request-stream, fire-and-forget and channel. It handles the per-stream flow control mechanism, which is a simple transmission window with ACKs from the receiver, and the final frame handshake that ends it.

A Router maps route names to handlers. A Server accepts TCP or WebSocket connections and serves a Session on each, and a Client dials Sessions as needed.

A frame is the basic structure within a Muxer data stream. It consists of a frame header followed by the frame payload bytes. */
package raprelay
