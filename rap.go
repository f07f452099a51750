// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import "time"

const (
	// MuxerStreamID is the Stream ID used to mark Muxer control frames.
	// It is the highest value that fits in the 13 low bits of the header.
	MuxerStreamID = StreamID(0x1fff)
	// ProtocolMaxStreamID is the maximum value allowed for MaxStreamID.
	ProtocolMaxStreamID = MuxerStreamID - 1
	// ProtocolMaxConcurrentStreams is an artifical limit on maximum concurrent Streams.
	ProtocolMaxConcurrentStreams = 10 * 1000000
	// MaxSendWindowSize is the maximum value allowed for SendWindowSize.
	MaxSendWindowSize = 8
	// FrameHeaderSize is the number of bytes in a frame header.
	FrameHeaderSize = 4
	// FrameMaxSize is the largest buffer size allowed for a full frame.
	FrameMaxSize = 0x10000
	// FrameMaxPayloadSize is the maximum number of bytes in a frame payload.
	FrameMaxPayloadSize = FrameMaxSize - FrameHeaderSize
	// DefaultReadTimeout is how long a Stream may stay idle waiting for
	// the first frame. Zero disables it; streams are long lived.
	DefaultReadTimeout = time.Duration(0)
	// DefaultWriteTimeout is how long a send may wait for the send window.
	DefaultWriteTimeout = time.Second * 5
	// DefaultCloseTimeout is how long Close waits for the peer to finish a Stream.
	DefaultCloseTimeout = time.Second * 5
)

var (
	// MaxStreamID is the highest allowable StreamID (configurable).
	MaxStreamID = StreamID(ProtocolMaxStreamID) // usually ProtocolMaxStreamID
	// SendWindowSize is the maximum number of frames allowed in flight.
	SendWindowSize = MaxSendWindowSize // usually MaxSendWindowSize
)
