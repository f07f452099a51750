// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

//go:build race
// +build race

package raprelay

func init() {
	// the race detector allows at most 8192 live goroutines,
	// and every served Stream has one
	MaxStreamID = StreamID(1024)

	if ProtocolMaxConcurrentStreams < 1 {
		panic("ProtocolMaxConcurrentStreams < 1")
	}
	if SendWindowSize < 1 {
		panic("SendWindowSize < 1")
	}
	if SendWindowSize > MaxSendWindowSize {
		panic("SendWindowSize > MaxSendWindowSize")
	}
	if ProtocolMaxStreamID < 1 {
		panic("ProtocolMaxStreamID < 1")
	}
	if ProtocolMaxStreamID >= MuxerStreamID {
		panic("ProtocolMaxStreamID >= MuxerStreamID")
	}
	if MaxStreamID > ProtocolMaxStreamID {
		panic("MaxStreamID > ProtocolMaxStreamID")
	}
	if FrameMaxSize < FrameHeaderSize+60 {
		panic("FrameMaxSize < FrameHeaderSize+60")
	}
	if FrameMaxSize > FrameHeaderSize+0xffff {
		panic("FrameMaxSize > FrameHeaderSize+0xffff")
	}
}
