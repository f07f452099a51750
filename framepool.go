// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package raprelay

import "sync/atomic"

// FrameDataPoolSize is the number of unused FrameData kept for reuse.
const FrameDataPoolSize = 1024

// framePool keeps full size FrameData buffers between uses. Every
// Stream frame passes through it, so it must never block.
type framePool struct {
	ch      chan FrameData
	allocs  int64 // buffers made because the pool was empty
	reuses  int64 // buffers taken from the pool
	discard int64 // buffers dropped because the pool was full
}

var frameDataPool = &framePool{ch: make(chan FrameData, FrameDataPoolSize)}

func (p *framePool) get() (fd FrameData) {
	select {
	case fd = <-p.ch:
		atomic.AddInt64(&p.reuses, 1)
	default:
		atomic.AddInt64(&p.allocs, 1)
	}
	return
}

func (p *framePool) put(fd FrameData) {
	if fd == nil || cap(fd) < FrameMaxSize {
		return
	}
	select {
	case p.ch <- fd:
	default:
		atomic.AddInt64(&p.discard, 1)
	}
}

// FramePoolStats is a snapshot of the frame buffer pool counters.
type FramePoolStats struct {
	Free      int   // buffers ready for reuse
	Allocs    int64 // buffers allocated because none were free
	Reuses    int64 // buffers handed out from the pool
	Discarded int64 // freed buffers dropped because the pool was full
}

// FramePoolStatistics returns the current frame buffer pool counters.
func FramePoolStatistics() FramePoolStats {
	return FramePoolStats{
		Free:      len(frameDataPool.ch),
		Allocs:    atomic.LoadInt64(&frameDataPool.allocs),
		Reuses:    atomic.LoadInt64(&frameDataPool.reuses),
		Discarded: atomic.LoadInt64(&frameDataPool.discard),
	}
}

// FrameDataAlloc allocates an empty FrameData, without a FrameHeader.
func FrameDataAlloc() FrameData {
	if fd := frameDataPool.get(); fd != nil {
		fd.Clear()
		return fd
	}
	return NewFrameData()
}

// FrameDataAllocID allocates a FrameData with a FrameHeader and the given StreamID set.
func FrameDataAllocID(id StreamID) FrameData {
	if fd := frameDataPool.get(); fd != nil {
		fd.ClearID(id)
		return fd
	}
	return NewFrameDataID(id)
}

// FrameDataFree releases a FrameData. The caller must not use it afterwards.
func FrameDataFree(fd FrameData) {
	frameDataPool.put(fd)
}
