package raprelay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_FramePool_FrameDataAlloc(t *testing.T) {
	fd1 := FrameDataAlloc()
	assert.Zero(t, len(fd1))
	FrameDataFree(fd1)
	fd2 := FrameDataAlloc()
	assert.Zero(t, len(fd2))
	FrameDataFree(fd2)
}

func Test_FramePool_FrameDataAllocID(t *testing.T) {
	fd1 := FrameDataAllocID(MaxStreamID)
	assert.Equal(t, MaxStreamID, fd1.Header().StreamID())
	fd2 := FrameDataAllocID(MaxStreamID - 1)
	assert.Equal(t, MaxStreamID-1, fd2.Header().StreamID())
	assert.Equal(t, FrameHeaderSize, len(fd2))
	FrameDataFree(fd1)
	FrameDataFree(fd2)
}

func Test_FramePool_FrameDataFree_small(t *testing.T) {
	for len(frameDataPool.ch) > 0 {
		FrameDataAlloc()
	}
	FrameDataFree(FrameData(make([]byte, 0, 16)))
	FrameDataFree(nil)
	assert.Zero(t, len(frameDataPool.ch))
	assert.Zero(t, FramePoolStatistics().Free)
}

func Test_FramePool_FrameDataFree_Overflow(t *testing.T) {
	for len(frameDataPool.ch) < cap(frameDataPool.ch) {
		FrameDataFree(NewFrameData())
	}
	assert.Equal(t, cap(frameDataPool.ch), len(frameDataPool.ch))
	before := FramePoolStatistics()
	fd1 := FrameDataAlloc()
	assert.NotNil(t, fd1)
	assert.Equal(t, cap(frameDataPool.ch)-1, len(frameDataPool.ch))
	FrameDataFree(fd1)
	assert.Equal(t, cap(frameDataPool.ch), len(frameDataPool.ch))
	FrameDataFree(NewFrameData())
	assert.Equal(t, cap(frameDataPool.ch), len(frameDataPool.ch))

	after := FramePoolStatistics()
	assert.Equal(t, FrameDataPoolSize, after.Free)
	assert.True(t, after.Reuses > before.Reuses)
	assert.True(t, after.Discarded > before.Discarded)
}
