package hlsbuf

import (
	"sync"
	"sync/atomic"
)

// playbackCursor is the position HlsBuffer.Read consumes from: which
// rendition and segment index are current, plus the cumulative byte
// offset into the logical media stream that ReadPosition reports. The
// stream/segment indices are guarded by a mutex because Seek and Read
// reposition them while streamWorker reads them; byteOffset is a plain atomic since only Read and
// Seek ever touch it and neither needs to coordinate with the index pair
// under the same lock.
type playbackCursor struct {
	mu         sync.Mutex
	streamIdx  int
	segmentIdx int
	byteOffset atomic.Uint64
}

func newPlaybackCursor() *playbackCursor {
	return &playbackCursor{}
}

func (c *playbackCursor) position() (streamIdx, segmentIdx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamIdx, c.segmentIdx
}

func (c *playbackCursor) setPosition(streamIdx, segmentIdx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamIdx = streamIdx
	c.segmentIdx = segmentIdx
}

func (c *playbackCursor) advanceSegment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segmentIdx++
}

func (c *playbackCursor) byteOffsetValue() uint64 {
	return c.byteOffset.Load()
}

func (c *playbackCursor) addBytes(n int) {
	if n > 0 {
		c.byteOffset.Add(uint64(n))
	}
}

func (c *playbackCursor) setBytes(n uint64) {
	c.byteOffset.Store(n)
}
