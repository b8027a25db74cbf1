package hlsbuf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hydrz/hlsbuf/utils"
)

// HlsBuffer is a client-side, byte-oriented, seekable buffer over an HTTP
// Live Streaming URL. It downloads segments ahead of playback, adapts
// rendition bitrate to measured bandwidth, and refreshes live playlists in
// the background, presenting the result as a single contiguous byte
// stream to Read/Seek — the same role the teacher's Downloader plays for
// a direct file download, generalised to HLS's segmented, possibly-live
// source.
type HlsBuffer struct {
	rt *runtime

	set    *StreamSet
	parser Parser
	cursor *playbackCursor

	sw *streamWorker
	pw *playlistWorker

	seekToEnd bool

	interruptRequested atomic.Bool

	mu     sync.Mutex
	open   bool
	broken bool
}

// Open fetches the manifest at rawURL, parses it (master or bare media
// playlist), selects a starting rendition and segment, starts the
// background workers, and blocks until enough segments are buffered for
// smooth playback to begin.
func Open(ctx context.Context, rawURL string, opts ...Option) (*HlsBuffer, error) {
	if !utils.IsValidURL(rawURL) {
		return nil, fmt.Errorf("%w: %q is not an http(s) URL", ErrNotHls, rawURL)
	}

	o := *DefaultOptions
	for _, override := range opts {
		o = o.Combine(override)
	}
	rt := newRuntime(o)

	downloader := newRestyDownloader(rt.manifestHTTP)
	segmentDownloader := newRestyDownloader(rt.segmentHTTP)
	if o.SimulateBandwidthBPS > 0 {
		segmentDownloader = newThrottledRestyDownloader(rt.segmentHTTP, o.SimulateBandwidthBPS)
	}
	decryptor := newAESDecryptor(downloader)

	// Segment and media-playlist requests carry a Referer pointing back at
	// the manifest URL, merged with any caller-supplied headers — several
	// CDNs reject HLS segment fetches lacking one. AES key fetches are sent
	// without it.
	headers := utils.MergeHeader(optionHeaders(o), http.Header{"Referer": []string{rawURL}})

	data, err := downloader.Get(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestFetchFailed, err)
	}
	if !IsHTTPLiveStreaming(data, rawURL) {
		return nil, ErrNotHls
	}

	parser := newM3U8Parser()
	set, err := parser.ParseMaster(data, rawURL)
	if err != nil {
		return nil, err
	}

	for i := 0; i < set.Count(); i++ {
		set.At(i).bindClient(segmentDownloader, decryptor, headers)
	}

	// Any rendition whose URL differs from the master's own (i.e. it is a
	// real variant playlist, not the degenerate single-media-playlist
	// case) needs its media playlist fetched before it has any segments.
	for i := 0; i < set.Count(); i++ {
		s := set.At(i)
		if s.NumSegments() > 0 {
			continue
		}
		mdata, err := downloader.Get(ctx, s.URL, headers)
		if err != nil {
			continue // other renditions may still be usable
		}
		_ = parser.ParseMedia(mdata, s.URL, s)
	}

	set.Sanitise()
	if set.Count() == 0 {
		return nil, fmt.Errorf("%w: no usable renditions after sanitising", ErrManifestFetchFailed)
	}
	set.SortByBitrateDesc()

	cursor := newPlaybackCursor()

	startup := 0
	current := set.At(startup)
	if current.Live {
		startup = chooseSegment(set, startup)
	}
	cursor.setPosition(0, startup)

	adaptive := set.Count() > 1
	sw := newStreamWorker(rt, set, cursor, 0, adaptive)
	sw.segment = startup
	sw.Start(ctx)

	buf := &HlsBuffer{
		rt:     rt,
		set:    set,
		parser: parser,
		cursor: cursor,
		sw:     sw,
		open:   true,
	}

	if err := buf.prefetch(minOf(set.At(0).NumSegments(), minBuffer)); err != nil {
		sw.Cancel()
		return nil, err
	}

	buf.pw = newPlaylistWorker(rt, set, parser, sw)
	buf.pw.Start(ctx)

	return buf, nil
}

// chooseSegment implements the original ring buffer's "stay near the live
// edge" start policy: walk backward from the last segment accumulating
// duration until at least 3 target-durations of buffer is behind the live
// edge, and start there rather than at the oldest available segment.
func chooseSegment(set *StreamSet, streamIdx int) int {
	s := set.At(streamIdx)
	count := s.NumSegments()
	if count == 0 {
		return 0
	}
	var accumulated int64
	wanted := 0
	for i := count - 1; i >= 0; i-- {
		seg := s.GetSegment(i)
		accumulated += seg.DurationMS
		if accumulated >= 3*s.TargetDurationMS {
			wanted = i
			break
		}
	}
	return wanted
}

// prefetch blocks until the download cursor has buffered count segments
// ahead of playback, or the worker reaches the end of a VOD rendition, or
// prefetchAttemptCap signal waits elapse.
func (b *HlsBuffer) prefetch(count int) error {
	b.sw.Wakeup()
	for attempt := 0; attempt < prefetchAttemptCap; attempt++ {
		if b.interruptRequested.Load() {
			return ErrInterrupted
		}
		if b.sw.CurrentPlaybackBuffer() >= count {
			return nil
		}
		time.Sleep(waitTimeout / 2)
	}
	return ErrPrefetchTimeout
}

func minOf(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// activeStream returns the rendition StreamWorker is currently extending,
// per the download map's notion of "current" rather than the playback
// cursor's possibly-stale recollection — used for bounds/end-of-stream
// checks, which must track adaptation switches immediately.
func (b *HlsBuffer) activeStream() *Stream {
	return b.set.At(b.sw.ActiveStreamIndex())
}

// Read fills p with decoded media bytes from the current playback
// position, advancing segments as they are exhausted and dropping any
// segment that never downloaded rather than stalling forever. Each
// segment's owning rendition is resolved individually through the download
// map (streamWorker.StreamForSegment), not through a single cursor-wide
// stream index, so a bitrate adaptation mid-stream never strands Read on a
// rendition that has stopped receiving new segments.
func (b *HlsBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return 0, ErrClosed
	}
	b.mu.Unlock()

	active := b.activeStream()
	if active == nil {
		return 0, io.EOF
	}
	_, segIdx := b.cursor.position()
	if segIdx >= active.NumSegments() {
		if !active.Live {
			return 0, io.EOF
		}
		return 0, nil
	}

	b.waitUntilBuffered(active)
	if b.interruptRequested.Load() {
		return 0, ErrInterrupted
	}

	used := 0
	remaining := len(p)
	for remaining > 0 {
		active = b.activeStream()
		_, segIdx = b.cursor.position()
		if segIdx >= active.NumSegments() {
			break
		}

		stream, ok := b.sw.StreamForSegment(segIdx)
		if !ok {
			// never downloaded (or already forgotten): treat like the
			// original's dropped-segment case rather than stalling, since
			// waitUntilBuffered/waitForSegmentData already gave the
			// download cursor its chance to catch up.
			b.cursor.advanceSegment()
			continue
		}

		seg := stream.GetSegment(segIdx)
		if seg == nil {
			b.cursor.advanceSegment()
			continue
		}

		if seg.SizePlayed() == seg.Size() && seg.Size() > 0 {
			if !stream.Cache || stream.Live {
				seg.Clear()
				b.sw.ForgetSegment(segIdx)
			} else {
				seg.Reset()
			}
			b.cursor.advanceSegment()
			b.sw.Wakeup()
			continue
		}

		if seg.Size() == 0 {
			if !b.waitForSegmentData(seg) {
				break // never arrived within budget; return what we have
			}
		}

		n := seg.Read(p[used:used+remaining], remaining)
		used += n
		remaining -= n
	}

	b.cursor.addBytes(used)
	if used == 0 {
		active = b.activeStream()
		_, segIdx = b.cursor.position()
		if active != nil && segIdx >= active.NumSegments() && !active.Live {
			return 0, io.EOF
		}
	}
	return used, nil
}

// waitUntilBuffered pauses Read until the download cursor leads playback
// by at least minBuffer segments, unless the rendition is VOD and already
// at its end — mirroring the original ring buffer's WaitUntilBuffered,
// which exists to avoid starting a read right as the buffer empties out.
func (b *HlsBuffer) waitUntilBuffered(stream *Stream) {
	if b.seekToEnd {
		return
	}
	if b.sw.CurrentPlaybackBuffer() >= minBuffer {
		return
	}
	if !stream.Live && b.sw.awaitEndKnown() {
		return
	}
	b.sw.Wakeup()
	for attempt := 0; attempt < prefetchAttemptCap; attempt++ {
		if b.interruptRequested.Load() {
			return
		}
		if b.sw.CurrentPlaybackBuffer() >= minBuffer {
			return
		}
		if !stream.Live && b.sw.awaitEndKnown() {
			return
		}
		time.Sleep(waitTimeout / 2)
	}
}

// waitForSegmentData blocks briefly for a specific segment's bytes to
// arrive, returning false if the retry budget is exhausted first.
func (b *HlsBuffer) waitForSegmentData(seg *Segment) bool {
	for attempt := 0; attempt < prefetchAttemptCap; attempt++ {
		if seg.Size() > 0 {
			return true
		}
		if b.interruptRequested.Load() {
			return false
		}
		time.Sleep(waitTimeout / 2)
	}
	return false
}

// Seek repositions the playback cursor to an absolute byte offset, using
// the rendition's bitrate to map bytes to playback time and the segment
// durations to map time to a segment index. Live streams veto a seek that
// would require more than liveSeekBandwidthSeconds to refill.
func (b *HlsBuffer) Seek(offset int64) (int64, error) {
	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return 0, ErrClosed
	}
	b.mu.Unlock()

	if b.interruptRequested.Load() {
		return int64(b.cursor.byteOffsetValue()), ErrInterrupted
	}

	streamIdx := b.sw.ActiveStreamIndex()
	stream := b.set.At(streamIdx)
	if stream == nil {
		return int64(b.cursor.byteOffsetValue()), ErrIoError
	}

	_, segIdx := b.cursor.position()
	if cur, ok := b.sw.StreamForSegment(segIdx); ok {
		if seg := cur.GetSegment(segIdx); seg != nil {
			seg.Reset()
		}
	}

	postimeMS := int64(float64(offset) * 8.0 / float64(stream.BitrateBPS) * 1000)

	total := b.SizeMedia()
	if offset > total {
		postimeMS -= stream.TargetDurationMS * 3
		if postimeMS < 0 {
			postimeMS = 0
		}
	}

	count := stream.NumSegments()
	var startMS, endMS int64
	target := 0
	found := false
	for n := 0; n < count; n++ {
		seg := stream.GetSegment(n)
		if seg == nil {
			return int64(b.cursor.byteOffsetValue()), ErrIoError
		}
		endMS += seg.DurationMS
		if postimeMS < endMS {
			target = n
			found = true
			break
		}
		startMS = endMS
	}
	if !found {
		target = count - 1
		if target < 0 {
			target = 0
		}
	}

	if stream.Live && (target >= count-1 || target < segIdx) {
		bw := b.sw.Bandwidth()
		if bw == 0 {
			bw = stream.BitrateBPS
		}
		estimateSeconds := float64(stream.TargetDurationMS) / 1000 * float64(stream.BitrateBPS) / float64(bw)
		if estimateSeconds > liveSeekBandwidthSeconds {
			return int64(b.cursor.byteOffsetValue()), nil
		}
	}

	b.seekToEnd = target >= count-1
	b.cursor.setPosition(streamIdx, target)
	b.sw.Seek(streamIdx, target)

	for attempt := 0; attempt < prefetchAttemptCap/2; attempt++ {
		if b.interruptRequested.Load() {
			break
		}
		if stream.GetSegment(target) != nil && stream.GetSegment(target).Size() > 0 {
			break
		}
		if b.sw.CurrentPlaybackBuffer() >= 2 {
			break
		}
		time.Sleep(waitTimeout / 2)
	}

	seg := stream.GetSegment(target)
	if seg != nil && seg.Duration() > 0 {
		skip := int((postimeMS - startMS) * int64(seg.Size()) / seg.Duration())
		seg.Read(nil, skip)
	}

	b.cursor.setBytes(uint64(offset))
	return offset, nil
}

// ReadPosition returns the current byte offset into the logical media
// stream.
func (b *HlsBuffer) ReadPosition() int64 {
	return int64(b.cursor.byteOffsetValue())
}

// SizeMedia estimates the total byte size of the media from the current
// rendition's cumulative segment duration and bitrate — an estimate
// because a live playlist's true total size is unknowable in advance.
func (b *HlsBuffer) SizeMedia() int64 {
	stream := b.activeStream()
	if stream == nil || stream.BitrateBPS == 0 {
		return -1
	}
	return int64(stream.Duration().Seconds() * float64(stream.BitrateBPS) / 8)
}

// IsOpen reports whether the buffer has not yet been closed.
func (b *HlsBuffer) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Interrupt asks any in-progress Seek or prefetch wait to return promptly
// rather than waiting out its retry budget — distinct from Close, which
// tears the buffer down for good. Pair with Continue to resume normal
// waiting behaviour.
func (b *HlsBuffer) Interrupt() {
	b.interruptRequested.Store(true)
	b.sw.Wakeup()
}

// Continue clears a prior Interrupt, restoring normal blocking behaviour
// for subsequent Seek/Read calls.
func (b *HlsBuffer) Continue() {
	b.interruptRequested.Store(false)
}

// Close stops the background workers and releases the buffer. Per the
// original ring buffer's teardown order, the playlist worker is cancelled
// before the stream worker, since the stream worker waking on a
// freshly-appended segment could otherwise race a half-torn-down buffer.
func (b *HlsBuffer) Close() error {
	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return nil
	}
	b.open = false
	b.mu.Unlock()

	if b.pw != nil {
		b.pw.Cancel()
	}
	b.sw.Cancel()
	return nil
}

// SaveToDisk downloads every segment in [segStart, segEnd) of the current
// rendition and returns their concatenated bytes — segEnd < 0 means
// through the end of the rendition. Intended for VOD debugging/export,
// not for playback.
func (b *HlsBuffer) SaveToDisk(ctx context.Context, segStart, segEnd int) ([]byte, error) {
	stream := b.activeStream()
	if stream == nil {
		return nil, ErrIoError
	}
	if segEnd < 0 || segEnd > stream.NumSegments() {
		segEnd = stream.NumSegments()
	}

	var out []byte
	for i := segStart; i < segEnd; i++ {
		seg := stream.GetSegment(i)
		if seg == nil {
			continue
		}
		if seg.Size() == 0 {
			var bw uint64
			if err := stream.DownloadSegment(ctx, i, &bw); err != nil {
				b.rt.logger.Error("segment download failed during export", "segment", i, "err", err)
				continue
			}
		}
		buf := make([]byte, seg.Size())
		seg.Read(buf, len(buf))
		seg.Reset()
		out = append(out, buf...)
	}
	return out, nil
}
