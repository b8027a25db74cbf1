package hlsbuf

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// streamWorker is the background goroutine that keeps one rendition's
// segments downloaded ahead of playback and, for adaptive (multi-rendition)
// sets, switches renditions as measured bandwidth changes. It mirrors the
// original HLSRingBuffer's StreamWorker thread: a mutex/cond pair guards
// the shared download-position state instead of a channel, because the
// worker must be woken both by playback progress and by an external Seek,
// and a cond variable lets either caller signal without the worker having
// to select across multiple channels.
//
// segmap records, for each segment index the worker has ever resolved a
// download for, which rendition actually supplied the bytes. A bitrate
// switch changes streamIdx going forward but never rewrites a past index's
// entry, so Read and Seek can keep finding byte-identical content at an
// index after adaptation moves the worker on to a different rendition.
type streamWorker struct {
	set      *StreamSet
	cursor   *playbackCursor
	rt       *runtime
	adaptive bool

	mu          sync.Mutex
	cond        *sync.Cond
	interrupted atomic.Bool
	segment     int // next segment index to download, relative to the active stream
	streamIdx   int // active rendition index, mutated by maybeAdapt and Seek
	atEnd       bool
	segmap      map[int]int // segment index -> stream index that supplied it

	sumBandwidth   uint64
	countBandwidth uint64

	done chan struct{}
}

func newStreamWorker(rt *runtime, set *StreamSet, cursor *playbackCursor, streamIdx int, adaptive bool) *streamWorker {
	w := &streamWorker{
		set:       set,
		cursor:    cursor,
		rt:        rt,
		adaptive:  adaptive,
		streamIdx: streamIdx,
		segmap:    make(map[int]int),
		done:      make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Start launches the worker loop.
func (w *streamWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Cancel requests the worker stop and blocks until it has.
func (w *streamWorker) Cancel() {
	w.interrupted.Store(true)
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
}

// Wakeup nudges the worker to re-check its download position — called by
// PlaylistWorker after a successful refresh adds new segments.
func (w *streamWorker) Wakeup() {
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Seek repositions the download cursor to segmentIdx on the named
// rendition without clearing already-downloaded segments, so that
// re-seeking into a still-buffered region is free.
func (w *streamWorker) Seek(streamIdx, segmentIdx int) {
	w.mu.Lock()
	w.streamIdx = streamIdx
	w.segment = segmentIdx
	w.atEnd = false
	w.cond.Broadcast()
	w.mu.Unlock()
}

// CurrentPlaybackBuffer reports how many segments the download cursor
// currently leads the playback cursor by, used by PlaylistWorker to decide
// whether it can afford to back off on a failed refresh.
func (w *streamWorker) CurrentPlaybackBuffer() int {
	w.mu.Lock()
	dl := w.segment
	w.mu.Unlock()
	_, playSeg := w.cursor.position()
	return dl - playSeg
}

// awaitEndKnown reports whether the download cursor has reached the last
// segment of a VOD rendition, meaning no further buffering will ever
// arrive and a wait loop should stop retrying.
func (w *streamWorker) awaitEndKnown() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	stream := w.set.At(w.streamIdx)
	if stream == nil {
		return true
	}
	return !stream.Live && w.segment >= stream.NumSegments()
}

// ActiveStreamIndex returns the rendition index the worker is currently
// downloading from, for PlaylistWorker to refresh the matching playlist and
// for HlsBuffer to resolve bounds/end-of-stream state against the rendition
// currently being extended.
func (w *streamWorker) ActiveStreamIndex() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.streamIdx
}

// StreamForSegment returns the rendition that actually supplied segIdx's
// bytes, per the download map. It may differ from ActiveStreamIndex once a
// bandwidth adaptation has switched renditions after segIdx was downloaded.
// ok is false if segIdx has never been downloaded (or was forgotten by
// ForgetSegment), meaning the caller should treat it as not-yet-available
// rather than belonging to any particular rendition.
func (w *streamWorker) StreamForSegment(segIdx int) (*Stream, bool) {
	w.mu.Lock()
	streamIdx, ok := w.segmap[segIdx]
	w.mu.Unlock()
	if !ok {
		return nil, false
	}
	return w.set.At(streamIdx), true
}

// ForgetSegment erases segIdx's download-map entry once its bytes have been
// fully consumed and cleared, so a future re-seek to that index is treated
// as not-yet-downloaded rather than resolving to whichever rendition last
// held it.
func (w *streamWorker) ForgetSegment(segIdx int) {
	w.mu.Lock()
	delete(w.segmap, segIdx)
	w.mu.Unlock()
}

// Bandwidth returns the current running-mean measured bandwidth without
// recording a new sample, used by Seek's live-safety check.
func (w *streamWorker) Bandwidth() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.countBandwidth == 0 {
		return 0
	}
	return w.sumBandwidth / w.countBandwidth
}

func (w *streamWorker) averageBandwidth(sample uint64) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sumBandwidth += sample
	w.countBandwidth++
	return w.sumBandwidth / w.countBandwidth
}

func (w *streamWorker) run(ctx context.Context) {
	defer close(w.done)

	retries := 0
	for !w.interrupted.Load() {
		stream, activeIdx, dlSegment := w.awaitDownloadSlot()
		if w.interrupted.Load() {
			return
		}
		if stream == nil {
			continue
		}

		if dlSegment >= stream.NumSegments() {
			// nothing new yet; PlaylistWorker will Wakeup() us.
			continue
		}

		if w.alreadyDownloaded(dlSegment) {
			// a prior rendition already supplied this index (e.g. the
			// index the worker was sitting on when maybeAdapt switched
			// streamIdx); nothing to fetch, just move the cursor on.
			w.advanceDownloadCursor(dlSegment)
			continue
		}

		var bw uint64
		err := stream.DownloadSegment(ctx, dlSegment, &bw)
		if err != nil {
			if w.interrupted.Load() {
				return
			}
			retries++
			w.rt.logger.Debug("segment download failed", "segment", dlSegment, "retry", retries, "err", err)
			if retries == 1 {
				continue // retry immediately
			}
			time.Sleep(segmentRetryBackoff)
			if retries == 2 {
				continue // one more retry, after the backoff
			}
			retries = 0 // give up on this segment, move playback forward regardless
		} else {
			retries = 0
			w.recordDownload(dlSegment, activeIdx)
			avg := w.averageBandwidth(bw)
			if w.adaptive && avg != stream.BitrateBPS {
				w.maybeAdapt(stream.ProgramID, avg)
			}
		}

		w.advanceDownloadCursor(dlSegment)
	}
}

// alreadyDownloaded reports whether segIdx already has a download-map
// entry, meaning the segment currently sitting at the worker's cursor was
// already fetched (from whichever rendition was active at the time) and
// does not need fetching again after an adaptation switch moved the cursor
// back onto an index it had already passed.
func (w *streamWorker) alreadyDownloaded(segIdx int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.segmap[segIdx]
	return ok
}

// recordDownload writes segIdx's download-map entry. Per the download map's
// write-once guarantee, an index is recorded against whichever rendition
// supplied it first; maybeAdapt only ever affects indices downloaded after
// this call, never this one.
func (w *streamWorker) recordDownload(segIdx, streamIdx int) {
	w.mu.Lock()
	w.segmap[segIdx] = streamIdx
	w.mu.Unlock()
}

func (w *streamWorker) advanceDownloadCursor(dlSegment int) {
	w.mu.Lock()
	if dlSegment == w.segment {
		w.segment++
	}
	w.mu.Unlock()
}

// awaitDownloadSlot blocks until there is a segment to download, the
// worker is interrupted, or the playback cursor has fallen far enough
// behind that the worker should pause (VOD runs ahead by at most
// readAhead segments; live runs ahead without bound since the live edge
// itself bounds how far ahead the download can ever get). It returns the
// rendition active at the moment the slot was granted, so the caller can
// record the download map entry against the rendition that was actually
// current, even if maybeAdapt mutates streamIdx concurrently afterward.
func (w *streamWorker) awaitDownloadSlot() (stream *Stream, streamIdx, segIdx int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		stream := w.set.At(w.streamIdx)
		if stream == nil {
			return nil, 0, 0
		}
		_, playSeg := w.cursor.position()
		dlSeg := w.segment
		atEnd := dlSeg >= stream.NumSegments()

		shouldWait := (!stream.Live && (playSeg < dlSeg-readAhead)) || atEnd
		if !shouldWait || w.interrupted.Load() {
			return stream, w.streamIdx, dlSeg
		}

		w.cond.Wait()

		if w.interrupted.Load() {
			return nil, 0, 0
		}
		// new segments may have arrived via PlaylistWorker.Wakeup — loop
		// to re-evaluate rather than returning stale atEnd state.
	}
}

// maybeAdapt runs BandwidthAdaptation: among renditions sharing
// programID, pick the highest bitrate that does not exceed the measured
// bandwidth, and switch the active rendition if it differs from the
// current one.
func (w *streamWorker) maybeAdapt(programID int32, bandwidth uint64) {
	candidates := w.set.CandidatesFor(programID)
	best := -1
	bestBitrate := uint64(0)
	for i, s := range candidates {
		if bandwidth >= s.BitrateBPS && s.BitrateBPS >= bestBitrate {
			bestBitrate = s.BitrateBPS
			best = i
		}
	}
	if best < 0 {
		return
	}
	newIdx := w.set.IndexOf(candidates[best])

	w.mu.Lock()
	defer w.mu.Unlock()
	if newIdx >= 0 && newIdx != w.streamIdx {
		w.rt.logger.Info("adapting rendition", "bandwidth", bandwidth, "from", w.streamIdx, "to", newIdx)
		w.streamIdx = newIdx
	}
}
