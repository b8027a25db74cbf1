package hlsbuf

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// playlistWorker periodically refetches the active rendition's media
// playlist and merges newly announced segments into the live StreamSet,
// waking streamWorker whenever it does. It mirrors the original
// HLSRingBuffer's PlaylistWorker thread: a wait/backoff schedule driven by
// the rendition's own TargetDuration rather than a fixed poll interval,
// and an escalating retry counter that eventually marks the buffer fatally
// broken rather than polling forever against a dead stream.
type playlistWorker struct {
	set    *StreamSet
	parser Parser
	rt     *runtime
	sw     *streamWorker

	mu          sync.Mutex
	cond        *sync.Cond
	interrupted atomic.Bool
	wokenUp     bool
	nextWaitMS  int64

	fatal atomic.Bool
	done  chan struct{}
}

func newPlaylistWorker(rt *runtime, set *StreamSet, parser Parser, sw *streamWorker) *playlistWorker {
	w := &playlistWorker{
		set:        set,
		parser:     parser,
		rt:         rt,
		sw:         sw,
		nextWaitMS: 100,
		done:       make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *playlistWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *playlistWorker) Cancel() {
	w.interrupted.Store(true)
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
}

// Wakeup forces an immediate refresh, skipping the remainder of the
// current backoff wait.
func (w *playlistWorker) Wakeup() {
	w.mu.Lock()
	w.wokenUp = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Fatal reports whether the worker gave up after playlistFailure
// consecutive refresh failures and stopped refreshing. HlsBuffer does not
// consult it: Read, Seek and IsOpen behave the same whether it is set or
// not.
func (w *playlistWorker) Fatal() bool {
	return w.fatal.Load()
}

func (w *playlistWorker) run(ctx context.Context) {
	defer close(w.done)

	retries := 0
	wait := 0.5
	factor := 2.0
	if s := w.set.At(w.sw.ActiveStreamIndex()); s != nil && s.Live {
		factor = 1.0
	}

	for !w.interrupted.Load() {
		w.mu.Lock()
		if !w.wokenUp {
			waitMS := w.nextWaitMS
			if waitMS < 100 {
				waitMS = 100
			}
			w.waitTimeout(time.Duration(waitMS) * time.Millisecond)
		}
		w.wokenUp = false
		w.mu.Unlock()

		if w.interrupted.Load() {
			return
		}

		stream := w.set.At(w.sw.ActiveStreamIndex())
		if stream == nil {
			w.rt.logger.Error("unable to retrieve current rendition, aborting live playback")
			w.fatal.Store(true)
			return
		}

		err := w.reload(ctx, stream)
		switch {
		case err == nil:
			w.sw.Wakeup()
			retries = 0
			wait = 0.5
		case errors.Is(err, errNoPlaylistChange):
			// a refresh that finds no new segments is a healthy cycle, not
			// a failure — the original ring buffer's UpdatePlaylist returns
			// RET_OK in this case too, so it must not count toward
			// PLAYLIST_FAILURE or this worker would eventually kill a
			// perfectly live stream that simply hasn't grown yet.
			retries = 0
			wait = 0.5
		default:
			retries++
			switch {
			case retries == 1:
				wait = 0.5
			case retries == 2:
				wait = 1
			default:
				wait = 2
			}

			if retries >= playlistFailure {
				w.rt.logger.Error("reloading the playlist failed repeatedly, aborting", "attempts", retries)
				w.fatal.Store(true)
				return
			}

			if w.sw.CurrentPlaybackBuffer() < 3 {
				if retries == 1 {
					continue // restart immediately on first failure
				}
				wait = 0.5
			}
		}

		target := time.Duration(stream.TargetDurationMS) * time.Millisecond
		w.nextWaitMS = int64(target.Seconds() * wait * factor * 1000)
	}
}

// waitTimeout blocks on the cond for at most d, or until Wakeup/Cancel
// broadcasts. Must be called with w.mu held.
func (w *playlistWorker) waitTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	defer timer.Stop()
	deadline := time.Now().Add(d)
	for !w.wokenUp && !w.interrupted.Load() && time.Now().Before(deadline) {
		w.cond.Wait()
	}
}

// reload fetches the active rendition's media playlist into a standalone
// Stream, then merges only the segments and metadata that changed into
// the live one. Parsing into a scratch Stream rather than the live one
// directly means a malformed or truncated response never partially
// clobbers segments StreamWorker may be downloading concurrently.
func (w *playlistWorker) reload(ctx context.Context, stream *Stream) error {
	data, err := stream.FetchManifest(ctx)
	if err != nil {
		return err
	}
	scratch := newStream(stream.ProgramID, stream.BitrateBPS)
	if err := w.parser.ParseMedia(data, stream.URL, scratch); err != nil {
		return err
	}
	added := stream.MergeNewSegments(scratch, w.rt.logger)
	stream.UpdateWith(scratch)
	if added == 0 {
		return errNoPlaylistChange
	}
	return nil
}
