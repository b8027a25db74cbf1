package hlsbuf

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Stream is one bitrate rendition of a program: an ordered, gap-tolerant
// list of Segments plus the manifest metadata needed to refresh and adapt
// it. Segments are mutated only while Stream's lock is held, except during
// the HTTP I/O of DownloadSegment, which holds no stream-wide lock while a
// fetch is in flight (spec requirement — never call the Downloader with a
// lock held).
type Stream struct {
	ProgramID        int32
	BitrateBPS       uint64
	URL              string
	TargetDurationMS int64
	Live             bool
	Cache            bool
	StartSequence    int64

	mu       sync.RWMutex
	segments []*Segment

	downloader Downloader
	decryptor  Decryptor
	headers    http.Header
}

func newStream(programID int32, bitrate uint64) *Stream {
	return &Stream{ProgramID: programID, BitrateBPS: bitrate}
}

// bindClient attaches the Downloader/Decryptor/headers a Stream uses for
// its own segment and manifest fetches. Called once after parsing.
func (s *Stream) bindClient(downloader Downloader, decryptor Decryptor, headers http.Header) {
	s.downloader = downloader
	s.decryptor = decryptor
	s.headers = headers
}

// AppendSegment adds a segment to the end of the rendition's segment list.
func (s *Stream) AppendSegment(seg *Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, seg)
}

// RemoveSegment removes the segment at index, shifting later segments down.
func (s *Stream) RemoveSegment(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.segments) {
		return
	}
	s.segments = append(s.segments[:index], s.segments[index+1:]...)
}

// FindSegment looks up a segment by its sequence id.
func (s *Stream) FindSegment(sequenceID int64) *Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findSegmentLocked(sequenceID)
}

// findSegmentLocked is FindSegment's body for callers already holding s.mu.
func (s *Stream) findSegmentLocked(sequenceID int64) *Segment {
	for _, seg := range s.segments {
		if seg.SequenceID == sequenceID {
			return seg
		}
	}
	return nil
}

// GetSegment returns the segment at index, or nil if out of range.
func (s *Stream) GetSegment(index int) *Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.segments) {
		return nil
	}
	return s.segments[index]
}

// NumSegments returns the current segment count.
func (s *Stream) NumSegments() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

// Duration returns the sum of every segment's declared duration.
func (s *Stream) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, seg := range s.segments {
		total += seg.DurationMS
	}
	return time.Duration(total) * time.Millisecond
}

// UpdateWith copies manifest metadata (but never segments) from other into
// s — target duration, live/end-list state, cache policy.
func (s *Stream) UpdateWith(other *Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TargetDurationMS = other.TargetDurationMS
	s.Live = other.Live
	s.Cache = other.Cache
}

// FetchManifest re-downloads this rendition's own manifest URL, used by
// PlaylistWorker on each refresh cycle.
func (s *Stream) FetchManifest(ctx context.Context) ([]byte, error) {
	return s.downloader.Get(ctx, s.URL, s.headers)
}

// MergeNewSegments merges a freshly parsed playlist (other) into this live
// rendition (s), mirroring the original ring buffer's UpdatePlaylist: every
// segment in other is looked up by sequence id. If s already holds it, the
// two are compared on (duration, URL) and s's copy is overwritten in place
// when they differ — a CDN can rewrite a still-unplayed segment's URL or
// rounded duration between refreshes — otherwise it is left untouched so an
// in-flight or already-downloaded segment is never disturbed. If s does not
// hold it, it is appended; a gap between the new segment's sequence id and
// the last one appended is logged but does not stop the merge, since HLS
// playlists are allowed to skip segments in a way that's only visible after
// the fact. other is always a standalone Stream decoded from this refresh
// cycle's response (see playlistWorker.reload), so concurrent downloads
// against s's existing segments are never disturbed mid-merge.
func (s *Stream) MergeNewSegments(other *Stream, logger *slog.Logger) int {
	other.mu.RLock()
	incoming := make([]*Segment, len(other.segments))
	copy(incoming, other.segments)
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	lastSeq := int64(-1)
	if n := len(s.segments); n > 0 {
		lastSeq = s.segments[n-1].SequenceID
	}

	added := 0
	for _, seg := range incoming {
		if existing := s.findSegmentLocked(seg.SequenceID); existing != nil {
			if existing.DurationMS != seg.DurationMS || existing.URL != seg.URL {
				if logger != nil {
					logger.Warn("playlist segment changed across refresh",
						"sequence", seg.SequenceID,
						"old_url", existing.URL, "new_url", seg.URL,
						"old_duration_ms", existing.DurationMS, "new_duration_ms", seg.DurationMS)
				}
				existing.URL = seg.URL
				existing.DurationMS = seg.DurationMS
				existing.HasKey = seg.HasKey
				existing.KeyURL = seg.KeyURL
				existing.IV = seg.IV
			}
			continue
		}

		if lastSeq >= 0 && seg.SequenceID != lastSeq+1 {
			if logger != nil {
				logger.Error("gap in playlist sequence numbers", "expected", lastSeq+1, "got", seg.SequenceID)
			}
		}
		s.segments = append(s.segments, seg)
		lastSeq = seg.SequenceID
		added++
	}
	return added
}

// DownloadSegment fetches the URL for segments[index] into the segment's
// byte buffer, decrypting in place if an AES key is bound, and reports the
// measured bandwidth in bits per second. It holds no stream-wide lock
// during the network I/O.
func (s *Stream) DownloadSegment(ctx context.Context, index int, bandwidthOut *uint64) error {
	seg := s.GetSegment(index)
	if seg == nil {
		return ErrIoError
	}

	start := time.Now()
	data, err := s.downloader.Get(ctx, seg.URL, s.headers)
	if err != nil {
		return err
	}
	if seg.HasKey {
		data, err = s.decryptor.Decrypt(ctx, data, seg.KeyURL, seg.IV)
		if err != nil {
			return err
		}
	}
	elapsed := time.Since(start).Seconds()

	seg.setData(data)

	if bandwidthOut != nil {
		if elapsed > 0 {
			*bandwidthOut = uint64(float64(len(data)*8) / elapsed)
		} else {
			*bandwidthOut = s.BitrateBPS
		}
	}
	return nil
}
