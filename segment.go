package hlsbuf

import "sync"

// Segment holds the in-memory bytes of one media chunk plus a read cursor.
// played <= size always; once played == size the caller (HlsBuffer.Read) is
// responsible for Clear-ing (live/non-cached) or Reset-ing (VOD cached) the
// segment before the playback cursor advances past it.
type Segment struct {
	mu sync.Mutex

	SequenceID int64
	URL        string
	DurationMS int64

	// KeyURL/IV are populated when the segment's EXT-X-KEY tag indicates
	// AES-128 encryption. Decryption happens once at download completion,
	// not per Read — see Stream.DownloadSegment.
	KeyURL string
	IV     [16]byte
	HasKey bool

	bytes  []byte
	played int
}

// Size returns the total number of bytes currently held (0 until
// downloaded, or after Clear).
func (s *Segment) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bytes)
}

// SizePlayed returns the current read cursor position.
func (s *Segment) SizePlayed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

// Duration returns the segment's declared duration.
func (s *Segment) Duration() int64 {
	return s.DurationMS
}

// setData installs downloaded (and, if applicable, already-decrypted)
// bytes and resets the read cursor. Called once by Stream.DownloadSegment.
func (s *Segment) setData(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytes = data
	s.played = 0
}

// Read copies min(length, size-played) bytes from the segment starting at
// the current cursor into dst, advancing the cursor. dst may be nil, in
// which case the cursor advances without copying — used by Seek to
// position within a segment without materialising the skipped bytes.
func (s *Segment) Read(dst []byte, length int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := len(s.bytes) - s.played
	if length > remaining {
		length = remaining
	}
	if length <= 0 {
		return 0
	}
	if dst != nil {
		copy(dst, s.bytes[s.played:s.played+length])
	}
	s.played += length
	return length
}

// Reset rewinds the read cursor to the start, keeping the bytes (VOD,
// cache=true renditions replay already-downloaded segments).
func (s *Segment) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = 0
}

// Clear frees the segment's bytes and resets the cursor (live, or
// non-cached renditions — the bytes are not needed again).
func (s *Segment) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytes = nil
	s.played = 0
}
