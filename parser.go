package hlsbuf

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

// Parser decodes a fetched manifest into either a master playlist's
// renditions or a single media playlist's segments, resolving relative
// URIs against the manifest's own URL the way grafov/m3u8 leaves callers
// to do themselves.
type Parser interface {
	ParseMaster(data []byte, manifestURL string) (*StreamSet, error)
	ParseMedia(data []byte, manifestURL string, into *Stream) error
}

// m3u8Parser is the default Parser, built over github.com/grafov/m3u8 —
// the same manifest decoder the teacher uses for its own M3U8 segment
// reader.
type m3u8Parser struct{}

func newM3U8Parser() *m3u8Parser {
	return &m3u8Parser{}
}

func (p *m3u8Parser) ParseMaster(data []byte, manifestURL string) (*StreamSet, error) {
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotHls, err)
	}

	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid manifest URL: %v", ErrManifestFetchFailed, err)
	}

	set := newStreamSet()

	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		for i, variant := range master.Variants {
			if variant == nil {
				continue
			}
			resolved, err := base.Parse(variant.URI)
			if err != nil {
				continue
			}
			programID := int32(variant.ProgramId)
			if programID == 0 {
				programID = 1
			}
			s := newStream(programID, uint64(variant.Bandwidth))
			s.URL = resolved.String()
			set.Add(s)
			_ = i
		}
		if set.Count() == 0 {
			return nil, fmt.Errorf("%w: master playlist has no variants", ErrManifestFetchFailed)
		}
	case m3u8.MEDIA:
		// A "master" URL that is actually a single media playlist: treat
		// it as the sole rendition of program 1, matching the original
		// HLSRingBuffer's handling of a bare media playlist URL.
		media := playlist.(*m3u8.MediaPlaylist)
		s := newStream(1, 0)
		s.URL = manifestURL
		if err := populateMediaPlaylist(s, media, base); err != nil {
			return nil, err
		}
		set.Add(s)
	default:
		return nil, fmt.Errorf("%w: unsupported playlist type", ErrManifestFetchFailed)
	}

	return set, nil
}

func (p *m3u8Parser) ParseMedia(data []byte, manifestURL string, into *Stream) error {
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlaylistRefreshFailed, err)
	}
	if listType != m3u8.MEDIA {
		return fmt.Errorf("%w: expected media playlist", ErrPlaylistRefreshFailed)
	}
	base, err := url.Parse(manifestURL)
	if err != nil {
		return fmt.Errorf("%w: invalid manifest URL: %v", ErrPlaylistRefreshFailed, err)
	}
	return populateMediaPlaylist(into, playlist.(*m3u8.MediaPlaylist), base)
}

// populateMediaPlaylist fills in the rendition's target duration, live
// state, and segment list from a decoded media playlist, resolving each
// segment URI and carrying forward the most recent EXT-X-KEY.
func populateMediaPlaylist(s *Stream, media *m3u8.MediaPlaylist, base *url.URL) error {
	s.TargetDurationMS = int64(media.TargetDuration * 1000)
	s.Live = !media.Closed
	s.Cache = media.Closed
	s.StartSequence = int64(media.SeqNo)

	var currentKey *m3u8.Key
	seq := s.StartSequence
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if seg.Key != nil {
			currentKey = seg.Key
		}
		resolved, err := base.Parse(seg.URI)
		if err != nil {
			seq++
			continue
		}
		out := &Segment{
			SequenceID: seq,
			URL:        resolved.String(),
			DurationMS: int64(seg.Duration * 1000),
		}
		if currentKey != nil && strings.EqualFold(currentKey.Method, "AES-128") && currentKey.URI != "" {
			keyURL, err := base.Parse(currentKey.URI)
			if err == nil {
				out.HasKey = true
				out.KeyURL = keyURL.String()
				out.IV = parseIV(currentKey.IV, seq)
			}
		}
		s.AppendSegment(out)
		seq++
	}
	return nil
}

// parseIV decodes an EXT-X-KEY IV attribute ("0x" + 32 hex digits). When
// absent, HLS defines the IV as the segment's media sequence number in
// big-endian 16-byte form.
func parseIV(raw string, sequenceID int64) [16]byte {
	var iv [16]byte
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if raw != "" {
		for i := 0; i < 16 && i*2+1 < len(raw); i++ {
			b, err := strconv.ParseUint(raw[i*2:i*2+2], 16, 8)
			if err != nil {
				break
			}
			iv[i] = byte(b)
		}
		return iv
	}
	for i := 0; i < 8; i++ {
		iv[15-i] = byte(sequenceID >> (8 * i))
	}
	return iv
}

// IsHTTPLiveStreaming reports whether data looks like an M3U8 manifest,
// falling back to the URL when the body is ambiguous — the same two-signal
// check the original ring buffer uses to decide whether a URL should be
// opened through the HLS path at all. The URL check accepts either a
// ".m3u8" path suffix or an "m3u8" query string, since some origins serve
// playlists from an extensionless path with the format named as a query
// parameter instead (e.g. "/stream?type=m3u8").
func IsHTTPLiveStreaming(data []byte, rawURL string) bool {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("#EXTM3U")) {
		return true
	}

	lower := strings.ToLower(rawURL)
	if strings.HasSuffix(lower, ".m3u8") {
		return true
	}
	if u, err := url.Parse(rawURL); err == nil {
		return strings.Contains(strings.ToLower(u.RawQuery), "m3u8")
	}
	return strings.Contains(lower, "m3u8")
}
