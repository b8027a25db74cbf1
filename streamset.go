package hlsbuf

import "sort"

// StreamSet is the collection of renditions discovered in a master
// playlist, grouped implicitly by ProgramID. HlsBuffer holds exactly one
// StreamSet for the lifetime of an Open call; PlaylistWorker mutates it in
// place as live manifests are refreshed.
type StreamSet struct {
	streams []*Stream
}

func newStreamSet() *StreamSet {
	return &StreamSet{}
}

// Add appends a rendition to the set.
func (ss *StreamSet) Add(s *Stream) {
	ss.streams = append(ss.streams, s)
}

// Count returns the number of renditions in the set.
func (ss *StreamSet) Count() int {
	return len(ss.streams)
}

// At returns the rendition at index, or nil if out of range. StreamWorker
// and PlaylistWorker address renditions by index rather than pointer so
// that a sanitised/resorted StreamSet never leaves a stale reference alive.
func (ss *StreamSet) At(index int) *Stream {
	if index < 0 || index >= len(ss.streams) {
		return nil
	}
	return ss.streams[index]
}

// IndexOf returns the index of stream, or -1 if it is not a member.
func (ss *StreamSet) IndexOf(stream *Stream) int {
	for i, s := range ss.streams {
		if s == stream {
			return i
		}
	}
	return -1
}

// SortByBitrateDesc orders renditions highest bitrate first, so that Open
// starts playback on At(0), the highest-bitrate rendition.
func (ss *StreamSet) SortByBitrateDesc() {
	sort.SliceStable(ss.streams, func(i, j int) bool {
		return ss.streams[i].BitrateBPS > ss.streams[j].BitrateBPS
	})
}

// Sanitise aligns every rendition sharing a ProgramID onto a common start
// sequence number — the highest StartSequence observed for that program —
// and drops any rendition left with zero segments after alignment. This
// mirrors the original HLSRingBuffer's playlist sanity pass: variant
// playlists for the same program can begin at different media sequence
// numbers depending on when each was first fetched, and segment selection
// assumes they are aligned.
func (ss *StreamSet) Sanitise() {
	maxStart := make(map[int32]int64)
	for _, s := range ss.streams {
		if cur, ok := maxStart[s.ProgramID]; !ok || s.StartSequence > cur {
			maxStart[s.ProgramID] = s.StartSequence
		}
	}

	kept := ss.streams[:0]
	for _, s := range ss.streams {
		target := maxStart[s.ProgramID]
		for s.NumSegments() > 0 && s.GetSegment(0).SequenceID < target {
			s.RemoveSegment(0)
		}
		if s.NumSegments() > 0 {
			s.StartSequence = target
			kept = append(kept, s)
		}
	}
	ss.streams = kept
}

// ProgramIDs returns the distinct program ids present in the set, in first
// seen order.
func (ss *StreamSet) ProgramIDs() []int32 {
	var ids []int32
	seen := make(map[int32]bool)
	for _, s := range ss.streams {
		if !seen[s.ProgramID] {
			seen[s.ProgramID] = true
			ids = append(ids, s.ProgramID)
		}
	}
	return ids
}

// CandidatesFor returns the renditions sharing programID, in the set's
// current order (callers typically call SortByBitrateDesc first).
func (ss *StreamSet) CandidatesFor(programID int32) []*Stream {
	var out []*Stream
	for _, s := range ss.streams {
		if s.ProgramID == programID {
			out = append(out, s)
		}
	}
	return out
}
