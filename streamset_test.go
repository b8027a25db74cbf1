package hlsbuf

import "testing"

func buildStream(programID int32, bitrate uint64, startSeq int64, numSegs int) *Stream {
	s := newStream(programID, bitrate)
	s.StartSequence = startSeq
	for i := 0; i < numSegs; i++ {
		s.AppendSegment(&Segment{SequenceID: startSeq + int64(i), DurationMS: 4000})
	}
	return s
}

func TestStreamSetSortByBitrateDesc(t *testing.T) {
	set := newStreamSet()
	set.Add(buildStream(1, 500_000, 0, 1))
	set.Add(buildStream(1, 2_000_000, 0, 1))
	set.Add(buildStream(1, 1_000_000, 0, 1))

	set.SortByBitrateDesc()

	want := []uint64{2_000_000, 1_000_000, 500_000}
	for i, bw := range want {
		if got := set.At(i).BitrateBPS; got != bw {
			t.Fatalf("At(%d).BitrateBPS = %d, want %d", i, got, bw)
		}
	}
}

func TestStreamSetSanitiseAlignsStartSequence(t *testing.T) {
	set := newStreamSet()
	set.Add(buildStream(1, 500_000, 10, 5))  // starts earlier, has extras to trim
	set.Add(buildStream(1, 1_000_000, 12, 3)) // the later, authoritative start

	set.Sanitise()

	if set.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", set.Count())
	}
	for i := 0; i < set.Count(); i++ {
		s := set.At(i)
		if s.StartSequence != 12 {
			t.Fatalf("stream %d StartSequence = %d, want 12", i, s.StartSequence)
		}
		if s.GetSegment(0).SequenceID != 12 {
			t.Fatalf("stream %d first segment sequence = %d, want 12", i, s.GetSegment(0).SequenceID)
		}
	}
}

func TestStreamSetSanitiseDropsEmptyRenditions(t *testing.T) {
	set := newStreamSet()
	set.Add(buildStream(1, 500_000, 0, 2))  // will be emptied by alignment
	set.Add(buildStream(1, 1_000_000, 5, 2))

	set.Sanitise()

	if set.Count() != 1 {
		t.Fatalf("Count() after Sanitise = %d, want 1 (empty rendition dropped)", set.Count())
	}
	if set.At(0).BitrateBPS != 1_000_000 {
		t.Fatalf("surviving rendition bitrate = %d, want 1000000", set.At(0).BitrateBPS)
	}
}

func TestStreamSetCandidatesForProgramID(t *testing.T) {
	set := newStreamSet()
	a := buildStream(1, 500_000, 0, 1)
	b := buildStream(1, 1_000_000, 0, 1)
	c := buildStream(2, 750_000, 0, 1)
	set.Add(a)
	set.Add(b)
	set.Add(c)

	got := set.CandidatesFor(1)
	if len(got) != 2 {
		t.Fatalf("CandidatesFor(1) returned %d streams, want 2", len(got))
	}

	ids := set.ProgramIDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("ProgramIDs() = %v, want [1 2]", ids)
	}
}

func TestStreamSetIndexOf(t *testing.T) {
	set := newStreamSet()
	a := buildStream(1, 500_000, 0, 1)
	b := buildStream(1, 1_000_000, 0, 1)
	set.Add(a)
	set.Add(b)

	if idx := set.IndexOf(b); idx != 1 {
		t.Fatalf("IndexOf(b) = %d, want 1", idx)
	}
	if idx := set.IndexOf(&Stream{}); idx != -1 {
		t.Fatalf("IndexOf(unknown) = %d, want -1", idx)
	}
}
