package hlsbuf

import (
	"context"
	"net/http"
	"testing"
	"time"
)

// fakeDownloader returns canned bytes per URL, with an optional artificial
// delay to make bandwidth measurements deterministic in tests.
type fakeDownloader struct {
	responses map[string][]byte
	errs      map[string]error
	delay     time.Duration
	calls     []string
}

func (f *fakeDownloader) Get(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	f.calls = append(f.calls, url)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	return f.responses[url], nil
}

func TestStreamAppendFindGetRemoveSegment(t *testing.T) {
	s := newStream(1, 500_000)
	s.AppendSegment(&Segment{SequenceID: 10})
	s.AppendSegment(&Segment{SequenceID: 11})
	s.AppendSegment(&Segment{SequenceID: 12})

	if s.NumSegments() != 3 {
		t.Fatalf("NumSegments() = %d, want 3", s.NumSegments())
	}
	if seg := s.FindSegment(11); seg == nil || seg.SequenceID != 11 {
		t.Fatalf("FindSegment(11) = %v, want sequence 11", seg)
	}
	if s.FindSegment(999) != nil {
		t.Fatal("FindSegment(999) should be nil")
	}

	s.RemoveSegment(0)
	if s.NumSegments() != 2 {
		t.Fatalf("NumSegments() after remove = %d, want 2", s.NumSegments())
	}
	if got := s.GetSegment(0); got.SequenceID != 11 {
		t.Fatalf("GetSegment(0).SequenceID = %d, want 11", got.SequenceID)
	}
}

func TestStreamDuration(t *testing.T) {
	s := newStream(1, 0)
	s.AppendSegment(&Segment{DurationMS: 4000})
	s.AppendSegment(&Segment{DurationMS: 6000})

	if got := s.Duration(); got != 10*time.Second {
		t.Fatalf("Duration() = %v, want 10s", got)
	}
}

func TestStreamUpdateWithDoesNotTouchSegments(t *testing.T) {
	s := newStream(1, 0)
	s.AppendSegment(&Segment{SequenceID: 1})

	other := newStream(1, 0)
	other.TargetDurationMS = 6000
	other.Live = true
	other.Cache = false

	s.UpdateWith(other)

	if s.TargetDurationMS != 6000 || !s.Live {
		t.Fatalf("UpdateWith did not copy metadata: %+v", s)
	}
	if s.NumSegments() != 1 {
		t.Fatalf("UpdateWith must not touch segments, got %d", s.NumSegments())
	}
}

func TestStreamMergeNewSegmentsOnlyAddsBeyondLastKnown(t *testing.T) {
	s := newStream(1, 0)
	s.AppendSegment(&Segment{SequenceID: 5})
	s.AppendSegment(&Segment{SequenceID: 6})

	refreshed := newStream(1, 0)
	refreshed.AppendSegment(&Segment{SequenceID: 5})
	refreshed.AppendSegment(&Segment{SequenceID: 6})
	refreshed.AppendSegment(&Segment{SequenceID: 7})
	refreshed.AppendSegment(&Segment{SequenceID: 8})

	added := s.MergeNewSegments(refreshed, nil)
	if added != 2 {
		t.Fatalf("MergeNewSegments returned %d, want 2", added)
	}
	if s.NumSegments() != 4 {
		t.Fatalf("NumSegments() after merge = %d, want 4", s.NumSegments())
	}
	if s.GetSegment(3).SequenceID != 8 {
		t.Fatalf("last segment sequence = %d, want 8", s.GetSegment(3).SequenceID)
	}
}

func TestStreamMergeNewSegmentsOverwritesChangedSegment(t *testing.T) {
	s := newStream(1, 0)
	s.AppendSegment(&Segment{SequenceID: 5, URL: "http://example.test/old5.ts", DurationMS: 6000})
	s.AppendSegment(&Segment{SequenceID: 6, URL: "http://example.test/old6.ts", DurationMS: 6000})

	refreshed := newStream(1, 0)
	refreshed.AppendSegment(&Segment{SequenceID: 5, URL: "http://example.test/new5.ts", DurationMS: 6000})
	refreshed.AppendSegment(&Segment{SequenceID: 6, URL: "http://example.test/old6.ts", DurationMS: 6000})

	added := s.MergeNewSegments(refreshed, nil)
	if added != 0 {
		t.Fatalf("MergeNewSegments returned %d, want 0 (no new sequence ids)", added)
	}
	if got := s.FindSegment(5).URL; got != "http://example.test/new5.ts" {
		t.Fatalf("segment 5 URL = %q, want overwritten URL", got)
	}
	if got := s.FindSegment(6).URL; got != "http://example.test/old6.ts" {
		t.Fatalf("segment 6 URL = %q, want unchanged", got)
	}
}

func TestStreamMergeNewSegmentsLogsGapButContinues(t *testing.T) {
	s := newStream(1, 0)
	s.AppendSegment(&Segment{SequenceID: 5})

	refreshed := newStream(1, 0)
	refreshed.AppendSegment(&Segment{SequenceID: 5})
	refreshed.AppendSegment(&Segment{SequenceID: 8}) // gap: 6, 7 missing

	added := s.MergeNewSegments(refreshed, nil)
	if added != 1 {
		t.Fatalf("MergeNewSegments returned %d, want 1", added)
	}
	if s.NumSegments() != 2 {
		t.Fatalf("NumSegments() after merge = %d, want 2", s.NumSegments())
	}
	if s.GetSegment(1).SequenceID != 8 {
		t.Fatalf("appended segment sequence = %d, want 8", s.GetSegment(1).SequenceID)
	}
}

func TestStreamDownloadSegmentMeasuresBandwidth(t *testing.T) {
	s := newStream(1, 1_000_000)
	s.AppendSegment(&Segment{SequenceID: 1, URL: "http://example.test/seg1.ts"})
	data := make([]byte, 1024)
	fd := &fakeDownloader{responses: map[string][]byte{"http://example.test/seg1.ts": data}}
	s.bindClient(fd, nil, nil)

	var bw uint64
	if err := s.DownloadSegment(context.Background(), 0, &bw); err != nil {
		t.Fatalf("DownloadSegment error: %v", err)
	}
	if bw == 0 {
		t.Fatal("expected a non-zero bandwidth measurement")
	}
	if s.GetSegment(0).Size() != len(data) {
		t.Fatalf("segment size = %d, want %d", s.GetSegment(0).Size(), len(data))
	}
}

func TestStreamDownloadSegmentDecrypts(t *testing.T) {
	s := newStream(1, 0)
	seg := &Segment{SequenceID: 1, URL: "http://example.test/seg1.ts", HasKey: true, KeyURL: "http://example.test/key"}
	s.AppendSegment(seg)

	key := []byte("0123456789abcdef")
	plaintext := []byte("stream payload!!")
	ciphertext := aesEncryptForTest(t, key, seg.IV, plaintext)

	fd := &fakeDownloader{responses: map[string][]byte{
		"http://example.test/seg1.ts": ciphertext,
		"http://example.test/key":     key,
	}}
	s.bindClient(fd, newAESDecryptor(fd), nil)

	var bw uint64
	if err := s.DownloadSegment(context.Background(), 0, &bw); err != nil {
		t.Fatalf("DownloadSegment error: %v", err)
	}
	got := make([]byte, seg.Size())
	seg.Read(got, len(got))
	if string(got) != string(plaintext) {
		t.Fatalf("decrypted payload = %q, want %q", got, plaintext)
	}
}
