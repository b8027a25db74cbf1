package hlsbuf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newVODServer serves a single-rendition VOD playlist with numSegs segments
// of segBody each, at /master.m3u8 and /segN.ts. The master URL is itself a
// bare media playlist (the degenerate single-rendition case), so its
// rendition carries no explicit bitrate.
func newVODServer(t *testing.T, numSegs int, segBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:0\n")
		for i := 0; i < numSegs; i++ {
			fmt.Fprintf(w, "#EXTINF:2.000,\nseg%d.ts\n", i)
		}
		fmt.Fprint(w, "#EXT-X-ENDLIST\n")
	})
	for i := 0; i < numSegs; i++ {
		i := i
		mux.HandleFunc(fmt.Sprintf("/seg%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, segBody)
		})
	}
	return httptest.NewServer(mux)
}

// newBitrateVODServer serves a real master playlist with a single
// EXT-X-STREAM-INF variant, so the resulting rendition carries an explicit
// bitrate — required by anything exercising Seek's byte/time mapping or
// SizeMedia's estimate, both of which divide by BitrateBPS.
func newBitrateVODServer(t *testing.T, numSegs int, segBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=500000\nmedia.m3u8\n")
	})
	mux.HandleFunc("/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:0\n")
		for i := 0; i < numSegs; i++ {
			fmt.Fprintf(w, "#EXTINF:2.000,\nseg%d.ts\n", i)
		}
		fmt.Fprint(w, "#EXT-X-ENDLIST\n")
	})
	for i := 0; i < numSegs; i++ {
		i := i
		mux.HandleFunc(fmt.Sprintf("/seg%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, segBody)
		})
	}
	return httptest.NewServer(mux)
}

func TestOpenVODReadsAllSegmentBytes(t *testing.T) {
	srv := newVODServer(t, 3, "0123456789")
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	buf, err := Open(ctx, srv.URL+"/master.m3u8", Option{Silent: true, NoCache: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer buf.Close()

	got, err := io.ReadAll(buf)
	if err != nil {
		t.Fatalf("ReadAll error: %v", err)
	}
	want := "012345678901234567890123456789"
	if string(got) != want {
		t.Fatalf("read bytes = %q, want %q", got, want)
	}
}

func TestOpenRejectsNonHLSResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not a playlist</html>")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Open(ctx, srv.URL+"/video.mp4", Option{Silent: true, NoCache: true})
	if err == nil {
		t.Fatal("expected Open to reject a non-HLS response")
	}
}

func TestSeekRepositionsReadOffset(t *testing.T) {
	srv := newBitrateVODServer(t, 4, "AAAABBBB") // 8 bytes/segment
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	buf, err := Open(ctx, srv.URL+"/master.m3u8", Option{Silent: true, NoCache: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer buf.Close()

	if _, err := buf.Seek(16); err != nil {
		t.Fatalf("Seek error: %v", err)
	}

	p := make([]byte, 8)
	n, err := buf.Read(p)
	if err != nil {
		t.Fatalf("Read after Seek error: %v", err)
	}
	if n == 0 {
		t.Fatal("Read after Seek returned 0 bytes")
	}
	if string(p[:n]) != "AAAABBBB"[:n] {
		t.Fatalf("Read after Seek(16) = %q, want prefix of segment 0's body (16 bytes at 500 kbps is 0.256 ms in)", p[:n])
	}
}

func TestCloseStopsFurtherReads(t *testing.T) {
	srv := newVODServer(t, 2, "xx")
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	buf, err := Open(ctx, srv.URL+"/master.m3u8", Option{Silent: true, NoCache: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := buf.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if buf.IsOpen() {
		t.Fatal("IsOpen() true after Close")
	}

	p := make([]byte, 4)
	_, err = buf.Read(p)
	if err != ErrClosed {
		t.Fatalf("Read after Close error = %v, want ErrClosed", err)
	}
}

func TestSizeMediaEstimatesFromDurationAndBitrate(t *testing.T) {
	srv := newBitrateVODServer(t, 5, "segmentpayload")
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	buf, err := Open(ctx, srv.URL+"/master.m3u8", Option{Silent: true, NoCache: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer buf.Close()

	if got := buf.SizeMedia(); got < 0 {
		t.Fatalf("SizeMedia() = %d, want a non-negative estimate", got)
	}
}
