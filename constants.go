package hlsbuf

import "time"

// Protocol timing constants. These are fixed by the HLS adaptive buffer
// design, not exposed through Option.
const (
	// minBuffer is the number of segments to prefetch before playback starts.
	minBuffer = 2

	// readAhead is the number of segments the StreamWorker keeps downloaded
	// ahead of playback.
	readAhead = 6

	// playlistFailure is the number of consecutive live-playlist refresh
	// failures after which playback aborts.
	playlistFailure = 6

	// prefetchAttemptCap bounds how many signal waits Open will sit through
	// while prefetching before giving up.
	prefetchAttemptCap = 20

	// waitTimeout sets the polling interval of HlsBuffer's waits: prefetch,
	// Read and Seek sleep waitTimeout/2 between checks of their condition
	// and of the interrupt flag.
	waitTimeout = time.Second

	// segmentRetryBackoff is the wait before the third download attempt of
	// a segment (the second follows the first failure immediately); the
	// third failure drops the segment entirely.
	segmentRetryBackoff = 500 * time.Millisecond

	// liveSeekBandwidthSeconds bounds how long a live seek may take to
	// refill its target segment before the seek is vetoed.
	liveSeekBandwidthSeconds = 5

	// liveEndGuardSegments is the number of trailing live segments that a
	// seek past the end of the playlist is not allowed to land on.
	liveEndGuardSegments = 3

	defaultUserAgent = "hlsbuf/1.0 (+https://github.com/hydrz/hlsbuf)"
)
