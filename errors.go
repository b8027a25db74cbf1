package hlsbuf

import "errors"

// Sentinel errors surfaced to callers of HlsBuffer. Use errors.Is to test
// for these across the package boundary.
var (
	// ErrNotHls is returned by Open when the initial manifest does not
	// parse as HLS.
	ErrNotHls = errors.New("hlsbuf: not a HTTP Live Streaming resource")

	// ErrManifestFetchFailed is returned by Open when the initial manifest
	// download fails.
	ErrManifestFetchFailed = errors.New("hlsbuf: manifest fetch failed")

	// ErrPrefetchTimeout is returned by Open when insufficient data was
	// buffered within the prefetch attempt budget.
	ErrPrefetchTimeout = errors.New("hlsbuf: prefetch timed out")

	// ErrPlaylistRefreshFailed is returned by ParseMedia when a media
	// playlist cannot be decoded. HlsBuffer does not return it after
	// repeated live-refresh failures; those are recorded only by
	// playlistWorker.Fatal.
	ErrPlaylistRefreshFailed = errors.New("hlsbuf: playlist refresh failed repeatedly")

	// ErrIoError wraps a Downloader failure encountered during playback.
	ErrIoError = errors.New("hlsbuf: i/o error")

	// ErrInterrupted is returned when a caller-requested cancellation was
	// observed; Read returns 0 and Seek returns the current offset.
	ErrInterrupted = errors.New("hlsbuf: interrupted")

	// ErrClosed is returned by operations invoked after Close.
	ErrClosed = errors.New("hlsbuf: buffer closed")

	// errNoPlaylistChange is playlistWorker's internal signal that a
	// refresh succeeded but announced no segments beyond what was already
	// held — counted by playlistWorker.run as a healthy cycle, not as a
	// failed reload.
	errNoPlaylistChange = errors.New("hlsbuf: playlist unchanged")
)
