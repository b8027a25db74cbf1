package hlsbuf

import (
	"net/http"
	"time"
)

// Option contains runtime configuration for a HlsBuffer. It covers HTTP and
// logging knobs only; the protocol timing constants (read-ahead, prefetch
// target, playlist failure threshold) are fixed package constants, not
// configurable here — see constants.go.
type Option struct {
	// Headers specifies custom HTTP headers sent with every request
	// (manifest, key, and segment fetches).
	Headers map[string]string

	// UserAgent specifies the User-Agent header. Defaults to defaultUserAgent.
	UserAgent string

	// Proxy specifies a proxy URL (e.g. "http://127.0.0.1:8080").
	Proxy string

	// RetryCount specifies the resty-level HTTP retry count for manifest and
	// key fetches. Segment download retries are governed separately by the
	// StreamWorker's own backoff schedule (spec-fixed: immediate, 500ms, drop).
	RetryCount int

	// Timeout specifies the per-request HTTP timeout.
	Timeout time.Duration

	// NoCache disables the on-disk HTTP cache for manifest/key fetches.
	NoCache bool

	// CacheDir overrides the on-disk HTTP cache directory. Defaults to a
	// subdirectory of os.TempDir.
	CacheDir string

	// Debug enables debug logging.
	Debug bool

	// Verbose enables info-level logging.
	Verbose bool

	// Silent suppresses all logging except errors.
	Silent bool

	// SimulateBandwidthBPS, if non-zero, throttles segment downloads to
	// at most this many bytes per second. Intended for exercising the
	// bandwidth-adaptation logic against a reproducible, capped link
	// rather than whatever the real network happens to offer.
	SimulateBandwidthBPS int64
}

// DefaultOptions holds the package default Option values.
var DefaultOptions = &Option{
	RetryCount: 2,
	Timeout:    15 * time.Second,
}

// Combine merges non-zero fields of o into the receiver, returning the
// result. Mirrors the teacher's Option.Combine used to layer caller-supplied
// options over DefaultOptions.
func (o Option) Combine(other Option) Option {
	if other.Headers != nil {
		o.Headers = other.Headers
	}
	if other.UserAgent != "" {
		o.UserAgent = other.UserAgent
	}
	if other.Proxy != "" {
		o.Proxy = other.Proxy
	}
	if other.RetryCount != 0 {
		o.RetryCount = other.RetryCount
	}
	if other.Timeout != 0 {
		o.Timeout = other.Timeout
	}
	if other.NoCache {
		o.NoCache = true
	}
	if other.CacheDir != "" {
		o.CacheDir = other.CacheDir
	}
	if other.Debug {
		o.Debug = true
	}
	if other.Verbose {
		o.Verbose = true
	}
	if other.Silent {
		o.Silent = true
	}
	if other.SimulateBandwidthBPS != 0 {
		o.SimulateBandwidthBPS = other.SimulateBandwidthBPS
	}
	return o
}

// optionHeaders converts Option.Headers into a http.Header for use with
// Downloader, which speaks net/http's header type rather than Option's
// flat map.
func optionHeaders(o Option) http.Header {
	h := make(http.Header, len(o.Headers))
	for k, v := range o.Headers {
		h.Set(k, v)
	}
	return h
}
