package hlsbuf

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// newClient creates a configured resty client used for manifest and key
// fetches: timeout, proxy, retry policy, and (unless disabled) a
// transparent on-disk HTTP cache.
func newClient(o Option) *resty.Client {
	client := resty.New()

	if o.Timeout > 0 {
		client.SetTimeout(o.Timeout)
	} else {
		client.SetTimeout(15 * time.Second)
	}

	if o.Proxy != "" {
		client.SetProxy(o.Proxy)
	}

	if o.RetryCount > 0 {
		client.SetRetryCount(o.RetryCount)
		client.SetRetryWaitTime(500 * time.Millisecond)
		client.SetRetryMaxWaitTime(5 * time.Second)

		client.AddRetryCondition(func(r *resty.Response, _ error) bool {
			if r.StatusCode() >= 400 && r.StatusCode() < 500 {
				switch r.StatusCode() {
				case 408, 429:
					return true
				default:
					return false
				}
			}
			if r.StatusCode() == 304 {
				return false
			}
			return r.StatusCode() >= 500
		})
	}

	if o.Headers != nil {
		for k, v := range o.Headers {
			client.SetHeader(k, v)
		}
	}

	userAgent := o.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client.SetHeader("User-Agent", userAgent)

	if o.Debug {
		client.SetDebug(true)
	}

	if !o.NoCache {
		cacheDir := o.CacheDir
		if cacheDir == "" {
			cacheDir = filepath.Join(os.TempDir(), "hlsbuf_cache")
		}
		transport := httpcache.NewTransport(diskcache.New(cacheDir))
		client.SetTransport(transport)
	}

	client.SetHeader("Accept", "*/*")
	client.SetHeader("Connection", "keep-alive")

	return client
}

// newSegmentClient builds a client for segment byte fetches. It shares the
// same timeout/proxy/header configuration as newClient but makes no
// resty-level retries (streamWorker runs its own segment retry schedule)
// and is never routed through the manifest cache: segment URLs roll off a
// live playlist and a stale cached copy would corrupt playback.
func newSegmentClient(o Option) *resty.Client {
	uncached := o
	uncached.NoCache = true
	uncached.RetryCount = 0
	return newClient(uncached)
}
