package hlsbuf

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/hydrz/hlsbuf/utils"
)

// Downloader fetches the bytes at a URL. HlsBuffer consumes this interface
// for every manifest, key, and segment GET; the default implementation
// wraps a *resty.Client the way the teacher's m3u8 reader wraps its resty
// client for segment fetches.
type Downloader interface {
	Get(ctx context.Context, url string, headers http.Header) ([]byte, error)
}

// restyDownloader is the default Downloader, built over go-resty.
// rateLimitBPS, when non-zero, throttles every body read through
// utils.RateLimiter — used to simulate a capped link when exercising
// bandwidth adaptation.
type restyDownloader struct {
	client       *resty.Client
	rateLimitBPS int64
}

func newRestyDownloader(client *resty.Client) *restyDownloader {
	return &restyDownloader{client: client}
}

func newThrottledRestyDownloader(client *resty.Client, rateLimitBPS int64) *restyDownloader {
	return &restyDownloader{client: client, rateLimitBPS: rateLimitBPS}
}

func (d *restyDownloader) Get(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	req := d.client.R().SetContext(ctx).SetDoNotParseResponse(true)
	if headers != nil {
		req.Header = headers.Clone()
	}
	resp, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	defer resp.RawBody().Close()
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusPartialContent {
		return nil, fmt.Errorf("%w: %s: %s", ErrIoError, url, resp.Status())
	}

	var body io.Reader = resp.RawBody()
	if d.rateLimitBPS > 0 {
		limited := utils.NewRateLimiter(body, d.rateLimitBPS)
		defer limited.Close()
		body = limited
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return data, nil
}
