package hlsbuf

import (
	"log/slog"

	"github.com/go-resty/resty/v2"
)

// runtime bundles the HTTP clients and logger shared by a HlsBuffer and its
// workers, built once from an Option at Open time. It plays the role the
// teacher's Context type plays for Downloader/Extractor: a small struct of
// lazily-useful collaborators threaded through the package instead of a
// grab-bag of loose parameters.
type runtime struct {
	option       Option
	manifestHTTP *resty.Client // cached: manifests and AES keys
	segmentHTTP  *resty.Client // uncached: segment byte fetches
	logger       *slog.Logger
}

func newRuntime(o Option) *runtime {
	return &runtime{
		option:       o,
		manifestHTTP: newClient(o),
		segmentHTTP:  newSegmentClient(o),
		logger:       newLogger(o),
	}
}
