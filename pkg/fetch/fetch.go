// Package fetch locates and downloads the source files of a dataset.
//
// A Fetcher reports the time range the remote source covers and yields one
// local file location per source file intersecting a requested span, in
// chronological order. Remotes abstract where files live (a directory, an
// S3 bucket, a GCS bucket or an HTTP file server) so fetchers only deal
// with listings and byte streams.
package fetch

import (
	"context"
	"io"
	"iter"

	"github.com/ajitpratap0/gridetl/pkg/fsys"
	"github.com/ajitpratap0/gridetl/pkg/timespan"
)

// Fetcher yields the source files of a dataset.
type Fetcher interface {
	// RemoteTimespan returns the full range of data available remotely.
	RemoteTimespan(ctx context.Context) (timespan.Timespan, error)
	// Prefetch warms any cache for span. It may be a no-op.
	Prefetch(ctx context.Context, span timespan.Timespan) error
	// Fetch yields a readable location for each source file intersecting
	// span, oldest first. The sequence stops after the first error.
	Fetch(ctx context.Context, span timespan.Timespan) iter.Seq2[fsys.Location, error]
}

// RemoteFile is one listing entry of a remote.
type RemoteFile struct {
	// Name is the final path element, used as the cache key.
	Name string
	// Key is the remote-specific identifier: a path, object key or URL.
	Key  string
	Size int64
}

// Remote lists and opens files.
type Remote interface {
	// List returns the remote's files in listing order.
	List(ctx context.Context) ([]RemoteFile, error)
	Open(ctx context.Context, file RemoteFile) (io.ReadCloser, error)
}

// Locator is implemented by remotes whose files are already addressable as
// locations, so fetchers can skip copying them.
type Locator interface {
	Locate(file RemoteFile) fsys.Location
}

// TimeProbe reads the time range covered by a single source file.
type TimeProbe interface {
	TimeRange(ctx context.Context, source fsys.Location) (timespan.Timespan, error)
}
