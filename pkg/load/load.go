// Package load commits datasets into a content-addressed array store and
// publishes the resulting snapshot identifier.
//
// A Loader offers three operations over an explicit time span. Initial
// writes a fresh store, Append extends the stored time axis and Replace
// overwrites an existing stretch of it. Each successful operation freezes
// the store to a new CID and hands it to a Publisher, which holds the only
// state that survives the process: the current CID of the dataset.
package load

import (
	"context"

	"github.com/ajitpratap0/gridetl/pkg/cas"
	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/timespan"
)

// Operation commits ds restricted to span. Loader methods have this shape.
type Operation func(ctx context.Context, ds *dataset.Dataset, span timespan.Timespan) error

// Loader commits datasets and reads back the published version.
type Loader interface {
	Initial(ctx context.Context, ds *dataset.Dataset, span timespan.Timespan) error
	Append(ctx context.Context, ds *dataset.Dataset, span timespan.Timespan) error
	Replace(ctx context.Context, ds *dataset.Dataset, span timespan.Timespan) error
	// Dataset reads the published version. It fails with not_found before
	// the first publish.
	Dataset(ctx context.Context) (*dataset.Dataset, error)
}

// Publisher is a durable single slot holding the current CID.
type Publisher interface {
	Publish(ctx context.Context, cid cas.CID) error
	// Retrieve returns the published CID. ok is false when nothing was
	// published yet.
	Retrieve(ctx context.Context) (cid cas.CID, ok bool, err error)
}

// ConditionalPublisher publishes only when the slot still holds expected.
// An undefined expected CID means the slot must be empty. A moved slot
// fails with a conflict error.
type ConditionalPublisher interface {
	Publisher
	PublishIf(ctx context.Context, expected, next cas.CID) error
}

// ErrConflict builds the error returned when the slot moved underneath a
// conditional publish.
func ErrConflict(expected, found cas.CID) *errors.Error {
	return errors.Newf(errors.ErrorTypeConflict,
		"published version moved: expected %q, found %q", expected, found).
		WithDetail("expected", expected.String()).
		WithDetail("found", found.String())
}

// publish uses PublishIf when the publisher supports it.
func publish(ctx context.Context, p Publisher, expected, next cas.CID) error {
	if cp, ok := p.(ConditionalPublisher); ok {
		return cp.PublishIf(ctx, expected, next)
	}
	return p.Publish(ctx, next)
}

// kind labels a publisher in metrics.
func kind(p Publisher) string {
	if k, ok := p.(interface{ Kind() string }); ok {
		return k.Kind()
	}
	return "custom"
}
