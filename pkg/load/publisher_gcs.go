package load

import (
	"context"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/ajitpratap0/gridetl/pkg/cas"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/logger"
)

// GCSPublisherOptions locate the pointer object.
type GCSPublisherOptions struct {
	Bucket          string `yaml:"bucket"`
	Object          string `yaml:"object"`
	CredentialsFile string `yaml:"credentials_file"`
}

// GCSPublisher stores the CID in one object. PublishIf relies on object
// generation preconditions.
type GCSPublisher struct {
	client *storage.Client
	bucket string
	object string
	logger *zap.Logger
}

// NewGCSPublisher returns a publisher writing gs://bucket/object.
func NewGCSPublisher(client *storage.Client, bucket, object string) (*GCSPublisher, error) {
	if bucket == "" || object == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "gcs publisher requires bucket and object")
	}
	return &GCSPublisher{
		client: client,
		bucket: bucket,
		object: object,
		logger: logger.Get().With(zap.String("component", "gcs_publisher"),
			zap.String("bucket", bucket), zap.String("object", object)),
	}, nil
}

func (p *GCSPublisher) Kind() string { return "gcs" }

func (p *GCSPublisher) handle() *storage.ObjectHandle {
	return p.client.Bucket(p.bucket).Object(p.object)
}

func (p *GCSPublisher) Publish(ctx context.Context, cid cas.CID) error {
	return p.write(ctx, p.handle(), cid)
}

func (p *GCSPublisher) Retrieve(ctx context.Context) (cas.CID, bool, error) {
	cid, _, ok, err := p.read(ctx)
	return cid, ok, err
}

func (p *GCSPublisher) PublishIf(ctx context.Context, expected, next cas.CID) error {
	current, generation, ok, err := p.read(ctx)
	if err != nil {
		return err
	}
	if current != expected {
		return ErrConflict(expected, current)
	}

	cond := storage.Conditions{DoesNotExist: true}
	if ok {
		cond = storage.Conditions{GenerationMatch: generation}
	}
	err = p.write(ctx, p.handle().If(cond), next)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return errors.Wrapf(err, errors.ErrorTypeConflict,
			"gs://%s/%s changed after generation %d", p.bucket, p.object, generation)
	}
	return err
}

// read returns the published CID together with the object generation.
func (p *GCSPublisher) read(ctx context.Context) (cas.CID, int64, bool, error) {
	r, err := p.handle().NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return cas.CID{}, 0, false, nil
	}
	if err != nil {
		return cas.CID{}, 0, false, errors.Wrapf(err, errors.ErrorTypeStorage, "failed to read gs://%s/%s", p.bucket, p.object)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return cas.CID{}, 0, false, errors.Wrapf(err, errors.ErrorTypeConnection, "failed to read gs://%s/%s", p.bucket, p.object)
	}
	cid, err := cas.ParseCID(string(data))
	if err != nil {
		return cas.CID{}, 0, false, err
	}
	return cid, r.Attrs.Generation, true, nil
}

func (p *GCSPublisher) write(ctx context.Context, obj *storage.ObjectHandle, cid cas.CID) error {
	if !cid.Defined() {
		return errors.New(errors.ErrorTypeValidation, "cannot publish an undefined CID")
	}
	w := obj.NewWriter(ctx)
	w.ContentType = "text/plain"
	if _, err := io.WriteString(w, cid.String()); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, errors.ErrorTypeStorage, "failed to write gs://%s/%s", p.bucket, p.object)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeStorage, "failed to write gs://%s/%s", p.bucket, p.object)
	}
	p.logger.Debug("pointer written", zap.Stringer("cid", cid))
	return nil
}
