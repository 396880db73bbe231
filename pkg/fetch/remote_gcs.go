package fetch

import (
	"context"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// GCSOptions locate a bucket.
type GCSOptions struct {
	Bucket          string   `yaml:"bucket"`
	Prefixes        []string `yaml:"prefixes"`
	CredentialsFile string   `yaml:"credentials_file"`
}

// NewGCSClient builds a client from application default credentials or an
// explicit service account file.
func NewGCSClient(ctx context.Context, credentialsFile string) (*storage.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create GCS client")
	}
	return client, nil
}

// GCSRemote lists objects under one or more prefixes of a bucket.
type GCSRemote struct {
	client   *storage.Client
	bucket   string
	prefixes []string
}

// NewGCSRemote returns a remote over client.
func NewGCSRemote(client *storage.Client, bucket string, prefixes ...string) (*GCSRemote, error) {
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "gcs remote requires a bucket")
	}
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	return &GCSRemote{client: client, bucket: bucket, prefixes: prefixes}, nil
}

// List implements Remote.
func (r *GCSRemote) List(ctx context.Context) ([]RemoteFile, error) {
	var out []RemoteFile
	for _, prefix := range r.prefixes {
		it := r.client.Bucket(r.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "listing gs://%s/%s", r.bucket, prefix)
			}
			out = append(out, RemoteFile{Name: path.Base(attrs.Name), Key: attrs.Name, Size: attrs.Size})
		}
	}
	return out, nil
}

// Open implements Remote.
func (r *GCSRemote) Open(ctx context.Context, file RemoteFile) (io.ReadCloser, error) {
	rc, err := r.client.Bucket(r.bucket).Object(file.Key).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, errors.Wrapf(err, errors.ErrorTypeNotFound, "gs://%s/%s", r.bucket, file.Key)
		}
		return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "get gs://%s/%s", r.bucket, file.Key)
	}
	return rc, nil
}
