package fetch

import (
	"context"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// S3API is the subset of the S3 client used by the remote and publisher.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options locate a bucket.
type S3Options struct {
	Bucket   string   `yaml:"bucket"`
	Prefixes []string `yaml:"prefixes"`
	Region   string   `yaml:"region"`
	// Endpoint targets an S3 compatible service with path-style addressing.
	Endpoint string `yaml:"endpoint"`
}

// NewS3Client builds a client from the default AWS credential chain.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Remote lists objects under one or more prefixes of a bucket.
type S3Remote struct {
	client   S3API
	bucket   string
	prefixes []string
}

// NewS3Remote returns a remote over client.
func NewS3Remote(client S3API, bucket string, prefixes ...string) (*S3Remote, error) {
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 remote requires a bucket")
	}
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	return &S3Remote{client: client, bucket: bucket, prefixes: prefixes}, nil
}

// List implements Remote.
func (r *S3Remote) List(ctx context.Context) ([]RemoteFile, error) {
	var out []RemoteFile
	for _, prefix := range r.prefixes {
		paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(r.bucket),
			Prefix: aws.String(prefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "listing s3://%s/%s", r.bucket, prefix)
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				out = append(out, RemoteFile{Name: path.Base(key), Key: key, Size: aws.ToInt64(obj.Size)})
			}
		}
	}
	return out, nil
}

// Open implements Remote.
func (r *S3Remote) Open(ctx context.Context, file RemoteFile) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(file.Key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "get s3://%s/%s", r.bucket, file.Key)
	}
	return out.Body, nil
}
