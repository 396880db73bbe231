package load

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gridetl/pkg/cas"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/logger"
)

// S3ObjectAPI is the subset of the S3 client used by S3Publisher.
type S3ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3PublisherOptions locate the pointer object.
type S3PublisherOptions struct {
	Bucket   string `yaml:"bucket"`
	Key      string `yaml:"key"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// S3Publisher stores the CID as the body of one object. It offers no
// conditional publish; a single writer per dataset is assumed.
type S3Publisher struct {
	client S3ObjectAPI
	bucket string
	key    string
	logger *zap.Logger
}

// NewS3Publisher returns a publisher writing s3://bucket/key.
func NewS3Publisher(client S3ObjectAPI, bucket, key string) (*S3Publisher, error) {
	if bucket == "" || key == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 publisher requires bucket and key")
	}
	return &S3Publisher{
		client: client,
		bucket: bucket,
		key:    key,
		logger: logger.Get().With(zap.String("component", "s3_publisher"),
			zap.String("bucket", bucket), zap.String("key", key)),
	}, nil
}

func (p *S3Publisher) Kind() string { return "s3" }

func (p *S3Publisher) Publish(ctx context.Context, cid cas.CID) error {
	if !cid.Defined() {
		return errors.New(errors.ErrorTypeValidation, "cannot publish an undefined CID")
	}
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(p.key),
		Body:        strings.NewReader(cid.String()),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeStorage, "failed to write s3://%s/%s", p.bucket, p.key)
	}
	p.logger.Debug("pointer written", zap.Stringer("cid", cid))
	return nil
}

func (p *S3Publisher) Retrieve(ctx context.Context) (cas.CID, bool, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return cas.CID{}, false, nil
		}
		return cas.CID{}, false, errors.Wrapf(err, errors.ErrorTypeStorage, "failed to read s3://%s/%s", p.bucket, p.key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return cas.CID{}, false, errors.Wrapf(err, errors.ErrorTypeConnection, "failed to read s3://%s/%s", p.bucket, p.key)
	}
	cid, err := cas.ParseCID(string(data))
	if err != nil {
		return cas.CID{}, false, err
	}
	return cid, true, nil
}
