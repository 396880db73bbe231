package load

import (
	"context"

	"github.com/ajitpratap0/gridetl/pkg/cas"
	"github.com/ajitpratap0/gridetl/pkg/component"
	"github.com/ajitpratap0/gridetl/pkg/compression"
	"github.com/ajitpratap0/gridetl/pkg/config"
	"github.com/ajitpratap0/gridetl/pkg/fetch"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
	"github.com/ajitpratap0/gridetl/pkg/timespan"
)

// Register adds the versioned loader and the publishers to r.
func Register(r *component.Registry) error {
	regs := []component.Registration{
		{
			Capability:  component.Loader,
			Name:        "versioned",
			Description: "content-addressed store with initial, append and replace",
			FromConfig:  versionedFromConfig,
		},
		{
			Capability:  component.Publisher,
			Name:        "memory",
			Description: "process-local pointer; lost on exit",
			New: func(component.Args) (interface{}, error) {
				return NewMemoryPublisher(), nil
			},
		},
		{
			Capability:  component.Publisher,
			Name:        "local_file",
			Description: "pointer file replaced atomically",
			New: func(args component.Args) (interface{}, error) {
				var opts struct {
					Path fsys.Location `yaml:"path"`
				}
				if err := args.Decode(&opts); err != nil {
					return nil, err
				}
				return NewLocalFilePublisher(opts.Path)
			},
		},
		{
			Capability:  component.Publisher,
			Name:        "s3",
			Description: "pointer object in an S3 bucket",
			New: func(args component.Args) (interface{}, error) {
				var opts S3PublisherOptions
				if err := args.Decode(&opts); err != nil {
					return nil, err
				}
				client, err := fetch.NewS3Client(context.Background(), opts.Region, opts.Endpoint)
				if err != nil {
					return nil, err
				}
				return NewS3Publisher(client, opts.Bucket, opts.Key)
			},
		},
		{
			Capability:  component.Publisher,
			Name:        "gcs",
			Description: "pointer object in a GCS bucket with generation preconditions",
			New: func(args component.Args) (interface{}, error) {
				var opts GCSPublisherOptions
				if err := args.Decode(&opts); err != nil {
					return nil, err
				}
				client, err := fetch.NewGCSClient(context.Background(), opts.CredentialsFile)
				if err != nil {
					return nil, err
				}
				return NewGCSPublisher(client, opts.Bucket, opts.Object)
			},
		},
		{
			Capability:  component.Publisher,
			Name:        "postgres",
			Description: "pointer row per dataset with compare-and-set updates",
			New: func(args component.Args) (interface{}, error) {
				var opts PostgresPublisherOptions
				if err := args.Decode(&opts); err != nil {
					return nil, err
				}
				ctx := context.Background()
				pool, err := ConnectPostgres(ctx, opts.DSN)
				if err != nil {
					return nil, err
				}
				p, err := NewPostgresPublisher(pool, opts.Dataset, opts.Table)
				if err != nil {
					pool.Close()
					return nil, err
				}
				if err := p.EnsureTable(ctx); err != nil {
					pool.Close()
					return nil, err
				}
				return p, nil
			},
		},
		{
			Capability:  component.Publisher,
			Name:        "announce",
			Description: "emits every published CID to a Kafka topic",
			FromConfig:  announceFromConfig,
		},
	}
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

func versionedFromConfig(r *component.Registry, node *config.Node) (interface{}, error) {
	pubNode, rest := node.PopImmutableOr("publisher", nil)
	if pubNode.IsNull() {
		return nil, config.MissingConfiguration(node.Source().File, pubNode.PathString())
	}
	publisher, err := component.As[Publisher](r, pubNode, component.Publisher)
	if err != nil {
		return nil, err
	}

	bsNode, rest := rest.PopImmutableOr("blockstore", nil)
	blockstore, err := component.As[cas.Blockstore](r, bsNode, component.Blockstore)
	if err != nil {
		return nil, err
	}

	var opts struct {
		TimeDim       string         `yaml:"time_dim"`
		Chunks        map[string]int `yaml:"chunks"`
		Compressor    string         `yaml:"compressor"`
		TimeUnit      string         `yaml:"time_unit"`
		ValidateSpans *bool          `yaml:"validate_spans"`
	}
	if err := rest.Decode(&opts); err != nil {
		return nil, err
	}

	loader, err := NewVersioned(VersionedOptions{
		TimeDim:    opts.TimeDim,
		Publisher:  publisher,
		Blockstore: blockstore,
		Chunks:     opts.Chunks,
		Compressor: compression.Algorithm(opts.Compressor),
		TimeUnit:   timespan.Unit(opts.TimeUnit),
		TrustSpans: opts.ValidateSpans != nil && !*opts.ValidateSpans,
	})
	if err != nil {
		return nil, node.Wrap(err)
	}
	return loader, nil
}

func announceFromConfig(r *component.Registry, node *config.Node) (interface{}, error) {
	innerNode, rest := node.PopImmutableOr("publisher", nil)
	if innerNode.IsNull() {
		return nil, config.MissingConfiguration(node.Source().File, innerNode.PathString())
	}
	inner, err := component.As[Publisher](r, innerNode, component.Publisher)
	if err != nil {
		return nil, err
	}

	var opts AnnounceOptions
	if err := rest.Decode(&opts); err != nil {
		return nil, err
	}
	producer, err := NewSyncProducer(opts)
	if err != nil {
		return nil, node.Wrap(err)
	}
	p, err := NewAnnouncingPublisher(inner, producer, opts.Topic, opts.Dataset)
	if err != nil {
		_ = producer.Close()
		return nil, node.Wrap(err)
	}
	return p, nil
}
