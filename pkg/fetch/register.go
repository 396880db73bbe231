package fetch

import (
	"context"

	"github.com/ajitpratap0/gridetl/pkg/component"
	"github.com/ajitpratap0/gridetl/pkg/config"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
)

// Register adds the fetchers and remotes of this package to r.
func Register(r *component.Registry) error {
	regs := []component.Registration{
		{
			Capability:  component.Fetcher,
			Name:        "yearly",
			Description: "one remote file per calendar year, with optional download cache",
			FromConfig:  yearlyFromConfig,
		},
		{
			Capability:  component.Fetcher,
			Name:        "cpc",
			Description: "NOAA CPC daily gauge datasets served by the PSL file server",
			FromConfig:  cpcFromConfig,
		},
		{
			Capability:  component.Remote,
			Name:        "fs",
			Description: "files matching globs under a local or in-memory directory",
			New: func(args component.Args) (interface{}, error) {
				var opts struct {
					Root  fsys.Location `yaml:"root"`
					Globs []string      `yaml:"globs"`
				}
				if err := args.Decode(&opts); err != nil {
					return nil, err
				}
				return NewFSRemote(opts.Root, opts.Globs...)
			},
		},
		{
			Capability:  component.Remote,
			Name:        "s3",
			Description: "objects under prefixes of an S3 bucket",
			New: func(args component.Args) (interface{}, error) {
				var opts S3Options
				if err := args.Decode(&opts); err != nil {
					return nil, err
				}
				client, err := NewS3Client(context.Background(), opts.Region, opts.Endpoint)
				if err != nil {
					return nil, err
				}
				return NewS3Remote(client, opts.Bucket, opts.Prefixes...)
			},
		},
		{
			Capability:  component.Remote,
			Name:        "gcs",
			Description: "objects under prefixes of a Google Cloud Storage bucket",
			New: func(args component.Args) (interface{}, error) {
				var opts GCSOptions
				if err := args.Decode(&opts); err != nil {
					return nil, err
				}
				client, err := NewGCSClient(context.Background(), opts.CredentialsFile)
				if err != nil {
					return nil, err
				}
				return NewGCSRemote(client, opts.Bucket, opts.Prefixes...)
			},
		},
		{
			Capability:  component.Remote,
			Name:        "http",
			Description: "yearly URL templates probed with HEAD requests",
			New: func(args component.Args) (interface{}, error) {
				var opts HTTPOptions
				if err := args.Decode(&opts); err != nil {
					return nil, err
				}
				return NewHTTPRemote(opts)
			},
		},
	}
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

func yearlyFromConfig(r *component.Registry, node *config.Node) (interface{}, error) {
	var remotes []Remote
	remoteNode, rest := node.PopImmutableOr("remote", nil)
	remotesNode, rest := rest.PopImmutableOr("remotes", nil)
	switch {
	case !remoteNode.IsNull() && !remotesNode.IsNull():
		return nil, node.Errorf("set either remote or remotes, not both")
	case !remoteNode.IsNull():
		remote, err := component.As[Remote](r, remoteNode, component.Remote)
		if err != nil {
			return nil, err
		}
		remotes = []Remote{remote}
	default:
		list, err := component.AsList[Remote](r, remotesNode, component.Remote)
		if err != nil {
			return nil, err
		}
		remotes = list
	}
	if len(remotes) == 0 {
		return nil, config.MissingConfiguration(node.Source().File, remoteNode.PathString())
	}

	probe, rest, err := probeFromConfig(r, rest)
	if err != nil {
		return nil, err
	}

	var opts struct {
		Pattern     string        `yaml:"pattern"`
		Cache       fsys.Location `yaml:"cache"`
		Concurrency int           `yaml:"concurrency"`
	}
	if err := rest.Decode(&opts); err != nil {
		return nil, err
	}
	return NewYearly(YearlyOptions{
		Remotes:     remotes,
		Pattern:     opts.Pattern,
		Cache:       opts.Cache,
		Probe:       probe,
		Concurrency: opts.Concurrency,
	})
}

func cpcFromConfig(r *component.Registry, node *config.Node) (interface{}, error) {
	if !node.Has("dataset") {
		return nil, config.MissingConfiguration(node.Source().File, node.GetOr("dataset", nil).PathString())
	}
	probe, rest, err := probeFromConfig(r, node)
	if err != nil {
		return nil, err
	}
	var opts CPCOptions
	if err := rest.Decode(&opts); err != nil {
		return nil, err
	}
	opts.Probe = probe
	fetcher, err := NewCPC(opts)
	if err != nil {
		return nil, rest.GetOr("dataset", nil).Wrap(err)
	}
	return fetcher, nil
}

// probeFromConfig resolves the optional probe key as an extractor that can
// read time ranges.
func probeFromConfig(r *component.Registry, node *config.Node) (TimeProbe, *config.Node, error) {
	probeNode, rest := node.PopImmutableOr("probe", nil)
	if probeNode.IsNull() {
		return nil, rest, nil
	}
	probe, err := component.As[TimeProbe](r, probeNode, component.Extractor)
	if err != nil {
		return nil, nil, err
	}
	return probe, rest, nil
}

var (
	_ Fetcher = (*Yearly)(nil)
	_ Locator = (*FSRemote)(nil)
	_ Remote  = (*S3Remote)(nil)
	_ Remote  = (*GCSRemote)(nil)
	_ Remote  = (*HTTPRemote)(nil)
)
