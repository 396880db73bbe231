// Package gridetl incrementally loads time-indexed gridded datasets, such as
// the NOAA CPC daily precipitation and temperature grids, into a versioned
// content-addressed store.
//
// A dataset is processed by a pipeline of pluggable stages:
//
//	fetch      list the remote archive and download the files covering a span
//	extract    convert each downloaded file into a chunked array store
//	combine    concatenate the extracted stores along time
//	transform  optional fixes (fill values, longitude normalization, ...)
//	load       write chunks to a block store and publish the new root CID
//
// Every committed load produces a new immutable version whose root CID is
// published atomically. Readers holding an older CID keep seeing the older
// version.
//
// # Quick Start
//
// Declare datasets in datasets.yaml:
//
//	datasets:
//	  - name: cpc_us_precip
//	    fetcher:
//	      name: cpc
//	      dataset: us_precip
//	      cache: /var/cache/gridetl
//	    loader:
//	      blockstore:
//	        name: bolt
//	        path: /var/lib/gridetl/blocks.db
//	      publisher:
//	        name: local_file
//	        path: /var/lib/gridetl/cpc_us_precip.cid
//
// Then drive it with the CLI:
//
//	gridetl init --dataset cpc_us_precip --window 5Y
//	gridetl append --dataset cpc_us_precip
//	gridetl replace --dataset cpc_us_precip --start 1984-12-25 --end 1984-12-25
//	gridetl show --dataset cpc_us_precip
//
// Or from Go:
//
//	registry, _ := builtin.NewRegistry()
//	catalog, _ := pipeline.LoadCatalogFile("datasets.yaml")
//	p, _ := catalog.Build(registry, "cpc_us_precip")
//	defer p.Close()
//
//	remote, _ := p.Fetcher().RemoteTimespan(ctx)
//	window, _ := timespan.ParseWindow("1Y")
//	span := timespan.Initial(remote, window, timespan.Day)
//	err := p.Run(ctx, span, p.Loader().Initial)
//
// # Key Packages
//
//	pkg/timespan   - spans, windows and load planning
//	pkg/dataset    - in-memory labelled arrays
//	pkg/zarr       - chunked array stores
//	pkg/cas        - content-addressed block stores and CIDs
//	pkg/fetch      - remotes (fs, http, s3, gcs) and fetchers
//	pkg/extract    - file format conversion
//	pkg/combine    - multi-file concatenation
//	pkg/transform  - dataset fixes
//	pkg/load       - versioned loader and publishers
//	pkg/pipeline   - stage orchestration and the dataset catalog
//	pkg/component  - named component registry
//	pkg/config     - YAML configuration nodes
//	pkg/errors     - typed errors
//	pkg/logger     - structured logging
//	pkg/metrics    - Prometheus metrics
//
// # Configuration
//
// Global options come from flags or GRIDETL_* environment variables, which
// may also be set in a .env file:
//
//	GRIDETL_CONFIG=/etc/gridetl/datasets.yaml
//	GRIDETL_LOG_LEVEL=debug
//	GRIDETL_TRACE=stdout
//	GRIDETL_METRICS_FILE=/var/lib/node_exporter/gridetl.prom
package gridetl
