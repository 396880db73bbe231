package fetch

import (
	"context"
	"io"
	"iter"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
	"github.com/ajitpratap0/gridetl/pkg/logger"
	"github.com/ajitpratap0/gridetl/pkg/metrics"
	"github.com/ajitpratap0/gridetl/pkg/timespan"
)

// DefaultYearPattern matches file names ending in a four digit year and an
// extension, such as precip.V1.0.1982.nc.
const DefaultYearPattern = `(\d{4})\.[A-Za-z0-9]+$`

// DefaultConcurrency bounds parallel downloads during Prefetch.
const DefaultConcurrency = 4

// YearlyOptions configure a Yearly fetcher.
type YearlyOptions struct {
	// Name labels metrics and logs.
	Name string
	// Remotes are listed in order. When two files carry the same year the
	// one listed first wins.
	Remotes []Remote
	// Pattern must contain one group capturing the year.
	Pattern string
	// Cache, when set, keeps downloads keyed by file name.
	Cache fsys.Location
	// Probe reads exact time ranges for RemoteTimespan.
	Probe       TimeProbe
	Concurrency int
}

// Yearly fetches datasets published as one file per calendar year.
type Yearly struct {
	name        string
	remotes     []Remote
	pattern     *regexp.Regexp
	cache       fsys.Location
	scratch     fsys.Location
	probe       TimeProbe
	concurrency int
	logger      *zap.Logger

	mu      sync.Mutex
	listing []yearFile
}

type yearFile struct {
	year   int
	file   RemoteFile
	remote Remote
}

// NewYearly builds a yearly fetcher.
func NewYearly(opts YearlyOptions) (*Yearly, error) {
	if len(opts.Remotes) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "yearly fetcher requires at least one remote")
	}
	if opts.Pattern == "" {
		opts.Pattern = DefaultYearPattern
	}
	pattern, err := regexp.Compile(opts.Pattern)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "invalid year pattern %q", opts.Pattern)
	}
	if pattern.NumSubexp() < 1 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "year pattern %q has no capture group", opts.Pattern)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Name == "" {
		opts.Name = "yearly"
	}

	return &Yearly{
		name:        opts.Name,
		remotes:     opts.Remotes,
		pattern:     pattern,
		cache:       opts.Cache,
		scratch:     fsys.New(afero.NewMemMapFs(), "/"+opts.Name),
		probe:       opts.Probe,
		concurrency: opts.Concurrency,
		logger:      logger.Get().With(zap.String("component", "fetcher"), zap.String("fetcher", opts.Name)),
	}, nil
}

// files lists every remote once and memoises the result.
func (y *Yearly) files(ctx context.Context) ([]yearFile, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.listing != nil {
		return y.listing, nil
	}

	seen := make(map[int]bool)
	var out []yearFile
	for _, remote := range y.remotes {
		files, err := remote.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			m := y.pattern.FindStringSubmatch(f.Name)
			if m == nil {
				continue
			}
			year, err := strconv.Atoi(m[1])
			if err != nil || seen[year] {
				continue
			}
			seen[year] = true
			out = append(out, yearFile{year: year, file: f, remote: remote})
		}
	}
	if len(out) == 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "no files matching %s found on any remote", y.pattern)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].year < out[j].year })

	y.logger.Debug("listed remote files", zap.Int("files", len(out)),
		zap.Int("first_year", out[0].year), zap.Int("last_year", out[len(out)-1].year))
	y.listing = out
	return out, nil
}

// RemoteTimespan implements Fetcher.
func (y *Yearly) RemoteTimespan(ctx context.Context) (timespan.Timespan, error) {
	files, err := y.files(ctx)
	if err != nil {
		return timespan.Timespan{}, err
	}
	first, last := files[0], files[len(files)-1]

	if y.probe == nil {
		return timespan.New(
			time.Date(first.year, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(last.year, 12, 31, 0, 0, 0, 0, time.UTC),
		)
	}

	firstLoc, err := y.get(ctx, first)
	if err != nil {
		return timespan.Timespan{}, err
	}
	lastLoc, err := y.get(ctx, last)
	if err != nil {
		return timespan.Timespan{}, err
	}
	head, err := y.probe.TimeRange(ctx, firstLoc)
	if err != nil {
		return timespan.Timespan{}, err
	}
	tail, err := y.probe.TimeRange(ctx, lastLoc)
	if err != nil {
		return timespan.Timespan{}, err
	}
	return timespan.New(head.Start, tail.End)
}

// Prefetch implements Fetcher. Without a cache it does nothing.
func (y *Yearly) Prefetch(ctx context.Context, span timespan.Timespan) error {
	if y.cache.IsZero() {
		return nil
	}
	files, err := y.files(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(y.concurrency)
	for _, f := range files {
		if f.year < span.Start.Year() || f.year > span.End.Year() {
			continue
		}
		g.Go(func() error {
			_, err := y.get(ctx, f)
			return err
		})
	}
	return g.Wait()
}

// Fetch implements Fetcher.
func (y *Yearly) Fetch(ctx context.Context, span timespan.Timespan) iter.Seq2[fsys.Location, error] {
	return func(yield func(fsys.Location, error) bool) {
		files, err := y.files(ctx)
		if err != nil {
			yield(fsys.Location{}, err)
			return
		}
		byYear := make(map[int]yearFile, len(files))
		for _, f := range files {
			byYear[f.year] = f
		}

		for year := span.Start.Year(); year <= span.End.Year(); year++ {
			f, ok := byYear[year]
			if !ok {
				yield(fsys.Location{}, errors.Newf(errors.ErrorTypeNotFound, "no source file for year %d", year))
				return
			}
			loc, err := y.get(ctx, f)
			if !yield(loc, err) || err != nil {
				return
			}
		}
	}
}

// get returns a readable location for f, downloading when needed.
func (y *Yearly) get(ctx context.Context, f yearFile) (fsys.Location, error) {
	if y.cache.IsZero() {
		if locator, ok := f.remote.(Locator); ok {
			metrics.FilesFetched.WithLabelValues(y.name, "local").Inc()
			return locator.Locate(f.file), nil
		}
		return y.download(ctx, f, y.scratch.Join(f.file.Name))
	}

	target := y.cache.Join(f.file.Name)
	exists, err := target.Exists()
	if err != nil {
		return fsys.Location{}, err
	}
	if exists {
		metrics.FilesFetched.WithLabelValues(y.name, "cache").Inc()
		return target, nil
	}
	return y.download(ctx, f, target)
}

func (y *Yearly) download(ctx context.Context, f yearFile, target fsys.Location) (fsys.Location, error) {
	if ok, _ := target.Exists(); ok && target.Fs() == y.scratch.Fs() {
		return target, nil
	}

	rc, err := f.remote.Open(ctx, f.file)
	if err != nil {
		return fsys.Location{}, err
	}
	defer rc.Close()

	src := &sourceReader{r: rc}
	if err := target.WriteFromAtomic(src); err != nil {
		if src.err != nil {
			return fsys.Location{}, errors.Wrapf(src.err, errors.ErrorTypeConnection, "downloading %s", f.file.Key)
		}
		return fsys.Location{}, errors.Wrapf(err, errors.ErrorTypeFile, "storing %s", f.file.Key)
	}
	metrics.FilesFetched.WithLabelValues(y.name, "remote").Inc()
	y.logger.Info("downloaded source file", zap.String("file", f.file.Key), zap.String("target", target.String()))
	return target, nil
}

// sourceReader remembers the first read error so that remote failures can
// be told apart from local write failures.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}
