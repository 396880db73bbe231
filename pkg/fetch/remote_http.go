package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/gridetl/pkg/clients"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/logger"
)

// YearPlaceholder is replaced by a four digit year in HTTP URL templates.
const YearPlaceholder = "{year}"

// HTTPOptions configure an HTTP remote.
type HTTPOptions struct {
	// Templates are URLs containing YearPlaceholder, probed in order.
	Templates []string `yaml:"templates"`
	FirstYear int      `yaml:"first_year"`
	// LastYear defaults to the current year.
	LastYear    int           `yaml:"last_year"`
	Concurrency int           `yaml:"concurrency"`
	RetryMax    int           `yaml:"retry_max"`
	Timeout     time.Duration `yaml:"timeout"`
	// RequestsPerSecond caps the request rate; zero means no cap.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// HTTPRemote discovers yearly files on a plain HTTP file server by probing
// each candidate URL with a HEAD request.
type HTTPRemote struct {
	opts    HTTPOptions
	client  *retryablehttp.Client
	limiter clients.RateLimiter
	logger  *zap.Logger
}

// NewHTTPRemote validates opts and builds a retrying client.
func NewHTTPRemote(opts HTTPOptions) (*HTTPRemote, error) {
	if len(opts.Templates) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "http remote requires at least one template")
	}
	for _, t := range opts.Templates {
		if !strings.Contains(t, YearPlaceholder) {
			return nil, errors.Newf(errors.ErrorTypeConfig, "template %q has no %s placeholder", t, YearPlaceholder)
		}
		if _, err := url.Parse(t); err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "invalid template %q", t)
		}
	}
	if opts.FirstYear <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "http remote requires first_year")
	}
	if opts.LastYear == 0 {
		opts.LastYear = time.Now().UTC().Year()
	}
	if opts.LastYear < opts.FirstYear {
		return nil, errors.Newf(errors.ErrorTypeConfig, "last_year %d is before first_year %d", opts.LastYear, opts.FirstYear)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.RequestsPerSecond < 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "requests_per_second must not be negative")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}

	log := logger.Get().With(zap.String("component", "http_remote"))
	client := retryablehttp.NewClient()
	if opts.RetryMax > 0 {
		client.RetryMax = opts.RetryMax
	}
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = leveledLogger{log.Sugar()}

	return &HTTPRemote{
		opts:    opts,
		client:  client,
		limiter: clients.NewRateLimiter(opts.RequestsPerSecond, opts.Burst),
		logger:  log,
	}, nil
}

// List implements Remote. Files are ordered by template, then year.
func (r *HTTPRemote) List(ctx context.Context) ([]RemoteFile, error) {
	years := r.opts.LastYear - r.opts.FirstYear + 1
	found := make([]*RemoteFile, len(r.opts.Templates)*years)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for ti, template := range r.opts.Templates {
		for yi := 0; yi < years; yi++ {
			target := strings.ReplaceAll(template, YearPlaceholder, strconv.Itoa(r.opts.FirstYear+yi))
			slot := ti*years + yi
			g.Go(func() error {
				file, err := r.head(ctx, target)
				if err != nil {
					return err
				}
				found[slot] = file
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []RemoteFile
	for _, f := range found {
		if f != nil {
			out = append(out, *f)
		}
	}
	stats := r.limiter.Stats()
	r.logger.Debug("probed http remote",
		zap.Int("candidates", len(found)),
		zap.Int("found", len(out)),
		zap.Duration("throttled", stats.Waited))
	return out, nil
}

// head returns nil when target does not exist.
func (r *HTTPRemote) head(ctx context.Context, target string) (*RemoteFile, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "invalid url %s", target)
	}
	resp, err := r.do(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "HEAD %s", target)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 300:
		return nil, errors.Newf(errors.ErrorTypeConnection, "HEAD %s: %s", target, resp.Status)
	}
	return &RemoteFile{Name: urlBase(target), Key: target, Size: resp.ContentLength}, nil
}

// Open implements Remote.
func (r *HTTPRemote) Open(ctx context.Context, file RemoteFile) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, file.Key, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "invalid url %s", file.Key)
	}
	resp, err := r.do(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "GET %s", file.Key)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		errType := errors.ErrorTypeConnection
		if resp.StatusCode == http.StatusNotFound {
			errType = errors.ErrorTypeNotFound
		}
		return nil, errors.Newf(errType, "GET %s: %s", file.Key, resp.Status)
	}
	return resp.Body, nil
}

func (r *HTTPRemote) do(ctx context.Context, req *retryablehttp.Request) (*http.Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.client.Do(req)
}

func urlBase(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return path.Base(u.Path)
	}
	return path.Base(raw)
}

// leveledLogger routes retryablehttp logs through zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

var _ retryablehttp.LeveledLogger = leveledLogger{}
