package load

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gridetl/pkg/cas"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
	"github.com/ajitpratap0/gridetl/pkg/logger"
)

// fileLocks serialises conditional publishes to the same file within the
// process.
var fileLocks sync.Map

// LocalFilePublisher stores the CID as a single line in a file.
type LocalFilePublisher struct {
	loc    fsys.Location
	mu     *sync.Mutex
	logger *zap.Logger
}

// NewLocalFilePublisher returns a publisher writing to loc.
func NewLocalFilePublisher(loc fsys.Location) (*LocalFilePublisher, error) {
	if loc.IsZero() {
		return nil, errors.New(errors.ErrorTypeConfig, "local_file publisher requires a path")
	}
	mu, _ := fileLocks.LoadOrStore(loc.String(), &sync.Mutex{})
	return &LocalFilePublisher{
		loc:    loc,
		mu:     mu.(*sync.Mutex),
		logger: logger.Get().With(zap.String("component", "local_file_publisher"), zap.Stringer("path", loc)),
	}, nil
}

func (p *LocalFilePublisher) Kind() string { return "local_file" }

// Location returns the pointer file.
func (p *LocalFilePublisher) Location() fsys.Location { return p.loc }

func (p *LocalFilePublisher) Publish(_ context.Context, cid cas.CID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(cid)
}

func (p *LocalFilePublisher) Retrieve(_ context.Context) (cas.CID, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read()
}

func (p *LocalFilePublisher) PublishIf(_ context.Context, expected, next cas.CID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, _, err := p.read()
	if err != nil {
		return err
	}
	if current != expected {
		return ErrConflict(expected, current)
	}
	return p.write(next)
}

func (p *LocalFilePublisher) write(cid cas.CID) error {
	if !cid.Defined() {
		return errors.New(errors.ErrorTypeValidation, "cannot publish an undefined CID")
	}
	if err := p.loc.WriteAtomic([]byte(cid.String() + "\n")); err != nil {
		return err
	}
	p.logger.Debug("pointer written", zap.Stringer("cid", cid))
	return nil
}

func (p *LocalFilePublisher) read() (cas.CID, bool, error) {
	ok, err := p.loc.Exists()
	if err != nil || !ok {
		return cas.CID{}, false, err
	}
	data, err := p.loc.ReadAll()
	if err != nil {
		return cas.CID{}, false, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return cas.CID{}, false, nil
	}
	cid, err := cas.ParseCID(text)
	if err != nil {
		return cas.CID{}, false, errors.Wrapf(err, errors.ErrorTypeData, "pointer file %s", p.loc)
	}
	return cid, true, nil
}
