package fetch

import (
	"context"
	"io"

	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
)

// FSRemote lists files under a directory of any afero filesystem.
type FSRemote struct {
	root  fsys.Location
	globs []string
}

// NewFSRemote returns a remote listing root with each glob in turn.
func NewFSRemote(root fsys.Location, globs ...string) (*FSRemote, error) {
	if root.IsZero() {
		return nil, errors.New(errors.ErrorTypeConfig, "fs remote requires a root")
	}
	if len(globs) == 0 {
		globs = []string{"*"}
	}
	return &FSRemote{root: root, globs: globs}, nil
}

// List implements Remote.
func (r *FSRemote) List(_ context.Context) ([]RemoteFile, error) {
	var out []RemoteFile
	for _, glob := range r.globs {
		matches, err := r.root.Glob(glob)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			out = append(out, RemoteFile{Name: m.Name(), Key: m.Path()})
		}
	}
	return out, nil
}

// Open implements Remote.
func (r *FSRemote) Open(_ context.Context, file RemoteFile) (io.ReadCloser, error) {
	return r.Locate(file).Open()
}

// Locate implements Locator.
func (r *FSRemote) Locate(file RemoteFile) fsys.Location {
	return fsys.New(r.root.Fs(), file.Key)
}
