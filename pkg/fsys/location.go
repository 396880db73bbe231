// Package fsys provides immutable file locations over afero filesystems.
//
// A Location pairs a filesystem with a path. Fetchers yield locations,
// extractors read them and write reference files next to them, and the
// local publisher stores its pointer file at one. Locations on the local
// disk render as file:// URLs and in-memory ones as mem:// URLs.
package fsys

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

const (
	// SchemeFile marks locations on the operating system filesystem
	SchemeFile = "file"
	// SchemeMem marks locations on an in-memory filesystem
	SchemeMem = "mem"
)

var memFs = afero.NewMemMapFs()

// MemFs returns the process-wide in-memory filesystem used by mem:// URLs.
func MemFs() afero.Fs {
	return memFs
}

// Location is an immutable (filesystem, path) pair.
type Location struct {
	fs     afero.Fs
	scheme string
	path   string
}

// Local returns a location on the operating system filesystem.
func Local(path string) Location {
	return Location{fs: afero.NewOsFs(), scheme: SchemeFile, path: filepath.Clean(path)}
}

// Memory returns a location on the shared in-memory filesystem.
func Memory(path string) Location {
	return Location{fs: memFs, scheme: SchemeMem, path: cleanAbs(path)}
}

// New returns a location on an arbitrary filesystem. Anything other than an
// afero.OsFs is rendered with the mem scheme.
func New(fs afero.Fs, path string) Location {
	if _, ok := fs.(*afero.OsFs); ok {
		return Location{fs: fs, scheme: SchemeFile, path: filepath.Clean(path)}
	}
	return Location{fs: fs, scheme: SchemeMem, path: cleanAbs(path)}
}

// Parse turns file:///x, mem://x or a bare path into a location.
func Parse(s string) (Location, error) {
	switch {
	case s == "":
		return Location{}, errors.New(errors.ErrorTypeConfig, "empty location")
	case strings.HasPrefix(s, SchemeFile+"://"):
		return Local(strings.TrimPrefix(s, SchemeFile+"://")), nil
	case strings.HasPrefix(s, SchemeMem+"://"):
		return Memory(strings.TrimPrefix(s, SchemeMem+"://")), nil
	case strings.Contains(s, "://"):
		return Location{}, errors.Newf(errors.ErrorTypeConfig, "unsupported location scheme in %q", s)
	default:
		return Local(s), nil
	}
}

func cleanAbs(path string) string {
	return filepath.Clean("/" + strings.TrimPrefix(path, "/"))
}

// Fs returns the underlying filesystem.
func (l Location) Fs() afero.Fs { return l.fs }

// Path returns the path within the filesystem.
func (l Location) Path() string { return l.path }

// Scheme returns file or mem.
func (l Location) Scheme() string { return l.scheme }

// IsZero reports whether l was never set.
func (l Location) IsZero() bool { return l.fs == nil }

// String renders the location as a URL.
func (l Location) String() string {
	if l.IsZero() {
		return ""
	}
	if l.scheme == SchemeFile {
		if filepath.IsAbs(l.path) {
			return "file://" + l.path
		}
		return l.path
	}
	return "mem://" + l.path
}

// Join returns a child location.
func (l Location) Join(elem ...string) Location {
	parts := append([]string{l.path}, elem...)
	return Location{fs: l.fs, scheme: l.scheme, path: filepath.Join(parts...)}
}

// Parent returns the containing directory.
func (l Location) Parent() Location {
	return Location{fs: l.fs, scheme: l.scheme, path: filepath.Dir(l.path)}
}

// Name returns the final path element.
func (l Location) Name() string { return filepath.Base(l.path) }

// Ext returns the extension of the final element, including the dot.
func (l Location) Ext() string { return filepath.Ext(l.path) }

// Stem returns the final element without its extension.
func (l Location) Stem() string {
	name := l.Name()
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// WithSuffix replaces the extension of the final element.
func (l Location) WithSuffix(suffix string) Location {
	return l.Parent().Join(l.Stem() + suffix)
}

// Exists reports whether the path exists.
func (l Location) Exists() (bool, error) {
	ok, err := afero.Exists(l.fs, l.path)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrorTypeFile, "stat %s", l)
	}
	return ok, nil
}

// Open opens the file for reading.
func (l Location) Open() (afero.File, error) {
	f, err := l.fs.Open(l.path)
	if err != nil {
		return nil, wrapPathError(err, "open", l)
	}
	return f, nil
}

// Create truncates or creates the file, making parent directories first.
func (l Location) Create() (afero.File, error) {
	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "mkdir %s", l.Parent())
	}
	f, err := l.fs.Create(l.path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "create %s", l)
	}
	return f, nil
}

// ReadAll reads the whole file.
func (l Location) ReadAll() ([]byte, error) {
	data, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		return nil, wrapPathError(err, "read", l)
	}
	return data, nil
}

// WriteAtomic replaces the file contents with data. Readers see either the
// old file or the complete new one.
func (l Location) WriteAtomic(data []byte) error {
	return l.WriteFromAtomic(strings.NewReader(string(data)))
}

// WriteFromAtomic streams r into a temporary sibling and renames it into
// place. Concurrent writers of the same content converge on one file.
func (l Location) WriteFromAtomic(r io.Reader) error {
	dir := filepath.Dir(l.path)
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "mkdir %s", l.Parent())
	}

	tmp, err := afero.TempFile(l.fs, dir, "."+l.Name()+"-*.tmp")
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "create temp file for %s", l)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = l.fs.Remove(tmpName)
		return errors.Wrapf(err, errors.ErrorTypeFile, "write %s", l)
	}
	if err := tmp.Close(); err != nil {
		_ = l.fs.Remove(tmpName)
		return errors.Wrapf(err, errors.ErrorTypeFile, "close %s", l)
	}
	if err := l.fs.Rename(tmpName, l.path); err != nil {
		_ = l.fs.Remove(tmpName)
		return errors.Wrapf(err, errors.ErrorTypeFile, "rename into %s", l)
	}
	return nil
}

// Remove deletes the file if present.
func (l Location) Remove() error {
	if err := l.fs.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.ErrorTypeFile, "remove %s", l)
	}
	return nil
}

// Glob returns the locations under l matching pattern, in lexical order.
func (l Location) Glob(pattern string) ([]Location, error) {
	matches, err := afero.Glob(l.fs, filepath.Join(l.path, pattern))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "bad glob %q", pattern)
	}
	out := make([]Location, 0, len(matches))
	for _, m := range matches {
		out = append(out, Location{fs: l.fs, scheme: l.scheme, path: m})
	}
	return out, nil
}

func wrapPathError(err error, op string, l Location) error {
	if os.IsNotExist(err) {
		return errors.Wrapf(err, errors.ErrorTypeNotFound, "%s %s", op, l)
	}
	return errors.Wrapf(err, errors.ErrorTypeFile, "%s %s", op, l)
}
