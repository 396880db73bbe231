package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// FileName is the catalog file searched for when no path is given.
const FileName = "datasets.yaml"

// LoadFile reads and parses a YAML configuration file from disk.
func LoadFile(filePath string) (*Node, error) {
	return LoadFS(afero.NewOsFs(), filePath)
}

// LoadFS reads and parses a YAML configuration file from fs.
func LoadFS(fs afero.Fs, filePath string) (*Node, error) {
	data, err := afero.ReadFile(fs, filePath)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to read config file %s", filePath)
	}
	return Parse(data, filePath)
}

// Parse parses a YAML document. ${VAR} references are replaced with
// environment values before parsing. source names the document in errors.
func Parse(data []byte, source string) (*Node, error) {
	content := substituteEnvVars(string(data))

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to parse YAML from %s", source)
	}
	if doc.Kind == 0 {
		return &Node{kind: KindNull, source: Source{File: source}}, nil
	}
	return convert(&doc, nil, source)
}

func convert(y *yaml.Node, path []string, file string) (*Node, error) {
	n := &Node{path: path, source: Source{File: file, Line: y.Line, Column: y.Column}}

	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			n.kind = KindNull
			return n, nil
		}
		return convert(y.Content[0], path, file)
	case yaml.AliasNode:
		return convert(y.Alias, path, file)
	case yaml.ScalarNode:
		if y.Tag == "!!null" {
			n.kind = KindNull
			return n, nil
		}
		var v interface{}
		if err := y.Decode(&v); err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "%s: %s", n.source, n.PathString())
		}
		n.kind = KindScalar
		n.value = v
	case yaml.SequenceNode:
		n.kind = KindSequence
		for i, c := range y.Content {
			child, err := convert(c, n.childPath(strconv.Itoa(i)), file)
			if err != nil {
				return nil, err
			}
			n.items = append(n.items, child)
		}
	case yaml.MappingNode:
		n.kind = KindMapping
		n.fields = make(map[string]*Node, len(y.Content)/2)
		for i := 0; i+1 < len(y.Content); i += 2 {
			key := y.Content[i].Value
			if _, dup := n.fields[key]; dup {
				return nil, errors.Newf(errors.ErrorTypeConfig, "%s:%d: duplicate key %q", file, y.Content[i].Line, key)
			}
			child, err := convert(y.Content[i+1], n.childPath(key), file)
			if err != nil {
				return nil, err
			}
			n.keys = append(n.keys, key)
			n.fields[key] = child
		}
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "%s: unsupported YAML node", n.source)
	}
	return n, nil
}

// Find searches dir and each of its parents for datasets.yaml or
// etc/datasets.yaml and returns the first match.
func Find(fs afero.Fs, dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConfig, "failed to resolve working directory")
	}

	start := dir
	for {
		for _, candidate := range []string{
			filepath.Join(dir, FileName),
			filepath.Join(dir, "etc", FileName),
		} {
			if ok, _ := afero.Exists(fs, candidate); ok {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.Newf(errors.ErrorTypeConfig,
		"no %s found in %s or any parent directory (also tried etc/%s)", FileName, start, FileName)
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
