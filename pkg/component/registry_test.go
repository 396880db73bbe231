package component

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gridetl/pkg/config"
	"github.com/ajitpratap0/gridetl/pkg/errors"
)

type hook interface{ ID() string }

type fixFill struct{ Fill float64 }

func (f *fixFill) ID() string { return "fix_fill_value" }

type chain struct{ hooks []hook }

func (c *chain) ID() string { return "chain" }

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()

	require.NoError(t, r.Register(Registration{
		Capability: CombinePreprocessor,
		Name:       "fix_fill_value",
		New: func(args Args) (interface{}, error) {
			var opts struct {
				FillValue float64 `yaml:"fill_value"`
			}
			if err := args.Decode(&opts); err != nil {
				return nil, err
			}
			return &fixFill{Fill: opts.FillValue}, nil
		},
	}))
	require.NoError(t, r.Register(Registration{
		Capability: Combiner,
		Name:       "default",
		FromConfig: func(r *Registry, node *config.Node) (interface{}, error) {
			hooks, err := AsList[hook](r, node.GetOr("preprocessors", nil), CombinePreprocessor)
			if err != nil {
				return nil, err
			}
			return &chain{hooks: hooks}, nil
		},
	}))
	require.NoError(t, r.SetDefault(Combiner, "default"))
	return r
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := testRegistry(t)
	err := r.Register(Registration{
		Capability: Combiner,
		Name:       "default",
		New:        func(Args) (interface{}, error) { return nil, nil },
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	err = r.Register(Registration{Capability: Combiner, Name: "empty"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestResolveUnknown(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Resolve(Fetcher, "ftp", Args{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeComponentNotFound))
}

func TestResolveGeneric(t *testing.T) {
	r := testRegistry(t)
	h, err := Resolve[hook](r, CombinePreprocessor, "fix_fill_value", Args{Named: map[string]interface{}{"fill_value": -1.5}})
	require.NoError(t, err)
	assert.Equal(t, -1.5, h.(*fixFill).Fill)

	_, err = Resolve[*chain](r, CombinePreprocessor, "fix_fill_value", Args{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestResolveFromConfigOnlyRegistration(t *testing.T) {
	r := testRegistry(t)
	c, err := Resolve[*chain](r, Combiner, "default", Args{Named: map[string]interface{}{
		"preprocessors": []interface{}{map[string]interface{}{"name": "fix_fill_value"}},
	}})
	require.NoError(t, err)
	assert.Len(t, c.hooks, 1)

	_, err = r.Resolve(Combiner, "default", Args{Positional: []interface{}{1}})
	assert.Error(t, err)
}

func TestAsComponentNested(t *testing.T) {
	r := testRegistry(t)
	root, err := config.Parse([]byte(`
combiner:
  preprocessors:
    - name: fix_fill_value
      fill_value: 3
    - fix_fill_value
`), "datasets.yaml")
	require.NoError(t, err)

	c, err := AsField[*chain](r, root, "combiner", Combiner)
	require.NoError(t, err)
	require.Len(t, c.hooks, 2)
	assert.Equal(t, 3.0, c.hooks[0].(*fixFill).Fill)
	assert.Equal(t, 0.0, c.hooks[1].(*fixFill).Fill)
}

func TestAsComponentReportsNestedPath(t *testing.T) {
	r := testRegistry(t)
	root, err := config.Parse([]byte(`
datasets:
  - combiner:
      preprocessors:
        - name: fix_fill_value
        - name: bogus
`), "datasets.yaml")
	require.NoError(t, err)

	first, _ := root.GetOr("datasets", nil).Index(0)
	_, err = AsField[*chain](r, first, "combiner", Combiner)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeComponentNotFound))
	assert.Contains(t, err.Error(), "datasets.0.combiner.preprocessors.1")
	assert.Contains(t, err.Error(), `combine_preprocessor "bogus" is not registered`)
}

func TestAsComponentLocatesWrappedFailuresOnce(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register(Registration{
		Capability: Transformer,
		Name:       "wrapping",
		FromConfig: func(r *Registry, node *config.Node) (interface{}, error) {
			if _, err := AsField[*chain](r, node, "combiner", Combiner); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeConfig, "building inner combiner")
			}
			return &chain{}, nil
		},
	}))
	root, err := config.Parse([]byte(`
transformer:
  name: wrapping
  combiner:
    preprocessors:
      - name: bogus
`), "datasets.yaml")
	require.NoError(t, err)

	_, err = AsField[*chain](r, root, "transformer", Transformer)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeComponentNotFound))
	assert.Contains(t, err.Error(), "transformer.combiner.preprocessors.0")
	assert.Equal(t, 1, strings.Count(err.Error(), "datasets.yaml"), err.Error())

	path, ok := errors.Detail(err, "path")
	require.True(t, ok)
	assert.Equal(t, "transformer.combiner.preprocessors.0", path)
}

func TestAsComponentDefaults(t *testing.T) {
	r := testRegistry(t)
	root, err := config.Parse([]byte("other: 1\n"), "datasets.yaml")
	require.NoError(t, err)

	c, err := AsField[*chain](r, root, "combiner", Combiner)
	require.NoError(t, err)
	assert.Empty(t, c.hooks)

	_, err = AsField[hook](r, root, "extractor", Extractor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required configuration from datasets.yaml: extractor.name")
}

func TestAsComponentPassesInstancesThrough(t *testing.T) {
	r := testRegistry(t)
	existing := &fixFill{Fill: 7}
	node := config.FromValue(map[string]interface{}{"pre": []interface{}{existing}}, "inline")

	hooks, err := AsList[hook](r, node.GetOr("pre", nil), CombinePreprocessor)
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Same(t, existing, hooks[0])
}

func TestIntrospection(t *testing.T) {
	r := testRegistry(t)
	assert.Equal(t, []string{"default"}, r.Names(Combiner))
	assert.True(t, r.Has(CombinePreprocessor, "fix_fill_value"))
	assert.False(t, r.Has(Fetcher, "yearly"))

	regs := r.Describe()
	require.Len(t, regs, 2)
	assert.Equal(t, Combiner, regs[0].Capability)
	assert.Equal(t, CombinePreprocessor, regs[1].Capability)

	def, ok := r.Default(Combiner)
	assert.True(t, ok)
	assert.Equal(t, "default", def)

	assert.Error(t, r.SetDefault(Transformer, "identity"))
}
