package fsys

import (
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/afero"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

var locationType = reflect.TypeOf(Location{})

// DecodeHook converts configuration values into locations. It accepts a URL
// string or a mapping with fs (file or mem) and path keys.
func DecodeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != locationType {
			return data, nil
		}
		switch v := data.(type) {
		case Location:
			return v, nil
		case string:
			return Parse(v)
		case map[string]interface{}:
			path, _ := v["path"].(string)
			if path == "" {
				return nil, errors.New(errors.ErrorTypeConfig, "location mapping requires a path")
			}
			switch fs, _ := v["fs"].(string); fs {
			case "", SchemeFile:
				return Local(path), nil
			case SchemeMem:
				return Memory(path), nil
			default:
				return nil, errors.Newf(errors.ErrorTypeConfig, "unknown location fs %q", fs)
			}
		case afero.Fs:
			return New(v, "/"), nil
		default:
			return data, nil
		}
	}
}
