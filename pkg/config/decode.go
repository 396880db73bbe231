package config

import (
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
)

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ParseTime accepts RFC3339 timestamps and plain dates, returning UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf(errors.ErrorTypeConfig, "cannot parse time %q", s)
}

func timeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Time{}) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return ParseTime(v)
		case time.Time:
			return v.UTC(), nil
		default:
			return data, nil
		}
	}
}

// DecodeHooks are applied by Decode and by component argument decoding.
func DecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		timeHook(),
		fsys.DecodeHook(),
	)
}

// DecodeValue decodes a plain value into target using yaml field tags.
func DecodeValue(input, target interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       DecodeHooks(),
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build decoder")
	}
	return dec.Decode(input)
}

// Decode decodes the subtree into target. Errors carry the node location.
func (n *Node) Decode(target interface{}) error {
	if err := DecodeValue(n.Interface(), target); err != nil {
		return n.Wrap(err)
	}
	return nil
}
