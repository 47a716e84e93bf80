package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// PEM holds PEM encoded key material. When configured with a value that is
// not itself PEM it is treated as a path and the file contents are loaded.
type PEM string

const pemPrefix = "-----BEGIN"

// ComposeDecodeHookFunc returns the hooks used to decode Config.
func ComposeDecodeHookFunc(extra ...mapstructure.DecodeHookFunc) mapstructure.DecodeHookFunc {
	hooks := []mapstructure.DecodeHookFunc{
		// default hook functions used by viper
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		PEMDecodeHook(),
	}
	hooks = append(hooks, extra...)
	return mapstructure.ComposeDecodeHookFunc(hooks...)
}

// PEMDecodeHook converts a string into a PEM, reading it from disk when the
// string is a file path.
func PEMDecodeHook() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(PEM("")) {
			return data, nil
		}

		str, ok := data.(string)
		if !ok {
			return data, nil
		}

		return loadPEM(str)
	}
}

func loadPEM(value string) (PEM, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, pemPrefix) {
		return PEM(value), nil
	}

	if _, err := os.Stat(value); err != nil {
		return "", fmt.Errorf("key file does not exist: %w", err)
	}

	content, err := os.ReadFile(value)
	if err != nil {
		return "", fmt.Errorf("failed to read key file: %w", err)
	}

	return PEM(strings.TrimSpace(string(content))), nil
}
