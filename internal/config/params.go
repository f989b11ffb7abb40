package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Params holds a plugin's free-form parameters as decoded from YAML.
type Params map[string]any

// MissingParamError is returned by the Required accessors.
type MissingParamError struct {
	Key string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Key)
}

func (p Params) lookup(key string) (any, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return nil, false
	}
	return v, true
}

// Has reports whether key is set to a non-empty value.
func (p Params) Has(key string) bool {
	_, ok := p.lookup(key)
	return ok
}

// String returns key as a string, or def when unset.
func (p Params) String(key, def string) string {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	return cast.ToString(v)
}

// RequiredString returns key as a string or a MissingParamError.
func (p Params) RequiredString(key string) (string, error) {
	v, ok := p.lookup(key)
	if !ok {
		return "", &MissingParamError{Key: key}
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("parameter %q: %w", key, err)
	}
	return s, nil
}

// Int returns key as an int, or def when unset.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: %w", key, err)
	}
	return n, nil
}

// RequiredInt returns key as an int or a MissingParamError.
func (p Params) RequiredInt(key string) (int, error) {
	if !p.Has(key) {
		return 0, &MissingParamError{Key: key}
	}
	return p.Int(key, 0)
}

// Float returns key as a float64, or def when unset.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: %w", key, err)
	}
	return f, nil
}

// Bool returns key as a bool, or def when unset.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("parameter %q: %w", key, err)
	}
	return b, nil
}

// Duration returns key as a duration ("2s", "150ms"), or def when unset.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: %w", key, err)
	}
	return d, nil
}

// Strings returns key as a string list. A single string is split on commas.
func (p Params) Strings(key string) ([]string, error) {
	v, ok := p.lookup(key)
	if !ok {
		return nil, nil
	}
	if s, isStr := v.(string); isStr {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
	out, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, fmt.Errorf("parameter %q: %w", key, err)
	}
	return out, nil
}

// Secret returns key's literal value if set, otherwise the environment
// variable named by "<key>_env". Returns "" if neither is set.
func (p Params) Secret(key string) string {
	if s := p.String(key, ""); s != "" {
		return s
	}
	if env := p.String(key+"_env", ""); env != "" {
		return os.Getenv(env)
	}
	return ""
}

func paramString(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// StringMap returns key as a map of strings, e.g. label matchers.
func (p Params) StringMap(key string) (map[string]string, error) {
	v, ok := p.lookup(key)
	if !ok {
		return nil, nil
	}
	m, err := cast.ToStringMapStringE(v)
	if err != nil {
		return nil, fmt.Errorf("parameter %q: %w", key, err)
	}
	return m, nil
}
