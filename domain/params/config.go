package params

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"covbench/domain/core"
)

// Config is one resolved hyperparameter configuration: exactly one concrete value
// per key. Config values are immutable; With returns a modified copy so grid search
// can never alias a candidate another candidate is still using.
type Config struct {
	values map[string]interface{}
}

// NewConfig copies values into a new Config.
func NewConfig(values map[string]interface{}) Config {
	c := Config{values: make(map[string]interface{}, len(values))}
	for k, v := range values {
		c.values[k] = v
	}
	return c
}

// Empty returns the configuration with no keys.
func Empty() Config { return Config{} }

// Len returns the number of keys.
func (c Config) Len() int { return len(c.values) }

// Get returns the raw value for key.
func (c Config) Get(key string) (interface{}, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Has reports whether key is set.
func (c Config) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Keys returns the keys in sorted order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of c with key set to value.
func (c Config) With(key string, value interface{}) Config {
	out := NewConfig(c.values)
	out.values[key] = value
	return out
}

// Map returns a copy of the underlying values.
func (c Config) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Equal compares two configurations key by key.
func (c Config) Equal(o Config) bool {
	if len(c.values) != len(o.values) {
		return false
	}
	for k, v := range c.values {
		ov, ok := o.values[k]
		if !ok || fmt.Sprintf("%v", v) != fmt.Sprintf("%v", ov) {
			return false
		}
	}
	return true
}

func (c Config) String() string {
	parts := make([]string, 0, len(c.values))
	for _, k := range c.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c.values[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Int reads an integer value. Whole floats are accepted because JSON decodes
// every number as float64.
func (c Config) Int(key string) (int, error) {
	v, ok := c.values[key]
	if !ok {
		return 0, core.NewMissingParamError(key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, core.NewParamTypeError(key, "an integer", v)
		}
		return int(n), nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return int(rv.Int()), nil
	case rv.CanUint() && rv.Uint() <= math.MaxInt:
		return int(rv.Uint()), nil
	case rv.CanFloat():
		if f := rv.Float(); f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int(f), nil
		}
	}
	return 0, core.NewParamTypeError(key, "an integer", v)
}

// IntOr reads an integer value, returning def when key is absent.
func (c Config) IntOr(key string, def int) (int, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.Int(key)
}

// Float reads a numeric value.
func (c Config) Float(key string) (float64, error) {
	v, ok := c.values[key]
	if !ok {
		return 0, core.NewMissingParamError(key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanFloat():
		return rv.Float(), nil
	case rv.CanInt():
		return float64(rv.Int()), nil
	case rv.CanUint():
		return float64(rv.Uint()), nil
	}
	return 0, core.NewParamTypeError(key, "a number", v)
}

// FloatOr reads a numeric value, returning def when key is absent.
func (c Config) FloatOr(key string, def float64) (float64, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.Float(key)
}

// Bool reads a boolean value.
func (c Config) Bool(key string) (bool, error) {
	v, ok := c.values[key]
	if !ok {
		return false, core.NewMissingParamError(key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, core.NewParamTypeError(key, "a boolean", v)
	}
	return b, nil
}

// BoolOr reads a boolean value, returning def when key is absent.
func (c Config) BoolOr(key string, def bool) (bool, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.Bool(key)
}

// Str reads a string value.
func (c Config) Str(key string) (string, error) {
	v, ok := c.values[key]
	if !ok {
		return "", core.NewMissingParamError(key)
	}
	s, ok := v.(string)
	if !ok {
		return "", core.NewParamTypeError(key, "a string", v)
	}
	return s, nil
}

// StrOr reads a string value, returning def when key is absent.
func (c Config) StrOr(key string, def string) (string, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.Str(key)
}

func (c Config) MarshalJSON() ([]byte, error) {
	if c.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.values)
}

func (c *Config) UnmarshalJSON(data []byte) error {
	var values map[string]interface{}
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*c = NewConfig(values)
	return nil
}
