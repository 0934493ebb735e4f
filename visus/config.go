package visus

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is a map of keyword to arbitrary data to specify configurations via keyword.
// Keys are case-insensitive.  Values typically come from TOML tables or from
// "key=value" command-line arguments.
type Config map[string]interface{}

// NewConfig returns an empty Config.
func NewConfig() Config {
	return make(Config)
}

// Set sets a value for a key.
func (c Config) Set(key string, value interface{}) {
	c[strings.ToLower(key)] = value
}

// Clone returns a shallow copy.  Cloning a nil Config gives an empty one.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func (c Config) get(key string) (interface{}, bool) {
	if c == nil {
		return nil, false
	}
	if v, found := c[key]; found {
		return v, true
	}
	lower := strings.ToLower(key)
	for k, v := range c {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return nil, false
}

// GetString returns a string value for a key.  If the key is not found, found is false.
func (c Config) GetString(key string) (s string, found bool, err error) {
	v, found := c.get(key)
	if !found {
		return
	}
	switch t := v.(type) {
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	case int, int64, float64, bool:
		s = fmt.Sprintf("%v", t)
	default:
		err = fmt.Errorf("expected string for config key %q, got %T", key, v)
	}
	return
}

// GetInt returns an integer value for a key, parsing strings if necessary.
func (c Config) GetInt(key string) (i int, found bool, err error) {
	v, found := c.get(key)
	if !found {
		return
	}
	switch t := v.(type) {
	case int:
		i = t
	case int64:
		i = int(t)
	case float64:
		i = int(t)
	case string:
		i, err = strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			err = fmt.Errorf("bad integer for config key %q: %v", key, err)
		}
	default:
		err = fmt.Errorf("expected integer for config key %q, got %T", key, v)
	}
	return
}

// GetBool returns a boolean value for a key, parsing strings if necessary.
func (c Config) GetBool(key string) (b bool, found bool, err error) {
	v, found := c.get(key)
	if !found {
		return
	}
	switch t := v.(type) {
	case bool:
		b = t
	case string:
		b, err = strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			err = fmt.Errorf("bad boolean for config key %q: %v", key, err)
		}
	default:
		err = fmt.Errorf("expected boolean for config key %q, got %T", key, v)
	}
	return
}

// GetConfig returns a nested table, e.g., the children of a multiplex access.
func (c Config) GetConfig(key string) (sub Config, found bool, err error) {
	v, found := c.get(key)
	if !found {
		return
	}
	switch t := v.(type) {
	case Config:
		sub = t
	case map[string]interface{}:
		sub = Config(t)
	default:
		err = fmt.Errorf("expected table for config key %q, got %T", key, v)
	}
	return
}

// GetConfigs returns a list of nested tables, e.g., [[dataset.foo.access.child]].
func (c Config) GetConfigs(key string) ([]Config, error) {
	v, found := c.get(key)
	if !found {
		return nil, nil
	}
	switch t := v.(type) {
	case []Config:
		return t, nil
	case []map[string]interface{}:
		out := make([]Config, len(t))
		for i, m := range t {
			out[i] = Config(m)
		}
		return out, nil
	case []interface{}:
		out := make([]Config, 0, len(t))
		for _, item := range t {
			switch m := item.(type) {
			case Config:
				out = append(out, m)
			case map[string]interface{}:
				out = append(out, Config(m))
			default:
				return nil, fmt.Errorf("expected list of tables for config key %q, got element %T", key, item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list of tables for config key %q, got %T", key, v)
}

// ParseConfigArgs converts "key=value" arguments into a Config and returns
// the remaining positional arguments.
func ParseConfigArgs(args []string) (Config, []string) {
	c := NewConfig()
	var rest []string
	for _, arg := range args {
		elems := strings.SplitN(arg, "=", 2)
		if len(elems) == 2 {
			c.Set(elems[0], elems[1])
		} else {
			rest = append(rest, arg)
		}
	}
	return c, rest
}

// ConvertToAbsolute makes a relative path absolute with respect to a base
// directory.  URLs with a scheme are returned unchanged.
func ConvertToAbsolute(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) || strings.Contains(path, "://") {
		return path
	}
	return filepath.Join(baseDir, path)
}
