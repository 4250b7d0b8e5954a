package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/util"
)

// Params is the free-form parameter block of an adapter instance.
type Params map[string]interface{}

// String returns the parameter as a string, or def when absent.
func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	return fmt.Sprint(v)
}

// Require returns a string parameter that must be present.
func (p Params) Require(key string) (string, error) {
	s := p.String(key, "")
	if s == "" {
		return "", errors.Configf("params", "param %q is required", key)
	}
	return s, nil
}

func (p Params) Int(key string, def int) (int, error) {
	switch v := p[key].(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, errors.Configf("params", "param %q: %s", key, err)
		}
		return n, nil
	}
	return 0, errors.Configf("params", "param %q: not an integer", key)
}

func (p Params) Float(key string, def float64) (float64, error) {
	switch v := p[key].(type) {
	case nil:
		return def, nil
	case int:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, errors.Configf("params", "param %q: %s", key, err)
		}
		return f, nil
	}
	return 0, errors.Configf("params", "param %q: not a number", key)
}

func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case nil:
		return def
	case bool:
		return v
	default:
		return util.IsTrue(fmt.Sprint(v))
	}
}

// Duration accepts a duration string or a number of seconds.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	switch v := p[key].(type) {
	case nil:
		return def, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		d, err := util.ParseDuration(v)
		if err != nil {
			return 0, errors.Configf("params", "param %q: %s", key, err)
		}
		return d, nil
	}
	return 0, errors.Configf("params", "param %q: not a duration", key)
}

// Strings returns a list parameter. A single string is a one element list.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case nil:
		return nil
	case []interface{}:
		ret := make([]string, len(v))
		for i, e := range v {
			ret[i] = fmt.Sprint(e)
		}
		return ret
	case []string:
		return v
	default:
		return []string{fmt.Sprint(v)}
	}
}
