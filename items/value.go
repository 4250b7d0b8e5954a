package items

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/util"
)

// Type of an item value. The type of an item is fixed when it is created.
type Type int

const (
	// TypeNone is a structural node that only groups children and carries no value.
	TypeNone Type = iota
	TypeBool
	TypeNum
	TypeStr
	TypeList
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeNum:
		return "num"
	case TypeStr:
		return "str"
	case TypeList:
		return "list"
	default:
		return "foo"
	}
}

// ParseType parses the type attribute of an item.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "foo":
		return TypeNone, nil
	case "bool":
		return TypeBool, nil
	case "num":
		return TypeNum, nil
	case "str":
		return TypeStr, nil
	case "list":
		return TypeList, nil
	}
	return TypeNone, errors.Configf("items.ParseType", "unknown item type %q", s)
}

// Zero value of the type.
func (t Type) Zero() interface{} {
	switch t {
	case TypeBool:
		return false
	case TypeNum:
		return 0.0
	case TypeStr:
		return ""
	case TypeList:
		return []interface{}{}
	}
	return nil
}

// Coerce checks value against the type. Go numeric kinds widen to float64 and
// typed slices become []interface{}; anything else of the wrong kind is a type
// error.
func (t Type) Coerce(value interface{}) (interface{}, error) {
	switch t {
	case TypeBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case TypeNum:
		if f, ok := toFloat(value); ok {
			return f, nil
		}
	case TypeStr:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case TypeList:
		if value == nil {
			break
		}
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			ret := make([]interface{}, rv.Len())
			for i := range ret {
				ret[i] = rv.Index(i).Interface()
			}
			return ret, nil
		}
	case TypeNone:
		return nil, errors.Typef("items.Coerce", "item has no value")
	}
	return nil, errors.Typef("items.Coerce", "%T is not %s", value, t)
}

func toFloat(value interface{}) (float64, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}

// Convert is the lenient form of Coerce used for values decoded from a wire
// format or arriving as text (the HTTP API, the message bus). Text is parsed,
// numbers and bools convert into each other and scalars format as strings.
func (t Type) Convert(value interface{}) (interface{}, error) {
	if s, ok := value.(string); ok && t != TypeStr {
		return t.Parse(s)
	}
	switch t {
	case TypeBool:
		if f, ok := toFloat(value); ok {
			return f != 0, nil
		}
	case TypeNum:
		if b, ok := value.(bool); ok {
			if b {
				return 1.0, nil
			}
			return 0.0, nil
		}
	case TypeStr:
		if value != nil && reflect.ValueOf(value).Kind() != reflect.Slice {
			return Format(value), nil
		}
	}
	return t.Coerce(value)
}

// Parse a textual value.
func (t Type) Parse(s string) (interface{}, error) {
	switch t {
	case TypeBool:
		if b, ok := util.ParseArg(s).(bool); ok {
			return b, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f != 0, nil
		}
	case TypeNum:
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, nil
		}
	case TypeStr:
		return s, nil
	case TypeList:
		s = strings.TrimSpace(s)
		s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		ret := []interface{}{}
		if s == "" {
			return ret, nil
		}
		for _, part := range strings.Split(s, ",") {
			ret = append(ret, util.ParseArg(strings.TrimSpace(part)))
		}
		return ret, nil
	}
	return nil, errors.Typef("items.Parse", "cannot parse %q as %s", s, t)
}

// Equal compares two item values. Lists compare element by element.
func Equal(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}

// Format a value for display.
func Format(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []interface{}:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = Format(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprint(value)
}
