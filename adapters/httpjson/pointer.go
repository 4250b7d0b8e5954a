package httpjson

import (
	"strconv"
	"strings"

	"github.com/shng-go/shng/errors"
)

// Pointer is a parsed JSON pointer (RFC 6901).
type Pointer []string

func ParsePointer(s string) (Pointer, error) {
	if s == "" {
		return Pointer{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, errors.Bindingf("httpjson.Bind", "json pointer %q must start with /", s)
	}
	parts := strings.Split(s[1:], "/")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(strings.ReplaceAll(p, "~1", "/"), "~0", "~")
	}
	return Pointer(parts), nil
}

// Get the value the pointer refers to in a decoded document.
func (p Pointer) Get(doc interface{}) (interface{}, bool) {
	cur := doc
	for _, token := range p {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[token]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			n, err := strconv.Atoi(token)
			if err != nil || n < 0 || n >= len(node) {
				return nil, false
			}
			cur = node[n]
		default:
			return nil, false
		}
	}
	return cur, true
}
