package items

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/shng-go/shng/errors"
)

// Build adds the items of a configuration tree. Keys whose value is a mapping
// are child items, every other key is an attribute of the enclosing item.
// Order of the tree is preserved.
func (r *Registry) Build(tree yaml.MapSlice) error {
	return r.build("", tree)
}

func (r *Registry) build(prefix string, node yaml.MapSlice) error {
	for _, entry := range node {
		name := fmt.Sprint(entry.Key)
		child, ok := entry.Value.(yaml.MapSlice)
		if !ok {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		attrs := map[string]string{}
		for _, attr := range child {
			if _, nested := attr.Value.(yaml.MapSlice); nested {
				continue
			}
			attrs[fmt.Sprint(attr.Key)] = attrString(attr.Value)
		}
		typ, err := ParseType(attrs["type"])
		if err != nil {
			return errors.Wrap(err, path)
		}
		if _, err := r.Add(path, typ, attrs); err != nil {
			return err
		}
		if err := r.build(path, child); err != nil {
			return err
		}
	}
	return nil
}

func attrString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case []interface{}:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = attrString(e)
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(value)
}
