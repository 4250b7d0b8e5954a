// Package binder turns item attributes into typed adapter bindings.
//
// Adapters declare a Schema naming the attribute prefix they own. For an
// adapter with prefix "modbus" the binder recognises modbus_address,
// modbus_datatype, modbus_direction, modbus_lookup, modbus_bool, modbus_eval,
// modbus_eval_write and modbus_<extra> for each extra key of the schema. A key
// may end in @<instance> to pick one of several instances of the same adapter
// type. Other attributes are ignored.
package binder

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
	"github.com/shng-go/shng/util"
)

// Schema of the item attributes an adapter owns.
type Schema struct {
	Prefix string
	// DefaultDirection applies when no <prefix>_direction is given. Zero means Read.
	DefaultDirection Direction
	Extra            []string
}

// Target is an adapter instance accepting bindings.
type Target interface {
	Schema() Schema
	// Bind may reject the binding with a binding error.
	Bind(b *Binding) error
}

type Instance struct {
	ID     string
	Type   string
	Target Target
}

// Dropped records a binding that could not be made.
type Dropped struct {
	Item string
	Key  string
	Err  error
}

type Result struct {
	// Bindings per instance id, in item registration order.
	Bindings map[string][]*Binding
	// Writers is the write binding of each item path.
	Writers map[string]*Binding
	Dropped []Dropped
}

// Count of bindings over all instances.
func (r *Result) Count() int {
	n := 0
	for _, bs := range r.Bindings {
		n += len(bs)
	}
	return n
}

type Binder struct {
	log     *zap.SugaredLogger
	lookups map[string]map[string]string
}

// New creates a binder with the named lookup tables available to
// <prefix>_lookup.
func New(log *zap.SugaredLogger, lookups map[string]map[string]string) *Binder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Binder{log: log, lookups: lookups}
}

var reWildcard = regexp.MustCompile(`<([A-Za-z0-9_]+)>`)

// Bind walks every item of the registry and binds the attributes owned by
// the given instances.
func (self *Binder) Bind(reg *items.Registry, instances []Instance) *Result {
	result := &Result{
		Bindings: map[string][]*Binding{},
		Writers:  map[string]*Binding{},
	}
	byPrefix := map[string][]Instance{}
	for _, inst := range instances {
		prefix := inst.Target.Schema().Prefix
		byPrefix[prefix] = append(byPrefix[prefix], inst)
	}

	for _, item := range reg.All() {
		attrs := item.Attrs()
		for _, key := range util.SortedKeys(attrs) {
			base, instID, _ := strings.Cut(key, "@")
			prefix, ok := strings.CutSuffix(base, "_address")
			if !ok {
				continue
			}
			candidates := byPrefix[prefix]
			if len(candidates) == 0 {
				continue
			}
			b, err := self.bind(item, key, prefix, instID, candidates, result)
			if err != nil {
				result.Dropped = append(result.Dropped, Dropped{Item: item.Path(), Key: key, Err: err})
				self.log.Warnw("Binding dropped", "item", item.Path(), "key", key, "error", err)
				continue
			}
			result.Bindings[b.AdapterID] = append(result.Bindings[b.AdapterID], b)
			if b.Direction.CanWrite() {
				result.Writers[item.Path()] = b
			}
		}
	}
	return result
}

func (self *Binder) bind(item *items.Item, key, prefix, instID string, candidates []Instance, result *Result) (*Binding, error) {
	inst, err := selectInstance(prefix, instID, candidates)
	if err != nil {
		return nil, err
	}
	schema := inst.Target.Schema()
	get := func(name string) (string, bool) {
		if instID != "" {
			if v, ok := item.Attr(prefix + "_" + name + "@" + instID); ok {
				return v, true
			}
		}
		return item.Attr(prefix + "_" + name)
	}

	raw, _ := item.Attr(key)
	address, err := ResolveWildcards(item, raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(address) == "" {
		return nil, errors.Bindingf("binder.Bind", "empty address")
	}
	b := &Binding{
		Item:      item,
		AdapterID: inst.ID,
		Address:   address,
		Direction: schema.DefaultDirection,
		Params:    map[string]string{},
		Key:       key,
	}
	if b.Direction == 0 {
		b.Direction = Read
	}
	if v, ok := get("direction"); ok {
		if b.Direction, err = ParseDirection(v); err != nil {
			return nil, err
		}
	}
	b.DataType, _ = get("datatype")
	if v, ok := get("lookup"); ok {
		table, ok := self.lookups[v]
		if !ok {
			return nil, errors.Bindingf("binder.Bind", "unknown lookup table %q", v)
		}
		b.LookupName = v
		b.Lookup = table
	}
	if v, ok := get("bool"); ok {
		pair := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '|' })
		if len(pair) != 2 {
			return nil, errors.Bindingf("binder.Bind", "bool pair %q needs two values", v)
		}
		b.BoolValues = []string{strings.TrimSpace(pair[0]), strings.TrimSpace(pair[1])}
	}
	if v, ok := get("eval"); ok {
		if b.Eval, err = ParseEval(v); err != nil {
			return nil, err
		}
	}
	if v, ok := get("eval_write"); ok {
		if b.EvalWrite, err = ParseEval(v); err != nil {
			return nil, err
		}
	}
	for _, extra := range schema.Extra {
		if v, ok := get(extra); ok {
			v, err = ResolveWildcards(item, v)
			if err != nil {
				return nil, err
			}
			b.Params[extra] = v
		}
	}

	if b.Direction.CanWrite() {
		if other, exists := result.Writers[item.Path()]; exists {
			return nil, errors.Bindingf("binder.Bind", "item already written by %s:%s", other.AdapterID, other.Address)
		}
	}
	if err := inst.Target.Bind(b); err != nil {
		if !errors.IsBinding(err) {
			err = errors.Binding("binder.Bind", err)
		}
		return nil, err
	}
	return b, nil
}

func selectInstance(prefix, instID string, candidates []Instance) (Instance, error) {
	if instID != "" {
		for _, inst := range candidates {
			if inst.ID == instID {
				return inst, nil
			}
		}
		return Instance{}, errors.Bindingf("binder.Bind", "no %s instance %q", prefix, instID)
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	for _, inst := range candidates {
		if inst.ID == prefix || inst.ID == inst.Type {
			return inst, nil
		}
	}
	return Instance{}, errors.Bindingf("binder.Bind", "%d %s instances, use %s_address@<instance>", len(candidates), prefix, prefix)
}

// ResolveWildcards replaces each <name> token with the value of the attribute
// name on the item itself or its nearest ancestor declaring it.
func ResolveWildcards(item *items.Item, s string) (string, error) {
	var missing []string
	ret := reWildcard.ReplaceAllStringFunc(s, func(token string) string {
		name := token[1 : len(token)-1]
		for it := item; it != nil; it = it.Parent() {
			if v, ok := it.Attr(name); ok {
				return v
			}
		}
		missing = append(missing, name)
		return token
	})
	if len(missing) > 0 {
		return "", errors.Bindingf("binder.Bind", "cannot resolve <%s> in %q", strings.Join(missing, ">, <"), s)
	}
	return ret, nil
}
