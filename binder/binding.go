package binder

import (
	"fmt"
	"math"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
	"github.com/shng-go/shng/util"
)

// Direction of a binding.
type Direction int

const (
	Read Direction = 1 << iota
	Write
	ReadWrite = Read | Write
)

func (d Direction) CanRead() bool  { return d&Read != 0 }
func (d Direction) CanWrite() bool { return d&Write != 0 }

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "readwrite"
	}
	return "none"
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read", "r", "ro", "in":
		return Read, nil
	case "write", "w", "wo", "out":
		return Write, nil
	case "readwrite", "rw", "both":
		return ReadWrite, nil
	}
	return 0, errors.Bindingf("binder.ParseDirection", "unknown direction %q", s)
}

// Binding associates one item with one adapter address.
type Binding struct {
	Item      *items.Item
	AdapterID string
	Address   string
	Direction Direction
	// DataType is interpreted by the adapter (int16, float32, ...).
	DataType   string
	LookupName string
	Lookup     map[string]string
	// BoolValues is the wire form of false and true.
	BoolValues []string
	Eval       *govaluate.EvaluableExpression
	EvalWrite  *govaluate.EvaluableExpression
	// Params holds the adapter's extra keys, without prefix.
	Params map[string]string
	// Key is the attribute the binding was built from.
	Key string
}

func (b *Binding) String() string {
	return fmt.Sprintf("%s -> %s:%s (%s)", b.Item.Path(), b.AdapterID, b.Address, b.Direction)
}

func (b *Binding) Param(name, def string) string {
	if v, ok := b.Params[name]; ok && v != "" {
		return v
	}
	return def
}

// Decode converts a value read from the wire into the item's form. The bool
// pair or lookup table maps the wire value first, then eval is applied, then
// the result is converted to the item type.
func (b *Binding) Decode(wire interface{}) (interface{}, error) {
	typ := b.Item.Type()
	value := wire
	switch {
	case len(b.BoolValues) == 2 && typ == items.TypeBool:
		s := items.Format(wire)
		switch {
		case strings.EqualFold(s, b.BoolValues[1]):
			value = true
		case strings.EqualFold(s, b.BoolValues[0]):
			value = false
		default:
			return nil, errors.Typef("binder.Decode", "%s: %q is neither %s nor %s", b.Item.Path(), s, b.BoolValues[0], b.BoolValues[1])
		}
	case b.Lookup != nil:
		s := items.Format(wire)
		mapped, ok := b.Lookup[s]
		if !ok {
			return nil, errors.Typef("binder.Decode", "%s: %q not in lookup %s", b.Item.Path(), s, b.LookupName)
		}
		value = mapped
	}
	if b.Eval != nil {
		result, err := b.Eval.Evaluate(map[string]interface{}{"value": evalInput(value)})
		if err != nil {
			return nil, errors.Type("binder.Decode", errors.Wrapf(err, "%s eval", b.Item.Path()))
		}
		value = result
	}
	ret, err := typ.Convert(value)
	if err != nil {
		return nil, errors.Wrap(err, b.Item.Path())
	}
	return ret, nil
}

// Encode converts an item value into the form written to the wire.
func (b *Binding) Encode(value interface{}) (interface{}, error) {
	if b.EvalWrite != nil {
		result, err := b.EvalWrite.Evaluate(map[string]interface{}{"value": evalInput(value)})
		if err != nil {
			return nil, errors.Type("binder.Encode", errors.Wrapf(err, "%s eval_write", b.Item.Path()))
		}
		value = result
	}
	switch v := value.(type) {
	case bool:
		if len(b.BoolValues) == 2 {
			if v {
				return b.BoolValues[1], nil
			}
			return b.BoolValues[0], nil
		}
	}
	if b.Lookup != nil {
		s := items.Format(value)
		for _, wire := range util.SortedKeys(b.Lookup) {
			if b.Lookup[wire] == s {
				return wire, nil
			}
		}
		return nil, errors.Typef("binder.Encode", "%s: %q not in lookup %s", b.Item.Path(), s, b.LookupName)
	}
	return value, nil
}

func evalInput(value interface{}) interface{} {
	switch v := value.(type) {
	case bool:
		if v {
			return 1.0
		}
		return 0.0
	case string:
		return v
	}
	if f, err := items.TypeNum.Coerce(value); err == nil {
		return f
	}
	return value
}

var evalFunctions = map[string]govaluate.ExpressionFunction{
	"round": func(args ...interface{}) (interface{}, error) {
		if len(args) < 1 || len(args) > 2 {
			return nil, errors.New("round(value[, digits])")
		}
		f, ok := args[0].(float64)
		if !ok {
			return nil, errors.Errorf("round: %v is not a number", args[0])
		}
		digits := 0.0
		if len(args) == 2 {
			digits, _ = args[1].(float64)
		}
		p := math.Pow(10, digits)
		return math.Round(f*p) / p, nil
	},
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("abs(value)")
		}
		f, ok := args[0].(float64)
		if !ok {
			return nil, errors.Errorf("abs: %v is not a number", args[0])
		}
		return math.Abs(f), nil
	},
}

// ParseEval compiles an eval expression. The expression sees the value as
// `value`.
func ParseEval(expr string) (*govaluate.EvaluableExpression, error) {
	e, err := govaluate.NewEvaluableExpressionWithFunctions(expr, evalFunctions)
	if err != nil {
		return nil, errors.Binding("binder.ParseEval", errors.Wrapf(err, "eval %q", expr))
	}
	return e, nil
}
