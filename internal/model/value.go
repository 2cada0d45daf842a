package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// FieldType is the semantic type of a contract field.
type FieldType string

const (
	TypeFloat  FieldType = "float"
	TypeInt    FieldType = "int"
	TypeString FieldType = "string"
	TypeBool   FieldType = "bool"
)

// ParseFieldType maps a declarative type name onto a FieldType. An empty
// name means float.
func ParseFieldType(s string) (FieldType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "float", "number", "double":
		return TypeFloat, true
	case "int", "integer":
		return TypeInt, true
	case "str", "string":
		return TypeString, true
	case "bool", "boolean":
		return TypeBool, true
	}
	return "", false
}

// Value is a tagged field value. The zero Value is null.
type Value struct {
	typ FieldType
	num float64
	i   int64
	str string
	b   bool
}

// Null returns the null value.
func Null() Value { return Value{} }

// Float returns a float value.
func Float(f float64) Value { return Value{typ: TypeFloat, num: f} }

// Int returns an int value.
func Int(i int64) Value { return Value{typ: TypeInt, i: i} }

// String returns a string value.
func String(s string) Value { return Value{typ: TypeString, str: s} }

// Bool returns a bool value.
func Bool(b bool) Value { return Value{typ: TypeBool, b: b} }

// Type returns the value's type, or "" for null.
func (v Value) Type() FieldType { return v.typ }

// IsNull reports whether v holds no value.
func (v Value) IsNull() bool { return v.typ == "" }

// Number returns the numeric view of float, int and bool values.
func (v Value) Number() (float64, bool) {
	switch v.typ {
	case TypeFloat:
		return v.num, true
	case TypeInt:
		return float64(v.i), true
	case TypeBool:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Str returns the string payload of a string value.
func (v Value) Str() (string, bool) {
	return v.str, v.typ == TypeString
}

// WithNumber returns a value of the same numeric type holding n.
func (v Value) WithNumber(n float64) Value {
	switch v.typ {
	case TypeInt:
		n = math.Round(n)
		switch {
		case n < minInt64Float:
			return Int(math.MinInt64)
		case n >= maxInt64Float:
			return Int(math.MaxInt64)
		}
		return Int(int64(n))
	case TypeFloat:
		return Float(n)
	}
	return v
}

// Interface returns the plain Go representation used in result payloads.
func (v Value) Interface() any {
	switch v.typ {
	case TypeFloat:
		return v.num
	case TypeInt:
		return v.i
	case TypeString:
		return v.str
	case TypeBool:
		return v.b
	}
	return nil
}

func (v Value) String() string {
	switch v.typ {
	case TypeFloat:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeString:
		return strconv.Quote(v.str)
	case TypeBool:
		return strconv.FormatBool(v.b)
	}
	return "null"
}

// MarshalJSON encodes the plain representation.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Coerce converts a decoded payload value into a Value of type t. Numbers
// are accepted for float fields; int fields accept only integral numbers
// that fit in an int64. A nil raw value yields Null without error.
func Coerce(t FieldType, raw any) (Value, error) {
	if raw == nil {
		return Null(), nil
	}
	switch t {
	case TypeFloat:
		f, ok := toFloat(raw)
		if !ok {
			return Null(), eris.Errorf("expected a number, got %T", raw)
		}
		return Float(f), nil
	case TypeInt:
		i, err := toInt(raw)
		if err != nil {
			return Null(), err
		}
		return Int(i), nil
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return Null(), eris.Errorf("expected a string, got %T", raw)
		}
		return String(s), nil
	case TypeBool:
		b, ok := raw.(bool)
		if !ok {
			return Null(), eris.Errorf("expected a boolean, got %T", raw)
		}
		return Bool(b), nil
	}
	return Null(), eris.Errorf("unsupported field type %q", t)
}

// int64 bounds as float64; 2^63 itself is out of range.
const (
	minInt64Float = -9223372036854775808.0
	maxInt64Float = 9223372036854775808.0
)

// toInt converts raw without passing exact integers through float64.
func toInt(raw any) (int64, error) {
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, eris.Errorf("integer %d out of range", n)
		}
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, eris.Errorf("integer %d out of range", n)
		}
		return int64(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
	}

	f, ok := toFloat(raw)
	if !ok {
		return 0, eris.Errorf("expected an integer, got %T", raw)
	}
	if math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, eris.Errorf("expected an integer, got %v", f)
	}
	if f < minInt64Float || f >= maxInt64Float {
		return 0, eris.Errorf("integer %v out of range", f)
	}
	return int64(f), nil
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}
