package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ValueKind discriminates the Value union.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
)

// Value is a small closed union used for structured event attachments.
// The zero Value is null.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
	list []Value
	m    Fields
}

// Fields is the structured attachment carried by a LogEvent.
type Fields map[string]Value

// Null returns the null Value.
func Null() Value { return Value{} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating-point Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Map returns a map Value holding a copy of m.
func Map(m Fields) Value { return Value{kind: KindMap, m: m.Clone()} }

// List returns a list Value.
func List(vs ...Value) Value { return Value{kind: KindList, list: append([]Value(nil), vs...)} }

// Strings returns a list Value of strings.
func Strings(ss []string) Value {
	vs := make([]Value, len(ss))
	for i, s := range ss {
		vs[i] = String(s)
	}
	return Value{kind: KindList, list: vs}
}

// Kind returns the variant held by v.
func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string variant, or "" for other kinds.
func (v Value) Str() string { return v.s }

// IntValue returns the int variant, or 0 for other kinds.
func (v Value) IntValue() int64 { return v.i }

// FloatValue returns the float variant, or 0 for other kinds.
func (v Value) FloatValue() float64 { return v.f }

// BoolValue returns the bool variant, or false for other kinds.
func (v Value) BoolValue() bool { return v.b }

// ListValue returns a copy of the list variant.
func (v Value) ListValue() []Value { return append([]Value(nil), v.list...) }

// MapValue returns a copy of the map variant.
func (v Value) MapValue() Fields { return v.m.Clone() }

// Interface converts v to plain Go values (string, int64, float64, bool,
// []any, map[string]any or nil).
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes v as its natural JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return nil, fmt.Errorf("runtime: unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON decodes any JSON document into a Value. Integral numbers
// become KindInt; other numbers become KindFloat.
func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = ValueOf(raw)
	return nil
}

// ValueOf converts a plain Go value into a Value. Unsupported types are
// rendered with fmt.Sprint.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint32:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		f, _ := t.Float64()
		return Float(f)
	case []string:
		return Strings(t)
	case []any:
		vs := make([]Value, len(t))
		for i, item := range t {
			vs[i] = ValueOf(item)
		}
		return Value{kind: KindList, list: vs}
	case map[string]any:
		m := make(Fields, len(t))
		for k, item := range t {
			m[k] = ValueOf(item)
		}
		return Value{kind: KindMap, m: m}
	case Fields:
		return Map(t)
	default:
		return String(fmt.Sprint(t))
	}
}

// FieldsOf converts a plain map into Fields.
func FieldsOf(m map[string]any) Fields {
	if m == nil {
		return nil
	}
	out := make(Fields, len(m))
	for k, v := range m {
		out[k] = ValueOf(v)
	}
	return out
}

// Clone returns a deep copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v.clone()
	}
	return out
}

// Keys returns the attachment keys in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v Value) clone() Value {
	switch v.kind {
	case KindList:
		vs := make([]Value, len(v.list))
		for i, item := range v.list {
			vs[i] = item.clone()
		}
		v.list = vs
	case KindMap:
		v.m = v.m.Clone()
	}
	return v
}
