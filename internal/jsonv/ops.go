package jsonv

import (
	"fmt"
	"math"
	"sort"
)

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		items := make([]Value, len(v.arr))
		for i, item := range v.arr {
			items[i] = item.Clone()
		}
		return Value{kind: KindArray, arr: items}
	case KindObject:
		out := Object()
		for p := v.obj.Oldest(); p != nil; p = p.Next() {
			out.obj.Set(p.Key, p.Value.Clone())
		}
		return out
	default:
		return v
	}
}

// Equal reports deep equality. Object key order is ignored and numbers
// compare by value regardless of Int or Float representation.
func (v Value) Equal(o Value) bool {
	if v.isNumber() && o.isNumber() {
		if v.kind == KindInt && o.kind == KindInt {
			return v.i == o.i
		}
		a, _ := v.AsFloat()
		b, _ := o.AsFloat()
		return a == b
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if v.obj.Len() != o.obj.Len() {
			return false
		}
		for p := v.obj.Oldest(); p != nil; p = p.Next() {
			other, ok := o.obj.Get(p.Key)
			if !ok || !p.Value.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) isNumber() bool {
	return v.kind == KindInt || v.kind == KindFloat
}

// Matches reports whether v is an object holding every key of params with an
// equal value. An empty params matches everything.
func (v Value) Matches(params map[string]Value) bool {
	if len(params) == 0 {
		return true
	}
	if v.kind != KindObject {
		return false
	}
	for k, want := range params {
		got, ok := v.obj.Get(k)
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

// Merge returns base overlaid with override. Objects merge recursively; any
// other override replaces the base value. Neither input is modified.
func Merge(base, override Value) Value {
	if base.kind != KindObject || override.kind != KindObject {
		return override.Clone()
	}
	out := base.Clone()
	for p := override.obj.Oldest(); p != nil; p = p.Next() {
		if cur, ok := out.obj.Get(p.Key); ok {
			out.obj.Set(p.Key, Merge(cur, p.Value))
			continue
		}
		out.obj.Set(p.Key, p.Value.Clone())
	}
	return out
}

// Project returns an object holding only the listed keys of v, in the order
// given. Missing keys are skipped. An empty key list returns a clone of v.
func (v Value) Project(keys ...string) Value {
	if len(keys) == 0 {
		return v.Clone()
	}
	out := Object()
	for _, k := range keys {
		if item, ok := v.Get(k); ok {
			out.obj.Set(k, item.Clone())
		}
	}
	return out
}

// FromAny converts the output of encoding/json style decoding (nil, bool,
// numbers, string, []any, map[string]any) into a Value. Map keys are sorted
// since Go maps carry no order.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t.Clone(), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float32:
		return fromFloat(float64(t)), nil
	case float64:
		return fromFloat(t), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := Object()
		for _, k := range keys {
			v, err := FromAny(t[k])
			if err != nil {
				return Value{}, err
			}
			out.obj.Set(k, v)
		}
		return out, nil
	default:
		return Value{}, fmt.Errorf("jsonv: unsupported type %T", x)
	}
}

func fromFloat(f float64) Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return Int(int64(f))
	}
	return Float(f)
}

// ToAny converts v into plain Go values (nil, bool, int64, float64, string,
// []any, map[string]any). Object order is lost.
func (v Value) ToAny() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, v.obj.Len())
		for p := v.obj.Oldest(); p != nil; p = p.Next() {
			out[p.Key] = p.Value.ToAny()
		}
		return out
	default:
		return nil
	}
}
