// Provides JSON decoding and encoding for Value, preserving object key order.

package jsonv

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/buger/jsonparser"
)

// ErrMalformed is returned when bytes are not a single valid JSON document.
var ErrMalformed = errors.New("malformed json")

// Parse decodes a single JSON document.
func Parse(data []byte) (Value, error) {
	// jsonparser is lenient about trailing garbage; reject it up front.
	if !json.Valid(data) {
		return Value{}, fmt.Errorf("%w: invalid document", ErrMalformed)
	}
	raw, typ, _, err := jsonparser.Get(data)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return decode(raw, typ)
}

// MustParse is like Parse but panics. Intended for literals in tests and
// defaults.
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

func decode(raw []byte, typ jsonparser.ValueType) (Value, error) {
	switch typ {
	case jsonparser.Null:
		return Null(), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return Bool(b), nil
	case jsonparser.Number:
		if isIntLiteral(raw) {
			if i, err := jsonparser.ParseInt(raw); err == nil {
				return Int(i), nil
			}
		}
		f, err := jsonparser.ParseFloat(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return Float(f), nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return String(s), nil
	case jsonparser.Array:
		items := []Value{}
		var inner error
		_, err := jsonparser.ArrayEach(raw, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
			if inner != nil {
				return
			}
			if err != nil {
				inner = err
				return
			}
			item, err := decode(value, dataType)
			if err != nil {
				inner = err
				return
			}
			items = append(items, item)
		})
		if inner != nil {
			return Value{}, inner
		}
		if err != nil {
			return Value{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return Array(items...), nil
	case jsonparser.Object:
		obj := Object()
		err := jsonparser.ObjectEach(raw, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
			item, err := decode(value, dataType)
			if err != nil {
				return err
			}
			obj.Set(string(key), item)
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				return Value{}, err
			}
			return Value{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return obj, nil
	default:
		return Value{}, fmt.Errorf("%w: unexpected token type %s", ErrMalformed, typ)
	}
}

func isIntLiteral(raw []byte) bool {
	return !bytes.ContainsAny(raw, ".eE")
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	p, err := Parse(data)
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// Indent returns the indented JSON form of v followed by a newline, the
// format used for files on disk.
func (v Value) Indent() ([]byte, error) {
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return fmt.Errorf("jsonv: unsupported float %v", v.f)
		}
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		writeString(buf, v.s)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		first := true
		for p := v.obj.Oldest(); p != nil; p = p.Next() {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			writeString(buf, p.Key)
			buf.WriteByte(':')
			if err := p.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	// json.Marshal of a string cannot fail.
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// String returns the compact JSON form of v.
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid: %v>", err)
	}
	return string(b)
}
