// Package jsonval provides a tagged-variant representation of arbitrary
// JSON values. The consultation backend extends the saved context with
// keys of any shape, so values must round-trip without assuming a schema
// and without the lossy float64 coercion of map[string]any.
package jsonval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies which JSON variant a Value holds.
type Kind int

// Kind constants, one per JSON type.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a single JSON value of any type. The zero value is JSON null.
type Value struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	arr  []Value
	obj  Object
}

// Object is a JSON object: string keys to arbitrary values.
type Object map[string]Value

// Null returns the JSON null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a numeric literal, preserved verbatim.
func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindNumber, num: json.Number(fmt.Sprintf("%d", i))} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array wraps a slice of values.
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

// Obj wraps an object.
func Obj(o Object) Value { return Value{kind: KindObject, obj: o} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// BoolVal returns the boolean payload; ok is false for other kinds.
func (v Value) BoolVal() (b, ok bool) { return v.b, v.kind == KindBool }

// NumberVal returns the numeric payload; ok is false for other kinds.
func (v Value) NumberVal() (json.Number, bool) { return v.num, v.kind == KindNumber }

// StringVal returns the string payload; ok is false for other kinds.
func (v Value) StringVal() (string, bool) { return v.str, v.kind == KindString }

// ArrayVal returns the array payload; ok is false for other kinds.
func (v Value) ArrayVal() ([]Value, bool) { return v.arr, v.kind == KindArray }

// ObjectVal returns the object payload; ok is false for other kinds.
func (v Value) ObjectVal() (Object, bool) { return v.obj, v.kind == KindObject }

// Equal reports deep equality between two values.
func (v Value) Equal(w Value) bool {
	if v.kind != w.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == w.b
	case KindNumber:
		return v.num == w.num
	case KindString:
		return v.str == w.str
	case KindArray:
		if len(v.arr) != len(w.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(w.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj.Equal(w.obj)
	}
	return false
}

// Equal reports deep equality between two objects.
func (o Object) Equal(p Object) bool {
	if len(o) != len(p) {
		return false
	}
	for k, v := range o {
		w, ok := p[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = v.Clone()
	}
	return out
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i := range v.arr {
			arr[i] = v.arr[i].Clone()
		}
		return Value{kind: KindArray, arr: arr}
	case KindObject:
		return Value{kind: KindObject, obj: v.obj.Clone()}
	default:
		return v
	}
}

// MarshalJSON encodes the value as its JSON variant. Object keys are
// emitted in sorted order for deterministic output.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if v.num == "" {
			return []byte("0"), nil
		}
		return []byte(v.num), nil
	case KindString:
		return json.Marshal(v.str)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		return json.Marshal(v.obj)
	}
	return nil, fmt.Errorf("jsonval: unknown kind %d", v.kind)
}

// MarshalJSON encodes the object with keys in sorted order.
func (o Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("{}"), nil
	}
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := o[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes any JSON value, preserving numbers verbatim.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// UnmarshalJSON decodes a JSON object.
func (o *Object) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	obj, ok := v.ObjectVal()
	if !ok {
		return fmt.Errorf("jsonval: expected object, got kind %d", v.Kind())
	}
	*o = obj
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			arr := []Value{}
			for dec.More() {
				elem, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				arr = append(arr, elem)
			}
			if _, err := dec.Token(); err != nil { // closing ]
				return Value{}, err
			}
			return Value{kind: KindArray, arr: arr}, nil
		case '{':
			obj := Object{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("jsonval: non-string object key %v", keyTok)
				}
				elem, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj[key] = elem
			}
			if _, err := dec.Token(); err != nil { // closing }
				return Value{}, err
			}
			return Obj(obj), nil
		}
	}
	return Value{}, fmt.Errorf("jsonval: unexpected token %v", tok)
}
