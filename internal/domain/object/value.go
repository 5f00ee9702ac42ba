package object

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind discriminates the closed payload value union.
type Kind int

// Payload value kinds.
const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindMap
)

// Value is one payload value: string, number, bool, array or nested map.
// The closed union lets filter compilation pattern-match exhaustively
// instead of reflecting over arbitrary dynamic data.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	arr  []Value
	m    *Payload
}

// String creates a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number creates a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool creates a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Array creates an array value.
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

// Map creates a nested map value.
func Map(p Payload) Value { return Value{kind: KindMap, m: &p} }

// Null is the absent value.
func Null() Value { return Value{kind: KindNull} }

// Kind returns the value's discriminator.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload; valid only for KindString.
func (v Value) Str() string { return v.str }

// Num returns the numeric payload; valid only for KindNumber.
func (v Value) Num() float64 { return v.num }

// BoolVal returns the boolean payload; valid only for KindBool.
func (v Value) BoolVal() bool { return v.b }

// Items returns the array elements; valid only for KindArray.
func (v Value) Items() []Value { return v.arr }

// MapVal returns the nested payload; valid only for KindMap.
func (v Value) MapVal() Payload {
	if v.m == nil {
		return Payload{}
	}
	return *v.m
}

// AsNumber attempts a numeric interpretation: numbers as-is, numeric
// strings parsed, bools as 0/1.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		f, err := strconv.ParseFloat(v.str, 64)
		return f, err == nil
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// AsString attempts a string interpretation of scalar values.
func (v Value) AsString() (string, bool) {
	switch v.kind {
	case KindString:
		return v.str, true
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64), true
	case KindBool:
		return strconv.FormatBool(v.b), true
	default:
		return "", false
	}
}

// Equal compares two values structurally.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		// Cross-kind scalar comparison is type-aware: "5" == 5.
		vn, vok := v.AsNumber()
		on, ook := o.AsNumber()
		if vok && ook && v.kind != KindBool && o.kind != KindBool {
			return vn == on
		}
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
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
	case KindMap:
		return v.MapVal().Equal(o.MapVal())
	}
	return false
}

// MarshalJSON renders the value in its natural JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindMap:
		return json.Marshal(v.MapVal())
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON parses any JSON value into the union.
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

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeFromToken(dec, tok)
}

func decodeFromToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil { // closing ]
				return Value{}, err
			}
			return Array(items...), nil
		case '{':
			p, err := decodePayloadBody(dec)
			if err != nil {
				return Value{}, err
			}
			return Map(p), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}

// Payload is an ordered key->value map over the closed value union.
// Key order is insertion order and survives a JSON round trip.
type Payload struct {
	keys   []string
	values map[string]Value
}

// NewPayload creates an empty payload.
func NewPayload() Payload {
	return Payload{values: map[string]Value{}}
}

// Set stores a value, appending the key on first insertion.
func (p *Payload) Set(key string, v Value) {
	if p.values == nil {
		p.values = map[string]Value{}
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = v
}

// Get returns the value for key.
func (p Payload) Get(key string) (Value, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Has reports key presence.
func (p Payload) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Keys returns the keys in insertion order.
func (p Payload) Keys() []string { return p.keys }

// Len returns the number of entries.
func (p Payload) Len() int { return len(p.keys) }

// Equal compares payloads by content, ignoring key order.
func (p Payload) Equal(o Payload) bool {
	if len(p.values) != len(o.values) {
		return false
	}
	for k, v := range p.values {
		ov, ok := o.values[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// MarshalJSON renders the payload as a JSON object in key order.
func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object preserving key order.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("payload must be a JSON object, got %v", tok)
	}
	parsed, err := decodePayloadBody(dec)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// decodePayloadBody consumes object members up to and including the
// closing brace. The opening brace must already be consumed.
func decodePayloadBody(dec *json.Decoder) (Payload, error) {
	p := NewPayload()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Payload{}, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return Payload{}, fmt.Errorf("object key must be a string, got %v", keyTok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return Payload{}, err
		}
		p.Set(key, v)
	}
	if _, err := dec.Token(); err != nil { // closing }
		return Payload{}, err
	}
	return p, nil
}
