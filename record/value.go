package record

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type valueKind uint8

const (
	kindString valueKind = iota
	kindInt
	kindFloat
)

// Value is a single scalar property value: exactly one of string, int or
// float. The JSON encoding is tagged ({"s":…}, {"i":…}, {"f":…}) so integer
// and float values survive a round trip through text storage without
// collapsing into each other.
type Value struct {
	kind valueKind
	s    string
	i    int64
	f    float64
}

// String returns a string-valued property.
func String(s string) Value { return Value{kind: kindString, s: s} }

// Int returns an int-valued property.
func Int(i int64) Value { return Value{kind: kindInt, i: i} }

// Float returns a float-valued property.
func Float(f float64) Value { return Value{kind: kindFloat, f: f} }

// IsString reports whether the value holds a string.
func (v Value) IsString() bool { return v.kind == kindString }

// IsInt reports whether the value holds an int.
func (v Value) IsInt() bool { return v.kind == kindInt }

// IsFloat reports whether the value holds a float.
func (v Value) IsFloat() bool { return v.kind == kindFloat }

// StringValue returns the held string, or "" when the value is not a string.
func (v Value) StringValue() string { return v.s }

// IntValue returns the held int, or 0 when the value is not an int.
func (v Value) IntValue() int64 { return v.i }

// FloatValue returns the held float, or 0 when the value is not a float.
func (v Value) FloatValue() float64 { return v.f }

// Equal reports exact equality: same kind and same scalar.
func (v Value) Equal(o Value) bool { return v == o }

// GoString renders the value for logs and error messages.
func (v Value) GoString() string {
	switch v.kind {
	case kindInt:
		return strconv.FormatInt(v.i, 10)
	case kindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return strconv.Quote(v.s)
	}
}

type valueJSON struct {
	S *string  `json:"s,omitempty"`
	I *int64   `json:"i,omitempty"`
	F *float64 `json:"f,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var vj valueJSON
	switch v.kind {
	case kindInt:
		vj.I = &v.i
	case kindFloat:
		vj.F = &v.f
	default:
		vj.S = &v.s
	}
	return json.Marshal(vj)
}

// UnmarshalJSON implements json.Unmarshaler. Exactly one field must be set.
func (v *Value) UnmarshalJSON(data []byte) error {
	var vj valueJSON
	if err := json.Unmarshal(data, &vj); err != nil {
		return fmt.Errorf("record: decode value: %w", err)
	}
	set := 0
	if vj.S != nil {
		*v = String(*vj.S)
		set++
	}
	if vj.I != nil {
		*v = Int(*vj.I)
		set++
	}
	if vj.F != nil {
		*v = Float(*vj.F)
		set++
	}
	if set != 1 {
		return fmt.Errorf("record: value must carry exactly one of s/i/f, got %d", set)
	}
	return nil
}

// Properties is a string-keyed bag of scalar values attached to artifacts
// and executions.
type Properties map[string]Value

// Equal reports exact bag equality. A key absent on either side is a
// mismatch; nil and empty bags compare equal.
func (p Properties) Equal(o Properties) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone returns a copy of the bag. Clone of nil is an empty bag.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
