// Package forensic defines the shared record types of the platform: the
// tagged-union evidence value, the closed status enums, and the hashed,
// immutable records (business metrics, impact assessments, rollback
// decisions) that every subsystem exchanges. Records are reproducibly
// re-hashable: rebuilding one from its recorded inputs yields the same
// digest, and any mutation makes integrity verification fail.
package forensic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ValueKind discriminates the evidence value union.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindSeq
	KindMap
)

// Value is a tagged-union evidence payload. Free-form dictionaries are not
// accepted at forensic boundaries; evidence is built from these six kinds so
// canonical hashing stays stable and payloads round-trip through JSON.
type Value struct {
	kind ValueKind
	b    bool
	num  string // decimal string, exact
	str  string
	seq  []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindNumber, num: strconv.FormatInt(i, 10)} }

// Float wraps a float. The shortest round-trippable representation is stored
// so re-parsing reproduces the identical canonical form. NaN and infinities
// have no JSON number form and degrade to strings.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return String(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return Value{kind: KindNumber, num: strconv.FormatFloat(f, 'g', -1, 64)}
}

// Number wraps an exact decimal string (used for monetary quantities).
func Number(s string) Value { return Value{kind: KindNumber, num: s} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Seq wraps an ordered list of values.
func Seq(vs ...Value) Value { return Value{kind: KindSeq, seq: vs} }

// Map wraps a string-keyed mapping of values.
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind reports the discriminant.
func (v Value) Kind() ValueKind { return v.kind }

// BoolVal returns the boolean payload; false when the kind differs.
func (v Value) BoolVal() bool { return v.kind == KindBool && v.b }

// NumberVal returns the exact number string, or "" for other kinds.
func (v Value) NumberVal() string {
	if v.kind != KindNumber {
		return ""
	}
	return v.num
}

// StringVal returns the string payload, or "" for other kinds.
func (v Value) StringVal() string {
	if v.kind != KindString {
		return ""
	}
	return v.str
}

// SeqVal returns the sequence payload.
func (v Value) SeqVal() []Value {
	if v.kind != KindSeq {
		return nil
	}
	return v.seq
}

// MapVal returns the map payload.
func (v Value) MapVal() map[string]Value {
	if v.kind != KindMap {
		return nil
	}
	return v.m
}

// Native converts the value to the generic JSON shape accepted by the
// canonicalizer. Numbers become json.Number so their exact text survives.
func (v Value) Native() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return json.Number(v.num)
	case KindString:
		return v.str
	case KindSeq:
		out := make([]interface{}, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.Native()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.m))
		for k, e := range v.m {
			out[k] = e.Native()
		}
		return out
	}
	return nil
}

// MarshalJSON emits the native JSON shape.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

// UnmarshalJSON rebuilds the union from generic JSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return err
	}
	parsed, err := FromNative(generic)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromNative converts generic decoded JSON into a Value. Unknown Go types are
// rejected at the edge rather than silently coerced.
func FromNative(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t.String()), nil
	case float64:
		return Float(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case string:
		return String(t), nil
	case []interface{}:
		seq := make([]Value, len(t))
		for i, e := range t {
			v, err := FromNative(e)
			if err != nil {
				return Value{}, err
			}
			seq[i] = v
		}
		return Seq(seq...), nil
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromNative(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("forensic: unsupported value type %T", raw)
	}
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindSeq:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ov, ok := o.m[k]
			if !ok || !v.m[k].Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}
