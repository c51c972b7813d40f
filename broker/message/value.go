package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// ValueKind identifies the variant held by a Value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueNumber
	ValueString
	ValueObject
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValueNumber:
		return "number"
	case ValueString:
		return "string"
	case ValueObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the command result carried by an Ack. Its content is specific to
// each command and opaque to this package, except for numbers which are
// interpreted as a completion percentage in PROGRESS acks.
//
// Numbers keep their literal JSON text so large integers survive encoding.
// Anything that is not null, a number or a string (objects, arrays,
// booleans) is kept as compact raw JSON. Values are comparable with ==.
type Value struct {
	kind ValueKind
	raw  string
}

// NullValue returns the absent value.
func NullValue() Value {
	return Value{}
}

// IntValue returns a numeric value.
func IntValue(i int64) Value {
	return Value{kind: ValueNumber, raw: strconv.FormatInt(i, 10)}
}

// FloatValue returns a numeric value. NaN and infinities have no JSON
// representation and yield the null value.
func FloatValue(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NullValue()
	}
	return Value{kind: ValueNumber, raw: strconv.FormatFloat(f, 'g', -1, 64)}
}

// StringValue returns a textual value.
func StringValue(s string) Value {
	return Value{kind: ValueString, raw: s}
}

// RawValue classifies a JSON document and returns it as a Value.
func RawValue(data json.RawMessage) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return NullValue(), err
	}
	return v, nil
}

// ParseValue interprets text typed by a user: valid JSON is classified as
// such, anything else becomes a string value. The empty string is null.
func ParseValue(s string) Value {
	if s == "" {
		return NullValue()
	}
	if json.Valid([]byte(s)) {
		if v, err := RawValue(json.RawMessage(s)); err == nil {
			return v
		}
	}
	return StringValue(s)
}

// ValueOf converts a Go value into a Value. Numeric kinds become numbers,
// strings become strings, and everything else goes through encoding/json.
func ValueOf(i interface{}) (Value, error) {
	switch x := i.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return x, nil
	case string:
		return StringValue(x), nil
	case json.Number:
		return RawValue(json.RawMessage(x))
	case json.RawMessage:
		return RawValue(x)
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		n, err := cast.ToInt64E(x)
		if err != nil {
			return NullValue(), err
		}
		return IntValue(n), nil
	case uint, uint64:
		n, err := cast.ToUint64E(x)
		if err != nil {
			return NullValue(), err
		}
		return Value{kind: ValueNumber, raw: strconv.FormatUint(n, 10)}, nil
	case float32, float64:
		f, err := cast.ToFloat64E(x)
		if err != nil {
			return NullValue(), err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return NullValue(), fmt.Errorf("unsupported number %v", f)
		}
		return FloatValue(f), nil
	}
	data, err := json.Marshal(i)
	if err != nil {
		return NullValue(), err
	}
	return RawValue(data)
}

// Kind returns the variant held by v.
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsNull reports whether v is absent.
func (v Value) IsNull() bool {
	return v.kind == ValueNull
}

// Number returns the numeric literal held by v.
func (v Value) Number() (json.Number, bool) {
	if v.kind != ValueNumber {
		return "", false
	}
	return json.Number(v.raw), true
}

// Text returns the string held by v.
func (v Value) Text() (string, bool) {
	if v.kind != ValueString {
		return "", false
	}
	return v.raw, true
}

// Raw returns the JSON encoding of v.
func (v Value) Raw() json.RawMessage {
	data, _ := v.MarshalJSON()
	return data
}

// Decode unmarshals v into the value pointed to by dst.
func (v Value) Decode(dst interface{}) error {
	return json.Unmarshal(v.Raw(), dst)
}

// maxTruncatedExponent bounds the decimal exponent accepted by Truncated so
// that a short literal cannot expand into an arbitrarily large integer.
const maxTruncatedExponent = 4096

// Truncated returns the integer part of a numeric value as decimal text. The
// literal is evaluated exactly, so integers beyond 64 bits keep every digit.
func (v Value) Truncated() (string, bool) {
	n, ok := v.Number()
	if !ok {
		return "", false
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), true
	}
	lit := n.String()
	if i := strings.IndexAny(lit, "eE"); i >= 0 {
		exp, err := strconv.Atoi(strings.TrimPrefix(lit[i+1:], "+"))
		if err != nil || exp > maxTruncatedExponent || exp < -maxTruncatedExponent {
			return "", false
		}
	}
	r, ok := new(big.Rat).SetString(lit)
	if !ok {
		return "", false
	}
	// Quo truncates toward zero and big.Int has no negative zero.
	return new(big.Int).Quo(r.Num(), r.Denom()).String(), true
}

func (v Value) String() string {
	if v.kind == ValueNull {
		return ""
	}
	return v.raw
}

// MarshalJSON implements Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueNumber, ValueObject:
		return []byte(v.raw), nil
	case ValueString:
		return json.Marshal(v.raw)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch c := data[0]; {
	case c == 'n':
		if string(data) != "null" {
			return fmt.Errorf("invalid value %s", data)
		}
		*v = NullValue()
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Value{kind: ValueNumber, raw: n.String()}
	default:
		buf := new(bytes.Buffer)
		if err := json.Compact(buf, data); err != nil {
			return err
		}
		*v = Value{kind: ValueObject, raw: buf.String()}
	}
	return nil
}
