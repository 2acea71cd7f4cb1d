package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which field of a Value is populated.
type Kind uint8

const (
	KindNumber Kind = iota
	KindBool
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a scalar measurement: a number, a boolean, or a short text tag.
// The zero Value is the number 0.
type Value struct {
	kind Kind
	num  float64
	b    bool
	text string
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Text returns a text Value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Kind reports the populated field.
func (v Value) Kind() Kind { return v.kind }

// IsNumber reports whether v holds a number.
func (v Value) IsNumber() bool { return v.kind == KindNumber }

// Float returns the numeric interpretation of v. Booleans map to 1 and 0.
// Text is never numeric here; the normalizer coerces numeric-looking text
// before values reach the scoring stages.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Truthy follows the usual scalar truthiness: non-zero numbers, true, and
// non-empty text other than "false"/"0" are truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindBool:
		return v.b
	default:
		s := strings.TrimSpace(strings.ToLower(v.text))
		return s != "" && s != "false" && s != "0" && s != "no"
	}
}

// String returns the text payload, or the formatted scalar for other kinds.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.text
	}
}

// Finite reports whether v is usable: always true for non-numbers, and true
// for numbers that are neither NaN nor infinite.
func (v Value) Finite() bool {
	if v.kind != KindNumber {
		return true
	}
	return !math.IsNaN(v.num) && !math.IsInf(v.num, 0)
}

// Coerce turns numeric-looking text into a number. Other values are returned
// unchanged.
func (v Value) Coerce() Value {
	if v.kind != KindText {
		return v
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
	if err != nil {
		return v
	}
	return Number(f)
}

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	default:
		return v.text == o.text
	}
}

// MarshalJSON encodes v as a plain JSON scalar. Non-finite numbers encode as
// null since JSON has no representation for them.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if !v.Finite() {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return json.Marshal(v.text)
	}
}

// UnmarshalJSON accepts a JSON number, boolean, or string.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("types: decode value: %w", err)
	}
	switch x := raw.(type) {
	case float64:
		*v = Number(x)
	case bool:
		*v = Bool(x)
	case string:
		*v = Text(x)
	case nil:
		*v = Number(math.NaN())
	default:
		return fmt.Errorf("types: unsupported value %s", string(data))
	}
	return nil
}

// FromAny converts a decoded YAML/JSON scalar into a Value.
func FromAny(x any) (Value, bool) {
	switch t := x.(type) {
	case Value:
		return t, true
	case float64:
		return Number(t), true
	case float32:
		return Number(float64(t)), true
	case int:
		return Number(float64(t)), true
	case int64:
		return Number(float64(t)), true
	case bool:
		return Bool(t), true
	case string:
		return Text(t), true
	default:
		return Value{}, false
	}
}
