// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package tracking

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ErrUnsupportedValue is returned when decoding a JSON shape outside the
// closed set of property kinds (objects, mixed arrays).
var ErrUnsupportedValue = errors.New("unsupported property value")

// Kind enumerates the property value variants.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
	KindStrings
	KindNumbers
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindStrings:
		return "strings"
	case KindNumbers:
		return "numbers"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is one property value. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	t    time.Time
	strs []string
	nums []float64
}

func Null() Value { return Value{} }
func String(s string) Value { return Value{kind: KindString, str: s} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Int(n int64) Value { return Value{kind: KindNumber, num: float64(n)} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }
func Strings(s ...string) Value { return Value{kind: KindStrings, strs: append([]string(nil), s...)} }
func Numbers(n ...float64) Value { return Value{kind: KindNumbers, nums: append([]float64(nil), n...)} }

// Kind returns the variant.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload of a KindString value.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the numeric payload of a KindNumber value.
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// Time returns the timestamp payload of a KindTime value.
func (v Value) Time() (time.Time, bool) { return v.t, v.kind == KindTime }

// StrSlice returns a copy of a KindStrings payload.
func (v Value) StrSlice() ([]string, bool) {
	return append([]string(nil), v.strs...), v.kind == KindStrings
}

// IsZero reports whether v is absent data: null, "", 0, false, the zero time
// or an empty list. Normalization leaves such values untouched.
func (v Value) IsZero() bool {
	switch v.kind {
	case KindString:
		return v.str == ""
	case KindNumber:
		return v.num == 0
	case KindBool:
		return !v.b
	case KindTime:
		return v.t.IsZero()
	case KindStrings:
		return len(v.strs) == 0
	case KindNumbers:
		return len(v.nums) == 0
	default:
		return true
	}
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	case KindStrings:
		if len(v.strs) != len(o.strs) {
			return false
		}
		for i := range v.strs {
			if v.strs[i] != o.strs[i] {
				return false
			}
		}
		return true
	case KindNumbers:
		if len(v.nums) != len(o.nums) {
			return false
		}
		for i := range v.nums {
			if v.nums[i] != o.nums[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Text renders v the way string coercion does for distinct ids: numbers
// without exponent or trailing zeros, lists comma joined.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.UTC().Format(isoLayout)
	case KindStrings:
		return strings.Join(v.strs, ",")
	case KindNumbers:
		parts := make([]string, len(v.nums))
		for i, n := range v.nums {
			parts[i] = formatNumber(n)
		}
		return strings.Join(parts, ",")
	default:
		return "null"
	}
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Interface returns v as a plain Go value, for logging.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindStrings:
		return v.strs
	case KindNumbers:
		return v.nums
	default:
		return nil
	}
}

// MarshalJSON encodes v. Times that were not normalized are written in the
// same millisecond ISO-8601 layout the normalizer produces.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindTime:
		return json.Marshal(v.t.UTC().Format(isoLayout))
	case KindStrings:
		if v.strs == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.strs)
	case KindNumbers:
		if v.nums == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.nums)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes the closed set of shapes. Strings stay strings even
// if they look like timestamps; an empty array decodes as empty Strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty input", ErrUnsupportedValue)
	}

	switch data[0] {
	case 'n':
		*v = Null()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case '[':
		return v.unmarshalList(data)
	case '{':
		return fmt.Errorf("%w: object", ErrUnsupportedValue)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Number(n)
		return nil
	}
}

func (v *Value) unmarshalList(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		*v = Strings()
		return nil
	}

	var first Value
	if err := first.UnmarshalJSON(raw[0]); err != nil {
		return err
	}
	switch first.kind {
	case KindString:
		out := make([]string, len(raw))
		for i, r := range raw {
			if err := json.Unmarshal(r, &out[i]); err != nil {
				return fmt.Errorf("%w: mixed list", ErrUnsupportedValue)
			}
		}
		*v = Value{kind: KindStrings, strs: out}
	case KindNumber:
		out := make([]float64, len(raw))
		for i, r := range raw {
			if err := json.Unmarshal(r, &out[i]); err != nil {
				return fmt.Errorf("%w: mixed list", ErrUnsupportedValue)
			}
		}
		*v = Value{kind: KindNumbers, nums: out}
	default:
		return fmt.Errorf("%w: list of %s", ErrUnsupportedValue, first.kind)
	}
	return nil
}
