package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	// KindJSON holds a nested array or object verbatim.
	KindJSON
)

// Value is a single result cell. Numbers keep their wire text so large
// integers and decimals survive untouched.
type Value struct {
	Kind Kind
	raw  string
	b    bool
}

func Null() Value            { return Value{Kind: KindNull} }
func Bool(b bool) Value      { return Value{Kind: KindBool, b: b} }
func String(s string) Value  { return Value{Kind: KindString, raw: s} }
func Number(n string) Value  { return Value{Kind: KindNumber, raw: n} }
func Int(n int64) Value      { return Number(strconv.FormatInt(n, 10)) }
func Float(f float64) Value  { return Number(strconv.FormatFloat(f, 'f', -1, 64)) }
func RawJSON(s string) Value { return Value{Kind: KindJSON, raw: s} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) Float() (float64, bool) {
	if v.Kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.raw, 64)
	return f, err == nil
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.raw
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber, KindJSON:
		return []byte(v.raw), nil
	default:
		return json.Marshal(v.raw)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch data[0] {
	case 'n':
		*v = Null()
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case '{', '[':
		var compact bytes.Buffer
		if err := json.Compact(&compact, data); err != nil {
			return err
		}
		*v = RawJSON(compact.String())
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Number(n.String())
	}
	return nil
}

// FromAny converts a database/sql scan result into a Value.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int64:
		return Int(t)
	case int:
		return Int(int64(t))
	case float64:
		return Float(t)
	case []byte:
		return String(string(t))
	case string:
		return String(t)
	case time.Time:
		return String(t.Format(time.RFC3339))
	case fmt.Stringer:
		return String(t.String())
	default:
		return String(fmt.Sprint(t))
	}
}
