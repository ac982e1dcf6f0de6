package common

import (
	"fmt"
	"strconv"
	"strings"
)

// DataType is the declared type of a column, and the kind tag of a Value.
type DataType int

const (
	TypeNull DataType = iota
	TypeInteger
	TypeFloat
	TypeText
	TypeBoolean
)

func (t DataType) String() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeBoolean:
		return "BOOLEAN"
	default:
		return "NULL"
	}
}

func (t DataType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *DataType) UnmarshalText(b []byte) error {
	parsed, err := ParseDataType(string(b))
	if err != nil {
		if strings.EqualFold(string(b), "NULL") {
			*t = TypeNull
			return nil
		}
		return err
	}
	*t = parsed
	return nil
}

// ParseDataType maps a SQL type name (and the usual aliases) to a DataType.
func ParseDataType(name string) (DataType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "INTEGER", "INT", "BIGINT", "SMALLINT":
		return TypeInteger, nil
	case "FLOAT", "REAL", "DOUBLE", "DECIMAL", "NUMERIC":
		return TypeFloat, nil
	case "TEXT", "VARCHAR", "STRING", "CHAR":
		return TypeText, nil
	case "BOOLEAN", "BOOL":
		return TypeBoolean, nil
	}
	return TypeNull, fmt.Errorf("unknown data type %q", name)
}

// Value is a tagged variant; only the field matching Kind is meaningful.
type Value struct {
	Kind  DataType `json:"kind"`
	Int   int64    `json:"int,omitempty"`
	Float float64  `json:"float,omitempty"`
	Text  string   `json:"text,omitempty"`
	Bool  bool     `json:"bool,omitempty"`
}

func IntValue(v int64) Value     { return Value{Kind: TypeInteger, Int: v} }
func FloatValue(v float64) Value { return Value{Kind: TypeFloat, Float: v} }
func TextValue(v string) Value   { return Value{Kind: TypeText, Text: v} }
func BoolValue(v bool) Value     { return Value{Kind: TypeBoolean, Bool: v} }
func NullValue() Value           { return Value{Kind: TypeNull} }

func (v Value) IsNull() bool { return v.Kind == TypeNull }

func (v Value) IsNumeric() bool {
	return v.Kind == TypeInteger || v.Kind == TypeFloat
}

func (v Value) asFloat() float64 {
	if v.Kind == TypeInteger {
		return float64(v.Int)
	}
	return v.Float
}

// String renders the value the way TEXT coercion stores it.
func (v Value) String() string {
	switch v.Kind {
	case TypeInteger:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TypeText:
		return v.Text
	case TypeBoolean:
		return strconv.FormatBool(v.Bool)
	default:
		return "NULL"
	}
}

// Native returns the plain Go value, for JSON views and the shell.
func (v Value) Native() interface{} {
	switch v.Kind {
	case TypeInteger:
		return v.Int
	case TypeFloat:
		return v.Float
	case TypeText:
		return v.Text
	case TypeBoolean:
		return v.Bool
	default:
		return nil
	}
}

// Compare orders two non-null values for predicates. Integer and Float
// compare numerically; any other kind mismatch is an error.
func Compare(a, b Value) (int, error) {
	if a.IsNumeric() && b.IsNumeric() {
		if a.Kind == TypeInteger && b.Kind == TypeInteger {
			return cmpInt(a.Int, b.Int), nil
		}
		return cmpFloat(a.asFloat(), b.asFloat()), nil
	}
	if a.Kind != b.Kind {
		return 0, fmt.Errorf("cannot compare %s with %s", a.Kind, b.Kind)
	}
	switch a.Kind {
	case TypeText:
		return strings.Compare(a.Text, b.Text), nil
	case TypeBoolean:
		return cmpBool(a.Bool, b.Bool), nil
	case TypeNull:
		return 0, nil
	}
	return 0, fmt.Errorf("cannot compare %s values", a.Kind)
}

// Order is a total order used for sorting: NULL first, then numbers, text
// and booleans. It never fails.
func Order(a, b Value) int {
	if a.IsNull() || b.IsNull() {
		switch {
		case a.IsNull() && b.IsNull():
			return 0
		case a.IsNull():
			return -1
		default:
			return 1
		}
	}
	if c, err := Compare(a, b); err == nil {
		return c
	}
	return cmpInt(int64(rank(a.Kind)), int64(rank(b.Kind)))
}

// Equal reports value equality with numeric widening. Mismatched kinds are unequal.
func Equal(a, b Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	c, err := Compare(a, b)
	return err == nil && c == 0
}

func rank(t DataType) int {
	switch t {
	case TypeInteger, TypeFloat:
		return 1
	case TypeText:
		return 2
	case TypeBoolean:
		return 3
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// Row is positionally aligned to its table's column list.
type Row []Value

func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

type Column struct {
	Name string   `json:"name" yaml:"name"`
	Type DataType `json:"type" yaml:"type"`
}

type Schema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// ColumnIndex resolves a column name case-insensitively.
func (s *Schema) ColumnIndex(name string) (int, bool) {
	for i, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return i, true
		}
	}
	return -1, false
}

func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	cols := make([]Column, len(s.Columns))
	copy(cols, s.Columns)
	return &Schema{Name: s.Name, Columns: cols}
}

// Record is one key/value pair of the storage substrate.
type Record struct {
	Key   []byte
	Value []byte
}

// String 方便调试打印
func (r *Record) String() string {
	return fmt.Sprintf("Record{Key: %q, ValLen: %d}", r.Key, len(r.Value))
}
