package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Type is the type of a column. Every non-null cell of a column holds the
// Go type listed for it.
type Type int

const (
	String Type = iota // string
	Int                // int64
	Float              // float64
	Bool               // bool
	Time               // time.Time (UTC)
)

var typeNames = [...]string{"string", "int", "float", "bool", "time"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	for i, n := range typeNames {
		if n == s {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("table: unknown column type %q", s)
}

// Column describes one column.
type Column struct {
	Name string
	Type Type
}

// Col is shorthand for Column{name, typ}.
func Col(name string, typ Type) Column { return Column{Name: name, Type: typ} }

// normalize converts v to the canonical Go type of typ. nil stays nil; a NaN
// float is treated as null.
func normalize(typ Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case String:
		// Invalid UTF-8 is replaced here so a cell reads back the same after
		// a trip through the JSON codec.
		switch x := v.(type) {
		case string:
			return strings.ToValidUTF8(x, "\uFFFD"), nil
		case []byte:
			return strings.ToValidUTF8(string(x), "\uFFFD"), nil
		case *string:
			if x == nil {
				return nil, nil
			}
			return strings.ToValidUTF8(*x, "\uFFFD"), nil
		}
	case Int:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int8:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case uint:
			return int64(x), nil
		case uint8:
			return int64(x), nil
		case uint16:
			return int64(x), nil
		case uint32:
			return int64(x), nil
		case uint64:
			if x > math.MaxInt64 {
				return nil, fmt.Errorf("table: %d overflows int", x)
			}
			return int64(x), nil
		case *int64:
			if x == nil {
				return nil, nil
			}
			return *x, nil
		}
	case Float:
		switch x := v.(type) {
		case float64:
			if math.IsNaN(x) {
				return nil, nil
			}
			return x, nil
		case float32:
			if math.IsNaN(float64(x)) {
				return nil, nil
			}
			return float64(x), nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		}
	case Bool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case *bool:
			if x == nil {
				return nil, nil
			}
			return *x, nil
		}
	case Time:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case *time.Time:
			if x == nil {
				return nil, nil
			}
			return x.UTC(), nil
		}
	}
	return nil, fmt.Errorf("table: cannot store %T in %s column", v, typ)
}

// equalValues compares two normalized cells.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// formatValue renders a normalized cell for keys and CSV output. Null is "".
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}
