// Package cachekey renders the arguments of a memoized call into a stable,
// filesystem-safe file name.
//
// Arguments are an explicit tagged variant: a NamedArg contributes its name
// (used for strategy functions such as namespace predicates), a ValueArg
// contributes the canonical string form of its value. Parts are joined with
// "_", path separators are substituted and the result is cut to MaxLength
// bytes on a rune boundary.
//
// Truncation is lossy: two calls that differ only past MaxLength map to the
// same key.
package cachekey

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxLength is the filename limit of common filesystems, in bytes.
	MaxLength = 255

	separator     = "_"
	slashReplacer = "___"
)

// Arg is one rendered component of a cache key. It is implemented only by
// NamedArg and ValueArg.
type Arg interface {
	render() string
}

// NamedArg stands for a callable or strategy, identified by name only.
// Two different strategies sharing a name produce the same key.
type NamedArg struct {
	Name string
}

func (a NamedArg) render() string { return a.Name }

// ValueArg is a plain value rendered through Render.
type ValueArg struct {
	Value any
}

func (a ValueArg) render() string { return Render(a.Value) }

// Named returns a NamedArg.
func Named(name string) Arg { return NamedArg{Name: name} }

// Value returns a ValueArg.
func Value(v any) Arg { return ValueArg{Value: v} }

// Values wraps each value in a ValueArg.
func Values(vs ...any) []Arg {
	args := make([]Arg, len(vs))
	for i, v := range vs {
		args[i] = Value(v)
	}
	return args
}

// Build joins the rendered arguments into a key. It never fails.
func Build(args ...Arg) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a == nil {
			parts[i] = Render(nil)
			continue
		}
		parts[i] = a.render()
	}
	return sanitize(strings.Join(parts, separator))
}

// Render returns the canonical string form of v.
func Render(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.Format("2006-01-02 15:04:05.999999999")
	case time.Duration:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

func sanitize(key string) string {
	key = strings.ReplaceAll(key, "/", slashReplacer)
	key = strings.ReplaceAll(key, "\x00", separator)
	if key == "" || key == "." || key == ".." {
		key = separator + key
	}
	return truncate(key, MaxLength)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
