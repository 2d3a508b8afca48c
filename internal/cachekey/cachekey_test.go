package cachekey

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestBuild(t *testing.T) {
	treatment := time.Date(2018, 3, 6, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		args []Arg
		want string
	}{
		{"values", Values("ar", int64(12), treatment), "ar_12_2018-03-06 00:00:00"},
		{"named strategy", []Arg{Value("de"), Value(7), Named("namespace_nontalk")}, "de_7_namespace_nontalk"},
		{"slash replaced", Values("fa", "User/Sub"), "fa_User___Sub"},
		{"nil value", []Arg{Value(nil), nil}, "None_None"},
		{"bool and float", Values(true, 1.5), "true_1.5"},
		{"duration", Values(90 * 24 * time.Hour), "2160h0m0s"},
		{"empty", nil, "_"},
		{"dot", Values("."), "_."},
		{"sub-second time", Values(treatment.Add(1500 * time.Millisecond)), "2018-03-06 00:00:01.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Build(tt.args...))
		})
	}
}

func TestBuildIsStable(t *testing.T) {
	args := Values("pl", int64(99), "Kowalski")
	first := Build(args...)
	for range 10 {
		assert.Equal(t, first, Build(Values("pl", int64(99), "Kowalski")...))
	}
}

func TestNamedAndValueDiffer(t *testing.T) {
	// The tag decides rendering, never the runtime type of the argument.
	assert.Equal(t, "namespace_all", Build(Named("namespace_all")))
	assert.Equal(t, "namespace_all", Build(Value("namespace_all")))
	assert.NotEqual(t, Build(Named("f"), Value(1)), Build(Value(1), Named("f")))
}

type stringer struct{}

func (stringer) String() string { return "custom" }

func TestRenderFallbacks(t *testing.T) {
	assert.Equal(t, "custom", Render(stringer{}))
	assert.Equal(t, "[1 2]", Render([]int{1, 2}))
	assert.Equal(t, "{a}", Render(struct{ S string }{"a"}))
}

func TestTruncateASCII(t *testing.T) {
	key := Build(Value(strings.Repeat("a", 300)), Value("tail"))
	assert.Len(t, key, MaxLength)
	assert.NotContains(t, key, "/")
}

func TestTruncateMultiByte(t *testing.T) {
	// Arabic letters are two bytes each; 200 of them overflow the limit
	name := strings.Repeat("ب", 200)
	key := Build(Value("ar"), Value(name))
	assert.LessOrEqual(t, len(key), MaxLength)
	assert.GreaterOrEqual(t, len(key), MaxLength-utf8.UTFMax)
	assert.True(t, utf8.ValidString(key), "key must not end in a partial rune")
}

func TestTruncationCollides(t *testing.T) {
	prefix := strings.Repeat("x", MaxLength)
	assert.Equal(t, Build(Value(prefix+"one")), Build(Value(prefix+"two")))
}
