package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNames(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"ultralytics metadata", "{0: 'daisy', 1: 'rose'}", []string{"daisy", "rose"}},
		{"unordered indices", "{1: 'rose', 0: 'daisy'}", []string{"daisy", "rose"}},
		{"comma inside quotes", "{0: 'a, b', 1: 'c'}", []string{"a, b", "c"}},
		{"gap in indices", "{0: 'a', 2: 'c'}", []string{"a", "", "c"}},
		{"json list", `["daisy", "rose"]`, []string{"daisy", "rose"}},
		{"json object", `{"0": "daisy", "1": "rose"}`, []string{"daisy", "rose"}},
		{"comma list", " daisy , rose ,", []string{"daisy", "rose"}},
		{"single name", "leaf", []string{"leaf"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNames(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseNamesErrors(t *testing.T) {
	for _, input := range []string{"", "   ", "{x: 'a'}", "{0 'a'}", "[1, 2", "{-1: 'a'}"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseNames(input)
			assert.Error(t, err)
		})
	}
}

func TestClassSet(t *testing.T) {
	set := NewClassSet([]string{"daisy", "", "rose"})

	assert.Equal(t, 3, set.Len())
	assert.Equal(t, "daisy", set.Name(0))
	assert.Equal(t, "class_1", set.Name(1))
	assert.Equal(t, "rose", set.Name(2))
	assert.Equal(t, "class_7", set.Name(7))
	assert.Equal(t, "class_-1", set.Name(-1))

	bg := set.WithBackground()
	assert.Equal(t, 4, bg.Len())
	assert.Equal(t, Background, bg.Name(0))
	assert.Equal(t, "daisy", bg.Name(1))
	assert.Equal(t, bg.Names(), bg.WithBackground().Names())

	names := set.Names()
	names[0] = "changed"
	assert.Equal(t, "daisy", set.Name(0))
}

func TestParseFamily(t *testing.T) {
	for _, f := range Families {
		got, err := ParseFamily(string(f))
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	_, err := ParseFamily("ssd")
	assert.Error(t, err)

	assert.True(t, FamilyFasterRCNN.TwoStage())
	assert.False(t, FamilyYOLOv8.TwoStage())
}
