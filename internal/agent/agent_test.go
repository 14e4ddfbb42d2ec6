package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfile_IsPrimaryAndIsSubagent(t *testing.T) {
	tests := []struct {
		mode       Mode
		isPrimary  bool
		isSubagent bool
	}{
		{ModePrimary, true, false},
		{ModeSubagent, false, true},
		{ModeAll, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			p := &Profile{Mode: tt.mode}
			assert.Equal(t, tt.isPrimary, p.IsPrimary())
			assert.Equal(t, tt.isSubagent, p.IsSubagent())
		})
	}
}

func TestProfile_Clone(t *testing.T) {
	original := &Profile{
		Name:         "researcher",
		Description:  "Answers questions using search",
		Mode:         ModePrimary,
		Model:        ModelRef{ProviderID: "anthropic", ModelID: "claude-sonnet-4-20250514"},
		Temperature:  0.7,
		TopP:         0.9,
		SystemPrompt: "You are a careful researcher.",
	}

	clone := original.Clone()
	assert.Equal(t, *original, *clone)

	clone.Name = "mutated"
	assert.Equal(t, "researcher", original.Name, "mutating clone must not affect original")
}

func TestDefault(t *testing.T) {
	d := Default()
	assert.Equal(t, "default", d.Name)
	assert.True(t, d.IsPrimary())
	assert.True(t, d.IsSubagent())
}
