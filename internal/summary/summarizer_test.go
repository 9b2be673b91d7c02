package summary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"voxnote/internal/models"
)

// ==========================
// Prompt Selection
// ==========================

func TestPromptFor(t *testing.T) {
	t.Run("concise caps sentence count", func(t *testing.T) {
		p := promptFor(models.SummaryConcise, "")
		assert.Contains(t, p.system, "three short sentences")
		assert.Contains(t, p.system, "same language as the transcript")
	})

	t.Run("detailed names the required sections", func(t *testing.T) {
		p := promptFor(models.SummaryDetailed, "")
		for _, section := range detailedSections {
			assert.Contains(t, p.system, section)
		}
	})

	t.Run("explicit language overrides auto-detect", func(t *testing.T) {
		p := promptFor(models.SummaryConcise, "es")
		assert.Contains(t, p.system, "Respond in es.")
		assert.NotContains(t, p.system, "same language as the transcript")
	})
}

// ==========================
// Shape Enforcement
// ==========================

func TestEnforceShape(t *testing.T) {
	t.Run("empty response stays empty", func(t *testing.T) {
		assert.Equal(t, "", enforceShape("   \n", models.SummaryConcise))
	})

	t.Run("concise truncates a rambling response", func(t *testing.T) {
		got := enforceShape("One. Two. Three. Four. Five.", models.SummaryConcise)
		assert.Equal(t, "One. Two. Three.", got)
	})

	t.Run("detailed synthesizes missing sections", func(t *testing.T) {
		got := enforceShape("## Overview\nA short meeting recap.", models.SummaryDetailed)
		for _, section := range detailedSections {
			assert.True(t, containsHeader(got, section), "missing section %q", section)
		}
		// The section that was already present is not duplicated.
		assert.Equal(t, 1, strings.Count(got, "Overview"))
	})
}

func TestCapSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "fewer sentences than cap", in: "Just one.", n: 3, want: "Just one."},
		{name: "exactly at cap", in: "A. B. C.", n: 3, want: "A. B. C."},
		{name: "over cap", in: "A! B? C. D.", n: 2, want: "A! B?"},
		{name: "no terminal punctuation", in: "trailing fragment", n: 3, want: "trailing fragment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, capSentences(tt.in, tt.n))
		})
	}
}

func TestContainsHeader(t *testing.T) {
	assert.True(t, containsHeader("## Key Points\n- a", "Key Points"))
	assert.True(t, containsHeader("# key points", "Key Points"))
	assert.True(t, containsHeader("**Decisions** were made", "Decisions"))
	assert.False(t, containsHeader("we discussed key points", "Key Points"))
}
