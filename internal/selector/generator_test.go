package selector

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelqa/selfheal/api/schemas"
)

func buttonFacts() *schemas.ElementFacts {
	return &schemas.ElementFacts{
		TagName: "button",
		Attributes: map[string]string{
			"id":          "submit-btn",
			"data-testid": "submit",
			"class":       "btn btn-primary",
		},
		TextContent: "Submit",
		Visible:     true,
		Interactive: true,
	}
}

func TestGenerateRankedCandidates(t *testing.T) {
	candidates := Generate(buttonFacts())
	require.NotEmpty(t, candidates)

	// Highest-confidence strategy wins the primary slot.
	assert.Equal(t, "#submit-btn", candidates[0].Selector)
	assert.Equal(t, confidenceID, candidates[0].Confidence)

	// Descending confidence throughout.
	for i := 1; i < len(candidates); i++ {
		assert.GreaterOrEqual(t, candidates[i-1].Confidence, candidates[i].Confidence)
	}

	selectors := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		selectors[c.Selector] = c.Confidence
	}
	assert.Equal(t, confidenceTestAttr, selectors[`[data-testid="submit"]`])
	assert.Equal(t, confidenceText, selectors[`//button[normalize-space(.)="Submit"]`])
	assert.Equal(t, confidenceClass, selectors[".btn"])
}

func TestGenerateFallbackOnly(t *testing.T) {
	facts := &schemas.ElementFacts{
		TagName:     "div",
		Attributes:  map[string]string{},
		TextContent: "some text",
	}
	candidates := Generate(facts)
	require.Len(t, candidates, 1)
	assert.Equal(t, "fallback", candidates[0].Strategy)
	assert.Equal(t, "div", candidates[0].Selector)
	assert.Equal(t, confidenceFallback, candidates[0].Confidence)
}

func TestGenerateCapsAlternatives(t *testing.T) {
	candidates := Generate(buttonFacts())
	primary, alternatives, scores := Split(candidates)

	assert.NotEmpty(t, primary)
	assert.LessOrEqual(t, len(alternatives), maxAlternatives)
	assert.Len(t, scores, len(alternatives)+1)
	for i, c := range candidates {
		assert.Equal(t, c.Confidence, scores[i])
	}
}

func TestGenerateTextOnlyForClickableTags(t *testing.T) {
	facts := &schemas.ElementFacts{
		TagName:     "span",
		Attributes:  map[string]string{},
		TextContent: "Read more",
	}
	for _, c := range Generate(facts) {
		assert.NotEqual(t, "text-content", c.Strategy)
	}
}

func TestIDSelectorEscaping(t *testing.T) {
	assert.Equal(t, "#plain-id", idSelector("plain-id"))
	assert.Equal(t, `[id="weird:id[0]"]`, idSelector("weird:id[0]"))
}

func TestTestAttributeDeterministicOrder(t *testing.T) {
	attrs := map[string]string{
		"data-testid": "b",
		"data-test":   "a",
	}
	name, value, ok := testAttribute(attrs)
	require.True(t, ok)
	assert.Equal(t, "data-test", name)
	assert.Equal(t, "a", value)
}

func TestStableClassSkipsGeneratedNames(t *testing.T) {
	tests := []struct {
		classAttr string
		want      string
		ok        bool
	}{
		{"btn btn-primary", "btn", true},
		{"css-1q2w3e btn", "btn", true},
		{"ng-scope MuiBox-root", "", false},
		{"btn_x8a91z title-2xKp9", "", false},
		{"sc-bdVaJa submit-button", "submit-button", true},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := stableClass(tc.classAttr)
		assert.Equal(t, tc.ok, ok, "class attr %q", tc.classAttr)
		assert.Equal(t, tc.want, got, "class attr %q", tc.classAttr)
	}
}

func TestHasHashSuffix(t *testing.T) {
	assert.True(t, hasHashSuffix("btn_x8a91z"))
	assert.True(t, hasHashSuffix("title-2xKp9"))
	assert.False(t, hasHashSuffix("btn-primary"))
	assert.False(t, hasHashSuffix("plain"))
	assert.False(t, hasHashSuffix("menu-item"))
	assert.False(t, hasHashSuffix("trailing-"))
}

// TestGenerateRobustness feeds pseudo-random facts through the generator and
// checks the structural guarantees hold for arbitrary input.
func TestGenerateRobustness(t *testing.T) {
	seed := []byte("selector-generator-robustness")
	consumer := fuzz.NewConsumer(seed)

	for i := 0; i < 200; i++ {
		facts := &schemas.ElementFacts{}
		if err := consumer.GenerateStruct(facts); err != nil {
			break
		}
		if facts.Attributes == nil {
			facts.Attributes = map[string]string{}
		}

		candidates := Generate(facts)
		require.NotEmpty(t, candidates, "generator must always yield at least the fallback")
		assert.LessOrEqual(t, len(candidates), maxAlternatives+1)
		for j, c := range candidates {
			assert.GreaterOrEqual(t, c.Confidence, 0.0)
			assert.LessOrEqual(t, c.Confidence, 1.0)
			if j > 0 {
				assert.GreaterOrEqual(t, candidates[j-1].Confidence, c.Confidence)
			}
		}
	}
}
