package selector

import (
	"strings"

	"github.com/kestrelqa/selfheal/api/schemas"
)

// Score combines element-recognition signals with the generated candidate
// confidences into the metrics attached to an identification.
//
// The arithmetic here is a fixed contract: elementRecognition starts at 0.5
// and gains +0.3 for an id, +0.4 for a data-test* attribute and +0.2 for
// non-empty text, additively and without short-circuiting, clamped to 1.0.
// selectorReliability is the best candidate confidence. overall is the
// equal-weight mean of the two.
func Score(facts *schemas.ElementFacts, candidates []Candidate) schemas.ConfidenceMetrics {
	recognition := 0.5
	if facts.Attributes["id"] != "" {
		recognition += 0.3
	}
	if _, _, ok := testAttribute(facts.Attributes); ok {
		recognition += 0.4
	}
	if strings.TrimSpace(facts.TextContent) != "" {
		recognition += 0.2
	}
	if recognition > 1.0 {
		recognition = 1.0
	}

	reliability := 0.0
	for _, c := range candidates {
		if c.Confidence > reliability {
			reliability = c.Confidence
		}
	}

	return schemas.ConfidenceMetrics{
		ElementRecognition:    recognition,
		SelectorReliability:   reliability,
		InteractionPrediction: interactionPrediction(facts),
		Overall:               0.5*recognition + 0.5*reliability,
	}
}

// interactionPrediction estimates how likely a replayed interaction against
// this element is to succeed. It feeds dashboards and review UIs; it is not
// part of the overall score.
func interactionPrediction(facts *schemas.ElementFacts) float64 {
	switch {
	case facts.Interactive && facts.Visible:
		return 0.8
	case facts.Visible:
		return 0.5
	default:
		return 0.2
	}
}
