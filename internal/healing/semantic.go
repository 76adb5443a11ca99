package healing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
	"github.com/kestrelqa/selfheal/internal/selector"
)

// semanticStrategy re-runs the selector generator against the current DOM,
// matching on the original element's technical details (tag, role, stable
// attributes) rather than the raw selector text that broke.
type semanticStrategy struct {
	logger *zap.Logger
}

func newSemanticStrategy(logger *zap.Logger) *semanticStrategy {
	return &semanticStrategy{logger: logger.Named("semantic_matching")}
}

func (s *semanticStrategy) Name() schemas.StrategyName { return schemas.StrategySemanticMatching }

func (s *semanticStrategy) Attempt(ctx context.Context, hc HealContext) (*StrategyResult, error) {
	if hc.Identification == nil {
		return nil, ErrMissingIdentification
	}

	details := hc.Identification.TechnicalDetails
	facts := &schemas.ElementFacts{
		TagName:     details.TagName,
		Attributes:  details.Attributes,
		TextContent: details.TextContent,
		Role:        details.Role,
	}
	candidates := selector.Generate(facts)

	// Probe the regenerated candidates against the live page and keep the
	// ones that still resolve to an element of the expected tag.
	var surviving []selector.Candidate
	for _, c := range candidates {
		if c.Selector == hc.Failure.OriginalSelector {
			continue
		}
		result, err := probe(ctx, hc.Page, c.Selector)
		if err != nil {
			return nil, err
		}
		if result.Found && result.Visible && result.Tag == details.TagName {
			surviving = append(surviving, c)
		}
	}
	if len(surviving) == 0 {
		return &StrategyResult{
			Confidence: 0,
			Reasoning:  "no regenerated selector resolved to a matching element on the current page",
		}, nil
	}

	best := surviving[0]
	var backups []string
	for _, c := range surviving[1:] {
		backups = append(backups, c.Selector)
	}

	reasoning := fmt.Sprintf("regenerated %s selector from stored element details still matches a live <%s>",
		best.Strategy, details.TagName)
	update := newUpdate(hc, best.Selector, best.Type, best.Confidence, reasoning,
		fmt.Sprintf("tag=%s role=%s", details.TagName, details.Role), backups)
	update.SemanticPreservation.AccessibilityImpact = "none"

	s.logger.Debug("Semantic match found",
		zap.String("selector", best.Selector),
		zap.Float64("confidence", best.Confidence))
	return &StrategyResult{
		Updates:    []schemas.SelectorUpdate{update},
		Confidence: best.Confidence,
		Reasoning:  reasoning,
	}, nil
}
