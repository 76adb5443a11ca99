package healing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
)

// contextStrategy searches for the element using its recorded ancestor and
// sibling text neighborhood instead of its own attributes. It handles
// elements that moved or were re-rendered while their neighborhood stayed
// stable.
type contextStrategy struct {
	logger *zap.Logger
}

func newContextStrategy(logger *zap.Logger) *contextStrategy {
	return &contextStrategy{logger: logger.Named("context_analysis")}
}

func (s *contextStrategy) Name() schemas.StrategyName { return schemas.StrategyContextAnalysis }

// contextMatch is one candidate scored by neighborhood overlap.
type contextMatch struct {
	Selector string  `json:"selector"`
	Score    float64 `json:"score"`
}

func (s *contextStrategy) Attempt(ctx context.Context, hc HealContext) (*StrategyResult, error) {
	if hc.Identification == nil {
		return nil, ErrMissingIdentification
	}

	vc := hc.Identification.VisualContext
	tag := hc.Identification.TechnicalDetails.TagName
	if len(vc.NearbyText) == 0 && len(vc.ParentChain) == 0 {
		return &StrategyResult{
			Confidence: 0,
			Reasoning:  "identification carries no neighborhood context to search by",
		}, nil
	}

	snippets, err := json.Marshal(vc.NearbyText)
	if err != nil {
		return nil, fmt.Errorf("failed to encode context snippets: %w", err)
	}
	parents, err := json.Marshal(vc.ParentChain)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parent chain: %w", err)
	}

	script := fmt.Sprintf(`(() => {
		const snippets = %s;
		const parents = %s;
		const cssPath = (el) => {
			if (el.id) { return '#' + el.id; }
			const parts = [];
			while (el && el.nodeType === 1 && parts.length < 4) {
				let part = el.tagName.toLowerCase();
				const parent = el.parentElement;
				if (parent) {
					const same = Array.from(parent.children).filter(c => c.tagName === el.tagName);
					if (same.length > 1) {
						part += ':nth-of-type(' + (same.indexOf(el) + 1) + ')';
					}
				}
				parts.unshift(part);
				if (el.id) { parts[0] = '#' + el.id; break; }
				el = parent;
			}
			return parts.join(' > ');
		};
		const matches = [];
		for (const el of document.querySelectorAll(%q)) {
			const rect = el.getBoundingClientRect();
			if (rect.width === 0 || rect.height === 0) { continue; }
			let hits = 0;
			const neighborhood = el.parentElement ? (el.parentElement.textContent || '') : '';
			for (const snippet of snippets) {
				if (snippet && neighborhood.includes(snippet)) { hits++; }
			}
			let parentHits = 0;
			let p = el.parentElement;
			for (const expected of parents) {
				if (p && p.tagName.toLowerCase() === expected) { parentHits++; }
				p = p ? p.parentElement : null;
			}
			const total = snippets.length + parents.length;
			const score = total > 0 ? (hits + parentHits) / total : 0;
			if (score > 0) { matches.push({ selector: cssPath(el), score: score }); }
		}
		matches.sort((a, b) => b.score - a.score);
		return matches.slice(0, 3);
	})()`, string(snippets), string(parents), tag)

	raw, err := hc.Page.EvaluateScript(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("context neighborhood scan failed: %w", err)
	}
	var matches []contextMatch
	if err := json.Unmarshal(raw, &matches); err != nil {
		return nil, fmt.Errorf("failed to decode context matches: %w", err)
	}
	if len(matches) == 0 {
		return &StrategyResult{
			Confidence: 0,
			Reasoning:  "no element shares the recorded text neighborhood",
		}, nil
	}

	best := matches[0]
	// Neighborhood overlap is weaker evidence than a direct attribute
	// match, so scale it under the semantic ceiling.
	confidence := 0.75 * best.Score

	var backups []string
	for _, m := range matches[1:] {
		backups = append(backups, m.Selector)
	}

	reasoning := fmt.Sprintf("element neighborhood overlaps recorded context at %.0f%%", best.Score*100)
	update := newUpdate(hc, best.Selector, schemas.SelectorCSS, confidence, reasoning,
		fmt.Sprintf("%d context snippets, parent chain %v", len(vc.NearbyText), vc.ParentChain), backups)

	s.logger.Debug("Context match found",
		zap.String("selector", best.Selector),
		zap.Float64("score", best.Score))
	return &StrategyResult{
		Updates:    []schemas.SelectorUpdate{update},
		Confidence: confidence,
		Reasoning:  reasoning,
	}, nil
}
