package healing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
)

// fallbackMaxConfidence caps what a broad last-resort scan may claim. A
// fallback match is never trustworthy enough to auto-apply.
const fallbackMaxConfidence = 0.5

// fallbackStrategy is the last resort: a broad scan over every visible
// interactive element, scored by loose text and role similarity to whatever
// is known about the original element. It runs even without a stored
// identification, working from the failure details alone.
type fallbackStrategy struct {
	logger *zap.Logger
}

func newFallbackStrategy(logger *zap.Logger) *fallbackStrategy {
	return &fallbackStrategy{logger: logger.Named("fallback_search")}
}

func (s *fallbackStrategy) Name() schemas.StrategyName { return schemas.StrategyFallbackSearch }

// fallbackMatch is one candidate from the broad scan.
type fallbackMatch struct {
	Selector string  `json:"selector"`
	Score    float64 `json:"score"`
	Tag      string  `json:"tag"`
}

func (s *fallbackStrategy) Attempt(ctx context.Context, hc HealContext) (*StrategyResult, error) {
	var wantTag, wantText, wantRole string
	if hc.Identification != nil {
		wantTag = hc.Identification.TechnicalDetails.TagName
		wantText = hc.Identification.TechnicalDetails.TextContent
		wantRole = hc.Identification.TechnicalDetails.Role
	}

	script := fmt.Sprintf(`(() => {
		const wantTag = %q, wantText = %q.trim().toLowerCase(), wantRole = %q;
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
		const candidates = document.querySelectorAll(
			'a, button, input, select, textarea, [role], [onclick], [tabindex]');
		const matches = [];
		for (const el of candidates) {
			const rect = el.getBoundingClientRect();
			if (rect.width === 0 || rect.height === 0) { continue; }
			let score = 0.2;
			const tag = el.tagName.toLowerCase();
			if (wantTag && tag === wantTag) { score += 0.3; }
			const text = (el.textContent || '').trim().toLowerCase();
			if (wantText && text && (text === wantText || text.includes(wantText) || wantText.includes(text))) {
				score += 0.4;
			}
			const role = el.getAttribute('role') || '';
			if (wantRole && role === wantRole) { score += 0.1; }
			matches.push({ selector: cssPath(el), score: score, tag: tag });
		}
		matches.sort((a, b) => b.score - a.score);
		return matches.slice(0, 3);
	})()`, wantTag, wantText, wantRole)

	raw, err := hc.Page.EvaluateScript(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("fallback page scan failed: %w", err)
	}
	var matches []fallbackMatch
	if err := json.Unmarshal(raw, &matches); err != nil {
		return nil, fmt.Errorf("failed to decode fallback matches: %w", err)
	}
	if len(matches) == 0 {
		return &StrategyResult{
			Confidence: 0,
			Reasoning:  "no visible interactive element found on the page",
		}, nil
	}

	best := matches[0]
	confidence := best.Score * fallbackMaxConfidence
	if confidence > fallbackMaxConfidence {
		confidence = fallbackMaxConfidence
	}

	var backups []string
	for _, m := range matches[1:] {
		backups = append(backups, m.Selector)
	}

	reasoning := fmt.Sprintf("broad scan matched a visible <%s> by loose text and role similarity", best.Tag)
	update := newUpdate(hc, best.Selector, schemas.SelectorCSS, confidence, reasoning,
		fmt.Sprintf("searched for tag=%q role=%q", wantTag, wantRole), backups)

	s.logger.Debug("Fallback match found",
		zap.String("selector", best.Selector),
		zap.Float64("score", best.Score))
	return &StrategyResult{
		Updates:    []schemas.SelectorUpdate{update},
		Confidence: confidence,
		Reasoning:  reasoning,
	}, nil
}
