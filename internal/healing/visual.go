package healing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
)

// visualMaxDistance is the center-point distance in CSS pixels beyond
// which a candidate no longer counts as "the same place on the page".
const visualMaxDistance = 300.0

// visualStrategy matches elements by bounding-box proximity to the
// original element's recorded geometry. It handles restyled elements whose
// position survived the change.
type visualStrategy struct {
	logger *zap.Logger
}

func newVisualStrategy(logger *zap.Logger) *visualStrategy {
	return &visualStrategy{logger: logger.Named("visual_recognition")}
}

func (s *visualStrategy) Name() schemas.StrategyName { return schemas.StrategyVisualRecognition }

// visualMatch is one candidate reported by the proximity scan.
type visualMatch struct {
	Selector string  `json:"selector"`
	Distance float64 `json:"distance"`
	Tag      string  `json:"tag"`
}

func (s *visualStrategy) Attempt(ctx context.Context, hc HealContext) (*StrategyResult, error) {
	if hc.Identification == nil {
		return nil, ErrMissingIdentification
	}

	bounds := hc.Identification.VisualContext.Bounds
	tag := hc.Identification.TechnicalDetails.TagName

	script := fmt.Sprintf(`(() => {
		const cx = %f, cy = %f, maxDist = %f;
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
			const dx = (rect.x + rect.width / 2) - cx;
			const dy = (rect.y + rect.height / 2) - cy;
			const dist = Math.sqrt(dx * dx + dy * dy);
			if (dist <= maxDist) {
				matches.push({ selector: cssPath(el), distance: dist, tag: el.tagName.toLowerCase() });
			}
		}
		matches.sort((a, b) => a.distance - b.distance);
		return matches.slice(0, 3);
	})()`,
		bounds.X+bounds.Width/2, bounds.Y+bounds.Height/2, visualMaxDistance, tag)

	raw, err := hc.Page.EvaluateScript(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("visual proximity scan failed: %w", err)
	}
	var matches []visualMatch
	if err := json.Unmarshal(raw, &matches); err != nil {
		return nil, fmt.Errorf("failed to decode proximity matches: %w", err)
	}
	if len(matches) == 0 {
		return &StrategyResult{
			Confidence: 0,
			Reasoning:  fmt.Sprintf("no visible <%s> found near the recorded position", tag),
		}, nil
	}

	best := matches[0]
	// Confidence decays linearly with distance from the recorded center.
	confidence := 0.85 * (1.0 - best.Distance/visualMaxDistance)
	if confidence < 0 {
		confidence = 0
	}

	var backups []string
	for _, m := range matches[1:] {
		backups = append(backups, m.Selector)
	}

	reasoning := fmt.Sprintf("nearest <%s> is %.0fpx from the recorded bounding box center", best.Tag, best.Distance)
	update := newUpdate(hc, best.Selector, schemas.SelectorCSS, confidence, reasoning,
		fmt.Sprintf("recorded bounds %.0fx%.0f at (%.0f, %.0f)", bounds.Width, bounds.Height, bounds.X, bounds.Y),
		backups)

	s.logger.Debug("Visual match found",
		zap.String("selector", best.Selector),
		zap.Float64("distance", best.Distance))
	return &StrategyResult{
		Updates:    []schemas.SelectorUpdate{update},
		Confidence: confidence,
		Reasoning:  reasoning,
	}, nil
}
