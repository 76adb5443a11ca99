// Package healing drives the recovery of broken selectors: it owns the
// session state machine, the pluggable strategy set and the engine that
// surrounding services call into.
package healing

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/kestrelqa/selfheal/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HealContext is the read-only input to one strategy attempt: the live
// page, the last known good identification and the failure that triggered
// the session. Strategies must not mutate shared state; each attempt is a
// pure function of this context plus its own heuristic.
type HealContext struct {
	Page           schemas.PageSession
	Identification *schemas.ElementIdentification
	Failure        schemas.FailureDetails
	// Screenshot is the pre-failure viewport capture, when the execution
	// pipeline recorded one. May be nil.
	Screenshot []byte
}

// StrategyResult is the output contract shared by all strategies.
type StrategyResult struct {
	Updates    []schemas.SelectorUpdate
	Confidence float64
	Reasoning  string
}

// Strategy is one member of the healing strategy set.
type Strategy interface {
	Name() schemas.StrategyName
	Attempt(ctx context.Context, hc HealContext) (*StrategyResult, error)
}

// probeResult is what the shared DOM probe reports about one selector.
type probeResult struct {
	Found   bool   `json:"found"`
	Tag     string `json:"tag"`
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
}

// probe checks whether a selector (CSS or XPath) resolves on the current
// page and returns the matched element's tag and trimmed text.
func probe(ctx context.Context, page schemas.PageSession, selector string) (*probeResult, error) {
	var locate string
	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		locate = fmt.Sprintf(
			`document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue`,
			selector)
	} else {
		locate = fmt.Sprintf(`document.querySelector(%q)`, selector)
	}

	script := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) { return { found: false }; }
		const rect = el.getBoundingClientRect();
		return {
			found: true,
			tag: el.tagName.toLowerCase(),
			text: (el.textContent || '').trim().slice(0, 120),
			visible: rect.width > 0 && rect.height > 0
		};
	})()`, locate)

	raw, err := page.EvaluateScript(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("selector probe failed: %w", err)
	}
	var result probeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode probe result: %w", err)
	}
	return &result, nil
}

// newUpdate assembles a SelectorUpdate for a healed step.
func newUpdate(hc HealContext, selector string, selType schemas.SelectorType, confidence float64, reasoning, context string, backups []string) schemas.SelectorUpdate {
	return schemas.SelectorUpdate{
		StepID:           hc.Failure.StepID,
		OriginalSelector: hc.Failure.OriginalSelector,
		NewSelector:      selector,
		SelectorType:     selType,
		ConfidenceScore:  confidence,
		ChangeReasoning:  reasoning,
		ElementContext:   context,
		SemanticPreservation: schemas.SemanticPreservation{
			IntentPreserved:        true,
			FunctionalityPreserved: true,
			AccessibilityImpact:    "unknown",
		},
		BackupSelectors: backups,
	}
}
