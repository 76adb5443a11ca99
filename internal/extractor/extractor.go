// Package extractor performs read-only inspection of a live page to pull
// the structural and visual facts the selector generator and the healing
// strategies work from.
package extractor

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrElementNotFound is returned when no element resolves at the given
// coordinates or reference.
var ErrElementNotFound = fmt.Errorf("element not found")

// Target locates the element to extract: either click coordinates or a
// selector reference.
type Target struct {
	Selector  string
	X, Y      float64
	UseCoords bool
}

// Extractor resolves a Target against a PageSession and returns raw
// element facts. It performs no writes against the page.
type Extractor struct {
	logger *zap.Logger
}

// New creates a new Extractor.
func New(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger.Named("extractor")}
}

// Extract pulls the facts for the targeted element. It fails with
// ErrElementNotFound when nothing resolves.
func (e *Extractor) Extract(ctx context.Context, page schemas.PageSession, target Target) (*schemas.ElementFacts, error) {
	script := fmt.Sprintf(extractScript, targetExpression(target))

	raw, err := page.EvaluateScript(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("element extraction script failed: %w", err)
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		if target.UseCoords {
			return nil, fmt.Errorf("%w at (%.0f, %.0f)", ErrElementNotFound, target.X, target.Y)
		}
		return nil, fmt.Errorf("%w for selector %q", ErrElementNotFound, target.Selector)
	}

	var facts schemas.ElementFacts
	if err := json.Unmarshal(raw, &facts); err != nil {
		return nil, fmt.Errorf("failed to decode element facts: %w", err)
	}

	clampFacts(&facts)

	e.logger.Debug("Extracted element facts",
		zap.String("tag", facts.TagName),
		zap.Bool("visible", facts.Visible),
		zap.Int("attributes", len(facts.Attributes)))
	return &facts, nil
}

// targetExpression builds the JS expression that resolves the target to a
// DOM node.
func targetExpression(target Target) string {
	if target.UseCoords {
		return fmt.Sprintf("document.elementFromPoint(%.2f, %.2f)", target.X, target.Y)
	}
	return fmt.Sprintf("document.querySelector(%q)", target.Selector)
}

// clampFacts enforces the extraction contract server-side as well: at most
// two ancestors, three sibling snippets, trimmed text.
func clampFacts(facts *schemas.ElementFacts) {
	if len(facts.AncestorTags) > 2 {
		facts.AncestorTags = facts.AncestorTags[:2]
	}
	if len(facts.SiblingText) > 3 {
		facts.SiblingText = facts.SiblingText[:3]
	}
	facts.TextContent = strings.TrimSpace(facts.TextContent)
	if facts.Attributes == nil {
		facts.Attributes = map[string]string{}
	}
}
