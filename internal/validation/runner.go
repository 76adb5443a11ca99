// Package validation re-executes the original test intent against a
// candidate selector and decides pass/fail.
package validation

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SimilarityFunc scores the visual similarity of two screenshots in [0,1].
// Pixel diffing itself is an external concern; the engine only consumes
// the score.
type SimilarityFunc func(before, after []byte) float64

// Runner validates candidate selectors by replaying the failed step's
// intent through a live page session.
type Runner struct {
	logger     *zap.Logger
	settings   schemas.ValidationSettings
	similarity SimilarityFunc
}

// NewRunner creates a Runner. similarity may be nil, in which case
// screenshot comparison is skipped even when the settings request it.
func NewRunner(logger *zap.Logger, settings schemas.ValidationSettings, similarity SimilarityFunc) *Runner {
	return &Runner{
		logger:     logger.Named("validation"),
		settings:   settings,
		similarity: similarity,
	}
}

// Run checks that the candidate selector resolves to a visible element and
// replays the original intent against it. A failed resolution, a failed
// interaction or a similarity score below the configured threshold all
// produce an unsuccessful result; the error return is reserved for
// infrastructure failures (page gone, script engine broken).
func (r *Runner) Run(ctx context.Context, page schemas.PageSession, candidate schemas.SelectorUpdate, intent schemas.OriginalIntent) (*schemas.ValidationResult, error) {
	resolved, err := r.resolves(ctx, page, candidate.NewSelector)
	if err != nil {
		return nil, err
	}
	if !resolved {
		return &schemas.ValidationResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("candidate selector %q did not resolve to a visible element", candidate.NewSelector),
		}, nil
	}

	var before []byte
	compareShots := r.settings.RequireScreenshot && r.similarity != nil
	if compareShots {
		if before, err = page.CaptureScreenshot(ctx); err != nil {
			r.logger.Warn("Baseline screenshot failed, skipping visual comparison", zap.Error(err))
			compareShots = false
		}
	}

	if err := r.replay(ctx, page, candidate.NewSelector, intent); err != nil {
		return &schemas.ValidationResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("replay of %s failed: %v", intent.Action, err),
		}, nil
	}

	result := &schemas.ValidationResult{Success: true, SimilarityScore: 1.0}
	if compareShots {
		after, err := page.CaptureScreenshot(ctx)
		if err != nil {
			r.logger.Warn("Post-action screenshot failed, skipping visual comparison", zap.Error(err))
			return result, nil
		}
		score := r.similarity(before, after)
		result.SimilarityScore = score
		if score < r.settings.SimilarityThreshold {
			result.Success = false
			result.ErrorMessage = fmt.Sprintf("visual similarity %.2f below threshold %.2f", score, r.settings.SimilarityThreshold)
		}
	}
	return result, nil
}

// resolves checks that the selector matches exactly one visible element.
// Both CSS and XPath expressions are supported.
func (r *Runner) resolves(ctx context.Context, page schemas.PageSession, selector string) (bool, error) {
	var script string
	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		script = fmt.Sprintf(`(() => {
			const res = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null);
			const el = res.singleNodeValue;
			if (!el) { return false; }
			const rect = el.getBoundingClientRect();
			return rect.width > 0 && rect.height > 0;
		})()`, selector)
	} else {
		script = fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			if (!el) { return false; }
			const rect = el.getBoundingClientRect();
			return rect.width > 0 && rect.height > 0;
		})()`, selector)
	}

	raw, err := page.EvaluateScript(ctx, script)
	if err != nil {
		return false, fmt.Errorf("selector resolution script failed: %w", err)
	}
	var resolved bool
	if err := json.Unmarshal(raw, &resolved); err != nil {
		return false, fmt.Errorf("failed to decode resolution result: %w", err)
	}
	return resolved, nil
}

// replay performs the original interaction against the candidate selector.
func (r *Runner) replay(ctx context.Context, page schemas.PageSession, selector string, intent schemas.OriginalIntent) error {
	switch intent.Action {
	case "type":
		return page.Type(ctx, selector, intent.Value)
	case "assert":
		// Resolution already succeeded; an assert intent needs nothing more.
		return nil
	default:
		// Click is the dominant recorded action and the safe default.
		return page.Click(ctx, selector)
	}
}
