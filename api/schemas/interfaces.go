package schemas

import (
	"context"
	"encoding/json"
)

// -- Browser Port --

// PageSession is the slice of a live browser session the engine consumes.
// The concrete driver (chromedp, a remote grid, a recorded fixture) is an
// external collaborator; everything here must be side-effect free except
// for the explicit interaction methods.
//
//go:generate mockery --name PageSession --output ../../internal/mocks --outpkg mocks
type PageSession interface {
	// ID returns the unique id of the underlying browser session.
	ID() string
	// Navigate loads a URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// EvaluateScript runs a JavaScript expression and returns its JSON result.
	EvaluateScript(ctx context.Context, script string) (json.RawMessage, error)
	// Click clicks the first element matching the selector.
	Click(ctx context.Context, selector string) error
	// Type focuses the element matching the selector and types the text.
	Type(ctx context.Context, selector, text string) error
	// CaptureScreenshot returns a PNG of the current viewport.
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	// Close releases the session.
	Close(ctx context.Context) error
}

// -- Store Ports --

// SessionStore persists healing sessions and enforces the single-active-
// session-per-step guarantee.
type SessionStore interface {
	// InsertActive atomically registers a session as the active one for its
	// (testCaseID, stepID) key. When another active session already holds the
	// key, the existing session is returned and created is false. This must
	// be a single check-and-insert, not a read-then-write.
	InsertActive(ctx context.Context, session *HealingSession) (stored *HealingSession, created bool, err error)
	// Update persists the current state of a session.
	Update(ctx context.Context, session *HealingSession) error
	// Get returns a session by id.
	Get(ctx context.Context, id string) (*HealingSession, error)
}

// IdentificationStore persists element identification records.
type IdentificationStore interface {
	// Save inserts a new identification record.
	Save(ctx context.Context, record *ElementIdentification) error
	// GetLatest returns the newest identification for a test step.
	GetLatest(ctx context.Context, testCaseID, stepID string) (*ElementIdentification, error)
	// Supersede replaces prev with next if and only if prev is still at the
	// given version. A lost race returns a version-conflict error and writes
	// nothing.
	Supersede(ctx context.Context, prev *ElementIdentification, next *ElementIdentification) error
}

// -- Event Port --

// EventSink receives structured progress events. Publishing is
// fire-and-forget from the engine's perspective: a delivery failure never
// fails or rolls back the state transition that produced the event.
type EventSink interface {
	Publish(ctx context.Context, event Event)
}

// -- Validation Port --

// OriginalIntent describes the interaction a failed step was performing, so
// the validation runner can replay it against a candidate selector.
type OriginalIntent struct {
	Action string `json:"action"` // click, type, assert
	Value  string `json:"value,omitempty"`
}

// ValidationRunner re-executes the original test intent against a candidate
// selector and decides pass/fail.
type ValidationRunner interface {
	Run(ctx context.Context, page PageSession, candidate SelectorUpdate, intent OriginalIntent) (*ValidationResult, error)
}

// -- External Scoring Ports --

// PredictionRequest is the input to the external selector-prediction
// collaborator used by the ml_prediction strategy.
type PredictionRequest struct {
	Identification *ElementIdentification `json:"identification"`
	Failure        FailureDetails         `json:"failure"`
	PageURL        string                 `json:"page_url"`
}

// PredictionResponse carries an externally scored candidate. The engine
// treats Confidence as authoritative and does not re-derive it.
type PredictionResponse struct {
	Selector            string       `json:"selector"`
	SelectorType        SelectorType `json:"selector_type"`
	Confidence          float64      `json:"confidence"`
	Reasoning           string       `json:"reasoning"`
	AccessibilityImpact string       `json:"accessibility_impact,omitempty"`
}

// PredictionClient is the external learned-prediction collaborator.
type PredictionClient interface {
	PredictSelector(ctx context.Context, req PredictionRequest) (*PredictionResponse, error)
}

// DescriptionClient generates a short natural-language label for an
// element. On failure the caller falls back to a deterministic label.
type DescriptionClient interface {
	Describe(ctx context.Context, facts ElementFacts) (string, error)
}
