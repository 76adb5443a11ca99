package schemas

import "time"

// -- Element Identification Schemas --

// ElementType is the closed set of element categories the identification
// pipeline can assign.
type ElementType string

const (
	ElementButton     ElementType = "button"
	ElementInput      ElementType = "input"
	ElementLink       ElementType = "link"
	ElementText       ElementType = "text"
	ElementImage      ElementType = "image"
	ElementDropdown   ElementType = "dropdown"
	ElementCheckbox   ElementType = "checkbox"
	ElementRadio      ElementType = "radio"
	ElementTextarea   ElementType = "textarea"
	ElementSelect     ElementType = "select"
	ElementForm       ElementType = "form"
	ElementNavigation ElementType = "navigation"
	ElementHeader     ElementType = "header"
	ElementFooter     ElementType = "footer"
	ElementArticle    ElementType = "article"
	ElementSection    ElementType = "section"
)

// BoundingBox is the on-page geometry of an element in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementFacts is the raw, unranked output of the Element Extractor. It
// captures everything the selector generator and the healing strategies
// need to know about one DOM node at one point in time.
type ElementFacts struct {
	TagName     string            `json:"tag_name"`
	Attributes  map[string]string `json:"attributes"`
	TextContent string            `json:"text_content"`
	Bounds      BoundingBox       `json:"bounds"`
	// AncestorTags holds up to two enclosing tag names, nearest first.
	AncestorTags []string `json:"ancestor_tags"`
	// SiblingText holds up to three trimmed text snippets from adjacent nodes.
	SiblingText []string `json:"sibling_text"`
	AriaLabels  []string `json:"aria_labels"`
	Role        string   `json:"role"`
	Visible     bool     `json:"visible"`
	Interactive bool     `json:"interactive"`
}

// VisualContext describes the neighborhood of an identified element.
type VisualContext struct {
	NearbyText  []string    `json:"nearby_text"`
	ParentChain []string    `json:"parent_chain"`
	AriaLabels  []string    `json:"aria_labels"`
	Bounds      BoundingBox `json:"bounds"`
}

// TechnicalDetails captures the structural facts of an identified element.
type TechnicalDetails struct {
	TagName     string            `json:"tag_name"`
	Attributes  map[string]string `json:"attributes"`
	TextContent string            `json:"text_content"`
	Role        string            `json:"role"`
	Interactive bool              `json:"interactive"`
	Visible     bool              `json:"visible"`
}

// ConfidenceMetrics is the scored summary of one identification. Overall is
// always 0.5*ElementRecognition + 0.5*SelectorReliability.
type ConfidenceMetrics struct {
	ElementRecognition    float64 `json:"element_recognition"`
	SelectorReliability   float64 `json:"selector_reliability"`
	InteractionPrediction float64 `json:"interaction_prediction"`
	Overall               float64 `json:"overall"`
}

// ElementIdentification is the immutable artifact produced by the
// identification pipeline. A successful healing run supersedes a record with
// a new one; nothing ever mutates an existing record in place.
type ElementIdentification struct {
	ID                   string            `json:"id"`
	TestCaseID           string            `json:"test_case_id"`
	StepID               string            `json:"step_id"`
	ElementType          ElementType       `json:"element_type"`
	NaturalDescription   string            `json:"natural_description"`
	PrimarySelector      string            `json:"primary_selector"`
	AlternativeSelectors []string          `json:"alternative_selectors"`
	ConfidenceScores     []float64         `json:"confidence_scores"`
	VisualContext        VisualContext     `json:"visual_context"`
	TechnicalDetails     TechnicalDetails  `json:"technical_details"`
	ConfidenceMetrics    ConfidenceMetrics `json:"confidence_metrics"`
	// Version supports optimistic concurrency on supersede. Two healing
	// sessions racing to replace the same record cannot both win.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// -- Healing Session Schemas --

// TriggerType says why a healing session was started.
type TriggerType string

const (
	TriggerFailureDetection TriggerType = "failure_detection"
	TriggerScheduledCheck   TriggerType = "scheduled_check"
	TriggerManual           TriggerType = "manual_trigger"
)

// SessionStatus is the state machine value of a healing session.
type SessionStatus string

const (
	StatusPending        SessionStatus = "pending"
	StatusAnalyzing      SessionStatus = "analyzing"
	StatusHealing        SessionStatus = "healing"
	StatusValidating     SessionStatus = "validating"
	StatusCompleted      SessionStatus = "completed"
	StatusFailed         SessionStatus = "failed"
	StatusRequiresReview SessionStatus = "requires_review"
)

// IsTerminal reports whether the state machine makes no further automatic
// transitions from s.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRequiresReview:
		return true
	}
	return false
}

// FailureType classifies the execution failure that triggered healing.
type FailureType string

const (
	FailureElementNotFound   FailureType = "element_not_found"
	FailureTimeout           FailureType = "timeout"
	FailureAssertionFailed   FailureType = "assertion_failed"
	FailureInteractionFailed FailureType = "interaction_failed"
)

// FailureDetails describes the failed step that a session is trying to heal.
type FailureDetails struct {
	StepID           string      `json:"step_id"`
	FailureType      FailureType `json:"failure_type"`
	OriginalSelector string      `json:"original_selector"`
	ErrorMessage     string      `json:"error_message"`
	PageURL          string      `json:"page_url"`
	Timestamp        time.Time   `json:"timestamp"`
}

// SelectorType tags the flavor of a selector expression.
type SelectorType string

const (
	SelectorCSS      SelectorType = "css"
	SelectorXPath    SelectorType = "xpath"
	SelectorText     SelectorType = "text"
	SelectorARIA     SelectorType = "aria"
	SelectorDataAttr SelectorType = "data_attribute"
	SelectorHybrid   SelectorType = "hybrid"
)

// SemanticPreservation records whether a proposed replacement keeps the
// original step's meaning. AccessibilityImpact is a pass-through from the
// producing strategy; the engine never derives it.
type SemanticPreservation struct {
	IntentPreserved        bool   `json:"intent_preserved"`
	FunctionalityPreserved bool   `json:"functionality_preserved"`
	AccessibilityImpact    string `json:"accessibility_impact"`
}

// SelectorUpdate is a proposed replacement for a broken selector.
type SelectorUpdate struct {
	StepID               string               `json:"step_id"`
	OriginalSelector     string               `json:"original_selector"`
	NewSelector          string               `json:"new_selector"`
	SelectorType         SelectorType         `json:"selector_type"`
	ConfidenceScore      float64              `json:"confidence_score"`
	ChangeReasoning      string               `json:"change_reasoning"`
	ElementContext       string               `json:"element_context"`
	SemanticPreservation SemanticPreservation `json:"semantic_preservation"`
	BackupSelectors      []string             `json:"backup_selectors,omitempty"`
}

// StrategyName identifies one member of the healing strategy set.
type StrategyName string

const (
	StrategySemanticMatching  StrategyName = "semantic_matching"
	StrategyVisualRecognition StrategyName = "visual_recognition"
	StrategyContextAnalysis   StrategyName = "context_analysis"
	StrategyMLPrediction      StrategyName = "ml_prediction"
	StrategyFallbackSearch    StrategyName = "fallback_search"
)

// ValidationResult is the outcome of re-executing the original intent
// against a candidate selector.
type ValidationResult struct {
	Success         bool    `json:"success"`
	SimilarityScore float64 `json:"similarity_score,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// HealingAttempt is one strategy execution within a session. Attempts are
// append-only and totally ordered by AttemptNumber.
type HealingAttempt struct {
	AttemptNumber    int               `json:"attempt_number"`
	StrategyUsed     StrategyName      `json:"strategy_used"`
	ProposedChanges  []SelectorUpdate  `json:"proposed_changes,omitempty"`
	ConfidenceScore  float64           `json:"confidence_score"`
	Reasoning        string            `json:"reasoning"`
	ValidationResult *ValidationResult `json:"validation_result,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

// ResolutionType says how a terminal session was resolved. It is empty for
// sessions that failed or are still awaiting review.
type ResolutionType string

const (
	ResolutionAutoHealed ResolutionType = "auto_healed"
	ResolutionApproved   ResolutionType = "approved"
	ResolutionModified   ResolutionType = "modified"
	ResolutionRejected   ResolutionType = "rejected"
)

// FinalResolution is present exactly when a session status is terminal.
type FinalResolution struct {
	ResolutionType ResolutionType  `json:"resolution_type,omitempty"`
	AppliedUpdate  *SelectorUpdate `json:"applied_update,omitempty"`
	Reasoning      string          `json:"reasoning"`
	ResolvedAt     time.Time       `json:"resolved_at"`
}

// HealingSession is one recovery lifecycle for one failed step. The session
// pins the configuration snapshot it started with so mid-flight policy
// changes cannot corrupt a decision.
type HealingSession struct {
	ID              string               `json:"id"`
	TestCaseID      string               `json:"test_case_id"`
	ExecutionID     string               `json:"execution_id,omitempty"`
	TriggerType     TriggerType          `json:"trigger_type"`
	Status          SessionStatus        `json:"status"`
	FailureDetails  FailureDetails       `json:"failure_details"`
	HealingAttempts []HealingAttempt     `json:"healing_attempts"`
	FinalResolution *FinalResolution     `json:"final_resolution,omitempty"`
	Config          HealingConfiguration `json:"config"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// -- Healing Configuration Schemas --

// ConfidenceThresholds gate the healing decision ladder. Values must be
// strictly decreasing: AutoApply > SuggestReview > AttemptHealing > MinViable.
type ConfidenceThresholds struct {
	AutoApply      float64 `json:"auto_apply"`
	SuggestReview  float64 `json:"suggest_review"`
	AttemptHealing float64 `json:"attempt_healing"`
	MinViable      float64 `json:"min_viable"`
}

// ValidationSettings tune the validation runner.
type ValidationSettings struct {
	RequireScreenshot   bool    `json:"require_screenshot"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	RequireFullTest     bool    `json:"require_full_test"`
}

// HealingConfiguration is the tenant/project-scoped healing policy. The
// engine reads it and never mutates it; a session copies its snapshot at
// creation time.
type HealingConfiguration struct {
	Thresholds             ConfidenceThresholds `json:"confidence_thresholds"`
	MaxAttemptsPerStrategy int                  `json:"max_attempts_per_strategy"`
	TotalMaxAttempts       int                  `json:"total_max_attempts"`
	Validation             ValidationSettings   `json:"validation_settings"`
	// StrategyPriority is the global strategy order, most preferred first.
	StrategyPriority []StrategyName `json:"strategy_priority"`
	// ExcludedStrategies disables strategies per failure type.
	ExcludedStrategies map[FailureType][]StrategyName `json:"excluded_strategies,omitempty"`
	AttemptTimeout     time.Duration                  `json:"attempt_timeout"`
	SessionTimeout     time.Duration                  `json:"session_timeout"`
}

// StrategiesFor returns the ordered strategy list eligible for the given
// failure type, applying any configured exclusions.
func (c HealingConfiguration) StrategiesFor(ft FailureType) []StrategyName {
	excluded := make(map[StrategyName]bool)
	for _, name := range c.ExcludedStrategies[ft] {
		excluded[name] = true
	}
	var eligible []StrategyName
	for _, name := range c.StrategyPriority {
		if !excluded[name] {
			eligible = append(eligible, name)
		}
	}
	return eligible
}
