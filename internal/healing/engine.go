package healing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
	"github.com/kestrelqa/selfheal/internal/extractor"
	"github.com/kestrelqa/selfheal/internal/selector"
)

// backupScoreFactor discounts backup selectors relative to the applied one
// when a healed identification is written back.
const backupScoreFactor = 0.75

// ReviewDecision is a human verdict on a session awaiting review.
type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "approve"
	DecisionReject  ReviewDecision = "reject"
	DecisionModify  ReviewDecision = "modify"
)

// TriggerRequest starts a healing session for one failed step.
type TriggerRequest struct {
	TestCaseID  string
	ExecutionID string
	TriggerType schemas.TriggerType
	Failure     schemas.FailureDetails
	// Force supersedes an existing active session for the same step instead
	// of returning ErrDuplicateSession.
	Force bool
	// Intent is the original interaction, replayed during validation.
	Intent schemas.OriginalIntent
	// Screenshot is the optional pre-failure viewport capture.
	Screenshot []byte
}

// IdentifyRequest asks the engine to identify one element on a live page
// and persist the resulting record.
type IdentifyRequest struct {
	TestCaseID  string
	StepID      string
	RecordingID string
	Target      extractor.Target
}

// Deps wires the engine's collaborators. Prediction and Description may be
// nil; the affected paths degrade gracefully.
type Deps struct {
	Logger          *zap.Logger
	Sessions        schemas.SessionStore
	Identifications schemas.IdentificationStore
	Events          schemas.EventSink
	Validator       schemas.ValidationRunner
	Prediction      schemas.PredictionClient
	Description     schemas.DescriptionClient
	// DefaultConfig is the healing policy snapshot pinned onto new sessions.
	DefaultConfig schemas.HealingConfiguration
	// PredictionRate caps calls per second to the prediction collaborator.
	PredictionRate float64
}

// Engine is the service facade: it creates sessions, drives the state
// machine, identifies elements and accepts review decisions.
type Engine struct {
	logger          *zap.Logger
	sessions        schemas.SessionStore
	identifications schemas.IdentificationStore
	events          schemas.EventSink
	validator       schemas.ValidationRunner
	describer       *selector.Describer
	extractor       *extractor.Extractor
	defaultConfig   schemas.HealingConfiguration
	strategies      map[schemas.StrategyName]Strategy
	stats           stats
	wg              sync.WaitGroup
}

// NewEngine builds an engine with the full strategy set registered.
func NewEngine(deps Deps) *Engine {
	log := deps.Logger.Named("healing")
	e := &Engine{
		logger:          log,
		sessions:        deps.Sessions,
		identifications: deps.Identifications,
		events:          deps.Events,
		validator:       deps.Validator,
		describer:       selector.NewDescriber(deps.Logger, deps.Description),
		extractor:       extractor.New(deps.Logger),
		defaultConfig:   deps.DefaultConfig,
		strategies:      make(map[schemas.StrategyName]Strategy),
	}
	for _, s := range []Strategy{
		newSemanticStrategy(log),
		newVisualStrategy(log),
		newContextStrategy(log),
		newPredictionStrategy(log, deps.Prediction, deps.PredictionRate),
		newFallbackStrategy(log),
	} {
		e.strategies[s.Name()] = s
	}
	return e
}

// TriggerHealing registers a new session for the failed step. When an
// active session already covers the (testCaseID, stepID) key it returns
// that session together with ErrDuplicateSession, unless Force is set, in
// which case the existing session is failed and replaced. The returned
// session is still pending; StartHealing or Heal drives it.
func (e *Engine) TriggerHealing(ctx context.Context, req TriggerRequest) (*schemas.HealingSession, error) {
	session := &schemas.HealingSession{
		ID:             uuid.NewString(),
		TestCaseID:     req.TestCaseID,
		ExecutionID:    req.ExecutionID,
		TriggerType:    req.TriggerType,
		Status:         schemas.StatusPending,
		FailureDetails: req.Failure,
		Config:         e.defaultConfig,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	stored, created, err := e.sessions.InsertActive(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to register healing session: %w", err)
	}
	if !created {
		if !req.Force {
			return stored, ErrDuplicateSession
		}
		e.logger.Info("Forced trigger supersedes active session",
			zap.String("existing_session_id", stored.ID),
			zap.String("step_id", req.Failure.StepID))
		e.failTerminal(ctx, stored, "superseded by a forced re-trigger")
		stored, created, err = e.sessions.InsertActive(ctx, session)
		if err != nil {
			return nil, fmt.Errorf("failed to register forced healing session: %w", err)
		}
		if !created {
			return stored, ErrDuplicateSession
		}
	}

	e.publishProgress(ctx, session, "", nil)
	e.logger.Info("Healing session created",
		zap.String("session_id", session.ID),
		zap.String("test_case_id", session.TestCaseID),
		zap.String("step_id", session.FailureDetails.StepID),
		zap.String("trigger", string(session.TriggerType)))
	return session, nil
}

// StartHealing runs a pending session asynchronously. Wait blocks until all
// started sessions finish.
func (e *Engine) StartHealing(ctx context.Context, session *schemas.HealingSession, page schemas.PageSession, intent schemas.OriginalIntent, screenshot []byte) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runSession(ctx, session, page, intent, screenshot)
	}()
}

// Heal triggers and runs a session synchronously, returning it in its
// terminal (or requires_review) state.
func (e *Engine) Heal(ctx context.Context, req TriggerRequest, page schemas.PageSession) (*schemas.HealingSession, error) {
	session, err := e.TriggerHealing(ctx, req)
	if err != nil {
		return session, err
	}
	e.runSession(ctx, session, page, req.Intent, req.Screenshot)
	return session, nil
}

// Wait blocks until every session started with StartHealing has reached a
// terminal state.
func (e *Engine) Wait() { e.wg.Wait() }

// ReviewHealing applies a human decision to a session awaiting review. It
// is the only transition out of requires_review: approve and modify finish
// the session as completed and write the healed identification, reject
// finishes it as failed. modifications replaces the proposed update for
// DecisionModify and is ignored otherwise.
func (e *Engine) ReviewHealing(ctx context.Context, sessionID string, decision ReviewDecision, modifications *schemas.SelectorUpdate) error {
	session, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if session.Status != schemas.StatusRequiresReview {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidReviewState, sessionID, session.Status)
	}
	if session.FinalResolution == nil || session.FinalResolution.AppliedUpdate == nil {
		return fmt.Errorf("%w: session %s carries no reviewed candidate", ErrInvalidReviewState, sessionID)
	}

	switch decision {
	case DecisionApprove:
		session.FinalResolution.ResolutionType = schemas.ResolutionApproved
		session.FinalResolution.Reasoning = "reviewer approved the proposed selector"
	case DecisionModify:
		if modifications == nil {
			return errors.New("modify decision requires a replacement selector update")
		}
		session.FinalResolution.AppliedUpdate = modifications
		session.FinalResolution.ResolutionType = schemas.ResolutionModified
		session.FinalResolution.Reasoning = "reviewer modified the proposed selector"
	case DecisionReject:
		session.FinalResolution.AppliedUpdate = nil
		session.FinalResolution.ResolutionType = schemas.ResolutionRejected
		session.FinalResolution.Reasoning = "reviewer rejected the proposed selector"
	default:
		return fmt.Errorf("unknown review decision %q", decision)
	}
	session.FinalResolution.ResolvedAt = time.Now().UTC()

	result := schemas.HealingFailure
	next := schemas.StatusFailed
	if decision != DecisionReject {
		next = schemas.StatusCompleted
		result = schemas.HealingSuccess
		if err := e.applyUpdate(ctx, session, *session.FinalResolution.AppliedUpdate); err != nil {
			e.logger.Error("Failed to persist reviewed identification",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	e.transition(ctx, session, next, "", nil)
	e.publishCompleted(ctx, session, result)
	e.stats.resolveReview(next)
	e.logger.Info("Review decision applied",
		zap.String("session_id", session.ID),
		zap.String("decision", string(decision)),
		zap.String("status", string(session.Status)))
	return nil
}

// IdentifyElement runs the identification pipeline for one element on a
// live page: extract facts, generate and score selectors, classify,
// describe, persist the record and announce it on the recording channel.
func (e *Engine) IdentifyElement(ctx context.Context, page schemas.PageSession, req IdentifyRequest) (*schemas.ElementIdentification, error) {
	facts, err := e.extractor.Extract(ctx, page, req.Target)
	if err != nil {
		e.publishError(ctx, req.RecordingID, err)
		return nil, err
	}

	candidates := selector.Generate(facts)
	primary, alternatives, scores := selector.Split(candidates)
	metrics := selector.Score(facts, candidates)

	record := &schemas.ElementIdentification{
		ID:                   uuid.NewString(),
		TestCaseID:           req.TestCaseID,
		StepID:               req.StepID,
		ElementType:          selector.Classify(facts),
		NaturalDescription:   e.describer.Describe(ctx, facts),
		PrimarySelector:      primary,
		AlternativeSelectors: alternatives,
		ConfidenceScores:     scores,
		VisualContext: schemas.VisualContext{
			NearbyText:  facts.SiblingText,
			ParentChain: facts.AncestorTags,
			AriaLabels:  facts.AriaLabels,
			Bounds:      facts.Bounds,
		},
		TechnicalDetails: schemas.TechnicalDetails{
			TagName:     facts.TagName,
			Attributes:  facts.Attributes,
			TextContent: facts.TextContent,
			Role:        facts.Role,
			Interactive: facts.Interactive,
			Visible:     facts.Visible,
		},
		ConfidenceMetrics: metrics,
		Version:           1,
		CreatedAt:         time.Now().UTC(),
	}

	if err := e.identifications.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist identification: %w", err)
	}

	// The identify CLI path has no recording; there is no channel to
	// announce on.
	if req.RecordingID != "" {
		e.events.Publish(ctx, schemas.Event{
			Channel:       schemas.RecordingChannel(req.RecordingID),
			Type:          schemas.EventElementIdentified,
			CorrelationID: req.RecordingID,
			Payload:       record,
		})
	}
	e.logger.Info("Element identified",
		zap.String("id", record.ID),
		zap.String("type", string(record.ElementType)),
		zap.String("primary_selector", record.PrimarySelector),
		zap.Float64("overall_confidence", metrics.Overall))
	return record, nil
}

// applyUpdate supersedes the stored identification with the healed
// selector. The replacement record is new and versioned; the previous one
// is never mutated. A missing previous record degrades to a plain save.
func (e *Engine) applyUpdate(ctx context.Context, session *schemas.HealingSession, update schemas.SelectorUpdate) error {
	prev, err := e.identifications.GetLatest(ctx, session.TestCaseID, session.FailureDetails.StepID)

	scores := make([]float64, 0, len(update.BackupSelectors)+1)
	scores = append(scores, update.ConfidenceScore)
	for range update.BackupSelectors {
		scores = append(scores, update.ConfidenceScore*backupScoreFactor)
	}

	next := &schemas.ElementIdentification{
		ID:                   uuid.NewString(),
		TestCaseID:           session.TestCaseID,
		StepID:               session.FailureDetails.StepID,
		PrimarySelector:      update.NewSelector,
		AlternativeSelectors: update.BackupSelectors,
		ConfidenceScores:     scores,
		Version:              1,
		CreatedAt:            time.Now().UTC(),
	}
	if err != nil || prev == nil {
		return e.identifications.Save(ctx, next)
	}

	next.ElementType = prev.ElementType
	next.NaturalDescription = prev.NaturalDescription
	next.VisualContext = prev.VisualContext
	next.TechnicalDetails = prev.TechnicalDetails
	next.ConfidenceMetrics = prev.ConfidenceMetrics
	next.Version = prev.Version + 1
	return e.identifications.Supersede(ctx, prev, next)
}

// -- Recording feedback helpers --

// PublishRecordingStarted announces that a recording began.
func (e *Engine) PublishRecordingStarted(ctx context.Context, recordingID string) {
	e.publishRecording(ctx, recordingID, schemas.EventRecordingStarted, nil)
}

// PublishRecordingPaused announces that a recording paused.
func (e *Engine) PublishRecordingPaused(ctx context.Context, recordingID string) {
	e.publishRecording(ctx, recordingID, schemas.EventRecordingPaused, nil)
}

// PublishRecordingStopped announces that a recording stopped.
func (e *Engine) PublishRecordingStopped(ctx context.Context, recordingID string) {
	e.publishRecording(ctx, recordingID, schemas.EventRecordingStopped, nil)
}

// PublishStepCaptured announces a captured step on the recording channel.
func (e *Engine) PublishStepCaptured(ctx context.Context, recordingID string, payload interface{}) {
	e.publishRecording(ctx, recordingID, schemas.EventStepCaptured, payload)
}

func (e *Engine) publishRecording(ctx context.Context, recordingID string, eventType schemas.EventType, payload interface{}) {
	e.events.Publish(ctx, schemas.Event{
		Channel:       schemas.RecordingChannel(recordingID),
		Type:          eventType,
		CorrelationID: recordingID,
		Payload:       payload,
	})
}

func (e *Engine) publishError(ctx context.Context, recordingID string, err error) {
	if recordingID == "" {
		return
	}
	e.publishRecording(ctx, recordingID, schemas.EventErrorOccurred, map[string]string{
		"error": err.Error(),
	})
}

// -- Statistics --

// Stats is a point-in-time aggregate of healing outcomes. RequiresReview
// counts sessions still awaiting a review decision; once reviewed they are
// counted under Completed or Failed instead.
type Stats struct {
	Completed      int64   `json:"completed"`
	Failed         int64   `json:"failed"`
	RequiresReview int64   `json:"requires_review"`
	AutoHealRate   float64 `json:"auto_heal_rate"`
}

type stats struct {
	completed atomic.Int64
	failed    atomic.Int64
	review    atomic.Int64
}

func (s *stats) record(status schemas.SessionStatus) {
	switch status {
	case schemas.StatusCompleted:
		s.completed.Add(1)
	case schemas.StatusFailed:
		s.failed.Add(1)
	case schemas.StatusRequiresReview:
		s.review.Add(1)
	}
}

// resolveReview moves one session from the review bucket to its post-review
// terminal bucket.
func (s *stats) resolveReview(terminal schemas.SessionStatus) {
	s.review.Add(-1)
	s.record(terminal)
}

// Stats reports the engine's terminal outcome counters since start.
func (e *Engine) Stats() Stats {
	completed := e.stats.completed.Load()
	failed := e.stats.failed.Load()
	review := e.stats.review.Load()
	total := completed + failed + review

	var rate float64
	if total > 0 {
		rate = float64(completed) / float64(total)
	}
	return Stats{
		Completed:      completed,
		Failed:         failed,
		RequiresReview: review,
		AutoHealRate:   rate,
	}
}
