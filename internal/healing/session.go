package healing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
)

// stageProgress maps each session status to the progress percentage carried
// by its transition event.
var stageProgress = map[schemas.SessionStatus]int{
	schemas.StatusPending:        0,
	schemas.StatusAnalyzing:      10,
	schemas.StatusHealing:        40,
	schemas.StatusValidating:     75,
	schemas.StatusCompleted:      100,
	schemas.StatusFailed:         100,
	schemas.StatusRequiresReview: 100,
}

// runSession drives one healing session through the state machine:
// pending -> analyzing -> healing -> validating -> terminal. It always
// leaves the session in a terminal state, emits a progress event per
// transition and a single healing_completed event at the end.
func (e *Engine) runSession(ctx context.Context, session *schemas.HealingSession, page schemas.PageSession, intent schemas.OriginalIntent, screenshot []byte) {
	log := e.logger.With(
		zap.String("session_id", session.ID),
		zap.String("test_case_id", session.TestCaseID),
		zap.String("step_id", session.FailureDetails.StepID))

	if session.Config.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, session.Config.SessionTimeout)
		defer cancel()
	}

	// -- analyzing --
	e.transition(ctx, session, schemas.StatusAnalyzing, "", nil)

	identification, err := e.identifications.GetLatest(ctx, session.TestCaseID, session.FailureDetails.StepID)
	if err != nil {
		identification = nil
		log.Warn("No identification record for failed step, DOM-matching strategies will be skipped",
			zap.Error(err))
	}

	eligible := e.eligibleStrategies(session)
	if len(eligible) == 0 {
		e.failTerminal(ctx, session, ErrNoEligibleStrategy.Error())
		return
	}
	if session.Config.TotalMaxAttempts <= 0 {
		e.failTerminal(ctx, session, "total attempt budget is zero")
		return
	}

	hc := HealContext{
		Page:           page,
		Identification: identification,
		Failure:        session.FailureDetails,
		Screenshot:     screenshot,
	}

	// -- healing --
	e.transition(ctx, session, schemas.StatusHealing, "", nil)
	if cancelled := e.executeAttempts(ctx, session, eligible, hc); cancelled {
		return
	}

	best := bestAttempt(session.HealingAttempts)
	if best == nil || best.ConfidenceScore < session.Config.Thresholds.MinViable {
		e.failTerminal(ctx, session, ErrAttemptBudgetExhausted.Error())
		return
	}

	// -- validating --
	e.transition(ctx, session, schemas.StatusValidating, best.StrategyUsed, nil)
	e.validateAndResolve(ctx, session, page, intent, best)
}

// eligibleStrategies resolves the session's configured priority order
// against the registered strategy set.
func (e *Engine) eligibleStrategies(session *schemas.HealingSession) []Strategy {
	var eligible []Strategy
	for _, name := range session.Config.StrategiesFor(session.FailureDetails.FailureType) {
		if s, ok := e.strategies[name]; ok {
			eligible = append(eligible, s)
		}
	}
	return eligible
}

// executeAttempts runs the strategy loop: each eligible strategy gets up to
// maxAttemptsPerStrategy tries, bounded by the session-wide budget. The
// loop stops early when an attempt reaches the attemptHealing threshold.
// It reports true when the session was cancelled and already finalized.
func (e *Engine) executeAttempts(ctx context.Context, session *schemas.HealingSession, eligible []Strategy, hc HealContext) bool {
	cfg := session.Config
	perStrategy := cfg.MaxAttemptsPerStrategy
	if perStrategy <= 0 {
		perStrategy = 1
	}
	total := 0

	for _, strategy := range eligible {
		for try := 0; try < perStrategy; try++ {
			if total >= cfg.TotalMaxAttempts {
				return false
			}
			// Cancellation is only observed between attempts; an in-flight
			// attempt runs to completion or times out.
			if err := ctx.Err(); err != nil {
				e.failTerminal(ctx, session, cancelReason(err))
				return true
			}

			attempt := e.runAttempt(ctx, session, strategy, hc)
			total++
			session.HealingAttempts = append(session.HealingAttempts, attempt)
			e.persist(ctx, session)
			e.publishProgress(ctx, session, strategy.Name(), &attempt)

			if attempt.ConfidenceScore >= cfg.Thresholds.AttemptHealing {
				return false
			}
		}
	}
	return false
}

// runAttempt executes one strategy under the per-attempt timeout and
// converts every outcome, including timeouts and strategy errors, into an
// appended HealingAttempt.
func (e *Engine) runAttempt(ctx context.Context, session *schemas.HealingSession, strategy Strategy, hc HealContext) schemas.HealingAttempt {
	attempt := schemas.HealingAttempt{
		AttemptNumber: len(session.HealingAttempts) + 1,
		StrategyUsed:  strategy.Name(),
		Timestamp:     time.Now().UTC(),
	}

	attemptCtx := ctx
	if session.Config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, session.Config.AttemptTimeout)
		defer cancel()
	}

	result, err := strategy.Attempt(attemptCtx, hc)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		attempt.ConfidenceScore = 0
		attempt.Reasoning = "timeout"
	case errors.Is(err, ErrMissingIdentification):
		attempt.ConfidenceScore = 0
		attempt.Reasoning = "strategy requires a stored identification record and none exists"
	case err != nil:
		attempt.ConfidenceScore = 0
		attempt.Reasoning = fmt.Sprintf("strategy error: %v", err)
	default:
		attempt.ProposedChanges = result.Updates
		attempt.ConfidenceScore = result.Confidence
		attempt.Reasoning = result.Reasoning
	}

	e.logger.Debug("Healing attempt finished",
		zap.String("session_id", session.ID),
		zap.String("strategy", string(strategy.Name())),
		zap.Int("attempt", attempt.AttemptNumber),
		zap.Float64("confidence", attempt.ConfidenceScore))
	return attempt
}

// bestAttempt picks the winning candidate: highest confidence among
// attempts that actually proposed changes, earliest attempt on ties.
func bestAttempt(attempts []schemas.HealingAttempt) *schemas.HealingAttempt {
	var best *schemas.HealingAttempt
	for i := range attempts {
		a := &attempts[i]
		if len(a.ProposedChanges) == 0 {
			continue
		}
		if best == nil || a.ConfidenceScore > best.ConfidenceScore {
			best = a
		}
	}
	return best
}

// validateAndResolve runs the validation runner on the best candidate and
// applies the confidence ladder to pick the terminal state.
func (e *Engine) validateAndResolve(ctx context.Context, session *schemas.HealingSession, page schemas.PageSession, intent schemas.OriginalIntent, best *schemas.HealingAttempt) {
	candidate := best.ProposedChanges[0]

	validationCtx := ctx
	if session.Config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		validationCtx, cancel = context.WithTimeout(ctx, session.Config.AttemptTimeout)
		defer cancel()
	}

	result, err := e.validator.Run(validationCtx, page, candidate, intent)
	if err != nil {
		result = &schemas.ValidationResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("validation could not run: %v", err),
		}
	}
	best.ValidationResult = result
	e.persist(ctx, session)

	thresholds := session.Config.Thresholds
	confidence := best.ConfidenceScore

	switch {
	case result.Success && confidence >= thresholds.AutoApply:
		e.completeAutoHealed(ctx, session, best, candidate)
	case result.Success && confidence >= thresholds.SuggestReview:
		e.requireReview(ctx, session, best, candidate, confidence)
	case result.Success:
		e.failTerminal(ctx, session, fmt.Sprintf(
			"candidate validated but confidence %.2f is below the review threshold %.2f",
			confidence, thresholds.SuggestReview))
	default:
		reason := result.ErrorMessage
		if reason == "" {
			reason = "candidate selector failed validation"
		}
		e.failTerminal(ctx, session, reason)
	}
}

// completeAutoHealed finalizes a session whose candidate both validated and
// cleared the auto-apply bar. The stored identification is superseded with
// the healed selector before the terminal event fires.
func (e *Engine) completeAutoHealed(ctx context.Context, session *schemas.HealingSession, best *schemas.HealingAttempt, candidate schemas.SelectorUpdate) {
	if err := e.applyUpdate(ctx, session, candidate); err != nil {
		e.logger.Error("Failed to persist healed identification",
			zap.String("session_id", session.ID), zap.Error(err))
	}
	session.FinalResolution = &schemas.FinalResolution{
		ResolutionType: schemas.ResolutionAutoHealed,
		AppliedUpdate:  &candidate,
		Reasoning: fmt.Sprintf("%s candidate validated at confidence %.2f, at or above the auto-apply threshold",
			best.StrategyUsed, best.ConfidenceScore),
		ResolvedAt: time.Now().UTC(),
	}
	e.transition(ctx, session, schemas.StatusCompleted, best.StrategyUsed, nil)
	e.publishCompleted(ctx, session, schemas.HealingSuccess)
	e.stats.record(schemas.StatusCompleted)
}

// requireReview parks a validated but not auto-applicable candidate for a
// human decision. The proposed update is carried in the resolution-to-be
// via the attempt record; FinalResolution stays typed empty until review.
func (e *Engine) requireReview(ctx context.Context, session *schemas.HealingSession, best *schemas.HealingAttempt, candidate schemas.SelectorUpdate, confidence float64) {
	session.FinalResolution = &schemas.FinalResolution{
		AppliedUpdate: &candidate,
		Reasoning: fmt.Sprintf("%s candidate validated at confidence %.2f, below the auto-apply threshold %.2f",
			best.StrategyUsed, confidence, session.Config.Thresholds.AutoApply),
		ResolvedAt: time.Now().UTC(),
	}
	e.transition(ctx, session, schemas.StatusRequiresReview, best.StrategyUsed, nil)
	e.publishCompleted(ctx, session, schemas.HealingManualReview)
	e.stats.record(schemas.StatusRequiresReview)
}

// failTerminal moves a session to failed with a human-readable reason.
func (e *Engine) failTerminal(ctx context.Context, session *schemas.HealingSession, reason string) {
	session.FinalResolution = &schemas.FinalResolution{
		Reasoning:  reason,
		ResolvedAt: time.Now().UTC(),
	}
	e.transition(ctx, session, schemas.StatusFailed, "", nil)
	e.publishCompleted(ctx, session, schemas.HealingFailure)
	e.stats.record(schemas.StatusFailed)
}

// transition updates the status, persists the session and emits the
// matching progress event. Terminal persists survive a cancelled context.
func (e *Engine) transition(ctx context.Context, session *schemas.HealingSession, next schemas.SessionStatus, strategy schemas.StrategyName, attempt *schemas.HealingAttempt) {
	session.Status = next
	if next.IsTerminal() {
		ctx = context.WithoutCancel(ctx)
	}
	e.persist(ctx, session)
	e.publishProgress(ctx, session, strategy, attempt)
}

// persist writes the session through the store. Store failures are logged
// and never block state machine progress.
func (e *Engine) persist(ctx context.Context, session *schemas.HealingSession) {
	session.UpdatedAt = time.Now().UTC()
	if err := e.sessions.Update(ctx, session); err != nil {
		e.logger.Error("Failed to persist healing session",
			zap.String("session_id", session.ID),
			zap.String("status", string(session.Status)),
			zap.Error(err))
	}
}

func (e *Engine) publishProgress(ctx context.Context, session *schemas.HealingSession, strategy schemas.StrategyName, attempt *schemas.HealingAttempt) {
	e.events.Publish(ctx, schemas.Event{
		Channel:       schemas.ValidationChannel(session.TestCaseID),
		Type:          schemas.EventHealingProgress,
		CorrelationID: session.ID,
		Payload: schemas.HealingProgressPayload{
			Stage:              session.Status,
			ProgressPercentage: stageProgress[session.Status],
			CurrentStrategy:    strategy,
			IntermediateResult: attempt,
		},
	})
}

func (e *Engine) publishCompleted(ctx context.Context, session *schemas.HealingSession, result schemas.HealingResult) {
	e.events.Publish(ctx, schemas.Event{
		Channel:       schemas.ValidationChannel(session.TestCaseID),
		Type:          schemas.EventHealingCompleted,
		CorrelationID: session.ID,
		Payload: schemas.HealingCompletedPayload{
			Result:          result,
			FinalResolution: session.FinalResolution,
			Attempts:        len(session.HealingAttempts),
		},
	})
}

func cancelReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "session timeout exceeded"
	}
	return "cancelled"
}
