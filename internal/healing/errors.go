package healing

import "errors"

var (
	// ErrDuplicateSession is returned when a trigger arrives for a step that
	// already has an active (non-terminal) healing session.
	ErrDuplicateSession = errors.New("an active healing session already exists for this step")
	// ErrNoEligibleStrategy is the terminal reason for a session whose
	// configuration excludes every strategy for its failure type.
	ErrNoEligibleStrategy = errors.New("no healing strategy is eligible for this failure type")
	// ErrAttemptBudgetExhausted is the terminal reason for a session that
	// ran out of attempts without a viable candidate.
	ErrAttemptBudgetExhausted = errors.New("attempt budget exhausted without a viable candidate")
	// ErrInvalidReviewState is returned when a review decision targets a
	// session that is not awaiting review.
	ErrInvalidReviewState = errors.New("session is not awaiting review")
	// ErrMissingIdentification is returned by strategies that cannot run
	// without a last-known-good identification record.
	ErrMissingIdentification = errors.New("no identification record available for the failed step")
)
