package schemas

import "time"

// -- Real-Time Event Schemas --

// EventType names one event in the recording or healing families.
type EventType string

const (
	// Identification / recording feedback events.
	EventRecordingStarted  EventType = "recording_started"
	EventStepCaptured      EventType = "step_captured"
	EventElementIdentified EventType = "element_identified"
	EventRecordingPaused   EventType = "recording_paused"
	EventRecordingStopped  EventType = "recording_stopped"
	EventErrorOccurred     EventType = "error_occurred"

	// Healing progress / outcome events.
	EventHealingProgress  EventType = "healing_progress"
	EventHealingCompleted EventType = "healing_completed"
)

// HealingResult classifies a terminal healing outcome for subscribers.
type HealingResult string

const (
	HealingSuccess        HealingResult = "success"
	HealingPartialSuccess HealingResult = "partial_success"
	HealingFailure        HealingResult = "failure"
	HealingManualReview   HealingResult = "manual_review_required"
)

// HealingProgressPayload accompanies one state transition of a session.
type HealingProgressPayload struct {
	Stage              SessionStatus   `json:"stage"`
	ProgressPercentage int             `json:"progress_percentage"`
	CurrentStrategy    StrategyName    `json:"current_strategy,omitempty"`
	IntermediateResult *HealingAttempt `json:"intermediate_result,omitempty"`
}

// HealingCompletedPayload is the terminal event of a session.
type HealingCompletedPayload struct {
	Result          HealingResult    `json:"result"`
	FinalResolution *FinalResolution `json:"final_resolution,omitempty"`
	Attempts        int              `json:"attempts"`
}

// Event is the envelope published on a per-entity channel. The broadcaster
// stamps Timestamp and Sequence; CorrelationID equals the session or
// recording id so subscribers can de-duplicate.
type Event struct {
	Channel       string      `json:"channel"`
	Type          EventType   `json:"type"`
	CorrelationID string      `json:"correlation_id"`
	Sequence      int64       `json:"sequence"`
	Timestamp     time.Time   `json:"timestamp"`
	Payload       interface{} `json:"payload,omitempty"`
}

// RecordingChannel returns the channel name for recording feedback events.
func RecordingChannel(recordingID string) string { return "recording:" + recordingID }

// ValidationChannel returns the channel name for healing progress events.
func ValidationChannel(testID string) string { return "validation:" + testID }
