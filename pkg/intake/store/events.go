package store

// Event is a named state transition applied through Dispatch.
type Event interface {
	// EventName returns the event name for diagnostics and serialization.
	EventName() string
}

// SessionStarted records the backend-assigned session identifier.
// The id is assigned once; re-dispatching overwrites it.
type SessionStarted struct {
	SessionID string `json:"session_id"`
}

func (SessionStarted) EventName() string { return "SET_SESSION_ID" }

// PageChanged advances the coarse UI phase. Transitions must follow
// IDENTITY -> THEATRE -> SUMMARY; anything else is rejected.
type PageChanged struct {
	Page Page `json:"page"`
}

func (PageChanged) EventName() string { return "SET_PAGE" }

// IdentityResolved stores the patient identifier and extracted context.
type IdentityResolved struct {
	PID            string         `json:"pid"`
	Entities       map[string]any `json:"entities,omitempty"`
	PatientContext map[string]any `json:"patient_context,omitempty"`
}

func (IdentityResolved) EventName() string { return "IDENTITY_RESOLVED" }

// UserMessageSent appends a user chat message.
type UserMessageSent struct {
	Text string `json:"text"`
}

func (UserMessageSent) EventName() string { return "USER_MESSAGE_SENT" }

// AIResponseReceived appends an assistant chat message.
type AIResponseReceived struct {
	Text      string              `json:"text"`
	Type      string              `json:"type,omitempty"`
	Footnotes []string            `json:"footnotes,omitempty"`
	Severity  *SeverityAssessment `json:"severity_assessment,omitempty"`
}

func (AIResponseReceived) EventName() string { return "AI_RESPONSE_RECEIVED" }

// TraceEventReceived appends one agent trace record. Records whose
// type or step marks them as a response also synthesize an assistant
// chat message (deduplicated by text and agent).
type TraceEventReceived struct {
	Step TraceStep `json:"step"`
}

func (TraceEventReceived) EventName() string { return "TRACE_EVENT" }

// AmbienceUpdated recomputes the ambient state from the latest
// severity signal.
type AmbienceUpdated struct {
	Severity   float64 `json:"severity"`
	IsConflict bool    `json:"is_conflict"`
	IsHalted   bool    `json:"is_halted"`
}

func (AmbienceUpdated) EventName() string { return "AMBIENCE_UPDATED" }

// ShelfCardUpdated overwrites the card slot for the card's kind.
type ShelfCardUpdated struct {
	Card ShelfCard `json:"card"`
}

func (ShelfCardUpdated) EventName() string { return "SHELF_CARD_UPDATED" }

// FusionMetricUpdated sets one input channel's confidence score (0-100).
type FusionMetricUpdated struct {
	Channel Channel `json:"channel"`
	Score   int     `json:"score"`
}

func (FusionMetricUpdated) EventName() string { return "FUSION_METRIC_UPDATED" }

// OrderProposed stores a pending order awaiting checkout confirmation.
type OrderProposed struct {
	Summary OrderSummary `json:"summary"`
}

func (OrderProposed) EventName() string { return "ORDER_PROPOSED" }

// CheckoutReady gates the checkout action once fulfillable
// recommendations exist.
type CheckoutReady struct{}

func (CheckoutReady) EventName() string { return "CHECKOUT_READY" }

// CheckoutConfirmed promotes the pending order to the confirmed order.
type CheckoutConfirmed struct {
	OrderID string `json:"order_id,omitempty"`
}

func (CheckoutConfirmed) EventName() string { return "CHECKOUT_CONFIRMED" }

// CameraOpened marks the camera modal as mounted.
type CameraOpened struct{}

func (CameraOpened) EventName() string { return "CAMERA_OPENED" }

// CameraClosed marks the camera modal as unmounted.
type CameraClosed struct{}

func (CameraClosed) EventName() string { return "CAMERA_CLOSED" }

// VoiceCallOpened marks the voice-call modal as mounted.
type VoiceCallOpened struct{}

func (VoiceCallOpened) EventName() string { return "VOICE_CALL_OPENED" }

// VoiceCallClosed marks the voice-call modal as unmounted.
type VoiceCallClosed struct{}

func (VoiceCallClosed) EventName() string { return "VOICE_CALL_CLOSED" }

// VoiceResponseToggled sets the user's spoken-response preference.
// This is the only field that survives ResetSession.
type VoiceResponseToggled struct {
	Enabled bool `json:"enabled"`
}

func (VoiceResponseToggled) EventName() string { return "VOICE_RESPONSE_TOGGLED" }

// SessionSettled marks the conversation as resolved. Terminal.
type SessionSettled struct{}

func (SessionSettled) EventName() string { return "SESSION_SETTLED" }

// TraceConnectionLost records that the realtime channel gave up
// reconnecting. Emitted exactly once per exhausted channel.
type TraceConnectionLost struct {
	Reason string `json:"reason,omitempty"`
}

func (TraceConnectionLost) EventName() string { return "TRACE_CONNECTION_LOST" }

// ResetSession reinitializes every field except the voice-output
// preference.
type ResetSession struct{}

func (ResetSession) EventName() string { return "RESET_SESSION" }
