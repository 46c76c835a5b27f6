package call

// Event is the interface for all call controller events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// PhaseChangedEvent is emitted on every committed phase transition.
type PhaseChangedEvent struct {
	From Phase `json:"from"`
	To   Phase `json:"to"`
}

func (e *PhaseChangedEvent) EventType() string { return "call.phase_changed" }

// CalibratedEvent is emitted once the ambient-noise window closes.
type CalibratedEvent struct {
	Baseline        float64 `json:"baseline"`
	SpeechThreshold float64 `json:"speech_threshold"`
}

func (e *CalibratedEvent) EventType() string { return "call.calibrated" }

// SpeechStartedEvent is emitted the first time a turn crosses the
// speech threshold.
type SpeechStartedEvent struct {
	Level float64 `json:"level"`
}

func (e *SpeechStartedEvent) EventType() string { return "call.speech_started" }

// TurnCapturedEvent is emitted when a recording is committed for
// backend processing.
type TurnCapturedEvent struct {
	Turn   int    `json:"turn"`
	Bytes  int    `json:"bytes"`
	Reason string `json:"reason"` // "silence", "max_duration", "mute"
}

func (e *TurnCapturedEvent) EventType() string { return "call.turn_captured" }

// TurnDiscardedEvent is emitted when a stopped recording is below the
// minimum size and treated as noise.
type TurnDiscardedEvent struct {
	Bytes int `json:"bytes"`
}

func (e *TurnDiscardedEvent) EventType() string { return "call.turn_discarded" }

// ResponseReceivedEvent is emitted when the backend returns a reply
// for a captured turn.
type ResponseReceivedEvent struct {
	Text string `json:"text"`
}

func (e *ResponseReceivedEvent) EventType() string { return "call.response_received" }

// BargeInEvent is emitted when a sustained interruption is confirmed
// during playback.
type BargeInEvent struct {
	Level  float64 `json:"level"`
	HeldMs int     `json:"held_ms"`
}

func (e *BargeInEvent) EventType() string { return "call.barge_in" }

// TickEvent is emitted once per second with the call's elapsed time.
type TickEvent struct {
	Seconds int `json:"seconds"`
}

func (e *TickEvent) EventType() string { return "call.tick" }

// EndedEvent is emitted exactly once when the call terminates.
type EndedEvent struct {
	Reason string `json:"reason"` // "hang_up", "mic_error", "missing_session"
	Turns  int    `json:"turns"`
}

func (e *EndedEvent) EventType() string { return "call.ended" }

// ErrorEvent is emitted for soft failures that keep the call alive.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "call.error" }
