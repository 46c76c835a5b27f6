package call

import "time"

// Phase is the voice-call lifecycle state.
type Phase int

const (
	// PhaseRinging is the initial connect phase; the microphone is
	// pre-acquired here to avoid re-negotiation latency later.
	PhaseRinging Phase = iota
	// PhaseActive is listening: amplitude sampling and turn capture.
	PhaseActive
	// PhaseProcessing is a captured turn in flight to the backend.
	PhaseProcessing
	// PhaseSpeaking is response playback, with barge-in monitoring.
	PhaseSpeaking
	// PhaseEnded is terminal and irreversible within one call.
	PhaseEnded
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseRinging:
		return "RINGING"
	case PhaseActive:
		return "ACTIVE"
	case PhaseProcessing:
		return "PROCESSING"
	case PhaseSpeaking:
		return "SPEAKING"
	case PhaseEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// phaseTransitions is the allowed phase graph. Anything else is
// rejected by setPhase.
var phaseTransitions = map[Phase][]Phase{
	PhaseRinging:    {PhaseActive, PhaseEnded},
	PhaseActive:     {PhaseProcessing, PhaseEnded},
	PhaseProcessing: {PhaseSpeaking, PhaseActive, PhaseEnded},
	PhaseSpeaking:   {PhaseActive, PhaseEnded},
	PhaseEnded:      {},
}

func phaseTransitionValid(from, to Phase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Config holds every tunable of the call controller.
type Config struct {
	// ConnectDelay is the fixed ringing time before listening begins.
	ConnectDelay time.Duration

	// SampleInterval is the amplitude sampling period of the
	// controller's ticker.
	SampleInterval time.Duration

	// CalibrationWindow is how long ambient noise is measured at the
	// start of each listening phase before speech detection arms.
	CalibrationWindow time.Duration

	// NoiseFloorMin is the lower bound applied to the calibrated
	// ambient baseline.
	NoiseFloorMin float64

	// SpeechMargin is added to the baseline to form the speech
	// threshold.
	SpeechMargin float64

	// SilenceWindow is how long silence must persist, after speech has
	// been observed at least once, to end the turn.
	SilenceWindow time.Duration

	// MaxTurnDuration force-stops recording regardless of speech state.
	MaxTurnDuration time.Duration

	// MinRecordingBytes is the size below which a stopped recording is
	// treated as noise and discarded without a backend call.
	MinRecordingBytes int

	// BargeInMargin is added to the speech threshold while the
	// assistant is speaking, to reject acoustic echo of its own voice.
	BargeInMargin float64

	// BargeInConfirm is how long amplitude must stay above the
	// barge-in threshold continuously to count as a real interruption.
	BargeInConfirm time.Duration

	// SettleDelay suppresses barge-in detection right after playback
	// starts, avoiding self-feedback triggers.
	SettleDelay time.Duration

	// CloseGrace is the delay between the call ending and the store
	// being told to close the call UI.
	CloseGrace time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ConnectDelay:      1200 * time.Millisecond,
		SampleInterval:    50 * time.Millisecond,
		CalibrationWindow: 800 * time.Millisecond,
		NoiseFloorMin:     0.01,
		SpeechMargin:      0.025,
		SilenceWindow:     1500 * time.Millisecond,
		MaxTurnDuration:   15 * time.Second,
		MinRecordingBytes: 4096,
		BargeInMargin:     0.05,
		BargeInConfirm:    400 * time.Millisecond,
		SettleDelay:       600 * time.Millisecond,
		CloseGrace:        500 * time.Millisecond,
	}
}
