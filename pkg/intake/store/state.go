package store

import "time"

// Page is the coarse UI phase of a consultation session.
type Page int

const (
	// PageIdentity is the initial identity/auth phase.
	PageIdentity Page = iota
	// PageTheatre is the main consultation phase.
	PageTheatre
	// PageSummary is the final order/summary phase.
	PageSummary
)

// String returns a human-readable page name.
func (p Page) String() string {
	switch p {
	case PageIdentity:
		return "IDENTITY"
	case PageTheatre:
		return "THEATRE"
	case PageSummary:
		return "SUMMARY"
	default:
		return "UNKNOWN"
	}
}

// pageTransitions is the allowed forward path through the flow.
// Reset is handled separately by ResetSession.
var pageTransitions = map[Page][]Page{
	PageIdentity: {PageTheatre},
	PageTheatre:  {PageSummary},
	PageSummary:  {},
}

func pageTransitionValid(from, to Page) bool {
	for _, next := range pageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AmbientState is the derived three-level severity indicator.
type AmbientState int

const (
	// AmbientBase is the default, unalarmed state.
	AmbientBase AmbientState = iota
	// AmbientWarn indicates elevated severity.
	AmbientWarn
	// AmbientCritical indicates a halted pipeline, a conflict, or top severity.
	AmbientCritical
)

// String returns a human-readable ambient state name.
func (a AmbientState) String() string {
	switch a {
	case AmbientBase:
		return "base"
	case AmbientWarn:
		return "warn"
	case AmbientCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// deriveAmbient computes the ambient state from the most recent
// severity signal. It is recomputed from scratch on every
// severity-bearing event, never accumulated.
func deriveAmbient(severity float64, conflict, halted bool) AmbientState {
	switch {
	case halted || conflict || severity >= 9:
		return AmbientCritical
	case severity >= 7:
		return AmbientWarn
	default:
		return AmbientBase
	}
}

// Sender identifies the author of a chat message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

// SeverityAssessment is the backend triage judgement attached to a response.
type SeverityAssessment struct {
	Severity   float64 `json:"severity"`
	Rationale  string  `json:"rationale,omitempty"`
	IsConflict bool    `json:"is_conflict,omitempty"`
	IsHalted   bool    `json:"is_halted,omitempty"`
}

// Message is one entry in the conversation transcript.
// Insertion order is display order.
type Message struct {
	Sender    Sender              `json:"sender"`
	Text      string              `json:"text"`
	Type      string              `json:"type,omitempty"`
	Agent     string              `json:"agent,omitempty"`
	Footnotes []string            `json:"footnotes,omitempty"`
	Severity  *SeverityAssessment `json:"severity_assessment,omitempty"`
}

// TraceStep is one agent pipeline audit record.
// (Agent, Step) is the display key: a later record with the same key
// replaces the display entry, but every record stays in the log.
type TraceStep struct {
	Agent     string    `json:"agent"`
	Step      string    `json:"step"`
	Type      string    `json:"type,omitempty"`
	Status    string    `json:"status,omitempty"`
	Details   string    `json:"details,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CardKind keys the shelf-card slots. At most one card per kind.
type CardKind string

const (
	CardTriage      CardKind = "triage"
	CardMedical     CardKind = "medical"
	CardInventory   CardKind = "inventory"
	CardFulfillment CardKind = "fulfillment"
)

// ShelfCard is a summarized result panel surfaced from backend analysis.
type ShelfCard struct {
	Kind     CardKind       `json:"kind"`
	Title    string         `json:"title"`
	Body     string         `json:"body,omitempty"`
	Severity float64        `json:"severity,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// OrderItem is a single line of a proposed or confirmed order.
type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// OrderSummary is a snapshot of a proposed or confirmed order.
type OrderSummary struct {
	OrderID    string      `json:"order_id,omitempty"`
	Items      []OrderItem `json:"items"`
	TotalPrice float64     `json:"total_price"`
}

// Channel keys the per-input fusion confidence scores.
type Channel string

const (
	ChannelVoice  Channel = "voice"
	ChannelVision Channel = "vision"
	ChannelText   Channel = "text"
)

// State is the full session state. One instance per consultation,
// owned exclusively by the Store; all mutation goes through Dispatch.
type State struct {
	SessionID      string
	Page           Page
	PID            string
	Entities       map[string]any
	PatientContext map[string]any

	Ambient    AmbientState
	Messages   []Message
	TraceSteps []TraceStep
	ShelfCards map[CardKind]ShelfCard

	OrderSummary        *OrderSummary
	PendingOrderSummary *OrderSummary
	CheckoutReady       bool

	FusionMetrics map[Channel]int

	CameraOpen           bool
	VoiceCallOpen        bool
	VoiceResponseEnabled bool

	SessionSettled bool
	TraceLost      bool
}

// initialState returns the documented default for every field.
func initialState() State {
	return State{
		Page:           PageIdentity,
		Ambient:        AmbientBase,
		Entities:       map[string]any{},
		PatientContext: map[string]any{},
		Messages:       []Message{},
		TraceSteps:     []TraceStep{},
		ShelfCards:     map[CardKind]ShelfCard{},
		FusionMetrics: map[Channel]int{
			ChannelVoice:  0,
			ChannelVision: 0,
			ChannelText:   0,
		},
	}
}

// clone returns a deep copy of the state. Snapshots handed to
// subscribers must never alias the store's internal slices or maps.
func (s State) clone() State {
	out := s

	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)

	out.TraceSteps = make([]TraceStep, len(s.TraceSteps))
	copy(out.TraceSteps, s.TraceSteps)

	out.ShelfCards = make(map[CardKind]ShelfCard, len(s.ShelfCards))
	for k, v := range s.ShelfCards {
		out.ShelfCards[k] = v
	}

	out.FusionMetrics = make(map[Channel]int, len(s.FusionMetrics))
	for k, v := range s.FusionMetrics {
		out.FusionMetrics[k] = v
	}

	out.Entities = make(map[string]any, len(s.Entities))
	for k, v := range s.Entities {
		out.Entities[k] = v
	}

	out.PatientContext = make(map[string]any, len(s.PatientContext))
	for k, v := range s.PatientContext {
		out.PatientContext[k] = v
	}

	if s.OrderSummary != nil {
		o := *s.OrderSummary
		o.Items = append([]OrderItem(nil), s.OrderSummary.Items...)
		out.OrderSummary = &o
	}
	if s.PendingOrderSummary != nil {
		o := *s.PendingOrderSummary
		o.Items = append([]OrderItem(nil), s.PendingOrderSummary.Items...)
		out.PendingOrderSummary = &o
	}

	return out
}

// DisplayTrace collapses the trace log into display entries: the last
// record for each (agent, step) key, in first-appearance order.
func (s State) DisplayTrace() []TraceStep {
	type key struct{ agent, step string }
	idx := make(map[key]int, len(s.TraceSteps))
	out := make([]TraceStep, 0, len(s.TraceSteps))

	for _, ts := range s.TraceSteps {
		k := key{ts.Agent, ts.Step}
		if i, ok := idx[k]; ok {
			out[i] = ts
			continue
		}
		idx[k] = len(out)
		out = append(out, ts)
	}
	return out
}
