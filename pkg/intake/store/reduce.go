package store

import "fmt"

// responseStepName is the trace step whose records double as chat
// responses. This string matches on backend-controlled fields and is a
// compatibility requirement: changing it desynchronizes the transcript
// from the pipeline trace.
const responseStepName = "final_response"

// reduce applies one event to the state and returns the next state.
// It is a pure function: same state and event always produce the same
// result. Warnings (unknown events, rejected transitions) are returned
// for the caller to surface; they never abort the dispatch.
func reduce(s State, ev Event) (State, []string) {
	var warns []string

	switch e := ev.(type) {
	case SessionStarted:
		s.SessionID = e.SessionID

	case PageChanged:
		if !pageTransitionValid(s.Page, e.Page) {
			warns = append(warns, fmt.Sprintf(
				"rejected page transition %s -> %s", s.Page, e.Page))
			break
		}
		s.Page = e.Page

	case IdentityResolved:
		if e.PID != "" {
			s.PID = e.PID
		}
		if e.Entities != nil {
			s.Entities = mergeFields(s.Entities, e.Entities)
		}
		if e.PatientContext != nil {
			s.PatientContext = mergeFields(s.PatientContext, e.PatientContext)
		}

	case UserMessageSent:
		s.Messages = appendMessage(s.Messages, Message{
			Sender: SenderUser,
			Text:   e.Text,
		})

	case AIResponseReceived:
		s.Messages = appendMessage(s.Messages, Message{
			Sender:    SenderAI,
			Text:      e.Text,
			Type:      e.Type,
			Footnotes: e.Footnotes,
			Severity:  e.Severity,
		})

	case TraceEventReceived:
		s.TraceSteps = append(append([]TraceStep{}, s.TraceSteps...), e.Step)
		// Response-tagged trace records also surface as assistant chat
		// messages. Dedup by (text, agent) so the REST response and the
		// trace stream racing each other yield exactly one bubble.
		if e.Step.Type == "response" || e.Step.Step == responseStepName {
			text := e.Step.Message
			if text == "" {
				text = e.Step.Details
			}
			if text != "" && !hasAIMessage(s.Messages, text, e.Step.Agent) {
				s.Messages = appendMessage(s.Messages, Message{
					Sender: SenderAI,
					Text:   text,
					Type:   "trace",
					Agent:  e.Step.Agent,
				})
			}
		}

	case AmbienceUpdated:
		s.Ambient = deriveAmbient(e.Severity, e.IsConflict, e.IsHalted)

	case ShelfCardUpdated:
		cards := make(map[CardKind]ShelfCard, len(s.ShelfCards)+1)
		for k, v := range s.ShelfCards {
			cards[k] = v
		}
		cards[e.Card.Kind] = e.Card
		s.ShelfCards = cards

	case FusionMetricUpdated:
		metrics := make(map[Channel]int, len(s.FusionMetrics))
		for k, v := range s.FusionMetrics {
			metrics[k] = v
		}
		metrics[e.Channel] = clampScore(e.Score)
		s.FusionMetrics = metrics

	case OrderProposed:
		summary := e.Summary
		summary.Items = append([]OrderItem(nil), e.Summary.Items...)
		s.PendingOrderSummary = &summary

	case CheckoutReady:
		s.CheckoutReady = true

	case CheckoutConfirmed:
		if s.PendingOrderSummary == nil {
			warns = append(warns, "checkout confirmed with no pending order")
			break
		}
		confirmed := *s.PendingOrderSummary
		confirmed.Items = append([]OrderItem(nil), s.PendingOrderSummary.Items...)
		if e.OrderID != "" {
			confirmed.OrderID = e.OrderID
		}
		s.OrderSummary = &confirmed
		s.PendingOrderSummary = nil

	case CameraOpened:
		s.CameraOpen = true
	case CameraClosed:
		s.CameraOpen = false

	case VoiceCallOpened:
		s.VoiceCallOpen = true
	case VoiceCallClosed:
		s.VoiceCallOpen = false

	case VoiceResponseToggled:
		s.VoiceResponseEnabled = e.Enabled

	case SessionSettled:
		s.SessionSettled = true

	case TraceConnectionLost:
		s.TraceLost = true
		text := "Live pipeline connection lost."
		if e.Reason != "" {
			text = "Live pipeline connection lost: " + e.Reason
		}
		s.Messages = appendMessage(s.Messages, Message{
			Sender: SenderSystem,
			Text:   text,
			Type:   "connection",
		})

	case ResetSession:
		keepVoice := s.VoiceResponseEnabled
		s = initialState()
		s.VoiceResponseEnabled = keepVoice

	default:
		name := "<nil>"
		if ev != nil {
			name = ev.EventName()
		}
		warns = append(warns, "unknown event: "+name)
	}

	return s, warns
}

func appendMessage(msgs []Message, m Message) []Message {
	out := make([]Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}

func hasAIMessage(msgs []Message, text, agent string) bool {
	for _, m := range msgs {
		if m.Sender != SenderAI || m.Text != text {
			continue
		}
		// Plain REST responses carry no agent attribution and count as
		// duplicates for any agent; trace-synthesized messages only
		// match their own agent.
		if m.Agent == "" || m.Agent == agent {
			return true
		}
	}
	return false
}

func mergeFields(base, in map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(in))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
