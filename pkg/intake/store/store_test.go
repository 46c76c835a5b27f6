package store

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestDispatch_DeterministicFold(t *testing.T) {
	events := []Event{
		SessionStarted{SessionID: "S1"},
		UserMessageSent{Text: "hello"},
		AIResponseReceived{Text: "hi"},
		AmbienceUpdated{Severity: 8},
		FusionMetricUpdated{Channel: ChannelText, Score: 70},
		ShelfCardUpdated{Card: ShelfCard{Kind: CardTriage, Title: "Triage"}},
	}

	s := New()
	for _, ev := range events {
		s.Dispatch(ev)
	}

	folded := initialState()
	for _, ev := range events {
		folded, _ = reduce(folded, ev)
	}

	if !reflect.DeepEqual(s.Get(), folded.clone()) {
		t.Errorf("store state diverged from pure fold:\nstore: %+v\nfold:  %+v", s.Get(), folded)
	}
}

func TestDispatch_MessageOrdering(t *testing.T) {
	s := New()
	s.Dispatch(SessionStarted{SessionID: "S1"})
	s.Dispatch(UserMessageSent{Text: "hello"})
	s.Dispatch(AIResponseReceived{Text: "hi"})

	got := s.Get()
	if got.SessionID != "S1" {
		t.Fatalf("expected session id S1, got %q", got.SessionID)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Sender != SenderUser || got.Messages[0].Text != "hello" {
		t.Errorf("unexpected first message: %+v", got.Messages[0])
	}
	if got.Messages[1].Sender != SenderAI || got.Messages[1].Text != "hi" {
		t.Errorf("unexpected second message: %+v", got.Messages[1])
	}
}

type unknownEvent struct{}

func (unknownEvent) EventName() string { return "BOGUS" }

func TestDispatch_UnknownEventIsNoOp(t *testing.T) {
	s := New()
	s.Dispatch(UserMessageSent{Text: "hello"})
	before := s.Get()

	s.Dispatch(unknownEvent{})

	if !reflect.DeepEqual(s.Get(), before) {
		t.Error("unknown event mutated state")
	}
}

func TestDispatch_ResetPreservesVoicePreference(t *testing.T) {
	s := New()
	s.Dispatch(SessionStarted{SessionID: "S1"})
	s.Dispatch(VoiceResponseToggled{Enabled: true})
	s.Dispatch(UserMessageSent{Text: "hello"})
	s.Dispatch(PageChanged{Page: PageTheatre})
	s.Dispatch(CheckoutReady{})

	s.Dispatch(ResetSession{})

	got := s.Get()
	if !got.VoiceResponseEnabled {
		t.Error("reset should preserve voice response preference")
	}
	fresh := initialState()
	fresh.VoiceResponseEnabled = true
	if !reflect.DeepEqual(got, fresh.clone()) {
		t.Errorf("reset did not restore defaults: %+v", got)
	}
}

func TestSubscribe_NotifiedInRegistrationOrder(t *testing.T) {
	s := New()

	var order []int
	s.Subscribe(func(State) { order = append(order, 1) })
	s.Subscribe(func(State) { order = append(order, 2) })
	s.Subscribe(func(State) { order = append(order, 3) })

	s.Dispatch(UserMessageSent{Text: "x"})

	if !reflect.DeepEqual(order, []int{1, 2, 3}) {
		t.Errorf("expected listeners in registration order, got %v", order)
	}
}

func TestDispatch_StalledListenerStillSeesNewestStateLast(t *testing.T) {
	s := New()

	entered := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	var seen []int
	stalled := false
	s.Subscribe(func(st State) {
		mu.Lock()
		first := !stalled
		stalled = true
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
		mu.Lock()
		seen = append(seen, len(st.Messages))
		mu.Unlock()
	})

	go s.Dispatch(UserMessageSent{Text: "first"})
	<-entered

	// Commits while the first delivery is still inside the listener.
	s.Dispatch(UserMessageSent{Text: "second"})
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 notifications, got %d", n)
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(seen, []int{1, 2}) {
		t.Errorf("expected snapshots in commit order, got %v", seen)
	}
}

func TestDispatch_ReentrantDispatchDoesNotDeadlock(t *testing.T) {
	s := New()

	var seen []int
	s.Subscribe(func(st State) {
		seen = append(seen, len(st.Messages))
		if len(st.Messages) == 1 {
			s.Dispatch(UserMessageSent{Text: "follow-up"})
		}
	})

	s.Dispatch(UserMessageSent{Text: "hello"})

	if !reflect.DeepEqual(seen, []int{1, 2}) {
		t.Errorf("expected re-entrant dispatch delivered after, got %v", seen)
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	s := New()

	calls := 0
	unsub := s.Subscribe(func(State) { calls++ })

	s.Dispatch(UserMessageSent{Text: "a"})
	unsub()
	s.Dispatch(UserMessageSent{Text: "b"})
	unsub() // second call must be harmless

	if calls != 1 {
		t.Errorf("expected 1 notification after unsubscribe, got %d", calls)
	}
}

func TestGet_SnapshotDoesNotAliasState(t *testing.T) {
	s := New()
	s.Dispatch(UserMessageSent{Text: "hello"})

	snap := s.Get()
	snap.Messages[0].Text = "mutated"
	snap.ShelfCards[CardTriage] = ShelfCard{Kind: CardTriage}
	snap.FusionMetrics[ChannelText] = 99

	got := s.Get()
	if got.Messages[0].Text != "hello" {
		t.Error("snapshot mutation leaked into store messages")
	}
	if _, ok := got.ShelfCards[CardTriage]; ok {
		t.Error("snapshot mutation leaked into store shelf cards")
	}
	if got.FusionMetrics[ChannelText] != 0 {
		t.Error("snapshot mutation leaked into store fusion metrics")
	}
}

func TestReduce_AmbientDerivation(t *testing.T) {
	tests := []struct {
		name     string
		severity float64
		conflict bool
		halted   bool
		want     AmbientState
	}{
		{"severity_9_critical", 9, false, false, AmbientCritical},
		{"severity_7_warn", 7, false, false, AmbientWarn},
		{"severity_3_base", 3, false, false, AmbientBase},
		{"halted_overrides_low_severity", 0, false, true, AmbientCritical},
		{"conflict_overrides", 1, true, false, AmbientCritical},
		{"just_below_warn", 6.9, false, false, AmbientBase},
		{"just_below_critical", 8.9, false, false, AmbientWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveAmbient(tt.severity, tt.conflict, tt.halted); got != tt.want {
				t.Errorf("deriveAmbient(%v, %v, %v) = %s, want %s",
					tt.severity, tt.conflict, tt.halted, got, tt.want)
			}
		})
	}
}

func TestReduce_AmbientNeverAccumulates(t *testing.T) {
	s := New()
	s.Dispatch(AmbienceUpdated{Severity: 9})
	if got := s.Get().Ambient; got != AmbientCritical {
		t.Fatalf("expected critical, got %s", got)
	}

	// A later benign signal must fully recompute, not latch.
	s.Dispatch(AmbienceUpdated{Severity: 2})
	if got := s.Get().Ambient; got != AmbientBase {
		t.Errorf("expected base after recovery signal, got %s", got)
	}
}

func TestReduce_TraceResponseSynthesizesChatMessage(t *testing.T) {
	s := New()
	step := TraceStep{
		Agent:     "triage",
		Step:      responseStepName,
		Type:      "response",
		Message:   "Please describe your symptoms.",
		Timestamp: time.Now(),
	}

	s.Dispatch(TraceEventReceived{Step: step})

	got := s.Get()
	if len(got.TraceSteps) != 1 {
		t.Fatalf("expected 1 trace step, got %d", len(got.TraceSteps))
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected exactly 1 synthesized message, got %d", len(got.Messages))
	}
	if got.Messages[0].Text != step.Message || got.Messages[0].Agent != "triage" {
		t.Errorf("unexpected synthesized message: %+v", got.Messages[0])
	}

	// Same (agent, message) pair again: trace log grows, transcript does not.
	s.Dispatch(TraceEventReceived{Step: step})
	got = s.Get()
	if len(got.TraceSteps) != 2 {
		t.Errorf("expected trace log to stay append-only, got %d entries", len(got.TraceSteps))
	}
	if len(got.Messages) != 1 {
		t.Errorf("expected deduplicated transcript, got %d messages", len(got.Messages))
	}
}

func TestReduce_TraceResponseDedupAgainstRESTResponse(t *testing.T) {
	s := New()
	s.Dispatch(AIResponseReceived{Text: "Take rest and fluids."})
	s.Dispatch(TraceEventReceived{Step: TraceStep{
		Agent:   "medical",
		Step:    responseStepName,
		Message: "Take rest and fluids.",
	}})

	if got := s.Get(); len(got.Messages) != 1 {
		t.Errorf("expected trace to dedup against REST response, got %d messages", len(got.Messages))
	}
}

func TestReduce_TraceNonResponseDoesNotSynthesize(t *testing.T) {
	s := New()
	s.Dispatch(TraceEventReceived{Step: TraceStep{
		Agent:   "inventory",
		Step:    "stock_check",
		Type:    "tool",
		Details: "checking stock",
	}})

	if got := s.Get(); len(got.Messages) != 0 {
		t.Errorf("non-response trace events must not create chat messages, got %d", len(got.Messages))
	}
}

func TestReduce_PageTransitions(t *testing.T) {
	s := New()

	// Skipping straight to summary is invalid.
	s.Dispatch(PageChanged{Page: PageSummary})
	if got := s.Get().Page; got != PageIdentity {
		t.Fatalf("invalid transition applied, page = %s", got)
	}

	s.Dispatch(PageChanged{Page: PageTheatre})
	if got := s.Get().Page; got != PageTheatre {
		t.Fatalf("expected THEATRE, got %s", got)
	}

	// Going backwards is rejected.
	s.Dispatch(PageChanged{Page: PageIdentity})
	if got := s.Get().Page; got != PageTheatre {
		t.Errorf("backward transition applied, page = %s", got)
	}

	s.Dispatch(PageChanged{Page: PageSummary})
	if got := s.Get().Page; got != PageSummary {
		t.Errorf("expected SUMMARY, got %s", got)
	}
}

func TestReduce_CheckoutPromotion(t *testing.T) {
	s := New()
	pending := OrderSummary{
		Items:      []OrderItem{{Name: "Paracetamol 500mg", Quantity: 2, Price: 30}},
		TotalPrice: 60,
	}

	// Confirming with nothing pending is a warned no-op.
	s.Dispatch(CheckoutConfirmed{OrderID: "ORD-0"})
	if got := s.Get(); got.OrderSummary != nil {
		t.Fatal("confirm without pending order should not create an order")
	}

	s.Dispatch(OrderProposed{Summary: pending})
	s.Dispatch(CheckoutConfirmed{OrderID: "ORD-1"})

	got := s.Get()
	if got.PendingOrderSummary != nil {
		t.Error("pending order should be cleared after confirmation")
	}
	if got.OrderSummary == nil || got.OrderSummary.OrderID != "ORD-1" {
		t.Fatalf("expected confirmed order ORD-1, got %+v", got.OrderSummary)
	}
	if got.OrderSummary.TotalPrice != 60 {
		t.Errorf("expected total 60, got %v", got.OrderSummary.TotalPrice)
	}
}

func TestReduce_FusionMetricsClamped(t *testing.T) {
	s := New()
	s.Dispatch(FusionMetricUpdated{Channel: ChannelVoice, Score: 150})
	s.Dispatch(FusionMetricUpdated{Channel: ChannelVision, Score: -10})
	s.Dispatch(FusionMetricUpdated{Channel: ChannelText, Score: 55})

	got := s.Get().FusionMetrics
	if got[ChannelVoice] != 100 || got[ChannelVision] != 0 || got[ChannelText] != 55 {
		t.Errorf("unexpected fusion metrics: %v", got)
	}
}

func TestDisplayTrace_LastWritePerKey(t *testing.T) {
	s := New()
	s.Dispatch(TraceEventReceived{Step: TraceStep{Agent: "triage", Step: "assess", Status: "running"}})
	s.Dispatch(TraceEventReceived{Step: TraceStep{Agent: "medical", Step: "review", Status: "running"}})
	s.Dispatch(TraceEventReceived{Step: TraceStep{Agent: "triage", Step: "assess", Status: "done"}})

	got := s.Get()
	if len(got.TraceSteps) != 3 {
		t.Fatalf("underlying log must keep all records, got %d", len(got.TraceSteps))
	}

	display := got.DisplayTrace()
	if len(display) != 2 {
		t.Fatalf("expected 2 display entries, got %d", len(display))
	}
	if display[0].Agent != "triage" || display[0].Status != "done" {
		t.Errorf("expected triage entry replaced in place, got %+v", display[0])
	}
	if display[1].Agent != "medical" {
		t.Errorf("expected medical second, got %+v", display[1])
	}
}

func TestReduce_TraceConnectionLostAddsSystemMessage(t *testing.T) {
	s := New()
	s.Dispatch(TraceConnectionLost{Reason: "max retries exceeded"})

	got := s.Get()
	if !got.TraceLost {
		t.Error("expected TraceLost flag")
	}
	if len(got.Messages) != 1 || got.Messages[0].Sender != SenderSystem {
		t.Fatalf("expected one system message, got %+v", got.Messages)
	}
}
