// Package flows translates user intents into backend calls and store
// dispatches: session bootstrap, consultation turns (text and voice),
// prescription upload, identity verification, and checkout.
//
// Every flow observes the same failure contract: a network or backend
// failure produces exactly one user-visible fallback message plus one
// failed trace entry, and never propagates past this package as an
// unhandled condition. The error is still returned for callers that
// want to log or test it; the user has already been told.
package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/GhananilShirpurkar/medisync-intake/pkg/api"
	"github.com/GhananilShirpurkar/medisync-intake/pkg/intake/store"
)

// fallbackMessage is the single user-visible reply for any backend
// failure.
const fallbackMessage = "I'm having trouble reaching the pharmacy right now. Please try again in a moment."

// Demo credential accepted without backend verification.
const (
	demoAdminPhone = "9999999999"
	demoAdminCode  = "000000"
)

// Orchestrator runs the intake flows over one backend client and one
// session store.
type Orchestrator struct {
	client *api.Client
	st     *store.Store
	log    zerolog.Logger

	pollInterval   time.Duration
	onClientAction func(action string)
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPollInterval overrides the payment polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// WithClientActionHandler registers a handler for backend-driven UI
// actions (open camera, start voice call). Unhandled actions are
// logged and dropped.
func WithClientActionHandler(fn func(action string)) Option {
	return func(o *Orchestrator) { o.onClientAction = fn }
}

// New creates an orchestrator.
func New(client *api.Client, st *store.Store, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:       client,
		st:           st,
		log:          log.With().Str("component", "flows").Logger(),
		pollInterval: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EnsureSession returns the active session id, creating an anonymous
// session first when none exists.
func (o *Orchestrator) EnsureSession(ctx context.Context) (string, error) {
	if sid := o.st.Get().SessionID; sid != "" {
		return sid, nil
	}

	userID := "anon-" + uuid.NewString()
	resp, err := o.client.CreateSession(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	o.st.Dispatch(store.SessionStarted{SessionID: resp.SessionID})
	o.log.Info().Str("session_id", resp.SessionID).Msg("session created")
	return resp.SessionID, nil
}

// StartConsultation bootstraps a session and advances to the
// consultation page.
func (o *Orchestrator) StartConsultation(ctx context.Context) error {
	if _, err := o.EnsureSession(ctx); err != nil {
		o.fail("start_consultation", err)
		return err
	}
	o.st.Dispatch(store.PageChanged{Page: store.PageTheatre})
	return nil
}

// SendMessage submits one text turn and applies the reply.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) error {
	o.st.Dispatch(store.UserMessageSent{Text: text})

	sid, err := o.EnsureSession(ctx)
	if err != nil {
		o.fail("send_message", err)
		return err
	}

	resp, err := o.client.SendMessage(ctx, sid, text)
	if err != nil {
		o.fail("send_message", err)
		return err
	}

	o.applyTurn(resp)
	o.st.Dispatch(store.FusionMetricUpdated{Channel: store.ChannelText, Score: 100})
	return nil
}

// ProcessTurn submits one captured audio turn and returns the reply
// text for playback. An empty transcription is a soft failure: the
// turn is silently dropped and the caller re-listens.
//
// The signature matches the call controller's TurnProcessor, so an
// Orchestrator plugs straight into a voice call.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionID string, audio []byte) (string, error) {
	if sessionID == "" {
		var err error
		sessionID, err = o.EnsureSession(ctx)
		if err != nil {
			o.fail("voice_turn", err)
			return "", err
		}
	}

	resp, err := o.client.SendVoiceTurn(ctx, sessionID, audio)
	if err != nil {
		o.fail("voice_turn", err)
		return "", err
	}

	if resp.Transcription == "" {
		o.log.Debug().Msg("empty transcription, dropping turn")
		return "", nil
	}

	o.st.Dispatch(store.UserMessageSent{Text: resp.Transcription})
	o.applyTurn(&resp.TurnResponse)
	o.st.Dispatch(store.FusionMetricUpdated{
		Channel: store.ChannelVoice,
		Score:   resp.TranscriptionConfidence,
	})
	return resp.Message, nil
}

// UploadPrescription submits a prescription image and surfaces the
// extracted medicines.
func (o *Orchestrator) UploadPrescription(ctx context.Context, image []byte, mimeType string) error {
	sid, err := o.EnsureSession(ctx)
	if err != nil {
		o.fail("prescription_upload", err)
		return err
	}

	resp, err := o.client.UploadPrescription(ctx, sid, image, mimeType)
	if err != nil {
		o.fail("prescription_upload", err)
		return err
	}

	if resp.Message != "" {
		o.st.Dispatch(store.AIResponseReceived{Text: resp.Message})
	}

	if len(resp.Medicines) > 0 {
		fields := make(map[string]any, len(resp.Medicines))
		for _, m := range resp.Medicines {
			fields[m.Name] = m.Dosage
		}
		o.st.Dispatch(store.ShelfCardUpdated{Card: store.ShelfCard{
			Kind:   store.CardInventory,
			Title:  "Prescription Medicines",
			Body:   fmt.Sprintf("%d medicines extracted", len(resp.Medicines)),
			Fields: fields,
		}})
	}

	score := 40
	if resp.ExtractionStatus == "ok" {
		score = 100
	}
	o.st.Dispatch(store.FusionMetricUpdated{Channel: store.ChannelVision, Score: score})
	return nil
}

// SendOTP asks the backend to deliver a verification code. The demo
// admin number skips the backend entirely.
func (o *Orchestrator) SendOTP(ctx context.Context, phone string) error {
	if phone == demoAdminPhone {
		return nil
	}
	if _, err := o.client.SendOTP(ctx, phone); err != nil {
		o.fail("otp_send", err)
		return err
	}
	return nil
}

// VerifyOTP checks the code, stores the resolved identity, and
// advances to the consultation page.
func (o *Orchestrator) VerifyOTP(ctx context.Context, phone, code string) (bool, error) {
	if phone == demoAdminPhone && code == demoAdminCode {
		o.st.Dispatch(store.IdentityResolved{PID: "demo-admin"})
		o.st.Dispatch(store.PageChanged{Page: store.PageTheatre})
		return true, nil
	}

	resp, err := o.client.VerifyOTP(ctx, phone, code)
	if err != nil {
		o.fail("otp_verify", err)
		return false, err
	}
	if !resp.Verified {
		return false, nil
	}

	o.st.Dispatch(store.IdentityResolved{PID: resp.UserID})
	o.st.Dispatch(store.PageChanged{Page: store.PageTheatre})
	return true, nil
}

// Checkout initiates payment for the pending order and returns the QR
// payload to display.
func (o *Orchestrator) Checkout(ctx context.Context) (*api.PaymentInitiateResponse, error) {
	s := o.st.Get()
	if s.PendingOrderSummary == nil {
		return nil, fmt.Errorf("checkout: no pending order")
	}

	order := s.PendingOrderSummary
	resp, err := o.client.InitiatePayment(ctx, order.OrderID, order.TotalPrice)
	if err != nil {
		o.fail("checkout", err)
		return nil, err
	}

	o.st.Dispatch(store.TraceEventReceived{Step: store.TraceStep{
		Agent:     "client",
		Step:      "payment_initiated",
		Status:    "ok",
		Details:   resp.PaymentID,
		Timestamp: time.Now(),
	}})
	return resp, nil
}

// PollPayment polls the payment until a terminal status or context
// cancellation. Success promotes the pending order, settles the
// session, and advances to the summary page.
func (o *Orchestrator) PollPayment(ctx context.Context, paymentID string) (string, error) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		resp, err := o.client.PaymentStatus(ctx, paymentID)
		if err != nil {
			o.fail("payment_status", err)
			return "", err
		}

		switch resp.Status {
		case api.PaymentCompleted:
			o.st.Dispatch(store.CheckoutConfirmed{})
			o.st.Dispatch(store.AIResponseReceived{
				Text: "Payment received. Your order is confirmed and being prepared.",
			})
			o.st.Dispatch(store.SessionSettled{})
			o.st.Dispatch(store.PageChanged{Page: store.PageSummary})
			return resp.Status, nil
		case api.PaymentFailed, api.PaymentExpired:
			o.st.Dispatch(store.AIResponseReceived{
				Text: "The payment did not go through. You can try the checkout again.",
				Type: "error",
			})
			return resp.Status, nil
		}
	}
}

// applyTurn translates one backend reply into the fixed dispatch
// sequence.
func (o *Orchestrator) applyTurn(resp *api.TurnResponse) {
	o.st.Dispatch(store.AIResponseReceived{
		Text:      resp.Message,
		Type:      resp.Intent,
		Footnotes: resp.Footnotes,
		Severity:  resp.Severity,
	})

	if pc := resp.PatientContext; pc != nil {
		o.st.Dispatch(store.IdentityResolved{
			PatientContext: patientContextFields(pc),
		})
	}

	if resp.Severity != nil {
		o.st.Dispatch(store.AmbienceUpdated{
			Severity:   resp.Severity.Severity,
			IsConflict: resp.Severity.IsConflict,
			IsHalted:   resp.Severity.IsHalted,
		})
		o.st.Dispatch(store.ShelfCardUpdated{Card: store.ShelfCard{
			Kind:     store.CardTriage,
			Title:    "Triage Assessment",
			Body:     resp.Severity.Rationale,
			Severity: resp.Severity.Severity,
		}})
	}

	if len(resp.Recommendations) > 0 {
		o.applyRecommendations(resp.Recommendations)
	}

	if resp.ClientAction != "" {
		if o.onClientAction != nil {
			o.onClientAction(resp.ClientAction)
		} else {
			o.log.Debug().Str("action", resp.ClientAction).Msg("client action dropped")
		}
	}
}

// applyRecommendations surfaces recommendations as a shelf card and,
// when any are fulfillable, proposes an order and opens the checkout
// gate.
func (o *Orchestrator) applyRecommendations(recs []api.Recommendation) {
	fields := make(map[string]any, len(recs))
	for _, r := range recs {
		fields[r.Name] = r.Reason
	}
	o.st.Dispatch(store.ShelfCardUpdated{Card: store.ShelfCard{
		Kind:   store.CardMedical,
		Title:  "Recommendations",
		Body:   fmt.Sprintf("%d suggested items", len(recs)),
		Fields: fields,
	}})

	var items []store.OrderItem
	var total float64
	for _, r := range recs {
		if !r.InStock {
			continue
		}
		qty := r.Quantity
		if qty <= 0 {
			qty = 1
		}
		items = append(items, store.OrderItem{
			Name:     r.Name,
			Quantity: qty,
			Price:    r.Price,
		})
		total += r.Price * float64(qty)
	}
	if len(items) == 0 {
		return
	}

	o.st.Dispatch(store.OrderProposed{Summary: store.OrderSummary{
		OrderID:    "ORD-" + uuid.NewString(),
		Items:      items,
		TotalPrice: total,
	}})
	o.st.Dispatch(store.CheckoutReady{})
}

// fail applies the failure contract: one fallback assistant message
// plus one failed trace entry.
func (o *Orchestrator) fail(stage string, err error) {
	o.log.Error().Err(err).Str("stage", stage).Msg("flow failed")
	o.st.Dispatch(store.TraceEventReceived{Step: store.TraceStep{
		Agent:     "client",
		Step:      stage,
		Type:      "error",
		Status:    "failed",
		Details:   err.Error(),
		Timestamp: time.Now(),
	}})
	o.st.Dispatch(store.AIResponseReceived{Text: fallbackMessage, Type: "error"})
}

// patientContextFields flattens the backend patient context for the
// store's merge semantics.
func patientContextFields(pc *api.PatientContext) map[string]any {
	out := map[string]any{}
	if len(pc.Symptoms) > 0 {
		out["symptoms"] = pc.Symptoms
	}
	if len(pc.Conditions) > 0 {
		out["conditions"] = pc.Conditions
	}
	if len(pc.Allergies) > 0 {
		out["allergies"] = pc.Allergies
	}
	if pc.Summary != "" {
		out["summary"] = pc.Summary
	}
	return out
}
