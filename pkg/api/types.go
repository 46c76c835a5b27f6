package api

import "github.com/GhananilShirpurkar/medisync-intake/pkg/intake/store"

// CreateSessionRequest opens a new consultation session.
type CreateSessionRequest struct {
	UserID string `json:"user_id"`
}

// CreateSessionResponse carries the backend-assigned session id.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// TurnRequest is one text message in an existing session.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Recommendation is one fulfillable product suggestion.
type Recommendation struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	InStock  bool    `json:"in_stock"`
	Reason   string  `json:"reason,omitempty"`
}

// PatientContext is the backend's running summary of the patient.
type PatientContext struct {
	Symptoms   []string `json:"symptoms,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
	Allergies  []string `json:"allergies,omitempty"`
	Summary    string   `json:"summary,omitempty"`
}

// TurnResponse is the backend's reply to a conversation turn.
type TurnResponse struct {
	Message         string                    `json:"message"`
	Intent          string                    `json:"intent,omitempty"`
	PatientContext  *PatientContext           `json:"patient_context,omitempty"`
	Recommendations []Recommendation          `json:"recommendations,omitempty"`
	Severity        *store.SeverityAssessment `json:"severity_assessment,omitempty"`
	ClientAction    string                    `json:"client_action,omitempty"`
	Footnotes       []string                  `json:"footnotes,omitempty"`
}

// VoiceTurnResponse extends the turn reply with transcription data.
type VoiceTurnResponse struct {
	Transcription           string `json:"transcription"`
	TranscriptionConfidence int    `json:"transcription_confidence"`
	TurnResponse
}

// Medicine is one extracted prescription line.
type Medicine struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// PrescriptionResponse is the result of a prescription image upload.
type PrescriptionResponse struct {
	Medicines        []Medicine `json:"medicines"`
	Message          string     `json:"message"`
	ExtractionStatus string     `json:"extraction_status"`
}

// OTPSendRequest asks the backend to text a one-time code.
type OTPSendRequest struct {
	Phone string `json:"phone"`
}

// OTPSendResponse acknowledges the send.
type OTPSendResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message,omitempty"`
}

// OTPVerifyRequest submits the code the user received.
type OTPVerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// OTPVerifyResponse reports the verification outcome.
type OTPVerifyResponse struct {
	Verified bool   `json:"verified"`
	UserID   string `json:"user_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Message  string `json:"message,omitempty"`
}

// PaymentInitiateRequest starts a payment for a confirmed order.
type PaymentInitiateRequest struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
}

// PaymentInitiateResponse carries the QR payload to display.
type PaymentInitiateResponse struct {
	PaymentID  string `json:"payment_id"`
	QRCodeData string `json:"qr_code_data"`
}

// Payment status values returned by the backend.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentExpired   = "expired"
)

// PaymentStatusResponse is one poll of an in-flight payment.
type PaymentStatusResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
}
