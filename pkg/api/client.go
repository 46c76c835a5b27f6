// Package api is the REST client for the consultation backend:
// session creation, conversation turns, voice and prescription
// uploads, identity OTP, and payments.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to one backend deployment. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default transport-tuned client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newDefaultHTTPClient(),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "api").Logger()
	return c
}

// newDefaultHTTPClient configures transport-level timeouts while
// keeping the overall request lifetime controlled by context
// deadlines.
func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// CreateSession opens a new consultation session for the user.
func (c *Client) CreateSession(ctx context.Context, userID string) (*CreateSessionResponse, error) {
	var out CreateSessionResponse
	err := c.postJSON(ctx, "/api/conversation/create", CreateSessionRequest{UserID: userID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage submits one text turn.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) (*TurnResponse, error) {
	var out TurnResponse
	err := c.postJSON(ctx, "/api/conversation", TurnRequest{SessionID: sessionID, Message: message}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendVoiceTurn submits one captured audio turn as multipart form data.
func (c *Client) SendVoiceTurn(ctx context.Context, sessionID string, audio []byte) (*VoiceTurnResponse, error) {
	var out VoiceTurnResponse
	path := "/api/conversation/voice?session_id=" + url.QueryEscape(sessionID)
	err := c.postMultipart(ctx, path, "audio", "turn.pcm", "audio/pcm", audio, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadPrescription submits a prescription image as multipart form
// data and returns the extracted medicines.
func (c *Client) UploadPrescription(ctx context.Context, sessionID string, image []byte, mimeType string) (*PrescriptionResponse, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	var out PrescriptionResponse
	path := "/api/prescription/upload?session_id=" + url.QueryEscape(sessionID)
	err := c.postMultipart(ctx, path, "file", "prescription.jpg", mimeType, image, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendOTP asks the backend to deliver a one-time code.
func (c *Client) SendOTP(ctx context.Context, phone string) (*OTPSendResponse, error) {
	var out OTPSendResponse
	err := c.postJSON(ctx, "/api/conversation/auth/otp/send", OTPSendRequest{Phone: phone}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyOTP submits the code the user received.
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) (*OTPVerifyResponse, error) {
	var out OTPVerifyResponse
	err := c.postJSON(ctx, "/api/conversation/auth/otp/verify", OTPVerifyRequest{Phone: phone, Code: code}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// InitiatePayment starts a payment and returns the QR payload.
func (c *Client) InitiatePayment(ctx context.Context, orderID string, amount float64) (*PaymentInitiateResponse, error) {
	var out PaymentInitiateResponse
	err := c.postJSON(ctx, "/api/payment/initiate", PaymentInitiateRequest{OrderID: orderID, Amount: amount}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PaymentStatus polls one in-flight payment.
func (c *Client) PaymentStatus(ctx context.Context, paymentID string) (*PaymentStatusResponse, error) {
	var out PaymentStatusResponse
	err := c.getJSON(ctx, "/api/payment/status/"+url.PathEscape(paymentID), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Do executes an arbitrary backend call with an optional JSON body.
// Admin surfaces build on this rather than carrying their own
// transport.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	if in == nil {
		return c.do(ctx, method, path, "", nil, out)
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, method, path, "application/json", bytes.NewReader(body), out)
}

// BaseURL returns the configured backend origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body), out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, "", nil, out)
}

func (c *Client) postMultipart(ctx context.Context, path, field, filename, mimeType string, payload []byte, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	hdr.Set("Content-Type", mimeType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		return fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return fmt.Errorf("build multipart: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("build multipart: %w", err)
	}

	return c.do(ctx, http.MethodPost, path, w.FormDataContentType(), &buf, out)
}

// do executes one request, translating non-2xx responses into *Error
// and transport failures into *TransportError.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	endpoint := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + path, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{
			Type:       ErrBackend,
			Message:    fmt.Sprintf("decode response: %v", err),
			StatusCode: resp.StatusCode,
		}
	}
	return nil
}

// parseAPIError reads an error body, falling back to a status-derived
// error when the body is not the canonical shape.
func parseAPIError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var apiErr Error
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		if apiErr.Type == "" {
			apiErr.Type = errorTypeForStatus(resp.StatusCode)
		}
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}

	msg := strings.TrimSpace(string(payload))
	if msg == "" {
		msg = resp.Status
	}
	return &Error{
		Type:       errorTypeForStatus(resp.StatusCode),
		Message:    msg,
		StatusCode: resp.StatusCode,
	}
}
