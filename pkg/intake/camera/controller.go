// Package camera drives the prescription capture lifecycle: acquire a
// frame source, capture a still, let the user retake, and upload the
// confirmed image for the active session.
//
// The device itself is abstracted behind FrameSource. A generation
// counter guards against acquisitions resolving after teardown: a
// source that comes up late is closed immediately and its result
// discarded.
package camera

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/GhananilShirpurkar/medisync-intake/pkg/api"
	"github.com/GhananilShirpurkar/medisync-intake/pkg/intake/store"
)

// Frame is one captured still.
type Frame struct {
	Width    int
	Height   int
	MimeType string
	Data     []byte
}

// FrameSource is a live capture device. Open acquires the underlying
// stream, Frame reads one still, Close releases the device.
type FrameSource interface {
	Open(ctx context.Context) error
	Frame(ctx context.Context) (*Frame, error)
	Close() error
}

// SourceFactory produces a fresh FrameSource per acquisition. Retake
// always reopens through the factory rather than reusing a released
// device.
type SourceFactory func() FrameSource

// Uploader submits the confirmed image to the backend. *api.Client
// satisfies it.
type Uploader interface {
	UploadPrescription(ctx context.Context, sessionID string, image []byte, mimeType string) (*api.PrescriptionResponse, error)
}

var (
	// ErrClosed is returned when an operation resolves after the
	// controller was torn down.
	ErrClosed = errors.New("camera: closed")
	// ErrNoSource is returned when no live stream is available.
	ErrNoSource = errors.New("camera: no active source")
	// ErrNothingCaptured is returned by Confirm before any capture.
	ErrNothingCaptured = errors.New("camera: nothing captured")
)

// Controller owns one capture session. At most one source is live at a
// time; opening a new one releases the previous.
type Controller struct {
	factory   SourceFactory
	uploader  Uploader
	st        *store.Store
	log       zerolog.Logger
	sessionID string

	mu       sync.Mutex
	gen      int
	source   FrameSource
	captured *Frame
	open     bool
}

// New creates a camera controller bound to one session.
func New(factory SourceFactory, uploader Uploader, sessionID string, st *store.Store, log zerolog.Logger) *Controller {
	return &Controller{
		factory:   factory,
		uploader:  uploader,
		st:        st,
		log:       log.With().Str("component", "camera").Logger(),
		sessionID: sessionID,
	}
}

// Open acquires a fresh source and marks the camera open in the store.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	prev := c.source
	c.source = nil
	c.gen++
	gen := c.gen
	c.open = true
	c.captured = nil
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	src := c.factory()
	if err := src.Open(ctx); err != nil {
		c.log.Warn().Err(err).Msg("camera acquisition failed")
		c.surfaceError("Could not access the camera. Please check permissions and try again.")
		c.mu.Lock()
		c.open = false
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if !c.open || gen != c.gen {
		c.mu.Unlock()
		// Torn down while acquiring. Release the orphan.
		src.Close()
		return ErrClosed
	}
	c.source = src
	c.mu.Unlock()

	c.st.Dispatch(store.CameraOpened{})
	c.log.Info().Msg("camera opened")
	return nil
}

// Capture reads one still from the live stream, then releases the
// stream so the preview freezes on the captured image. The frame is
// read before anything is released.
func (c *Controller) Capture(ctx context.Context) (*Frame, error) {
	c.mu.Lock()
	src := c.source
	gen := c.gen
	c.mu.Unlock()
	if src == nil {
		return nil, ErrNoSource
	}

	frame, err := src.Frame(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("frame read failed")
		return nil, err
	}
	if frame == nil || len(frame.Data) == 0 {
		// Zero-byte capture is a soft failure: keep the stream up and
		// let the caller try again.
		c.log.Warn().Msg("empty frame captured")
		c.surfaceError("Could not capture an image. Please try again.")
		return nil, ErrNoSource
	}

	c.mu.Lock()
	if gen != c.gen || c.source != src {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.captured = frame
	c.source = nil
	c.mu.Unlock()

	src.Close()
	c.log.Debug().Int("bytes", len(frame.Data)).Msg("frame captured")
	return frame, nil
}

// Retake discards the captured still and reopens a fresh source.
func (c *Controller) Retake(ctx context.Context) error {
	c.mu.Lock()
	c.captured = nil
	c.mu.Unlock()
	return c.Open(ctx)
}

// Confirm uploads the captured image for the session and closes the
// camera. Upload failures surface a user-visible message and leave the
// camera open so the user can retake.
func (c *Controller) Confirm(ctx context.Context) (*api.PrescriptionResponse, error) {
	c.mu.Lock()
	frame := c.captured
	c.mu.Unlock()
	if frame == nil {
		return nil, ErrNothingCaptured
	}

	resp, err := c.uploader.UploadPrescription(ctx, c.sessionID, frame.Data, frame.MimeType)
	if err != nil {
		c.log.Warn().Err(err).Msg("prescription upload failed")
		c.surfaceError("Could not upload the prescription. Please try again.")
		return nil, err
	}

	c.Close()
	return resp, nil
}

// Close releases any live source and marks the camera closed.
// Idempotent; captures resolving afterwards are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.open && c.source == nil {
		c.mu.Unlock()
		return
	}
	wasOpen := c.open
	src := c.source
	c.source = nil
	c.captured = nil
	c.open = false
	c.gen++
	c.mu.Unlock()

	if src != nil {
		src.Close()
	}
	if wasOpen {
		c.st.Dispatch(store.CameraClosed{})
		c.log.Info().Msg("camera closed")
	}
}

// surfaceError shows a user-visible inline message in the transcript.
func (c *Controller) surfaceError(msg string) {
	c.st.Dispatch(store.AIResponseReceived{Text: msg, Type: "error"})
}
