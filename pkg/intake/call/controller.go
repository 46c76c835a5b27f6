// Package call implements the voice consultation controller: a strict
// phase machine over a persistent microphone stream, with
// amplitude-calibrated end-of-turn detection while listening and
// barge-in detection while the assistant is speaking.
//
// The controller owns no UI. It reads PCM frames from a Microphone,
// plays replies through a SpeechPlayer, submits captured turns to a
// TurnProcessor, and notifies the session store only at defined
// transition points (call opened, call closed). Amplitude is sampled
// on a dedicated ticker, decoupled from frame pacing.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/GhananilShirpurkar/medisync-intake/pkg/intake/store"
)

// Microphone is a persistent audio capture stream. Start is called
// once during ringing; the returned channel delivers PCM16 frames
// until Stop or context cancellation.
type Microphone interface {
	Start(ctx context.Context) (<-chan []byte, error)
	Stop() error
}

// SpeechPlayer plays one synthesized reply. Speak blocks until
// playback finishes naturally or ctx is cancelled (barge-in, hang-up).
type SpeechPlayer interface {
	Speak(ctx context.Context, text string) error
}

// TurnProcessor submits one captured audio turn to the backend and
// returns the assistant's reply text. An empty reply means the turn
// produced no usable transcription.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, sessionID string, audio []byte) (string, error)
}

// ErrMissingSession is returned when a call is started without a
// backend session id.
var ErrMissingSession = errors.New("call: no session id")

// Controller runs one voice call. One microphone stream and one meter
// are held for the whole call, acquired during ringing and released
// exactly once through the cleanup latch.
type Controller struct {
	cfg       Config
	mic       Microphone
	player    SpeechPlayer
	processor TurnProcessor
	st        *store.Store
	log       zerolog.Logger
	sessionID string

	meter *levelMeter
	rec   *recordingBuffer

	mu              sync.Mutex
	phase           Phase
	started         bool
	cleanupDone     bool
	calibrating     bool
	calSamples      []float64
	baseline        float64
	speechThreshold float64
	listenStart     time.Time
	speechSeen      bool
	lastSpeech      time.Time
	speakStart      time.Time
	bargeSince      time.Time
	speakCancel     context.CancelFunc
	turns           int
	startedAt       time.Time

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a call controller bound to one session.
func New(cfg Config, sessionID string, mic Microphone, player SpeechPlayer, processor TurnProcessor, st *store.Store, log zerolog.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		mic:       mic,
		player:    player,
		processor: processor,
		st:        st,
		log:       log.With().Str("component", "call").Logger(),
		sessionID: sessionID,
		meter:     &levelMeter{},
		rec:       &recordingBuffer{},
		phase:     PhaseRinging,
		events:    make(chan Event, 64),
	}
}

// Events returns the controller's event stream. The channel is never
// closed; EndedEvent is the last meaningful event.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Turns returns the number of committed turns so far.
func (c *Controller) Turns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turns
}

// Start begins the call: acquires the microphone, starts the sampling
// ticker, and transitions to listening after the connect delay.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("call: already started")
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.startedAt = time.Now()
	c.mu.Unlock()

	if c.sessionID == "" {
		c.end("missing_session")
		return ErrMissingSession
	}

	frames, err := c.mic.Start(c.ctx)
	if err != nil {
		c.end("mic_error")
		return fmt.Errorf("call: acquire microphone: %w", err)
	}

	c.st.Dispatch(store.VoiceCallOpened{})
	c.log.Info().Str("session_id", c.sessionID).Msg("call started")

	go c.frameLoop(frames)
	go c.sampleLoop()
	go c.tickLoop()
	go func() {
		// Parent context cancellation must release the microphone.
		// After a normal teardown the latch makes this a no-op.
		<-c.ctx.Done()
		c.end("context_cancelled")
	}()
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.cfg.ConnectDelay):
		}
		c.mu.Lock()
		if c.phase == PhaseRinging {
			c.beginListeningLocked(time.Now())
		}
		c.mu.Unlock()
	}()

	return nil
}

// Mute ends the current turn immediately, as if silence had been
// detected. No-op outside the listening phase.
func (c *Controller) Mute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive || c.calibrating {
		return
	}
	c.endTurnLocked("mute", time.Now())
}

// HangUp terminates the call.
func (c *Controller) HangUp() {
	c.end("hang_up")
}

// Close terminates the call from a teardown path (unmount). Safe to
// call alongside HangUp; the cleanup latch tolerates both firing.
func (c *Controller) Close() {
	c.end("closed")
}

// frameLoop consumes microphone frames, feeding the meter and, while
// listening, the turn recording.
func (c *Controller) frameLoop(frames <-chan []byte) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				// Stream died underneath us.
				c.end("mic_error")
				return
			}
			c.meter.observe(RMSAmplitude(frame))

			c.mu.Lock()
			recording := c.phase == PhaseActive
			c.mu.Unlock()
			if recording {
				c.rec.write(frame)
			}
		}
	}
}

// sampleLoop evaluates the phase machine at a fixed cadence.
func (c *Controller) sampleLoop() {
	ticker := time.NewTicker(c.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			c.sample(now)
		}
	}
}

// sample runs one evaluation of silence detection or barge-in
// detection, depending on phase.
func (c *Controller) sample(now time.Time) {
	level := c.meter.value()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseActive:
		if c.calibrating {
			c.calSamples = append(c.calSamples, level)
			if now.Sub(c.listenStart) >= c.cfg.CalibrationWindow {
				c.finishCalibrationLocked()
			}
			return
		}

		if level >= c.speechThreshold {
			if !c.speechSeen {
				c.speechSeen = true
				c.emit(&SpeechStartedEvent{Level: level})
			}
			c.lastSpeech = now
		}

		if c.speechSeen && now.Sub(c.lastSpeech) >= c.cfg.SilenceWindow {
			c.endTurnLocked("silence", now)
			return
		}
		if now.Sub(c.listenStart) >= c.cfg.MaxTurnDuration {
			c.endTurnLocked("max_duration", now)
		}

	case PhaseSpeaking:
		if now.Sub(c.speakStart) < c.cfg.SettleDelay {
			return
		}
		threshold := c.speechThreshold + c.cfg.BargeInMargin
		if level < threshold {
			// Momentary spikes must not interrupt: any dip resets the
			// confirmation timer.
			c.bargeSince = time.Time{}
			return
		}
		if c.bargeSince.IsZero() {
			c.bargeSince = now
			return
		}
		if held := now.Sub(c.bargeSince); held >= c.cfg.BargeInConfirm {
			c.emit(&BargeInEvent{Level: level, HeldMs: int(held.Milliseconds())})
			cancel := c.speakCancel
			c.speakCancel = nil
			c.bargeSince = time.Time{}
			c.beginListeningLocked(now)
			if cancel != nil {
				cancel()
			}
		}
	}
}

// finishCalibrationLocked closes the ambient-noise window and arms
// speech detection.
func (c *Controller) finishCalibrationLocked() {
	var sum float64
	for _, v := range c.calSamples {
		sum += v
	}
	mean := 0.0
	if len(c.calSamples) > 0 {
		mean = sum / float64(len(c.calSamples))
	}
	c.baseline = mean
	if c.baseline < c.cfg.NoiseFloorMin {
		c.baseline = c.cfg.NoiseFloorMin
	}
	c.speechThreshold = c.baseline + c.cfg.SpeechMargin
	c.calibrating = false
	c.calSamples = nil
	c.emit(&CalibratedEvent{Baseline: c.baseline, SpeechThreshold: c.speechThreshold})
}

// beginListeningLocked enters (or re-enters) the listening phase.
// Calibration runs only once per call, on the first listen.
func (c *Controller) beginListeningLocked(now time.Time) {
	if c.phase != PhaseActive && !c.setPhaseLocked(PhaseActive) {
		return
	}
	c.rec.reset()
	c.speechSeen = false
	c.lastSpeech = time.Time{}
	c.listenStart = now
	c.bargeSince = time.Time{}
	if c.speechThreshold == 0 {
		c.calibrating = true
		c.calSamples = c.calSamples[:0]
	}
}

// endTurnLocked stops the recording and either discards it as noise or
// hands it to the backend.
func (c *Controller) endTurnLocked(reason string, now time.Time) {
	audio := c.rec.take()
	if len(audio) < c.cfg.MinRecordingBytes {
		c.emit(&TurnDiscardedEvent{Bytes: len(audio)})
		// Noise: re-enter listening without a backend call.
		c.speechSeen = false
		c.lastSpeech = time.Time{}
		c.listenStart = now
		return
	}

	c.turns++
	c.emit(&TurnCapturedEvent{Turn: c.turns, Bytes: len(audio), Reason: reason})
	if !c.setPhaseLocked(PhaseProcessing) {
		return
	}
	go c.processTurn(audio)
}

// processTurn submits one turn and plays the reply.
func (c *Controller) processTurn(audio []byte) {
	reply, err := c.processor.ProcessTurn(c.ctx, c.sessionID, audio)
	if c.ctx.Err() != nil {
		// Orphaned by teardown; drop the result.
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("turn processing failed")
		c.emit(&ErrorEvent{Code: "turn_failed", Message: err.Error()})
		c.relisten()
		return
	}
	if reply == "" {
		// Empty transcription is a soft failure: retry the turn.
		c.relisten()
		return
	}

	c.emit(&ResponseReceivedEvent{Text: reply})
	c.speak(reply)
}

// relisten returns from processing to listening after a soft failure.
func (c *Controller) relisten() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseProcessing {
		c.beginListeningLocked(time.Now())
	}
}

// speak plays the reply, then resumes listening unless a barge-in or
// hang-up already moved the phase.
func (c *Controller) speak(text string) {
	c.mu.Lock()
	if c.phase != PhaseProcessing || !c.setPhaseLocked(PhaseSpeaking) {
		c.mu.Unlock()
		return
	}
	c.speakStart = time.Now()
	c.bargeSince = time.Time{}
	speakCtx, cancel := context.WithCancel(c.ctx)
	c.speakCancel = cancel
	c.mu.Unlock()

	err := c.player.Speak(speakCtx, text)
	cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn().Err(err).Msg("speech playback failed")
	}

	c.mu.Lock()
	if c.phase == PhaseSpeaking {
		// Natural end of playback.
		c.speakCancel = nil
		c.beginListeningLocked(time.Now())
	}
	c.mu.Unlock()
}

// setPhaseLocked commits a transition if the table allows it.
func (c *Controller) setPhaseLocked(to Phase) bool {
	if !phaseTransitionValid(c.phase, to) {
		c.log.Warn().
			Stringer("from", c.phase).
			Stringer("to", to).
			Msg("rejected phase transition")
		return false
	}
	from := c.phase
	c.phase = to
	c.emit(&PhaseChangedEvent{From: from, To: to})
	return true
}

// tickLoop emits elapsed-time ticks once per second.
func (c *Controller) tickLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			c.emit(&TickEvent{Seconds: int(now.Sub(c.startedAt) / time.Second)})
		}
	}
}

// end terminates the call. The cleanup latch makes duplicate teardown
// (unmount racing explicit hang-up) a no-op after the first call.
func (c *Controller) end(reason string) {
	c.mu.Lock()
	if c.cleanupDone {
		c.mu.Unlock()
		return
	}
	c.cleanupDone = true
	from := c.phase
	c.phase = PhaseEnded
	cancelSpeak := c.speakCancel
	c.speakCancel = nil
	turns := c.turns
	c.mu.Unlock()

	if cancelSpeak != nil {
		cancelSpeak()
	}
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.mic.Stop(); err != nil {
		c.log.Debug().Err(err).Msg("microphone stop")
	}
	c.rec.reset()

	if from != PhaseEnded {
		c.emit(&PhaseChangedEvent{From: from, To: PhaseEnded})
	}
	c.emit(&EndedEvent{Reason: reason, Turns: turns})
	c.log.Info().Str("reason", reason).Int("turns", turns).Msg("call ended")

	grace := c.cfg.CloseGrace
	go func() {
		time.Sleep(grace)
		c.st.Dispatch(store.VoiceCallClosed{})
	}()
}

// emit sends an event without blocking; the buffer absorbs bursts and
// overflow is dropped.
func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}
