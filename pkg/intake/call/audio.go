package call

import (
	"math"
	"sync"
)

// RMSAmplitude computes the root-mean-square amplitude of 16-bit
// signed little-endian PCM, normalized to 0.0..1.0.
func RMSAmplitude(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}

// recordingBuffer accumulates one turn's worth of raw PCM.
type recordingBuffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *recordingBuffer) write(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, frame...)
}

func (b *recordingBuffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.data
	b.data = nil
	return out
}

func (b *recordingBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *recordingBuffer) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
}

// levelMeter holds the most recent amplitude observation. Frames are
// observed as they arrive from the microphone; the controller's
// sampling ticker reads the meter independently of frame pacing.
type levelMeter struct {
	mu    sync.Mutex
	level float64
}

func (m *levelMeter) observe(v float64) {
	m.mu.Lock()
	m.level = v
	m.mu.Unlock()
}

func (m *levelMeter) value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}
