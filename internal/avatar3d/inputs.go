package avatar3d

import (
	"math"
	"sync"
	"time"
)

// Emotion is the coarse mood overlay derived from the latest reply.
type Emotion string

const (
	EmotionNeutral Emotion = "neutral"
	EmotionHappy   Emotion = "happy"
	EmotionSad     Emotion = "sad"
)

// ParseEmotion maps unknown values to neutral.
func ParseEmotion(s string) Emotion {
	switch Emotion(s) {
	case EmotionHappy:
		return EmotionHappy
	case EmotionSad:
		return EmotionSad
	}
	return EmotionNeutral
}

// Pointer is the cursor position relative to the viewport centre,
// roughly in [-1,1] on both axes.
type Pointer struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// FrameInputs is the immutable per-frame snapshot fed to the animator.
type FrameInputs struct {
	Speaking bool    `json:"isSpeaking"`
	Volume   float32 `json:"audioVolume"`
	Pointer  Pointer `json:"pointer"`
	Emotion  Emotion `json:"emotion"`
}

// Normalized returns a copy with Volume clamped into [0,1] and an unknown
// emotion mapped to neutral.
func (in FrameInputs) Normalized() FrameInputs {
	if math.IsNaN(float64(in.Volume)) {
		in.Volume = 0
	}
	in.Volume = clamp(in.Volume, 0, 1)
	in.Emotion = ParseEmotion(string(in.Emotion))
	return in
}

// InputSource hands the frame loop its snapshot for the next tick.
type InputSource interface {
	Snapshot() FrameInputs
}

// InputBridge collects updates from the speech pipeline and the pointer
// stream and serves consistent snapshots to the frame loop.
type InputBridge struct {
	mu sync.RWMutex

	current FrameInputs
	updated time.Time

	onChange func(FrameInputs)
}

func NewInputBridge() *InputBridge {
	return &InputBridge{
		current: FrameInputs{Emotion: EmotionNeutral},
		updated: time.Now(),
	}
}

func (b *InputBridge) SetOnChange(fn func(FrameInputs)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

func (b *InputBridge) update(fn func(*FrameInputs)) {
	b.mu.Lock()
	fn(&b.current)
	b.current = b.current.Normalized()
	b.updated = time.Now()
	snapshot := b.current
	cb := b.onChange
	b.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// SetSpeech records the speech pipeline state.
func (b *InputBridge) SetSpeech(speaking bool, volume float32) {
	b.update(func(in *FrameInputs) {
		in.Speaking = speaking
		in.Volume = volume
	})
}

func (b *InputBridge) SetPointer(x, y float32) {
	b.update(func(in *FrameInputs) {
		in.Pointer = Pointer{X: x, Y: y}
	})
}

func (b *InputBridge) SetEmotion(e Emotion) {
	b.update(func(in *FrameInputs) {
		in.Emotion = e
	})
}

// Snapshot returns a copy of the latest inputs.
func (b *InputBridge) Snapshot() FrameInputs {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Age reports how long ago the inputs last changed.
func (b *InputBridge) Age() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return time.Since(b.updated)
}
