// Package audio plays synthesized speech and measures how loud it is so the
// avatar's mouth can follow it.
package audio

import (
	"errors"
	"time"

	"github.com/gopxl/beep/v2"
)

// Common errors
var (
	ErrInvalidFormat  = errors.New("invalid audio format")
	ErrNotInitialized = errors.New("audio output not initialized")
	ErrStopped        = errors.New("playback stopped")
)

// AudioFormat represents audio encoding format
type AudioFormat string

const (
	FormatWAV AudioFormat = "wav"
	FormatPCM AudioFormat = "pcm"
	FormatMP3 AudioFormat = "mp3"
)

// DefaultSampleRate is the rate the output device runs at.
const DefaultSampleRate = beep.SampleRate(44100)

// VolumeSource reports the current loudness in [0,1].
type VolumeSource interface {
	Volume() float64
}

// Silence is a VolumeSource that is always 0.
type Silence struct{}

func (Silence) Volume() float64 { return 0 }

// Clip is decoded audio ready for playback.
type Clip struct {
	Streamer beep.StreamSeekCloser
	Format   beep.Format
}

// Duration of the clip at its native rate.
func (c Clip) Duration() time.Duration {
	return c.Format.SampleRate.D(c.Streamer.Len())
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
