package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog"
)

// Output is the device side of the player.
type Output interface {
	Init(rate beep.SampleRate) error
	Play(s beep.Streamer)
	Clear()
}

// SpeakerOutput plays through the system audio device.
type SpeakerOutput struct{}

func (SpeakerOutput) Init(rate beep.SampleRate) error {
	if err := speaker.Init(rate, rate.N(time.Second/30)); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	return nil
}

func (SpeakerOutput) Play(s beep.Streamer) { speaker.Play(s) }
func (SpeakerOutput) Clear()               { speaker.Clear() }

// Player plays one clip at a time through an Analyser so its loudness can
// be read while it plays.
type Player struct {
	mu sync.Mutex

	out         Output
	rate        beep.SampleRate
	analyser    *Analyser
	volume      float64
	initialized bool
	current     *playback
	log         zerolog.Logger
}

type playback struct {
	done    chan struct{}
	once    sync.Once
	stopped bool
}

func (pb *playback) finish(stopped bool) {
	pb.once.Do(func() {
		pb.stopped = stopped
		close(pb.done)
	})
}

// NewPlayer creates a player. volume is 0..1.
func NewPlayer(out Output, cfg AnalyserConfig, volume float64, log zerolog.Logger) *Player {
	if out == nil {
		out = SpeakerOutput{}
	}
	return &Player{
		out:      out,
		rate:     DefaultSampleRate,
		analyser: NewAnalyser(nil, cfg),
		volume:   clamp(volume, 0, 1),
		log:      log.With().Str("component", "audio").Logger(),
	}
}

// SetSampleRate sets the output rate. It has no effect once the device is
// open.
func (p *Player) SetSampleRate(rate int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rate > 0 && !p.initialized {
		p.rate = beep.SampleRate(rate)
	}
}

// SetVolume changes the gain (0..1) used from the next clip on.
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = clamp(v, 0, 1)
}

// Volume returns the playback gain.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Analyser is the volume source for whatever is playing.
func (p *Player) Analyser() *Analyser { return p.analyser }

func (p *Player) initLocked() error {
	if p.initialized {
		return nil
	}
	if err := p.out.Init(p.rate); err != nil {
		return err
	}
	p.initialized = true
	p.log.Info().Int("sample_rate", int(p.rate)).Msg("Audio output initialized")
	return nil
}

// Play starts clip, replacing anything already playing, and blocks until it
// ends, Stop is called or ctx is done. The clip is closed on return.
func (p *Player) Play(ctx context.Context, clip Clip) error {
	defer clip.Streamer.Close()

	p.mu.Lock()
	if err := p.initLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.stopLocked()

	var s beep.Streamer = clip.Streamer
	if clip.Format.SampleRate != p.rate {
		s = beep.Resample(4, clip.Format.SampleRate, p.rate, s)
	}
	if p.volume < 1 {
		s = &effects.Volume{Streamer: s, Base: 2, Volume: gainToVolume(p.volume), Silent: p.volume == 0}
	}
	p.analyser.Reset(s)

	pb := &playback{done: make(chan struct{})}
	p.current = pb
	p.out.Play(beep.Seq(p.analyser, beep.Callback(func() { pb.finish(false) })))
	p.mu.Unlock()

	p.log.Debug().Dur("duration", clip.Duration()).Msg("Playback started")

	select {
	case <-pb.done:
	case <-ctx.Done():
		p.Stop()
		return ctx.Err()
	}
	if pb.stopped {
		return ErrStopped
	}
	return clip.Streamer.Err()
}

// Stop cuts the current clip short.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	if p.current == nil {
		return
	}
	if p.initialized {
		p.out.Clear()
	}
	p.analyser.Reset(nil)
	p.current.finish(true)
	p.current = nil
}

// Playing reports whether a clip is active.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false
	}
	select {
	case <-p.current.done:
		return false
	default:
		return true
	}
}

// gainToVolume converts linear gain to the exponent effects.Volume expects
// with base 2.
func gainToVolume(gain float64) float64 {
	if gain <= 0 {
		return -10
	}
	return math.Log2(gain)
}
