package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/normanking/talkingavatar/internal/audio"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/markdown"
	"github.com/rs/zerolog"
)

// DirectSpeaker plays speech itself instead of returning audio.
type DirectSpeaker interface {
	Speak(ctx context.Context, text, voiceID string) error
	IsAvailable() bool
}

// State is what the avatar needs to know about speech right now.
type State struct {
	IsSpeaking  bool    `json:"isSpeaking"`
	AudioVolume float64 `json:"audioVolume"`
	MessageID   string  `json:"messageId,omitempty"`
	Message     string  `json:"message,omitempty"`
	Provider    string  `json:"provider,omitempty"`
	Simulated   bool    `json:"simulated,omitempty"`
}

// volumeReadInterval stops several readers from advancing analyser
// smoothing faster than the display refresh.
const volumeReadInterval = 15 * time.Millisecond

// Pipeline speaks one reply at a time: the preferred provider through the
// audio player, else the local synthesizer with simulated volume.
type Pipeline struct {
	cfg     Config
	primary Provider
	local   DirectSpeaker
	player  *audio.Player
	bus     *bus.EventBus
	log     zerolog.Logger

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	state    State
	source   audio.VolumeSource
	voice    string
	lastVol  float64
	lastRead time.Time
}

// NewPipeline wires the providers and the player. primary and local may be nil.
func NewPipeline(cfg Config, primary Provider, local DirectSpeaker, player *audio.Player, eventBus *bus.EventBus, log zerolog.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.Voice == "" {
		cfg.Voice = def.Voice
	}
	if cfg.WordsPerMinute <= 0 {
		cfg.WordsPerMinute = def.WordsPerMinute
	}
	return &Pipeline{
		cfg:     cfg,
		primary: primary,
		local:   local,
		player:  player,
		bus:     eventBus,
		log:     log.With().Str("component", "tts").Logger(),
		source:  audio.Silence{},
		voice:   cfg.Voice,
	}
}

// Voice returns the selected voice.
func (p *Pipeline) Voice() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voice
}

// SetVoice selects the voice for the next utterance.
func (p *Pipeline) SetVoice(id string) {
	p.mu.Lock()
	p.voice = id
	p.mu.Unlock()
}

// Voices lists the preferred provider's voices, or the defaults when it
// cannot answer.
func (p *Pipeline) Voices(ctx context.Context) []Voice {
	if p.primary != nil {
		voices, err := p.primary.ListVoices(ctx)
		if err == nil && len(voices) > 0 {
			return voices
		}
		if err != nil {
			p.log.Debug().Err(err).Msg("Voice list unavailable, using defaults")
		}
	}
	return DefaultVoices
}

// Speak stops any current speech and speaks text, blocking until it ends or
// is interrupted. Markdown is reduced to plain text first.
func (p *Pipeline) Speak(ctx context.Context, messageID, text string) error {
	p.Stop()

	plain := markdown.PlainText(text)
	if strings.TrimSpace(plain) == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.cancel = cancel
	voice := p.voice
	p.mu.Unlock()

	err := ErrProviderUnavailable
	if p.primary != nil {
		err = p.speakPrimary(ctx, gen, messageID, plain, voice)
	}
	if err == nil || interrupted(ctx, err) {
		return nil
	}

	if !p.cfg.UseFallback {
		p.finish(gen)
		return err
	}

	p.log.Warn().Err(err).Msg("Speech provider failed, falling back to local synthesis")
	p.bus.Publish(bus.Event{
		Type: bus.EventTypeTTSFallback,
		Data: map[string]any{"id": messageID, "error": err.Error()},
	})
	err = p.speakFallback(ctx, gen, messageID, plain, voice)
	if interrupted(ctx, err) {
		return nil
	}
	return err
}

func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, audio.ErrStopped)
}

func (p *Pipeline) speakPrimary(ctx context.Context, gen uint64, id, text, voice string) error {
	resp, err := p.primary.Synthesize(ctx, &SynthesizeRequest{Text: text, VoiceID: voice})
	if err != nil {
		return err
	}
	if p.player == nil {
		return fmt.Errorf("%w: no audio output", ErrProviderUnavailable)
	}

	var clip audio.Clip
	switch resp.Format {
	case "pcm":
		clip, err = audio.DecodePCM16(resp.Audio, resp.SampleRate)
	default:
		clip, err = audio.DecodeWAV(resp.Audio)
	}
	if err != nil {
		return err
	}

	if !p.begin(gen, id, text, resp.Provider, p.player.Analyser(), false) {
		clip.Streamer.Close()
		return audio.ErrStopped
	}
	err = p.player.Play(ctx, clip)
	if err == nil || interrupted(ctx, err) {
		p.finish(gen)
	}
	return err
}

func (p *Pipeline) speakFallback(ctx context.Context, gen uint64, id, text, voice string) error {
	sim := audio.NewSimulatedVolume()
	provider := "simulated"
	if p.local != nil && p.local.IsAvailable() {
		provider = ProviderLocal
	}
	if !p.begin(gen, id, text, provider, sim, true) {
		return audio.ErrStopped
	}
	sim.Start()
	defer func() {
		sim.Stop()
		p.finish(gen)
	}()

	if provider == ProviderLocal {
		return p.local.Speak(ctx, text, voice)
	}

	// Nothing can make sound; keep the mouth moving for as long as the
	// text would take to say.
	d := p.estimate(text)
	p.log.Debug().Dur("duration", d).Msg("Simulating speech")
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) estimate(text string) time.Duration {
	words := len(strings.Fields(text))
	d := time.Duration(words) * time.Minute / time.Duration(p.cfg.WordsPerMinute)
	if d < time.Second {
		d = time.Second
	}
	return d
}

// begin publishes the started state unless gen was superseded.
func (p *Pipeline) begin(gen uint64, id, text, provider string, src audio.VolumeSource, simulated bool) bool {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return false
	}
	p.state = State{
		IsSpeaking: true,
		MessageID:  id,
		Message:    text,
		Provider:   provider,
		Simulated:  simulated,
	}
	p.source = src
	p.lastRead = time.Time{}
	p.mu.Unlock()

	p.log.Info().Str("id", id).Str("provider", provider).Msg("Speaking")
	p.bus.Publish(bus.Event{
		Type: bus.EventTypeTTSStarted,
		Data: map[string]any{"id": id, "provider": provider, "simulated": simulated},
	})
	return true
}

func (p *Pipeline) finish(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || !p.state.IsSpeaking {
		p.mu.Unlock()
		return
	}
	id := p.state.MessageID
	p.state = State{}
	p.source = audio.Silence{}
	p.mu.Unlock()

	p.bus.Publish(bus.Event{
		Type: bus.EventTypeTTSStopped,
		Data: map[string]any{"id": id},
	})
}

// Stop interrupts the current utterance.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.gen++
	was := p.state
	p.state = State{}
	p.source = audio.Silence{}
	p.mu.Unlock()

	if p.player != nil {
		p.player.Stop()
	}
	if was.IsSpeaking {
		p.bus.Publish(bus.Event{
			Type: bus.EventTypeTTSStopped,
			Data: map[string]any{"id": was.MessageID, "interrupted": true},
		})
	}
}

// Snapshot returns the speaking flag and current loudness.
func (p *Pipeline) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.state
	if !s.IsSpeaking {
		return s
	}
	if now := time.Now(); now.Sub(p.lastRead) >= volumeReadInterval {
		v := p.source.Volume()
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		p.lastVol = v
		p.lastRead = now
	}
	s.AudioVolume = p.lastVol
	return s
}
