// Package bridge connects the chat client, the speech pipeline and the
// avatar inputs, and exposes them to the browser server and the view window.
package bridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/config"
	"github.com/normanking/talkingavatar/internal/tts"
	"github.com/rs/zerolog"
)

// ErrInvalidSetting is returned for out-of-range or unknown setting values.
var ErrInvalidSetting = errors.New("invalid setting")

// SettingsData represents the settings the browser can change
type SettingsData struct {
	Mode     string  `json:"mode"`     // text or voice
	AutoPlay bool    `json:"autoPlay"` // speak replies as they arrive, voice mode only
	VoiceID  string  `json:"voiceId"`
	Volume   float64 `json:"volume"` // 0-1
}

// VolumeControl is the playback gain.
type VolumeControl interface {
	SetVolume(v float64)
	Volume() float64
}

// SettingsBridge holds the chat mode and speech preferences
type SettingsBridge struct {
	mu       sync.RWMutex
	mode     string
	autoPlay bool

	speech Speaker
	volume VolumeControl
	cfg    *config.Manager
	bus    *bus.EventBus
	logger zerolog.Logger
}

// NewSettingsBridge creates a new settings bridge. cfg, when set, receives
// saved settings.
func NewSettingsBridge(initial config.ServerConfig, speech Speaker, volume VolumeControl, cfg *config.Manager, eventBus *bus.EventBus, logger zerolog.Logger) *SettingsBridge {
	b := &SettingsBridge{
		mode:   config.ModeText,
		speech: speech,
		volume: volume,
		cfg:    cfg,
		bus:    eventBus,
		logger: logger.With().Str("component", "settings").Logger(),
	}
	if initial.Mode == config.ModeVoice {
		b.mode = config.ModeVoice
		b.autoPlay = initial.AutoPlay
	}
	return b
}

// Mode returns text or voice.
func (b *SettingsBridge) Mode() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mode
}

// AutoPlay reports the auto-play toggle.
func (b *SettingsBridge) AutoPlay() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.autoPlay
}

// ShouldAutoPlay reports whether a new reply is spoken automatically.
func (b *SettingsBridge) ShouldAutoPlay() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mode == config.ModeVoice && b.autoPlay
}

// SetMode switches between text and voice. Entering voice mode turns
// auto-play on; entering text mode turns it off and stops speech.
func (b *SettingsBridge) SetMode(mode string) error {
	switch mode {
	case config.ModeText, config.ModeVoice:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidSetting, mode)
	}

	b.mu.Lock()
	b.mode = mode
	b.autoPlay = mode == config.ModeVoice
	b.mu.Unlock()

	if mode == config.ModeText {
		b.stopSpeech()
	}
	b.logger.Info().Str("mode", mode).Msg("Mode changed")
	return nil
}

// SetAutoPlay toggles auto-play; turning it off stops speech.
func (b *SettingsBridge) SetAutoPlay(on bool) {
	b.mu.Lock()
	b.autoPlay = on
	b.mu.Unlock()
	if !on {
		b.stopSpeech()
	}
}

func (b *SettingsBridge) stopSpeech() {
	if b.speech != nil {
		b.speech.Stop()
	}
}

// SetVoice selects the speech voice for the next utterance.
func (b *SettingsBridge) SetVoice(id string) error {
	if !tts.IsKnownVoice(id) {
		return fmt.Errorf("%w: %s", tts.ErrVoiceNotFound, id)
	}
	if b.speech != nil {
		b.speech.SetVoice(id)
	}
	return nil
}

// GetSettings returns current settings
func (b *SettingsBridge) GetSettings() SettingsData {
	s := SettingsData{Mode: b.Mode(), AutoPlay: b.AutoPlay(), Volume: 1}
	if b.speech != nil {
		s.VoiceID = b.speech.Voice()
	}
	if b.volume != nil {
		s.Volume = b.volume.Volume()
	}
	return s
}

// SaveSettings applies all settings and persists them when a config
// manager is attached.
func (b *SettingsBridge) SaveSettings(s SettingsData) error {
	if s.Volume < 0 || s.Volume > 1 {
		return fmt.Errorf("%w: volume must be in [0,1], got %g", ErrInvalidSetting, s.Volume)
	}
	if s.VoiceID != "" {
		if err := b.SetVoice(s.VoiceID); err != nil {
			return err
		}
	}
	if s.Mode != "" && s.Mode != b.Mode() {
		if err := b.SetMode(s.Mode); err != nil {
			return err
		}
	}
	b.SetAutoPlay(s.AutoPlay)
	if b.volume != nil {
		b.volume.SetVolume(s.Volume)
	}

	saved := b.GetSettings()
	if b.cfg != nil {
		cfg := b.cfg.Config()
		cfg.Server.Mode = saved.Mode
		cfg.Server.AutoPlay = saved.AutoPlay
		if saved.VoiceID != "" {
			cfg.TTS.Voice = saved.VoiceID
		}
		cfg.TTS.Volume = saved.Volume
		if err := b.cfg.Save(cfg); err != nil {
			b.logger.Error().Err(err).Msg("Failed to save settings")
			return err
		}
	}

	b.logger.Info().
		Str("mode", saved.Mode).
		Bool("autoPlay", saved.AutoPlay).
		Str("voice", saved.VoiceID).
		Msg("Settings saved")
	b.bus.Publish(bus.Event{
		Type: bus.EventTypeConfigChanged,
		Data: map[string]any{"settings": saved},
	})
	return nil
}
