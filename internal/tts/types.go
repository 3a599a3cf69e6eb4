// Package tts turns assistant replies into speech and reports whether the
// avatar is speaking and how loud.
package tts

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("TTS provider unavailable")
	ErrVoiceNotFound       = errors.New("voice not found")
	ErrTextTooLong         = errors.New("text exceeds maximum length")
	ErrEmptyText           = errors.New("text is empty")
)

// Provider is the interface all TTS providers must implement
type Provider interface {
	// Name returns the provider identifier (e.g., "remote", "openai")
	Name() string

	// Synthesize converts text to audio
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)

	// ListVoices returns available voices
	ListVoices(ctx context.Context) ([]Voice, error)

	// Health checks if the provider is available
	Health(ctx context.Context) error

	// Capabilities returns the provider's feature set
	Capabilities() ProviderCapabilities
}

// SynthesizeRequest represents a synthesis request
type SynthesizeRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed,omitempty"` // 0.5 to 2.0
}

// SynthesizeResponse represents a synthesis result
type SynthesizeResponse struct {
	Audio          []byte        `json:"audio"`
	Format         string        `json:"format"` // wav or pcm
	SampleRate     int           `json:"sample_rate"`
	ProcessingTime time.Duration `json:"processing_time"`
	VoiceID        string        `json:"voice_id"`
	Provider       string        `json:"provider"`
}

// Voice represents an available TTS voice
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Gender      string `json:"gender"`
	Language    string `json:"language,omitempty"`
	Description string `json:"description,omitempty"`
}

// ProviderCapabilities describes what features a provider supports
type ProviderCapabilities struct {
	MaxTextLength int  `json:"max_text_length"`
	AvgLatencyMs  int  `json:"avg_latency_ms"`
	IsLocal       bool `json:"is_local"`
	// Tappable is false when audio goes straight to the device and its
	// volume cannot be measured.
	Tappable bool `json:"tappable"`
}

// Provider names accepted in config.
const (
	ProviderRemote = "remote"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
)

// Config holds TTS configuration
type Config struct {
	Provider     string        `mapstructure:"provider" yaml:"provider"`
	APIURL       string        `mapstructure:"api_url" yaml:"api_url"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Voice        string        `mapstructure:"voice" yaml:"voice"`
	UseFallback  bool          `mapstructure:"use_fallback" yaml:"use_fallback"`
	LocalCommand string        `mapstructure:"local_command" yaml:"local_command"`
	OpenAIModel  string        `mapstructure:"openai_model" yaml:"openai_model"`
	OpenAIAPIKey string        `mapstructure:"openai_api_key" yaml:"openai_api_key"`
	Volume       float64       `mapstructure:"volume" yaml:"volume"`
	// WordsPerMinute paces the simulated speech used when nothing can
	// produce sound.
	WordsPerMinute int `mapstructure:"words_per_minute" yaml:"words_per_minute"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:       ProviderRemote,
		APIURL:         "http://localhost:5000",
		Timeout:        5 * time.Second,
		Voice:          "nova",
		UseFallback:    true,
		OpenAIModel:    "tts-1",
		Volume:         1,
		WordsPerMinute: 160,
	}
}

// DefaultVoices are the voices the speech server ships with.
var DefaultVoices = []Voice{
	{ID: "nova", Name: "Nova", Gender: "Female", Description: "Conversational and natural"},
	{ID: "aurora", Name: "Aurora", Gender: "Female", Description: "Warm and friendly"},
	{ID: "stellar", Name: "Stellar", Gender: "Female", Description: "Energetic and bright"},
	{ID: "atlas", Name: "Atlas", Gender: "Male", Description: "Deep and authoritative"},
	{ID: "orion", Name: "Orion", Gender: "Male", Description: "Friendly and casual"},
	{ID: "luna", Name: "Luna", Gender: "Female", Description: "Soft and gentle"},
	{ID: "phoenix", Name: "Phoenix", Gender: "Male", Description: "Dynamic and expressive"},
	{ID: "ember", Name: "Ember", Gender: "Female", Description: "Warm and engaging"},
}

// IsKnownVoice reports whether id is one of DefaultVoices.
func IsKnownVoice(id string) bool {
	for _, v := range DefaultVoices {
		if v.ID == id {
			return true
		}
	}
	return false
}

func voiceGender(id string) string {
	for _, v := range DefaultVoices {
		if v.ID == id {
			return v.Gender
		}
	}
	return ""
}
