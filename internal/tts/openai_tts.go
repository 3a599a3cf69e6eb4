package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// OpenAI voices.
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceOnyx    = "onyx"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

const (
	openAISpeechURL = "https://api.openai.com/v1/audio/speech"
	openAIMaxInput  = 4096
)

// openAIVoices maps speech server voices onto the closest OpenAI voice.
var openAIVoices = map[string]string{
	"nova":    VoiceNova,
	"ember":   VoiceNova,
	"aurora":  VoiceShimmer,
	"luna":    VoiceShimmer,
	"stellar": VoiceAlloy,
	"atlas":   VoiceOnyx,
	"orion":   VoiceEcho,
	"phoenix": VoiceFable,

	VoiceAlloy:   VoiceAlloy,
	VoiceEcho:    VoiceEcho,
	VoiceFable:   VoiceFable,
	VoiceOnyx:    VoiceOnyx,
	VoiceShimmer: VoiceShimmer,
}

func mapOpenAIVoice(id string) string {
	if v, ok := openAIVoices[id]; ok {
		return v
	}
	return VoiceNova
}

// OpenAIProvider speaks through /v1/audio/speech, keeping the speech
// server's voice names.
type OpenAIProvider struct {
	apiKey string
	url    string
	model  string
	voice  string
	client *http.Client
	log    zerolog.Logger
}

// NewOpenAIProvider reads the key from cfg or OPENAI_API_KEY.
func NewOpenAIProvider(cfg Config, log zerolog.Logger) *OpenAIProvider {
	def := DefaultConfig()
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = def.OpenAIModel
	}
	if cfg.Voice == "" {
		cfg.Voice = def.Voice
	}
	key := cfg.OpenAIAPIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	return &OpenAIProvider{
		apiKey: key,
		url:    openAISpeechURL,
		model:  cfg.OpenAIModel,
		voice:  cfg.Voice,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log.With().Str("provider", ProviderOpenAI).Logger(),
	}
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

// IsAvailable reports whether an API key is configured.
func (p *OpenAIProvider) IsAvailable() bool { return p.apiKey != "" }

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	switch {
	case p.apiKey == "":
		return nil, fmt.Errorf("%w: OpenAI API key not configured", ErrProviderUnavailable)
	case req.Text == "":
		return nil, ErrEmptyText
	case len(req.Text) > openAIMaxInput:
		return nil, ErrTextTooLong
	}
	started := time.Now()

	voice := req.VoiceID
	if voice == "" {
		voice = p.voice
	}
	body, err := json.Marshal(speechRequest{
		Model:          p.model,
		Input:          req.Text,
		Voice:          mapOpenAIVoice(voice),
		ResponseFormat: "wav",
		Speed:          req.Speed,
	})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	data, err := fetchWAV(p.client, httpReq)
	var se *statusError
	if errors.As(err, &se) {
		p.log.Error().Int("status", se.Code).Str("error", se.Msg).Msg("OpenAI speech request failed")
		if se.Code == http.StatusUnauthorized || se.Code == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, se.Msg)
		}
		return nil, fmt.Errorf("OpenAI speech: %w", err)
	}
	if err != nil {
		return nil, err
	}

	resp := wavResponse(data, voice, p.Name(), started)
	p.log.Debug().
		Str("voice", voice).
		Int("audio_bytes", len(data)).
		Dur("took", resp.ProcessingTime).
		Msg("Speech synthesized")
	return resp, nil
}

// ListVoices returns the speech server voices, all of which map to an
// OpenAI voice.
func (p *OpenAIProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	return DefaultVoices, nil
}

func (p *OpenAIProvider) Health(ctx context.Context) error {
	if p.apiKey == "" {
		return ErrProviderUnavailable
	}
	return nil
}

func (p *OpenAIProvider) Capabilities() ProviderCapabilities {
	return ProviderCapabilities{
		MaxTextLength: openAIMaxInput,
		AvgLatencyMs:  500,
		Tappable:      true,
	}
}
