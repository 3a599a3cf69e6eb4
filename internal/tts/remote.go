package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RemoteProvider uses the speech server's HTTP API
type RemoteProvider struct {
	baseURL    string
	voice      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewRemoteProvider creates a provider for the speech server at baseURL.
func NewRemoteProvider(cfg Config, logger zerolog.Logger) *RemoteProvider {
	def := DefaultConfig()
	if cfg.APIURL == "" {
		cfg.APIURL = def.APIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Voice == "" {
		cfg.Voice = def.Voice
	}

	return &RemoteProvider{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		voice:      cfg.Voice,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("provider", "remote").Logger(),
	}
}

// Name returns the provider identifier
func (p *RemoteProvider) Name() string {
	return ProviderRemote
}

// Synthesize converts text to a 24 kHz mono WAV via POST /tts/generate
func (p *RemoteProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	startTime := time.Now()

	voice := req.VoiceID
	if voice == "" {
		voice = p.voice
	}

	payload, err := json.Marshal(map[string]string{
		"text":  req.Text,
		"voice": voice,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.baseURL + "/tts/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.Debug().
		Str("url", url).
		Str("voice", voice).
		Int("textLen", len(req.Text)).
		Msg("Sending TTS request")

	data, err := fetchWAV(p.httpClient, httpReq)
	var se *statusError
	if errors.As(err, &se) {
		if se.Code == http.StatusBadRequest && strings.Contains(se.Msg, "Invalid voice") {
			return nil, fmt.Errorf("%w: %s", ErrVoiceNotFound, voice)
		}
		return nil, fmt.Errorf("speech server returned %w", err)
	}
	if err != nil {
		return nil, err
	}

	resp := wavResponse(data, voice, p.Name(), startTime)
	p.logger.Info().
		Int("audio_bytes", len(data)).
		Dur("processing_time", resp.ProcessingTime).
		Msg("TTS synthesis complete")
	return resp, nil
}

// ListVoices asks the server for its voices
func (p *RemoteProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/tts/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech server returned status %d", resp.StatusCode)
	}

	var out struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	return out.Voices, nil
}

// Health checks if the speech server is up
func (p *RemoteProvider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var status struct {
		Status      string `json:"status"`
		ModelLoaded bool   `json:"model_loaded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err == nil {
		p.logger.Debug().
			Str("status", status.Status).
			Bool("model_loaded", status.ModelLoaded).
			Msg("Speech server health check passed")
	}
	return nil
}

// Capabilities returns the provider's feature set
func (p *RemoteProvider) Capabilities() ProviderCapabilities {
	return ProviderCapabilities{
		MaxTextLength: 2000,
		AvgLatencyMs:  1500,
		Tappable:      true,
	}
}
