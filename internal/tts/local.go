package tts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// Supported local synthesizers.
const (
	CommandSay      = "say"
	CommandEspeakNG = "espeak-ng"
)

// LocalProvider speaks with the operating system's synthesizer: say on
// macOS, espeak-ng elsewhere.
type LocalProvider struct {
	command string
	voice   string
	logger  zerolog.Logger

	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewLocalProvider picks cfg.LocalCommand or the platform default.
func NewLocalProvider(cfg Config, logger zerolog.Logger) *LocalProvider {
	command := cfg.LocalCommand
	if command == "" {
		command = CommandEspeakNG
		if runtime.GOOS == "darwin" {
			command = CommandSay
		}
	}
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultConfig().Voice
	}

	return &LocalProvider{
		command:  command,
		voice:    voice,
		logger:   logger.With().Str("provider", "local-tts").Str("command", command).Logger(),
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Name returns the provider identifier
func (p *LocalProvider) Name() string {
	return ProviderLocal
}

// Command returns the synthesizer binary in use.
func (p *LocalProvider) Command() string { return p.command }

// IsAvailable checks that the synthesizer binary exists
func (p *LocalProvider) IsAvailable() bool {
	_, err := p.lookPath(p.command)
	return err == nil
}

// say voices for the speech server voice IDs
var sayVoiceMap = map[string]string{
	"nova":    "Samantha",
	"aurora":  "Karen",
	"stellar": "Victoria",
	"luna":    "Serena",
	"ember":   "Samantha",
	"atlas":   "Daniel",
	"orion":   "Alex",
	"phoenix": "Oliver",
}

// voiceArgs maps a voice ID to the synthesizer's voice flag.
func (p *LocalProvider) voiceArgs(voiceID string) []string {
	if voiceID == "" {
		voiceID = p.voice
	}
	switch binaryName(p.command) {
	case CommandSay:
		v, ok := sayVoiceMap[voiceID]
		if !ok {
			v = voiceID
		}
		return []string{"-v", v}
	case CommandEspeakNG:
		variant := "en-us"
		switch voiceGender(voiceID) {
		case "Female":
			variant += "+f3"
		case "Male":
			variant += "+m3"
		}
		return []string{"-v", variant}
	}
	return nil
}

// Speak plays text straight through the system audio, blocking until done.
// Nothing can measure its volume.
func (p *LocalProvider) Speak(ctx context.Context, text, voiceID string) error {
	if !p.IsAvailable() {
		return fmt.Errorf("%w: %s not found", ErrProviderUnavailable, p.command)
	}
	if text == "" {
		return ErrEmptyText
	}

	args := append(p.voiceArgs(voiceID), text)
	p.logger.Debug().Int("textLen", len(text)).Msg("Speaking directly")

	if out, err := p.run(ctx, p.command, args...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s failed: %w: %s", p.command, err, out)
	}
	return nil
}

// Synthesize renders text to a WAV file and returns its bytes
func (p *LocalProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if !p.IsAvailable() {
		return nil, fmt.Errorf("%w: %s not found", ErrProviderUnavailable, p.command)
	}
	if req.Text == "" {
		return nil, ErrEmptyText
	}
	startTime := time.Now()

	tmp, err := os.CreateTemp("", "tts-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	args := p.voiceArgs(req.VoiceID)
	sampleRate := 22050
	switch binaryName(p.command) {
	case CommandSay:
		args = append(args, "-o", tmpPath, "--data-format=LEI16@22050")
	default:
		args = append(args, "-w", tmpPath)
	}
	args = append(args, req.Text)

	if out, err := p.run(ctx, p.command, args...); err != nil {
		p.logger.Error().Err(err).Str("output", string(out)).Msg("Local TTS failed")
		return nil, fmt.Errorf("%s failed: %w", p.command, err)
	}

	audioData, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}

	processingTime := time.Since(startTime)
	p.logger.Info().
		Int("audioBytes", len(audioData)).
		Dur("processingTime", processingTime).
		Msg("Local TTS synthesis complete")

	return &SynthesizeResponse{
		Audio:          audioData,
		Format:         "wav",
		SampleRate:     sampleRate,
		ProcessingTime: processingTime,
		VoiceID:        req.VoiceID,
		Provider:       p.Name(),
	}, nil
}

// ListVoices returns the speech server voices mapped onto local ones
func (p *LocalProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	return DefaultVoices, nil
}

// Health checks if the synthesizer is installed
func (p *LocalProvider) Health(ctx context.Context) error {
	if !p.IsAvailable() {
		return ErrProviderUnavailable
	}
	return nil
}

// Capabilities returns local TTS capabilities
func (p *LocalProvider) Capabilities() ProviderCapabilities {
	return ProviderCapabilities{
		MaxTextLength: 10000,
		AvgLatencyMs:  200,
		IsLocal:       true,
	}
}

// binaryName strips any directory from a configured command path.
func binaryName(cmd string) string {
	return filepath.Base(cmd)
}
