package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/normanking/talkingavatar/internal/audio"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toneWAV(n int) []byte {
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(12000 * math.Sin(2*math.Pi*220*float64(i)/24000))
	}
	return audio.EncodeWAV(pcm, 24000, 1)
}

func TestRemoteProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tts/generate":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if !IsKnownVoice(body["voice"]) {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"Invalid voice. Must be one of: nova, aurora"}`)
				return
			}
			if body["text"] == "boom" {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"error":"model crashed"}`)
				return
			}
			w.Header().Set("Content-Type", "audio/wav")
			w.Write(toneWAV(240))
		case "/tts/voices":
			json.NewEncoder(w).Encode(map[string]any{"voices": DefaultVoices[:2]})
		case "/health":
			fmt.Fprint(w, `{"status":"healthy","model_loaded":false}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.APIURL = srv.URL + "/"
	p := NewRemoteProvider(cfg, zerolog.Nop())
	ctx := context.Background()

	resp, err := p.Synthesize(ctx, &SynthesizeRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "wav", resp.Format)
	assert.Equal(t, "nova", resp.VoiceID)
	assert.Equal(t, ProviderRemote, resp.Provider)

	_, err = p.Synthesize(ctx, &SynthesizeRequest{Text: "hello", VoiceID: "bogus"})
	assert.ErrorIs(t, err, ErrVoiceNotFound)

	_, err = p.Synthesize(ctx, &SynthesizeRequest{Text: "boom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")

	_, err = p.Synthesize(ctx, &SynthesizeRequest{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyText)

	voices, err := p.ListVoices(ctx)
	require.NoError(t, err)
	assert.Len(t, voices, 2)

	assert.NoError(t, p.Health(ctx))
}

func TestRemoteProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewRemoteProvider(Config{APIURL: url}, zerolog.Nop())
	_, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "hi"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.ErrorIs(t, p.Health(context.Background()), ErrProviderUnavailable)
}

func TestOpenAIProvider(t *testing.T) {
	var got speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write(toneWAV(240))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{OpenAIAPIKey: "sk-test", Voice: "atlas"}, zerolog.Nop())
	p.url = srv.URL

	resp, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "wav", got.ResponseFormat)
	assert.Equal(t, VoiceOnyx, got.Voice)
	assert.Equal(t, "tts-1", got.Model)
	assert.Equal(t, "atlas", resp.VoiceID)

	t.Setenv("OPENAI_API_KEY", "")
	none := NewOpenAIProvider(Config{}, zerolog.Nop())
	_, err = none.Synthesize(context.Background(), &SynthesizeRequest{Text: "hello"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestOpenAIProvider_Errors(t *testing.T) {
	status := http.StatusUnauthorized
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{OpenAIAPIKey: "sk-bad"}, zerolog.Nop())
	p.url = srv.URL

	_, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "hello"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "Incorrect API key provided")

	status = http.StatusBadRequest
	_, err = p.Synthesize(context.Background(), &SynthesizeRequest{Text: "hello"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)
	var se *statusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)

	_, err = p.Synthesize(context.Background(), &SynthesizeRequest{Text: strings.Repeat("a", openAIMaxInput+1)})
	assert.ErrorIs(t, err, ErrTextTooLong)
}

func TestWAVRate(t *testing.T) {
	assert.Equal(t, 16000, wavRate(audio.EncodeWAV([]int16{0, 0}, 16000, 1)))
	assert.Equal(t, defaultWAVRate, wavRate([]byte("not a wav")))
}

func TestMapOpenAIVoice(t *testing.T) {
	for _, v := range DefaultVoices {
		assert.NotEmpty(t, mapOpenAIVoice(v.ID), v.ID)
	}
	assert.Equal(t, VoiceShimmer, mapOpenAIVoice("luna"))
	assert.Equal(t, VoiceEcho, mapOpenAIVoice(VoiceEcho))
	assert.Equal(t, VoiceNova, mapOpenAIVoice("unknown"))
}

type recordedRun struct {
	name string
	args []string
}

func fakeLocal(command string, available bool) (*LocalProvider, *[]recordedRun) {
	var runs []recordedRun
	p := NewLocalProvider(Config{LocalCommand: command}, zerolog.Nop())
	p.lookPath = func(string) (string, error) {
		if !available {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + command, nil
	}
	p.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		runs = append(runs, recordedRun{name, args})
		for i, a := range args {
			if (a == "-w" || a == "-o") && i+1 < len(args) {
				return nil, os.WriteFile(args[i+1], toneWAV(240), 0o644)
			}
		}
		return nil, nil
	}
	return p, &runs
}

func TestLocalProvider_Speak(t *testing.T) {
	p, runs := fakeLocal(CommandEspeakNG, true)
	require.NoError(t, p.Speak(context.Background(), "hello", "luna"))
	require.Len(t, *runs, 1)
	assert.Equal(t, []string{"-v", "en-us+f3", "hello"}, (*runs)[0].args)

	require.NoError(t, p.Speak(context.Background(), "hello", "atlas"))
	assert.Equal(t, "en-us+m3", (*runs)[1].args[1])

	say, runs := fakeLocal(CommandSay, true)
	require.NoError(t, say.Speak(context.Background(), "hello", "orion"))
	assert.Equal(t, []string{"-v", "Alex", "hello"}, (*runs)[0].args)

	missing, _ := fakeLocal(CommandEspeakNG, false)
	assert.False(t, missing.IsAvailable())
	assert.ErrorIs(t, missing.Speak(context.Background(), "hello", ""), ErrProviderUnavailable)
}

func TestLocalProvider_Synthesize(t *testing.T) {
	p, runs := fakeLocal("/opt/bin/espeak-ng", true)
	resp, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "hello", VoiceID: "nova"})
	require.NoError(t, err)
	assert.Equal(t, "wav", resp.Format)
	assert.Equal(t, toneWAV(240), resp.Audio)
	assert.Equal(t, "-w", (*runs)[0].args[2])

	say, runs := fakeLocal(CommandSay, true)
	_, err = say.Synthesize(context.Background(), &SynthesizeRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Contains(t, (*runs)[0].args, "--data-format=LEI16@22050")
}

// drainOutput plays instantly, or holds streams until cleared.
type drainOutput struct {
	hold bool
}

func (o *drainOutput) Init(beep.SampleRate) error { return nil }

func (o *drainOutput) Play(s beep.Streamer) {
	if o.hold {
		return
	}
	go func() {
		buf := make([][2]float64, 512)
		for {
			if _, ok := s.Stream(buf); !ok {
				return
			}
		}
	}()
}

func (o *drainOutput) Clear() {}

type fakeProvider struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	f.mu.Lock()
	f.texts = append(f.texts, req.Text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &SynthesizeResponse{Audio: toneWAV(2400), Format: "wav", SampleRate: 24000, Provider: "fake"}, nil
}

func (f *fakeProvider) ListVoices(context.Context) ([]Voice, error) { return nil, f.err }
func (f *fakeProvider) Health(context.Context) error                { return f.err }
func (f *fakeProvider) Capabilities() ProviderCapabilities {
	return ProviderCapabilities{Tappable: true}
}

type blockingSpeaker struct {
	available bool
	calls     chan string
}

func (b *blockingSpeaker) IsAvailable() bool { return b.available }

func (b *blockingSpeaker) Speak(ctx context.Context, text, voice string) error {
	b.calls <- text
	<-ctx.Done()
	return ctx.Err()
}

func collect(b *bus.EventBus, types ...bus.EventType) chan bus.Event {
	ch := make(chan bus.Event, 16)
	b.SubscribeMultiple(types, func(e bus.Event) { ch <- e })
	return ch
}

func nextEvent(t *testing.T, ch chan bus.Event) bus.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return bus.Event{}
}

func TestPipeline_SpeaksThroughPlayer(t *testing.T) {
	b := bus.NewEventBus()
	events := collect(b, bus.EventTypeTTSStarted, bus.EventTypeTTSStopped)

	prov := &fakeProvider{}
	player := audio.NewPlayer(&drainOutput{}, audio.DefaultAnalyserConfig(), 1, zerolog.Nop())
	p := NewPipeline(DefaultConfig(), prov, nil, player, b, zerolog.Nop())

	require.NoError(t, p.Speak(context.Background(), "m1", "**Hello** there"))
	assert.Equal(t, []string{"Hello there"}, prov.texts)

	started := nextEvent(t, events)
	stopped := nextEvent(t, events)
	if started.Type != bus.EventTypeTTSStarted {
		started, stopped = stopped, started
	}
	assert.Equal(t, bus.EventTypeTTSStarted, started.Type)
	assert.Equal(t, "m1", started.Data["id"])
	assert.Equal(t, bus.EventTypeTTSStopped, stopped.Type)

	s := p.Snapshot()
	assert.False(t, s.IsSpeaking)
	assert.Zero(t, s.AudioVolume)
}

func TestPipeline_StopInterrupts(t *testing.T) {
	prov := &fakeProvider{}
	player := audio.NewPlayer(&drainOutput{hold: true}, audio.DefaultAnalyserConfig(), 1, zerolog.Nop())
	p := NewPipeline(DefaultConfig(), prov, nil, player, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- p.Speak(context.Background(), "m2", "a long reply") }()

	require.Eventually(t, func() bool { return p.Snapshot().IsSpeaking }, 2*time.Second, 5*time.Millisecond)
	s := p.Snapshot()
	assert.Equal(t, "m2", s.MessageID)
	assert.Equal(t, "fake", s.Provider)
	assert.False(t, s.Simulated)

	p.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return after Stop")
	}
	assert.False(t, p.Snapshot().IsSpeaking)
}

func TestPipeline_FallbackToLocal(t *testing.T) {
	b := bus.NewEventBus()
	fallbacks := collect(b, bus.EventTypeTTSFallback)

	prov := &fakeProvider{err: ErrProviderUnavailable}
	local := &blockingSpeaker{available: true, calls: make(chan string, 1)}
	p := NewPipeline(DefaultConfig(), prov, local, nil, b, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- p.Speak(context.Background(), "m3", "Hi `there`") }()

	assert.Equal(t, "Hi there", <-local.calls)
	nextEvent(t, fallbacks)

	require.Eventually(t, func() bool {
		s := p.Snapshot()
		return s.IsSpeaking && s.AudioVolume >= 0.1 && s.AudioVolume <= 1
	}, 2*time.Second, 20*time.Millisecond)
	s := p.Snapshot()
	assert.True(t, s.Simulated)
	assert.Equal(t, ProviderLocal, s.Provider)

	p.Stop()
	assert.NoError(t, <-done)
	assert.False(t, p.Snapshot().IsSpeaking)
}

func TestPipeline_SimulatesWithoutSynthesizer(t *testing.T) {
	p := NewPipeline(DefaultConfig(), nil, &blockingSpeaker{}, nil, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- p.Speak(context.Background(), "m4", "one two three") }()

	require.Eventually(t, func() bool { return p.Snapshot().IsSpeaking }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "simulated", p.Snapshot().Provider)

	// A new utterance replaces the old one.
	go func() { done <- p.Speak(context.Background(), "m5", "four") }()
	assert.NoError(t, <-done)
	require.Eventually(t, func() bool { return p.Snapshot().MessageID == "m5" }, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	assert.NoError(t, <-done)
}

func TestPipeline_NoFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseFallback = false
	p := NewPipeline(cfg, &fakeProvider{err: ErrProviderUnavailable}, nil, nil, nil, zerolog.Nop())

	err := p.Speak(context.Background(), "m6", "hello")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.False(t, p.Snapshot().IsSpeaking)
}

func TestPipeline_EmptyTextIsNoop(t *testing.T) {
	prov := &fakeProvider{}
	p := NewPipeline(DefaultConfig(), prov, nil, nil, nil, zerolog.Nop())
	require.NoError(t, p.Speak(context.Background(), "m7", "```\ncode only\n```"))
	assert.Empty(t, prov.texts)
}

func TestPipeline_Voices(t *testing.T) {
	p := NewPipeline(DefaultConfig(), &fakeProvider{err: errors.New("down")}, nil, nil, nil, zerolog.Nop())
	assert.Equal(t, DefaultVoices, p.Voices(context.Background()))

	p.SetVoice("luna")
	assert.Equal(t, "luna", p.Voice())
}

func TestEstimate(t *testing.T) {
	p := NewPipeline(Config{WordsPerMinute: 120}, nil, nil, nil, nil, zerolog.Nop())
	assert.Equal(t, time.Second, p.estimate("hi"))
	assert.Equal(t, 5*time.Second, p.estimate("a b c d e f g h i j"))
}
