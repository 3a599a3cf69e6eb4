package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq, rate, amp float64) beep.Streamer {
	var i int
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for j := range samples {
			v := amp * math.Sin(2*math.Pi*freq*float64(i)/rate)
			samples[j] = [2]float64{v, v}
			i++
		}
		return len(samples), true
	})
}

func sineWAV(t *testing.T, rate, n int) []byte {
	t.Helper()
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(16000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return EncodeWAV(pcm, rate, 1)
}

func drain(s beep.Streamer, n int) {
	buf := make([][2]float64, n)
	s.Stream(buf)
}

func TestAnalyser_Silence(t *testing.T) {
	a := NewAnalyser(beep.Silence(-1), DefaultAnalyserConfig())
	drain(a, 512)
	assert.Zero(t, a.Volume())
	assert.Len(t, a.Bytes(nil), 128)
}

func TestAnalyser_ToneIsAudible(t *testing.T) {
	a := NewAnalyser(sine(1000, 44100, 0.8), DefaultAnalyserConfig())
	drain(a, 1024)

	first := a.Volume()
	assert.Greater(t, first, 0.0)
	assert.LessOrEqual(t, first, 1.0)

	// Smoothing converges upward while the tone holds.
	var last float64
	for i := 0; i < 20; i++ {
		drain(a, 256)
		last = a.Volume()
	}
	assert.GreaterOrEqual(t, last, first)

	a.Reset(nil)
	assert.Zero(t, a.Volume())
	n, ok := a.Stream(make([][2]float64, 16))
	assert.Zero(t, n)
	assert.False(t, ok)
}

func TestAnalyser_ConfigDefaults(t *testing.T) {
	a := NewAnalyser(nil, AnalyserConfig{FFTSize: 100, Smoothing: 2, MinDB: -10, MaxDB: -20})
	assert.Equal(t, DefaultAnalyserConfig(), a.cfg)
}

func TestSimulatedSample_Bounds(t *testing.T) {
	for ms := int64(0); ms < 5000; ms += 7 {
		for _, r := range []float64{0, 0.5, 0.999} {
			v := SimulatedSample(ms, r)
			assert.GreaterOrEqual(t, v, 0.1)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
	assert.InDelta(t, 0.4, SimulatedSample(0, 0), 1e-9)
}

func TestSimulatedVolume_StartStop(t *testing.T) {
	s := NewSimulatedVolume()
	s.random = func() float64 { return 0.5 }
	assert.Zero(t, s.Volume())

	s.Start()
	s.Start()
	assert.GreaterOrEqual(t, s.Volume(), 0.1)

	s.Stop()
	assert.Zero(t, s.Volume())
	s.Stop()
}

func TestDecode(t *testing.T) {
	clip, err := DecodeWAV(sineWAV(t, 24000, 2400))
	require.NoError(t, err)
	assert.Equal(t, beep.SampleRate(24000), clip.Format.SampleRate)
	assert.Equal(t, 100*time.Millisecond, clip.Duration())

	_, err = DecodeWAV([]byte("nope"))
	assert.ErrorIs(t, err, ErrInvalidFormat)

	clip, err = DecodePCM16(make([]byte, 480), 24000)
	require.NoError(t, err)
	assert.Equal(t, 240, clip.Streamer.Len())
}

type fakeOutput struct {
	mu     sync.Mutex
	hold   bool
	inits  int
	clears int
	stop   chan struct{}
}

func (f *fakeOutput) Init(beep.SampleRate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return nil
}

func (f *fakeOutput) Play(s beep.Streamer) {
	if f.hold {
		return
	}
	stop := make(chan struct{})
	f.mu.Lock()
	f.stop = stop
	f.mu.Unlock()
	go func() {
		buf := make([][2]float64, 512)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, ok := s.Stream(buf); !ok {
				return
			}
		}
	}()
}

func (f *fakeOutput) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	if f.stop != nil {
		close(f.stop)
		f.stop = nil
	}
}

func TestPlayer_PlaysToEnd(t *testing.T) {
	out := &fakeOutput{}
	p := NewPlayer(out, DefaultAnalyserConfig(), 1, zerolog.Nop())

	clip, err := DecodeWAV(sineWAV(t, 22050, 4410))
	require.NoError(t, err)
	require.NoError(t, p.Play(context.Background(), clip))

	assert.Equal(t, 1, out.inits)
	assert.False(t, p.Playing())
	assert.Greater(t, p.Analyser().Volume(), 0.0)

	clip, err = DecodeWAV(sineWAV(t, 44100, 4410))
	require.NoError(t, err)
	p.volume = 0.5
	require.NoError(t, p.Play(context.Background(), clip))
	assert.Equal(t, 1, out.inits)
}

func TestPlayer_StopAndCancel(t *testing.T) {
	out := &fakeOutput{hold: true}
	p := NewPlayer(out, DefaultAnalyserConfig(), 1, zerolog.Nop())

	clip, err := DecodeWAV(sineWAV(t, 22050, 4410))
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- p.Play(context.Background(), clip) }()
	require.Eventually(t, p.Playing, time.Second, 5*time.Millisecond)

	p.Stop()
	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, ErrStopped))
	case <-time.After(time.Second):
		t.Fatal("Play did not return after Stop")
	}
	assert.Equal(t, 1, out.clears)

	clip, err = DecodeWAV(sineWAV(t, 22050, 4410))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { errc <- p.Play(ctx, clip) }()
	require.Eventually(t, p.Playing, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestGainToVolume(t *testing.T) {
	assert.InDelta(t, -1, gainToVolume(0.5), 1e-9)
	assert.Equal(t, -10.0, gainToVolume(0))
}

func TestPlayer_SetVolumeClamps(t *testing.T) {
	p := NewPlayer(&fakeOutput{}, DefaultAnalyserConfig(), 0.5, zerolog.Nop())
	assert.InDelta(t, 0.5, p.Volume(), 1e-9)
	p.SetVolume(3)
	assert.InDelta(t, 1, p.Volume(), 1e-9)
	p.SetVolume(-1)
	assert.InDelta(t, 0, p.Volume(), 1e-9)
}

func TestPlayer_SampleRateFixedAfterInit(t *testing.T) {
	p := NewPlayer(&fakeOutput{}, DefaultAnalyserConfig(), 1, zerolog.Nop())
	p.SetSampleRate(48000)
	assert.Equal(t, beep.SampleRate(48000), p.rate)

	clip, err := DecodeWAV(sineWAV(t, 22050, 441))
	require.NoError(t, err)
	require.NoError(t, p.Play(context.Background(), clip))

	p.SetSampleRate(22050)
	assert.Equal(t, beep.SampleRate(48000), p.rate)
}

func BenchmarkAnalyser_Volume(b *testing.B) {
	a := NewAnalyser(sine(440, 44100, 0.5), DefaultAnalyserConfig())
	buf := make([][2]float64, 735) // one 60 Hz frame at 44.1 kHz
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.Stream(buf)
		_ = a.Volume()
	}
}
