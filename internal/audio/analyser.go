package audio

import (
	"math"
	"sync"

	"github.com/gopxl/beep/v2"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// AnalyserConfig mirrors the frequency analyser knobs.
type AnalyserConfig struct {
	FFTSize   int     `mapstructure:"fft_size" yaml:"fft_size"`
	Smoothing float64 `mapstructure:"smoothing" yaml:"smoothing"`
	MinDB     float64 `mapstructure:"min_db" yaml:"min_db"`
	MaxDB     float64 `mapstructure:"max_db" yaml:"max_db"`
}

// DefaultAnalyserConfig returns sensible defaults
func DefaultAnalyserConfig() AnalyserConfig {
	return AnalyserConfig{
		FFTSize:   256,
		Smoothing: 0.8,
		MinDB:     -100,
		MaxDB:     -30,
	}
}

// Analyser taps a streamer on its way to the speaker. Volume is the mean of
// the byte-scaled frequency bins divided by 255.
type Analyser struct {
	mu  sync.Mutex
	cfg AnalyserConfig

	src beep.Streamer

	ring []float64
	pos  int

	fft      *fourier.FFT
	frame    []float64
	coeffs   []complex128
	smoothed []float64
}

// NewAnalyser wraps src. A nil src can be set later with Reset.
func NewAnalyser(src beep.Streamer, cfg AnalyserConfig) *Analyser {
	def := DefaultAnalyserConfig()
	if cfg.FFTSize <= 0 || cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		cfg.FFTSize = def.FFTSize
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = def.Smoothing
	}
	if cfg.MaxDB <= cfg.MinDB {
		cfg.MinDB, cfg.MaxDB = def.MinDB, def.MaxDB
	}

	n := cfg.FFTSize
	return &Analyser{
		cfg:      cfg,
		src:      src,
		ring:     make([]float64, n),
		fft:      fourier.NewFFT(n),
		frame:    make([]float64, n),
		coeffs:   make([]complex128, n/2+1),
		smoothed: make([]float64, n/2),
	}
}

// Reset swaps the tapped streamer and clears the sample history.
func (a *Analyser) Reset(src beep.Streamer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.src = src
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

// Stream implements beep.Streamer.
func (a *Analyser) Stream(samples [][2]float64) (int, bool) {
	a.mu.Lock()
	src := a.src
	a.mu.Unlock()
	if src == nil {
		return 0, false
	}

	n, ok := src.Stream(samples)

	a.mu.Lock()
	for _, s := range samples[:n] {
		a.ring[a.pos] = (s[0] + s[1]) / 2
		a.pos = (a.pos + 1) % len(a.ring)
	}
	a.mu.Unlock()
	return n, ok
}

// Err implements beep.Streamer.
func (a *Analyser) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.src == nil {
		return nil
	}
	return a.src.Err()
}

// Bytes fills dst with the current frequency bins scaled to 0..255 and
// advances the smoothing state, like one analyser read.
func (a *Analyser) Bytes(dst []byte) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.ring)
	for i := range a.frame {
		a.frame[i] = a.ring[(a.pos+i)%n]
	}
	window.Blackman(a.frame)
	a.fft.Coefficients(a.coeffs, a.frame)

	bins := len(a.smoothed)
	if cap(dst) < bins {
		dst = make([]byte, bins)
	}
	dst = dst[:bins]

	tau := a.cfg.Smoothing
	span := a.cfg.MaxDB - a.cfg.MinDB
	for k := 0; k < bins; k++ {
		mag := cmplxAbs(a.coeffs[k]) / float64(n)
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag

		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := 255 * (db - a.cfg.MinDB) / span
		dst[k] = byte(clamp(v, 0, 255))
	}
	return dst
}

// Volume implements VolumeSource.
func (a *Analyser) Volume() float64 {
	bins := a.Bytes(nil)
	if len(bins) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bins {
		sum += float64(b)
	}
	return clamp(sum/float64(len(bins))/255, 0, 1)
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
