package avatar3d

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// Tuning holds every empirically tuned constant of the facial animator.
type Tuning struct {
	// Mouth
	VolumeThreshold float32 `mapstructure:"volume_threshold" yaml:"volume_threshold"`
	VolumeGain      float32 `mapstructure:"volume_gain" yaml:"volume_gain"`
	VolumeCeiling   float32 `mapstructure:"volume_ceiling" yaml:"volume_ceiling"`
	VariationFreq   float32 `mapstructure:"variation_freq" yaml:"variation_freq"`
	VariationAmp    float32 `mapstructure:"variation_amp" yaml:"variation_amp"`
	CadenceFreq     float32 `mapstructure:"cadence_freq" yaml:"cadence_freq"`
	CadenceAmp      float32 `mapstructure:"cadence_amp" yaml:"cadence_amp"`
	CadenceBase     float32 `mapstructure:"cadence_base" yaml:"cadence_base"`
	MinOpening      float32 `mapstructure:"min_opening" yaml:"min_opening"`

	// Scale tiers
	NodeWidthBase    float32 `mapstructure:"node_width_base" yaml:"node_width_base"`
	NodeWidthGain    float32 `mapstructure:"node_width_gain" yaml:"node_width_gain"`
	ModelHeightGain  float32 `mapstructure:"model_height_gain" yaml:"model_height_gain"`
	ModelWidthGain   float32 `mapstructure:"model_width_gain" yaml:"model_width_gain"`
	ModelScaleCentre float32 `mapstructure:"model_scale_centre" yaml:"model_scale_centre"`

	// Head and eyes
	LookGainX     float32 `mapstructure:"look_gain_x" yaml:"look_gain_x"`
	LookGainY     float32 `mapstructure:"look_gain_y" yaml:"look_gain_y"`
	YawSmoothing  float32 `mapstructure:"yaw_smoothing" yaml:"yaw_smoothing"`
	PitchLimit    float32 `mapstructure:"pitch_limit" yaml:"pitch_limit"`
	EyeGain       float32 `mapstructure:"eye_gain" yaml:"eye_gain"`
	EyeSmoothing  float32 `mapstructure:"eye_smoothing" yaml:"eye_smoothing"`
	IdleYawDrift  float32 `mapstructure:"idle_yaw_drift" yaml:"idle_yaw_drift"`
	EmotionWeight float32 `mapstructure:"emotion_weight" yaml:"emotion_weight"`
}

// DefaultTuning returns the stock animation feel.
func DefaultTuning() Tuning {
	return Tuning{
		VolumeThreshold: 0.1,
		VolumeGain:      2.5,
		VolumeCeiling:   0.8,
		VariationFreq:   10,
		VariationAmp:    0.2,
		CadenceFreq:     8,
		CadenceAmp:      0.6,
		CadenceBase:     0.4,
		MinOpening:      0.3,

		NodeWidthBase:    0.8,
		NodeWidthGain:    0.2,
		ModelHeightGain:  0.1,
		ModelWidthGain:   0.05,
		ModelScaleCentre: 0.5,

		LookGainX:     0.2,
		LookGainY:     0.15,
		YawSmoothing:  0.1,
		PitchLimit:    0.2,
		EyeGain:       0.005,
		EyeSmoothing:  0.1,
		IdleYawDrift:  0.0005,
		EmotionWeight: 0.5,
	}
}

// State is the smoothing state the animator carries between frames.
type State struct {
	Yaw        float32
	Pitch      float32
	EyeOffsets [2]mgl32.Vec2
	// LastTime is the elapsed time of the last frame that advanced smoothing.
	LastTime float64
	Frames   int
	Opening  float32
}

// Animator maps frame inputs onto a control set. Update must only be
// called from the frame loop; tuning may be swapped from any goroutine.
type Animator struct {
	mu     sync.RWMutex
	tuning Tuning

	state State
}

func NewAnimator(t Tuning) *Animator {
	return &Animator{tuning: t}
}

func (a *Animator) Tuning() Tuning {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tuning
}

func (a *Animator) SetTuning(t Tuning) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tuning = t
}

// State returns a copy of the smoothing state.
func (a *Animator) State() State {
	return a.state
}

// Reset clears smoothing state, used when a new asset becomes active.
func (a *Animator) Reset() {
	a.state = State{}
}

// Update applies one frame. elapsed is the loop clock in seconds. Smoothing
// and idle drift advance once per distinct clock value, so repeating a call
// with the same inputs and clock leaves every control unchanged.
func (a *Animator) Update(in FrameInputs, elapsed float64, c *Controls) {
	if c == nil {
		return
	}
	in = in.Normalized()
	t := a.Tuning()

	advance := a.state.Frames == 0 || elapsed > a.state.LastTime

	opening := Opening(in, elapsed, t)
	a.state.Opening = opening
	applyMouth(c.Active(), in.Speaking, opening, t)

	if advance {
		a.track(in.Pointer, t)
		if !in.Speaking {
			a.idle(t)
		}
		a.state.LastTime = elapsed
		a.state.Frames++
	}
	a.pose(c)

	applyEmotion(c.Mouth, in.Emotion, t)
}
