package avatar3d

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/talkingavatar/internal/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-5

func TestOpening_Bounds(t *testing.T) {
	tun := DefaultTuning()
	for v := float32(0); v <= 1.0001; v += 0.05 {
		for ts := 0.0; ts < 3; ts += 0.037 {
			o := Opening(FrameInputs{Speaking: true, Volume: v}, ts, tun)
			require.GreaterOrEqual(t, o, float32(0.3), "v=%v t=%v", v, ts)
			require.LessOrEqual(t, o, float32(1.0), "v=%v t=%v", v, ts)
		}
	}
}

func TestOpening_NotSpeaking(t *testing.T) {
	assert.Equal(t, float32(0), Opening(FrameInputs{Volume: 0.9}, 1.3, DefaultTuning()))
}

func TestOpening_Scenarios(t *testing.T) {
	tun := DefaultTuning()

	t.Run("loud volume", func(t *testing.T) {
		for ts := 0.0; ts < 2; ts += 0.05 {
			o := Opening(FrameInputs{Speaking: true, Volume: 0.8}, ts, tun)
			want := float32(math.Min(1, 0.8+math.Abs(math.Sin(ts*10))*0.2))
			assert.InDelta(t, want, o, eps)
			assert.GreaterOrEqual(t, o, float32(0.8))
		}
	})

	t.Run("silent stream uses cadence", func(t *testing.T) {
		for ts := 0.0; ts < 2; ts += 0.05 {
			o := Opening(FrameInputs{Speaking: true, Volume: 0}, ts, tun)
			want := float32(math.Abs(math.Sin(ts*8))*0.6 + 0.4)
			assert.InDelta(t, want, o, eps)
			assert.GreaterOrEqual(t, o, float32(0.4))
		}
	})

	t.Run("volume is clamped", func(t *testing.T) {
		hi := Opening(FrameInputs{Speaking: true, Volume: 7}, 0.5, tun)
		one := Opening(FrameInputs{Speaking: true, Volume: 1}, 0.5, tun)
		assert.Equal(t, one, hi)

		neg := Opening(FrameInputs{Speaking: true, Volume: -3}, 0.5, tun)
		zero := Opening(FrameInputs{Speaking: true, Volume: 0}, 0.5, tun)
		assert.Equal(t, zero, neg)
	})

	t.Run("overridable constants", func(t *testing.T) {
		custom := tun
		custom.MinOpening = 0.9
		o := Opening(FrameInputs{Speaking: true, Volume: 0.2}, 0, custom)
		assert.InDelta(t, 0.9, o, eps)
	})
}

func TestAnimator_BlendShapeTier(t *testing.T) {
	mesh := morphMesh("Face", "jawOpen", "Smile", "Frown")
	c := Introspect(assetOf(mesh))
	a := NewAnimator(DefaultTuning())

	a.Update(FrameInputs{Speaking: true, Volume: 0.8}, 0.25, c)
	assert.GreaterOrEqual(t, mesh.Influences[0], float32(0.8))

	a.Update(FrameInputs{Speaking: false, Volume: 0.8}, 0.3, c)
	assert.Equal(t, float32(0), mesh.Influences[0])
}

func TestAnimator_NodeScaleTier(t *testing.T) {
	_, c := BuildPlaceholder()
	mouth := c.Mouth.(NodeScale).Node
	a := NewAnimator(DefaultTuning())

	a.Update(FrameInputs{Speaking: true, Volume: 0}, 0, c)
	// sin(0) = 0, so cadence gives 0.4.
	assert.InDelta(t, 0.1+0.4*0.9, mouth.Scale.Y(), eps)
	assert.InDelta(t, 0.8+0.4*0.2, mouth.Scale.X(), eps)

	a.Update(FrameInputs{}, 0.1, c)
	assert.InDelta(t, 0.1, mouth.Scale.Y(), eps)
	assert.InDelta(t, 0.8, mouth.Scale.X(), eps)
}

func TestAnimator_ModelScaleTier(t *testing.T) {
	asset := assetOf(scene.NewNode("Body", scene.KindMesh))
	c := Introspect(asset)
	a := NewAnimator(DefaultTuning())

	a.Update(FrameInputs{Speaking: true, Volume: 0}, 0, c)
	assert.InDelta(t, 1+(0.4-0.5)*0.1, asset.Root.Scale.Y(), eps)
	assert.InDelta(t, 1+(0.4-0.5)*0.05, asset.Root.Scale.X(), eps)

	a.Update(FrameInputs{}, 0.1, c)
	assert.Equal(t, float32(1), asset.Root.Scale.Y())
	assert.Equal(t, float32(1), asset.Root.Scale.X())
}

func TestAnimator_EmotionOverlay(t *testing.T) {
	tests := []struct {
		name    string
		morphs  []string
		emotion Emotion
		channel int
		want    float32
	}{
		{"happy capital smile", []string{"jawOpen", "Smile"}, EmotionHappy, 1, 0.5},
		{"happy lower smile", []string{"jawOpen", "smile"}, EmotionHappy, 1, 0.5},
		{"sad frown", []string{"jawOpen", "Frown"}, EmotionSad, 1, 0.5},
		{"neutral leaves smile", []string{"jawOpen", "Smile"}, EmotionNeutral, 1, 0},
		{"sad ignores smile", []string{"jawOpen", "Smile"}, EmotionSad, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mesh := morphMesh("Face", tt.morphs...)
			c := Introspect(assetOf(mesh))
			a := NewAnimator(DefaultTuning())

			a.Update(FrameInputs{Speaking: true, Volume: 0.6, Emotion: tt.emotion}, 1.1, c)
			assert.Equal(t, tt.want, mesh.Influences[tt.channel])
		})
	}

	t.Run("independent of opening", func(t *testing.T) {
		mesh := morphMesh("Face", "jawOpen", "Smile")
		c := Introspect(assetOf(mesh))
		a := NewAnimator(DefaultTuning())

		for i, v := range []float32{0, 0.3, 1} {
			a.Update(FrameInputs{Speaking: v > 0, Volume: v, Emotion: EmotionHappy}, float64(i), c)
			assert.Equal(t, float32(0.5), mesh.Influences[1])
		}
	})

	t.Run("never overrides mouth channel", func(t *testing.T) {
		mesh := morphMesh("Face", "smile")
		c := Introspect(assetOf(mesh))
		a := NewAnimator(DefaultTuning())

		a.Update(FrameInputs{Emotion: EmotionHappy}, 0, c)
		assert.Equal(t, float32(0), mesh.Influences[0])
	})

	t.Run("no overlay on scale tiers", func(t *testing.T) {
		_, c := BuildPlaceholder()
		a := NewAnimator(DefaultTuning())
		assert.NotPanics(t, func() {
			a.Update(FrameInputs{Emotion: EmotionSad}, 0, c)
		})
	})
}

func TestAnimator_HeadAndEyes(t *testing.T) {
	_, c := BuildPlaceholder()
	a := NewAnimator(DefaultTuning())
	in := FrameInputs{Speaking: true, Pointer: Pointer{X: 1, Y: 1}}

	a.Update(in, 0.016, c)
	st := a.State()
	assert.InDelta(t, 0.2*0.1, st.Yaw, eps)
	assert.InDelta(t, -0.15, st.Pitch, eps)
	assert.InDelta(t, st.Yaw, c.Root.Rotation.Y(), eps)
	assert.InDelta(t, st.Pitch, c.Root.Rotation.X(), eps)

	wantEye := 0.2 * 0.005 * 0.1
	assert.InDelta(t, -0.1+wantEye, c.EyeLeft.Node.Position.X(), eps)
	assert.InDelta(t, 0.1+wantEye, c.EyeRight.Node.Position.X(), eps)
	assert.InDelta(t, 0.25, c.EyeLeft.Node.Position.Z(), eps)

	t.Run("pitch is clamped", func(t *testing.T) {
		a.Update(FrameInputs{Speaking: true, Pointer: Pointer{Y: -5}}, 0.032, c)
		assert.InDelta(t, 0.2, a.State().Pitch, eps)
	})

	t.Run("yaw converges to the pointer", func(t *testing.T) {
		a.Reset()
		ts := 0.0
		for i := 0; i < 400; i++ {
			ts += 0.016
			a.Update(in, ts, c)
		}
		assert.InDelta(t, 0.2, a.State().Yaw, 1e-3)
		assert.InDelta(t, -0.1+0.2*0.005, c.EyeLeft.Node.Position.X(), 1e-4)
	})
}

func TestAnimator_IdleDriftIsBounded(t *testing.T) {
	_, c := BuildPlaceholder()
	a := NewAnimator(DefaultTuning())

	ts := 0.0
	for i := 0; i < 5000; i++ {
		ts += 0.016
		a.Update(FrameInputs{}, ts, c)
	}
	// Fixed point of y = 0.9y + 0.0005 is 0.005.
	assert.InDelta(t, 0.005, a.State().Yaw, 1e-4)

	a.Reset()
	a.Update(FrameInputs{}, 100, c)
	assert.InDelta(t, 0.0005, a.State().Yaw, eps)
}

func TestAnimator_SameClockIsIdempotent(t *testing.T) {
	mesh := morphMesh("Face", "jawOpen", "Smile")
	eye := scene.NewNode("Eye_L", scene.KindMesh)
	eye.Position = mgl32.Vec3{0.1, 0.2, 0.3}
	c := Introspect(assetOf(mesh, eye))
	a := NewAnimator(DefaultTuning())

	in := FrameInputs{Speaking: true, Volume: 0.5, Pointer: Pointer{X: 0.4, Y: -0.3}, Emotion: EmotionHappy}
	a.Update(in, 0, c)
	infl := append([]float32(nil), mesh.Influences...)
	rot := c.Root.Rotation
	pos := eye.Position

	a.Update(in, 0, c)
	assert.Equal(t, infl, mesh.Influences)
	assert.Equal(t, rot, c.Root.Rotation)
	assert.Equal(t, pos, eye.Position)
}

func TestAnimator_NoControlsStillAnimates(t *testing.T) {
	asset := assetOf()
	c := Introspect(asset)
	a := NewAnimator(DefaultTuning())

	require.NotPanics(t, func() {
		a.Update(FrameInputs{Speaking: true, Volume: 0.5}, 0.2, c)
	})
	assert.NotEqual(t, float32(1), asset.Root.Scale.Y())

	assert.NotPanics(t, func() {
		a.Update(FrameInputs{}, 0.3, nil)
	})
}

func TestAnimator_SetTuning(t *testing.T) {
	a := NewAnimator(DefaultTuning())
	tun := DefaultTuning()
	tun.IdleYawDrift = 0.01
	a.SetTuning(tun)

	_, c := BuildPlaceholder()
	a.Update(FrameInputs{}, 0, c)
	assert.InDelta(t, 0.01, a.State().Yaw, eps)
}

func BenchmarkAnimator_Update(b *testing.B) {
	_, controls := BuildPlaceholder()
	a := NewAnimator(DefaultTuning())
	in := FrameInputs{Speaking: true, Volume: 0.6, Emotion: EmotionHappy, Pointer: Pointer{X: 0.3, Y: -0.2}}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.Update(in, float64(i)/60, controls)
	}
}
