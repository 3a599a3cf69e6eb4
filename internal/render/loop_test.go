package render

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/talkingavatar/internal/avatar3d"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/scene"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedLoader blocks each load until released, so tests control when
// results arrive.
type gatedLoader struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	results map[string]*scene.Asset
	errs    map[string]error
	started chan string
}

func newGatedLoader() *gatedLoader {
	return &gatedLoader{
		gates:   map[string]chan struct{}{},
		results: map[string]*scene.Asset{},
		errs:    map[string]error{},
		started: make(chan string, 16),
	}
}

func (g *gatedLoader) gate(src string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[src]
	if !ok {
		ch = make(chan struct{})
		g.gates[src] = ch
	}
	return ch
}

func (g *gatedLoader) load(ctx context.Context, src string) (*scene.Asset, error) {
	gate := g.gate(src)
	g.started <- src
	select {
	case <-gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.results[src], g.errs[src]
}

func (g *gatedLoader) release(src string) { close(g.gate(src)) }

func faceAsset(src string) *scene.Asset {
	root := scene.NewNode("Scene", scene.KindGroup)
	face := scene.NewNode("Face", scene.KindMesh)
	face.MorphNames = []string{"jawOpen"}
	face.Geometry = []*scene.Geometry{{
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Targets:   [][]mgl32.Vec3{{{0, -1, 0}, {0, -1, 0}, {0, 0, 0}}},
	}}
	root.Add(face)
	return &scene.Asset{Source: src, Root: root}
}

func newTestLoop(t *testing.T, loader LoaderFunc, inputs avatar3d.InputSource) (*Loop, *Headless) {
	t.Helper()
	hb := NewHeadless()
	l, err := NewLoop(hb, inputs, Options{
		Width:  800,
		Height: 600,
		Tuning: avatar3d.DefaultTuning(),
		Loader: loader,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l, hb
}

// tickUntil ticks until cond holds or the deadline passes.
func tickUntil(t *testing.T, l *Loop, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, l.Tick(0.016))
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestLoop_LoadReady(t *testing.T) {
	g := newGatedLoader()
	g.results["face.glb"] = faceAsset("face.glb")
	bridge := avatar3d.NewInputBridge()
	l, hb := newTestLoop(t, g.load, bridge)

	assert.Equal(t, StateIdle, l.Status().State)
	require.NoError(t, l.Load("face.glb"))
	<-g.started
	assert.Equal(t, StateLoading, l.Status().State)

	// Frames keep running while the load is pending.
	require.NoError(t, l.Tick(0.016))
	assert.Equal(t, uint64(1), hb.Stats().Frames)
	assert.Zero(t, hb.Stats().DrawCalls)

	g.release("face.glb")
	tickUntil(t, l, func() bool { return l.Status().State == StateReady })

	st := l.Status()
	assert.False(t, st.Placeholder)
	assert.Equal(t, "face.glb", st.Source)
	assert.Equal(t, 1, hb.Stats().DrawCalls)

	// Speaking drives the jaw and the headless backend sees the deformation.
	bridge.SetSpeech(true, 1)
	require.NoError(t, l.Tick(0.016))
	assert.Less(t, hb.Stats().Min.Y(), float32(-0.9))
}

func TestLoop_FailedUsesPlaceholder(t *testing.T) {
	g := newGatedLoader()
	g.errs["broken.glb"] = errors.New("decode gltf: bad magic")
	b := bus.NewEventBus()

	var mu sync.Mutex
	var states []string
	b.Subscribe(bus.EventTypeLoadState, func(e bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, e.Data["state"].(string))
	})

	hb := NewHeadless()
	l, err := NewLoop(hb, nil, Options{Tuning: avatar3d.DefaultTuning(), Loader: g.load, Bus: b, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Load("broken.glb"))
	<-g.started
	g.release("broken.glb")
	tickUntil(t, l, func() bool { return l.Status().State == StateReady })

	st := l.Status()
	assert.True(t, st.Placeholder)
	assert.Contains(t, st.Error, "bad magic")
	// Head, two eyes and mouth.
	assert.Equal(t, 4, hb.Stats().DrawCalls)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return assert.ObjectsAreEqual([]string{"loading", "failed", "ready"}, sortedStates(states))
	}, time.Second, 5*time.Millisecond)
}

// sortedStates orders async bus deliveries by state machine position.
func sortedStates(in []string) []string {
	order := map[string]int{"idle": 0, "loading": 1, "failed": 2, "ready": 3}
	out := append([]string(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && order[out[j]] < order[out[j-1]]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// clipOn adds a one-second clip holding value on node's path.
func clipOn(asset *scene.Asset, node *scene.Node, path scene.Path, value ...float32) {
	vals := append(append([]float32{}, value...), value...)
	asset.Clips = append(asset.Clips, &scene.Clip{
		Name:     "hold",
		Duration: 1,
		Tracks: []*scene.Track{{
			Target: node,
			Path:   path,
			Times:  []float32{0, 1},
			Values: vals,
			Width:  len(value),
		}},
	})
}

func loadReady(t *testing.T, asset *scene.Asset, inputs avatar3d.InputSource) *Loop {
	t.Helper()
	l, _ := newTestLoop(t, func(ctx context.Context, src string) (*scene.Asset, error) {
		return asset, nil
	}, inputs)
	require.NoError(t, l.Load(asset.Source))
	tickUntil(t, l, func() bool { return l.Status().State == StateReady })
	return l
}

func TestLoop_FacialControlsOverrideClips(t *testing.T) {
	t.Run("weights track on the mouth mesh", func(t *testing.T) {
		asset := faceAsset("clip.glb")
		face := asset.Find("Face")
		clipOn(asset, face, scene.PathWeights, 0)

		bridge := avatar3d.NewInputBridge()
		l := loadReady(t, asset, bridge)

		bridge.SetSpeech(true, 0.8)
		for i := 0; i < 3; i++ {
			require.NoError(t, l.Tick(0.016))
			assert.GreaterOrEqual(t, face.Influences[0], float32(0.3))
			assert.InDelta(t, l.Pose().Opening, face.Influences[0], 1e-6)
		}
	})

	t.Run("rotation track on the root", func(t *testing.T) {
		asset := faceAsset("nod.glb")
		clipOn(asset, asset.Root, scene.PathRotation, 0, 0, 0, 1)

		bridge := avatar3d.NewInputBridge()
		l := loadReady(t, asset, bridge)

		bridge.SetPointer(1, 0.5)
		for i := 0; i < 5; i++ {
			require.NoError(t, l.Tick(0.016))
		}
		st := l.animator.State()
		assert.NotZero(t, st.Yaw)
		assert.InDelta(t, st.Yaw, asset.Root.Rotation[1], 1e-6)
		assert.InDelta(t, st.Pitch, asset.Root.Rotation[0], 1e-6)
	})
}

func TestLoop_ReloadShowsPlaceholder(t *testing.T) {
	g := newGatedLoader()
	g.results["a.glb"] = faceAsset("a.glb")
	g.results["b.glb"] = faceAsset("b.glb")
	bridge := avatar3d.NewInputBridge()
	l, hb := newTestLoop(t, g.load, bridge)

	require.NoError(t, l.Load("a.glb"))
	<-g.started
	g.release("a.glb")
	tickUntil(t, l, func() bool { return l.Status().State == StateReady })

	require.NoError(t, l.Load("b.glb"))
	<-g.started
	require.NoError(t, l.Tick(0.016))

	assert.Equal(t, StateLoading, l.Status().State)
	require.NotNil(t, l.avatar)
	assert.True(t, l.avatar.Placeholder)
	assert.Equal(t, 4, hb.Stats().DrawCalls)

	// The stand-in keeps animating while the fetch is pending.
	mouth := l.avatar.Controls.Mouth.(avatar3d.NodeScale).Node
	bridge.SetSpeech(true, 0.9)
	require.NoError(t, l.Tick(0.016))
	assert.Greater(t, mouth.Scale.Y(), float32(0.8))

	g.release("b.glb")
	tickUntil(t, l, func() bool { return l.Status().State == StateReady })
	assert.Equal(t, "b.glb", l.avatar.Asset.Source)
	assert.False(t, l.avatar.Placeholder)
	assert.Equal(t, 1, hb.Stats().DrawCalls)
}

func TestLoop_ReloadCancelsPrevious(t *testing.T) {
	g := newGatedLoader()
	g.results["a.glb"] = faceAsset("a.glb")
	g.results["b.glb"] = faceAsset("b.glb")
	l, _ := newTestLoop(t, g.load, nil)

	require.NoError(t, l.Load("a.glb"))
	<-g.started
	require.NoError(t, l.Load("b.glb"))
	<-g.started

	// a.glb was cancelled; releasing it must not apply anything.
	g.release("a.glb")
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Tick(0.016))
	}
	assert.Equal(t, StateLoading, l.Status().State)

	g.release("b.glb")
	tickUntil(t, l, func() bool { return l.Status().State == StateReady })
	assert.Equal(t, "b.glb", l.avatar.Asset.Source)
}

func TestLoop_StaleResultIsDropped(t *testing.T) {
	l, _ := newTestLoop(t, func(ctx context.Context, src string) (*scene.Asset, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)

	require.NoError(t, l.Load("slow.glb"))
	l.mu.Lock()
	gen := l.gen
	l.mu.Unlock()

	// Simulate a result racing in from an older generation.
	l.results <- loadResult{gen: gen - 1, src: "old.glb", asset: faceAsset("old.glb")}
	require.NoError(t, l.Tick(0.016))
	assert.Nil(t, l.avatar)
	assert.Equal(t, StateLoading, l.Status().State)
}

func TestLoop_CloseDuringLoad(t *testing.T) {
	g := newGatedLoader()
	asset := faceAsset("late.glb")
	g.results["late.glb"] = asset
	l, hb := newTestLoop(t, g.load, nil)

	require.NoError(t, l.Load("late.glb"))
	<-g.started
	l.Close()

	g.release("late.glb")
	time.Sleep(20 * time.Millisecond)

	assert.ErrorIs(t, l.Tick(0.016), ErrClosed)
	assert.ErrorIs(t, l.Load("other.glb"), ErrClosed)
	assert.Nil(t, l.avatar)
	assert.Equal(t, StateLoading, l.Status().State)
	assert.Equal(t, []float32(nil), asset.Find("Face").Influences)
	assert.True(t, hb.Released())
	assert.False(t, l.Controls().Attached())

	assert.NotPanics(t, l.Close)
}

func TestLoop_Resize(t *testing.T) {
	l, hb := newTestLoop(t, nil, nil)
	l.Resize(1000, 500)
	l.Resize(0, 10)
	require.NoError(t, l.Tick(0.016))

	w, h := hb.Viewport()
	assert.Equal(t, 1000, w)
	assert.Equal(t, 500, h)
	assert.InDelta(t, 2, l.Camera().AspectRatio, 1e-6)
}

func TestLoop_PlaceholderAnimates(t *testing.T) {
	bridge := avatar3d.NewInputBridge()
	l, _ := newTestLoop(t, nil, bridge)

	require.NoError(t, l.LoadPlaceholder())
	tickUntil(t, l, func() bool { return l.Status().State == StateReady })
	assert.True(t, l.Status().Placeholder)
	assert.Empty(t, l.Status().Error)

	mouth := l.avatar.Controls.Mouth.(avatar3d.NodeScale).Node
	bridge.SetSpeech(true, 0.9)
	bridge.SetEmotion(avatar3d.EmotionHappy)
	require.NoError(t, l.Tick(0.016))
	assert.Greater(t, mouth.Scale.Y(), float32(0.8))

	pose := l.Pose()
	assert.True(t, pose.Speaking)
	assert.Equal(t, "happy", pose.Emotion)
	assert.Equal(t, "node_scale", pose.Tier)
	assert.Greater(t, pose.Opening, float32(0))

	bridge.SetSpeech(false, 0)
	require.NoError(t, l.Tick(0.016))
	assert.InDelta(t, 0.1, mouth.Scale.Y(), 1e-6)
	assert.False(t, l.Pose().Speaking)
}

func TestLoop_RunStopsOnContext(t *testing.T) {
	l, hb := newTestLoop(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Run(ctx))
	assert.True(t, l.Closed())
	assert.True(t, hb.Released())
	assert.Greater(t, l.Status().Frames, uint64(0))
}

func TestTick_ClampsDelta(t *testing.T) {
	l, _ := newTestLoop(t, nil, nil)
	require.NoError(t, l.Tick(5))
	assert.InDelta(t, MaxFrameDelta, l.elapsed, 1e-9)
	require.NoError(t, l.Tick(-1))
	assert.InDelta(t, MaxFrameDelta, l.elapsed, 1e-9)
}

func TestOrbitControls(t *testing.T) {
	t.Run("distance is clamped", func(t *testing.T) {
		cam := NewAvatarCamera(1)
		oc := NewOrbitControls(cam)
		for i := 0; i < 200; i++ {
			oc.Dolly(10)
			oc.Update()
		}
		assert.InDelta(t, 0.5, cam.Position.Sub(cam.Target).Len(), 1e-4)

		for i := 0; i < 200; i++ {
			oc.Dolly(-10)
			oc.Update()
		}
		assert.InDelta(t, 5, cam.Position.Sub(cam.Target).Len(), 1e-4)
	})

	t.Run("polar angle is clamped", func(t *testing.T) {
		cam := NewAvatarCamera(1)
		oc := NewOrbitControls(cam)
		oc.Rotate(0, -100)
		for i := 0; i < 300; i++ {
			oc.Update()
		}
		off := cam.Position.Sub(cam.Target)
		phi := math.Acos(float64(off.Y() / off.Len()))
		assert.InDelta(t, math.Pi/3, phi, 1e-3)
	})

	t.Run("damping decays motion", func(t *testing.T) {
		cam := NewAvatarCamera(1)
		oc := NewOrbitControls(cam)
		oc.Rotate(1, 0)
		assert.True(t, oc.Update())
		for i := 0; i < 1000; i++ {
			oc.Update()
		}
		assert.False(t, oc.Update())
	})

	t.Run("detached controls do nothing", func(t *testing.T) {
		cam := NewAvatarCamera(1)
		oc := NewOrbitControls(cam)
		before := cam.Position
		oc.Detach()
		oc.Rotate(1, 1)
		oc.Dolly(3)
		assert.False(t, oc.Update())
		assert.Equal(t, before, cam.Position)
	})
}

// brokenBackend fails to initialise, like a window without GL 4.1.
type brokenBackend struct {
	*Headless
	released bool
}

func (b *brokenBackend) Name() string { return "opengl" }
func (b *brokenBackend) Init(int, int) error {
	return errors.New("glfw: GL 4.1 not supported")
}
func (b *brokenBackend) Release() { b.released = true }

func TestSelect(t *testing.T) {
	log := zerolog.Nop()

	t.Run("init failure falls back to headless", func(t *testing.T) {
		broken := &brokenBackend{Headless: NewHeadless()}
		b := Select([]Provider{
			{Name: "opengl", New: func() (Backend, error) { return broken, nil }},
		}, log)
		require.Equal(t, "opengl", b.Name())

		l, err := NewLoop(b, nil, Options{Width: 640, Height: 480, Logger: log})
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, "headless", l.Backend().Name())
		assert.Equal(t, "headless", l.Status().Backend)
		assert.True(t, broken.released)
		require.NoError(t, l.LoadPlaceholder())
		tickUntil(t, l, func() bool { return l.Status().State == StateReady })
	})

	t.Run("falls back to headless", func(t *testing.T) {
		b := Select([]Provider{
			{Name: "gl", Available: func() error { return errors.New("no display") }},
			{Name: "broken", New: func() (Backend, error) { return nil, errors.New("boom") }},
		}, log)
		assert.Equal(t, "headless", b.Name())
	})

	t.Run("first available wins", func(t *testing.T) {
		want := NewHeadless()
		b := Select([]Provider{
			{Name: "gl", Available: func() error { return errors.New("no display") }},
			{Name: "custom", New: func() (Backend, error) { return want, nil }},
		}, log)
		assert.Same(t, want, b)
	})
}

func TestStageLighting(t *testing.T) {
	rig := NewStageLighting()
	require.Len(t, rig.Lights, 2)
	assert.Equal(t, LightTypeDirectional, rig.Lights[0].Type)
	assert.InDelta(t, 0.6, rig.Ambient().X(), 1e-6)
	assert.InDelta(t, 0x66/255.0, rig.Lights[1].Color.X(), 1e-6)
	assert.InDelta(t, 1, rig.Lights[0].Direction().Len(), 1e-6)
}

func TestNormalizePointer(t *testing.T) {
	x, y := NormalizePointer(400, 300, 800, 600)
	assert.Zero(t, x)
	assert.Zero(t, y)

	x, y = NormalizePointer(800, 0, 800, 600)
	assert.InDelta(t, 0.5, x, 1e-6)
	assert.InDelta(t, -0.5, y, 1e-6)

	x, y = NormalizePointer(10, 10, 0, 0)
	assert.Zero(t, x)
	assert.Zero(t, y)
}
