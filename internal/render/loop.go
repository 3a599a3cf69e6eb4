// internal/render/loop.go
//
// Frame loop: asset loading state machine, per-frame animation and teardown
package render

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/normanking/talkingavatar/internal/avatar3d"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/scene"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by operations on a closed loop.
var ErrClosed = errors.New("render loop closed")

// MaxFrameDelta caps the elapsed time fed to one tick.
const MaxFrameDelta = 0.1

// LoaderFunc fetches and decodes an asset. It must honour ctx.
type LoaderFunc func(ctx context.Context, src string) (*scene.Asset, error)

// HTTPLoader loads local paths and http(s) URLs with the given client.
func HTTPLoader(client *http.Client) LoaderFunc {
	return func(ctx context.Context, src string) (*scene.Asset, error) {
		return scene.Load(ctx, client, src)
	}
}

// Options configures a Loop.
type Options struct {
	Width, Height int
	FPS           int
	Tuning        avatar3d.Tuning
	Loader        LoaderFunc
	Bus           *bus.EventBus
	Logger        zerolog.Logger
}

type loadResult struct {
	gen   uint64
	src   string
	asset *scene.Asset
	err   error
}

// Loop owns the camera, lighting, orbit controls, backend and the active
// avatar. Tick must only be called from one goroutine; Load, Resize,
// Status and Close are safe from any goroutine.
type Loop struct {
	log      zerolog.Logger
	bus      *bus.EventBus
	backend  Backend
	inputs   avatar3d.InputSource
	loader   LoaderFunc
	animator *avatar3d.Animator
	camera   *Camera
	controls *OrbitControls
	lighting *LightingRig
	fps      int

	baseCtx    context.Context
	baseCancel context.CancelFunc
	results    chan loadResult

	mu          sync.Mutex
	state       LoadState
	gen         uint64
	cancelLoad  context.CancelFunc
	source      string
	lastErr     string
	placeholder bool
	closed      bool
	frames      uint64
	pendingSize [2]int
	pose        Pose

	// frame serialises Tick against Close.
	frame     sync.Mutex
	avatar    *avatar3d.Avatar
	avatarGen uint64
	elapsed   float64
}

// NewLoop initialises the backend and the stage. inputs supplies the
// per-frame snapshot.
func NewLoop(backend Backend, inputs avatar3d.InputSource, opts Options) (*Loop, error) {
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 720
	}
	if opts.FPS <= 0 {
		opts.FPS = 60
	}
	if opts.Loader == nil {
		opts.Loader = HTTPLoader(nil)
	}
	log := opts.Logger.With().Str("component", "render").Logger()
	backend, err := initBackend(backend, opts.Width, opts.Height, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	camera := NewAvatarCamera(float32(opts.Width) / float32(opts.Height))
	l := &Loop{
		log:        log,
		bus:        opts.Bus,
		backend:    backend,
		inputs:     inputs,
		loader:     opts.Loader,
		animator:   avatar3d.NewAnimator(opts.Tuning),
		camera:     camera,
		controls:   NewOrbitControls(camera),
		lighting:   NewStageLighting(),
		fps:        opts.FPS,
		baseCtx:    ctx,
		baseCancel: cancel,
		results:    make(chan loadResult, 8),
	}

	if ib, ok := backend.(Interactive); ok {
		ib.SetInputHandlers(InputHandlers{
			Mouse:  l.controls.ProcessMouse,
			Scroll: l.controls.ProcessScroll,
		})
	}
	return l, nil
}

// initBackend initialises b, falling back to the headless baseline when an
// advanced backend cannot start.
func initBackend(b Backend, width, height int, log zerolog.Logger) (Backend, error) {
	if b == nil {
		b = NewHeadless()
	}
	err := b.Init(width, height)
	if err == nil {
		return b, nil
	}
	if _, baseline := b.(*Headless); baseline {
		return nil, err
	}
	log.Warn().Err(err).Str("backend", b.Name()).Msg("Backend failed to initialise, using headless")
	b.Release()
	h := NewHeadless()
	if err := h.Init(width, height); err != nil {
		return nil, err
	}
	return h, nil
}

// Animator exposes the animator for tuning updates.
func (l *Loop) Animator() *avatar3d.Animator { return l.animator }

// Camera returns the loop's camera.
func (l *Loop) Camera() *Camera { return l.camera }

// Controls returns the orbit controls.
func (l *Loop) Controls() *OrbitControls { return l.controls }

// Backend returns the active backend.
func (l *Loop) Backend() Backend { return l.backend }

// SetPointerHandler forwards window cursor motion, for interactive backends.
func (l *Loop) SetPointerHandler(fn func(x, y float32)) {
	if ib, ok := l.backend.(Interactive); ok {
		ib.SetInputHandlers(InputHandlers{
			Pointer: fn,
			Mouse:   l.controls.ProcessMouse,
			Scroll:  l.controls.ProcessScroll,
		})
	}
}

// Load starts fetching src in the background, cancelling any load still
// in flight. The result is applied on a later Tick.
func (l *Loop) Load(src string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.cancelLoad != nil {
		l.cancelLoad()
	}
	l.gen++
	gen := l.gen
	ctx, cancel := context.WithCancel(l.baseCtx)
	l.cancelLoad = cancel
	l.source = src
	l.lastErr = ""
	l.state = StateLoading
	l.mu.Unlock()

	l.log.Info().Str("source", src).Uint64("generation", gen).Msg("Loading avatar")
	l.publishState(StateLoading, src, "")

	go func() {
		var asset *scene.Asset
		var err error
		if src != "" {
			asset, err = l.loader(ctx, src)
		}
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		select {
		case l.results <- loadResult{gen: gen, src: src, asset: asset, err: err}:
		case <-ctx.Done():
		}
	}()
	return nil
}

// LoadPlaceholder skips fetching and shows the proxy avatar.
func (l *Loop) LoadPlaceholder() error {
	return l.Load("")
}

// Tick advances one frame. dt is clamped to MaxFrameDelta.
func (l *Loop) Tick(dt float64) error {
	l.frame.Lock()
	defer l.frame.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	gen := l.gen
	size := l.pendingSize
	l.pendingSize = [2]int{}
	l.frames++
	l.mu.Unlock()

	if dt < 0 {
		dt = 0
	}
	if dt > MaxFrameDelta {
		dt = MaxFrameDelta
	}
	l.elapsed += dt

	if size[0] > 0 && size[1] > 0 {
		l.camera.SetAspectRatio(float32(size[0]) / float32(size[1]))
		l.backend.Resize(size[0], size[1])
	}

	// A reload request tears the current avatar down at once; the
	// placeholder stands in until the new one arrives.
	if l.avatar != nil && l.avatarGen != gen {
		l.standIn(gen)
	}
	l.drainResults()

	l.controls.Update()

	var in avatar3d.FrameInputs
	if l.inputs != nil {
		in = l.inputs.Snapshot()
	}
	// Clips play first so facial controls win over any track that
	// animates the same channel or transform.
	if l.avatar != nil {
		l.avatar.Update(float32(dt))
		l.animator.Update(in, l.elapsed, l.avatar.Controls)
	}
	l.recordPose(in)

	return l.backend.Draw(View{Camera: l.camera, Lighting: l.lighting})
}

func (l *Loop) recordPose(in avatar3d.FrameInputs) {
	in = in.Normalized()
	p := Pose{Speaking: in.Speaking, Emotion: string(in.Emotion)}
	if l.avatar != nil {
		st := l.animator.State()
		p.Opening, p.Yaw, p.Pitch = st.Opening, st.Yaw, st.Pitch
		for i, off := range st.EyeOffsets {
			p.EyeOffsets[i] = [2]float32{off.X(), off.Y()}
		}
		if h := l.avatar.Controls.Active(); h != nil {
			p.Tier = h.Tier().String()
		}
	}
	l.mu.Lock()
	l.pose = p
	l.mu.Unlock()
}

// Pose returns what the last frame applied.
func (l *Loop) Pose() Pose {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pose
}

func (l *Loop) drainResults() {
	for {
		select {
		case res := <-l.results:
			l.apply(res)
		default:
			return
		}
	}
}

func (l *Loop) apply(res loadResult) {
	l.mu.Lock()
	stale := res.gen != l.gen || l.closed
	l.mu.Unlock()
	if stale {
		l.log.Debug().Str("source", res.src).Uint64("generation", res.gen).Msg("Dropping stale load result")
		return
	}

	var av *avatar3d.Avatar
	errMsg := ""
	switch {
	case res.src == "":
		av = avatar3d.NewPlaceholderAvatar()
	case res.err != nil || res.asset == nil:
		if res.err == nil {
			res.err = errors.New("loader returned no asset")
		}
		errMsg = res.err.Error()
		l.log.Warn().Err(res.err).Str("source", res.src).Msg("Avatar load failed, using placeholder")
		l.setState(StateFailed, errMsg, false)
		av = avatar3d.NewPlaceholderAvatar()
	default:
		av = avatar3d.NewAvatar(res.asset)
	}

	if err := l.backend.Attach(av.Asset); err != nil && !av.Placeholder {
		errMsg = err.Error()
		l.log.Warn().Err(err).Str("source", res.src).Msg("Backend rejected avatar, using placeholder")
		l.setState(StateFailed, errMsg, false)
		av = avatar3d.NewPlaceholderAvatar()
		if err := l.backend.Attach(av.Asset); err != nil {
			l.log.Error().Err(err).Msg("Backend rejected placeholder")
		}
	}

	l.avatar = av
	l.avatarGen = res.gen
	l.animator.Reset()

	sum := av.Summary()
	l.log.Info().
		Str("source", res.src).
		Str("tier", sum.Tier).
		Str("strategy", string(sum.Strategy)).
		Str("mouth", sum.Mouth).
		Bool("placeholder", av.Placeholder).
		Msg("Avatar ready")
	l.setState(StateReady, errMsg, av.Placeholder)
}

// standIn swaps the current avatar for the placeholder while generation gen
// loads.
func (l *Loop) standIn(gen uint64) {
	if l.avatar.Placeholder {
		l.avatarGen = gen
		return
	}
	ph := avatar3d.NewPlaceholderAvatar()
	if err := l.backend.Attach(ph.Asset); err != nil {
		l.log.Debug().Err(err).Msg("Placeholder attach failed")
		l.detach()
		return
	}
	l.avatar = ph
	l.avatarGen = gen
	l.animator.Reset()
}

func (l *Loop) detach() {
	if err := l.backend.Attach(nil); err != nil {
		l.log.Debug().Err(err).Msg("Detach failed")
	}
	l.avatar = nil
	l.avatarGen = 0
}

func (l *Loop) setState(s LoadState, errMsg string, placeholder bool) {
	l.mu.Lock()
	l.state = s
	l.lastErr = errMsg
	l.placeholder = placeholder
	src := l.source
	l.mu.Unlock()
	l.publishState(s, src, errMsg)
}

func (l *Loop) publishState(s LoadState, src, errMsg string) {
	l.bus.Publish(bus.Event{
		Type: bus.EventTypeLoadState,
		Data: map[string]any{
			"state":  s.String(),
			"source": src,
			"error":  errMsg,
		},
	})
}

// Resize records a new viewport size, applied on the next tick.
func (l *Loop) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pendingSize = [2]int{width, height}
}

// Status reports the current load state.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		State:       l.state,
		StateName:   l.state.String(),
		Source:      l.source,
		Placeholder: l.placeholder,
		Error:       l.lastErr,
		Frames:      l.frames,
		Backend:     l.backend.Name(),
	}
}

// Run ticks at the configured rate until ctx is done, the loop is closed or
// an interactive backend asks to close. It calls Close before returning.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Close()

	ticker := time.NewTicker(time.Second / time.Duration(l.fps))
	defer ticker.Stop()

	ib, interactive := l.backend.(Interactive)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.baseCtx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			if err := l.Tick(dt); err != nil {
				if errors.Is(err, ErrClosed) {
					return nil
				}
				l.log.Warn().Err(err).Msg("Frame failed")
			}
			if interactive && ib.ShouldClose() {
				return nil
			}
		}
	}
}

// Close stops frame scheduling, cancels any in-flight load, detaches the
// orbit controls and releases the backend. No tick runs after it returns.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	if l.cancelLoad != nil {
		l.cancelLoad()
	}
	l.mu.Unlock()
	l.baseCancel()

	l.frame.Lock()
	defer l.frame.Unlock()
	l.controls.Detach()
	l.avatar = nil
	l.backend.Release()
	l.log.Info().Msg("Render loop closed")
}

// Closed reports whether Close has run.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
