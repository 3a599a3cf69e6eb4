// internal/render/backend.go
//
// Rendering backends and startup selection between advanced and baseline
package render

import (
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/talkingavatar/internal/scene"
	"github.com/rs/zerolog"
)

// View is everything a backend needs to draw one frame.
type View struct {
	Camera   *Camera
	Lighting *LightingRig
}

// Backend draws the attached asset. All methods are called from the frame
// goroutine.
type Backend interface {
	Name() string
	Init(width, height int) error
	// Attach replaces the drawn asset. nil detaches.
	Attach(asset *scene.Asset) error
	Draw(view View) error
	Resize(width, height int)
	Release()
}

// Interactive is implemented by backends that own a window and deliver
// pointer and close events.
type Interactive interface {
	ShouldClose() bool
	SetInputHandlers(h InputHandlers)
}

// InputHandlers receive window input. Any field may be nil.
type InputHandlers struct {
	// Pointer gets the cursor as produced by NormalizePointer.
	Pointer func(x, y float32)
	Mouse   func(x, y float32, left, right, middle bool)
	Scroll  func(delta float32)
}

// Provider describes a backend that can be activated at startup.
type Provider struct {
	Name string
	// Available reports why the backend cannot run here, or nil.
	Available func() error
	New       func() (Backend, error)
}

// Select returns the first provider that is available and constructs
// cleanly, falling back to the headless baseline. Failures are logged and
// never fatal.
func Select(providers []Provider, log zerolog.Logger) Backend {
	for _, p := range providers {
		if p.Available != nil {
			if err := p.Available(); err != nil {
				log.Warn().Err(err).Str("backend", p.Name).Msg("Backend unavailable, trying next")
				continue
			}
		}
		if p.New == nil {
			continue
		}
		b, err := p.New()
		if err != nil {
			log.Warn().Err(err).Str("backend", p.Name).Msg("Backend failed to start, trying next")
			continue
		}
		log.Info().Str("backend", b.Name()).Msg("Render backend selected")
		return b
	}
	log.Info().Msg("Using headless render backend")
	return NewHeadless()
}

// =============================================================================
// HEADLESS
// =============================================================================

// FrameStats summarises the last drawn frame.
type FrameStats struct {
	Frames    uint64
	DrawCalls int
	Triangles int
	Vertices  int
	// Bounds of the deformed geometry in world space.
	Min, Max mgl32.Vec3
}

// Headless is the baseline backend. It evaluates world transforms and
// morph deformation on the CPU without presenting anything.
type Headless struct {
	mu sync.Mutex

	width, height int
	asset         *scene.Asset
	stats         FrameStats
	released      bool

	scratch []mgl32.Vec3
}

func NewHeadless() *Headless {
	return &Headless{}
}

func (h *Headless) Name() string { return "headless" }

func (h *Headless) Init(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", width, height)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.width, h.height = width, height
	return nil
}

func (h *Headless) Attach(asset *scene.Asset) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return fmt.Errorf("backend released")
	}
	h.asset = asset
	return nil
}

func (h *Headless) Draw(view View) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return fmt.Errorf("backend released")
	}

	st := FrameStats{Frames: h.stats.Frames + 1}
	if view.Camera != nil {
		// Force matrix evaluation the way a GPU backend would.
		_ = view.Camera.ProjectionMatrix().Mul4(view.Camera.ViewMatrix())
	}
	first := true
	if h.asset != nil {
		h.asset.Walk(func(n *scene.Node) bool {
			if len(n.Geometry) == 0 {
				return true
			}
			model := n.WorldMatrix()
			for _, g := range n.Geometry {
				h.scratch = g.Morphed(n.Influences, h.scratch)
				for _, p := range h.scratch {
					w := mgl32.TransformCoordinate(p, model)
					if first {
						st.Min, st.Max = w, w
						first = false
						continue
					}
					st.Min = mgl32.Vec3{min32(st.Min[0], w[0]), min32(st.Min[1], w[1]), min32(st.Min[2], w[2])}
					st.Max = mgl32.Vec3{max32(st.Max[0], w[0]), max32(st.Max[1], w[1]), max32(st.Max[2], w[2])}
				}
				st.DrawCalls++
				st.Triangles += g.Triangles()
				st.Vertices += len(g.Positions)
			}
			return true
		})
	}
	h.stats = st
	return nil
}

func (h *Headless) Resize(width, height int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.width, h.height = width, height
}

func (h *Headless) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	h.asset = nil
	h.scratch = nil
}

// Stats returns the last frame's statistics.
func (h *Headless) Stats() FrameStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Viewport returns the current size.
func (h *Headless) Viewport() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.width, h.height
}

// Released reports whether Release has run.
func (h *Headless) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// NormalizePointer maps a cursor position in window pixels to offsets from
// the viewport centre divided by the viewport size.
func NormalizePointer(x, y float64, width, height int) (float32, float32) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	nx := (x - float64(width)/2) / float64(width)
	ny := (y - float64(height)/2) / float64(height)
	return float32(nx), float32(ny)
}
