// Package glbackend renders the avatar in a GLFW window with OpenGL 4.1.
// All calls must come from the goroutine locked to the main OS thread.
package glbackend

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/normanking/talkingavatar/internal/render"
	"github.com/normanking/talkingavatar/internal/scene"
	"github.com/rs/zerolog"
)

// Name identifies this backend in config and logs.
const Name = "opengl"

// Config controls the window.
type Config struct {
	Title string
	VSync bool
	MSAA  int
	// ShaderDir optionally holds lit.vert / lit.frag overrides that are
	// reloaded when they change.
	ShaderDir string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Title: "Talking Avatar",
		VSync: true,
		MSAA:  4,
	}
}

// ErrNoDisplay is returned when no display server is reachable.
var ErrNoDisplay = errors.New("no display available")

// Provider returns the capability provider for render.Select.
func Provider(cfg Config, log zerolog.Logger) render.Provider {
	return render.Provider{
		Name:      Name,
		Available: available,
		New: func() (render.Backend, error) {
			return New(cfg, log), nil
		},
	}
}

func available() error {
	if runtime.GOOS == "linux" || runtime.GOOS == "freebsd" {
		if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
			return ErrNoDisplay
		}
	}
	return nil
}

// Backend is the OpenGL renderer.
type Backend struct {
	cfg Config
	log zerolog.Logger

	window  *glfw.Window
	program *litProgram
	watcher *shaderWatcher
	meshes  []*gpuMesh

	width, height int
	handlers      render.InputHandlers
	glfwReady     bool
}

// New returns an uninitialised backend; Init opens the window.
func New(cfg Config, log zerolog.Logger) *Backend {
	return &Backend{cfg: cfg, log: log.With().Str("component", "glbackend").Logger()}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Init(width, height int) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("glfw init: %w", err)
	}
	b.glfwReady = true

	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	if b.cfg.MSAA > 0 {
		glfw.WindowHint(glfw.Samples, b.cfg.MSAA)
	}

	window, err := glfw.CreateWindow(width, height, b.cfg.Title, nil, nil)
	if err != nil {
		b.Release()
		return fmt.Errorf("create window: %w", err)
	}
	b.window = window
	window.MakeContextCurrent()

	if err := gl.Init(); err != nil {
		b.Release()
		return fmt.Errorf("gl init: %w", err)
	}
	if b.cfg.VSync {
		glfw.SwapInterval(1)
	} else {
		glfw.SwapInterval(0)
	}

	if err := b.initShader(); err != nil {
		b.Release()
		return err
	}

	gl.Enable(gl.DEPTH_TEST)
	gl.DepthFunc(gl.LESS)
	if b.cfg.MSAA > 0 {
		gl.Enable(gl.MULTISAMPLE)
	}

	fbW, fbH := window.GetFramebufferSize()
	b.Resize(fbW, fbH)
	b.width, b.height = width, height

	window.SetFramebufferSizeCallback(func(_ *glfw.Window, w, h int) {
		gl.Viewport(0, 0, int32(w), int32(h))
	})
	window.SetSizeCallback(func(_ *glfw.Window, w, h int) {
		b.width, b.height = w, h
	})
	window.SetCursorPosCallback(b.onCursor)
	window.SetScrollCallback(func(_ *glfw.Window, _, yoff float64) {
		if b.handlers.Scroll != nil {
			b.handlers.Scroll(float32(yoff))
		}
	})

	b.log.Info().
		Int("width", width).
		Int("height", height).
		Str("gl", gl.GoStr(gl.GetString(gl.VERSION))).
		Msg("OpenGL backend ready")
	return nil
}

func (b *Backend) initShader() error {
	if b.cfg.ShaderDir != "" {
		src := shaderSource{dir: b.cfg.ShaderDir}
		p, err := linkLit(src)
		if err == nil {
			b.program = p
			if w, err := watchShaders(src, b.log); err != nil {
				b.log.Warn().Err(err).Msg("Shader watch failed")
			} else {
				b.watcher = w
			}
			return nil
		}
		b.log.Warn().Err(err).Str("dir", b.cfg.ShaderDir).Msg("Shader override failed, using built-in")
	}

	p, err := linkLit(shaderSource{})
	if err != nil {
		return err
	}
	b.program = p
	return nil
}

func (b *Backend) onCursor(w *glfw.Window, x, y float64) {
	if b.handlers.Pointer != nil {
		px, py := render.NormalizePointer(x, y, b.width, b.height)
		b.handlers.Pointer(px, py)
	}
	if b.handlers.Mouse != nil {
		b.handlers.Mouse(float32(x), float32(y),
			w.GetMouseButton(glfw.MouseButtonLeft) == glfw.Press,
			w.GetMouseButton(glfw.MouseButtonRight) == glfw.Press,
			w.GetMouseButton(glfw.MouseButtonMiddle) == glfw.Press,
		)
	}
}

// SetInputHandlers replaces the window input handlers.
func (b *Backend) SetInputHandlers(h render.InputHandlers) {
	b.handlers = h
}

// ShouldClose reports whether the user closed the window.
func (b *Backend) ShouldClose() bool {
	return b.window == nil || b.window.ShouldClose()
}

// Attach uploads every geometry in the asset, replacing the previous one.
func (b *Backend) Attach(asset *scene.Asset) error {
	if b.window == nil {
		return fmt.Errorf("backend not initialised")
	}
	b.deleteMeshes()
	if asset == nil {
		return nil
	}
	asset.Walk(func(n *scene.Node) bool {
		for _, g := range n.Geometry {
			if len(g.Positions) == 0 {
				continue
			}
			b.meshes = append(b.meshes, newGPUMesh(n, g))
		}
		return true
	})
	b.log.Debug().Str("source", asset.Source).Int("meshes", len(b.meshes)).Msg("Asset uploaded")
	return nil
}

func (b *Backend) Draw(view render.View) error {
	if b.window == nil {
		return fmt.Errorf("backend not initialised")
	}
	if b.watcher != nil {
		b.program = b.watcher.relink(b.program)
	}

	bg := view.Lighting.Background
	gl.ClearColor(bg[0], bg[1], bg[2], 1)
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)

	b.program.beginFrame(view)
	for _, m := range b.meshes {
		m.sync()
		b.program.setMesh(m.node.WorldMatrix(), m.geo.Color)
		m.draw()
	}

	b.window.SwapBuffers()
	glfw.PollEvents()
	return nil
}

func (b *Backend) Resize(width, height int) {
	if b.window == nil || width <= 0 || height <= 0 {
		return
	}
	gl.Viewport(0, 0, int32(width), int32(height))
}

func (b *Backend) deleteMeshes() {
	for _, m := range b.meshes {
		m.delete()
	}
	b.meshes = nil
}

// Release frees GL objects, closes the window and terminates GLFW.
func (b *Backend) Release() {
	if b.window != nil {
		b.deleteMeshes()
		if b.program != nil {
			b.program.delete()
			b.program = nil
		}
		b.window.Destroy()
		b.window = nil
	}
	if b.watcher != nil {
		_ = b.watcher.close()
		b.watcher = nil
	}
	b.handlers = render.InputHandlers{}
	if b.glfwReady {
		glfw.Terminate()
		b.glfwReady = false
	}
}
