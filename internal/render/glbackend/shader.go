package glbackend

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/talkingavatar/internal/render"
	"github.com/rs/zerolog"
)

const (
	vertFile = "lit.vert"
	fragFile = "lit.frag"
)

// lightSlot holds the uniform locations of one uLights[i] entry.
type lightSlot struct {
	position, color, intensity, kind int32
}

// litProgram is the single shader the avatar is drawn with. Uniform
// locations are resolved once per link.
type litProgram struct {
	id uint32

	model, view, projection int32
	color, cameraPos        int32
	ambient, lightCount     int32
	lights                  [maxLights]lightSlot
}

// shaderSource yields the lit shader text: the built-in pair, or files in an
// override directory.
type shaderSource struct {
	dir string
}

func (src shaderSource) paths() (vert, frag string) {
	return filepath.Join(src.dir, vertFile), filepath.Join(src.dir, fragFile)
}

func (src shaderSource) read() (vert, frag string, err error) {
	if src.dir == "" {
		return litVertSrc, litFragSrc, nil
	}
	vp, fp := src.paths()
	v, err := os.ReadFile(vp)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", vp, err)
	}
	f, err := os.ReadFile(fp)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", fp, err)
	}
	return string(v), string(f), nil
}

// linkLit compiles and links the lit program from src.
func linkLit(src shaderSource) (*litProgram, error) {
	vertSrc, fragSrc, err := src.read()
	if err != nil {
		return nil, err
	}
	vs, err := compile(vertSrc, gl.VERTEX_SHADER)
	if err != nil {
		return nil, err
	}
	defer gl.DeleteShader(vs)
	fs, err := compile(fragSrc, gl.FRAGMENT_SHADER)
	if err != nil {
		return nil, err
	}
	defer gl.DeleteShader(fs)

	id := gl.CreateProgram()
	gl.AttachShader(id, vs)
	gl.AttachShader(id, fs)
	gl.LinkProgram(id)

	var ok int32
	gl.GetProgramiv(id, gl.LINK_STATUS, &ok)
	if ok == gl.FALSE {
		var n int32
		gl.GetProgramiv(id, gl.INFO_LOG_LENGTH, &n)
		msg := strings.Repeat("\x00", int(n+1))
		gl.GetProgramInfoLog(id, n, nil, gl.Str(msg))
		gl.DeleteProgram(id)
		return nil, fmt.Errorf("link lit shader: %s", strings.TrimRight(msg, "\x00"))
	}

	p := &litProgram{id: id}
	p.resolve()
	return p, nil
}

func compile(src string, kind uint32) (uint32, error) {
	if !strings.HasSuffix(src, "\x00") {
		src += "\x00"
	}
	sh := gl.CreateShader(kind)
	csrc, free := gl.Strs(src)
	gl.ShaderSource(sh, 1, csrc, nil)
	free()
	gl.CompileShader(sh)

	var ok int32
	gl.GetShaderiv(sh, gl.COMPILE_STATUS, &ok)
	if ok == gl.FALSE {
		var n int32
		gl.GetShaderiv(sh, gl.INFO_LOG_LENGTH, &n)
		msg := strings.Repeat("\x00", int(n+1))
		gl.GetShaderInfoLog(sh, n, nil, gl.Str(msg))
		gl.DeleteShader(sh)
		stage := "vertex"
		if kind == gl.FRAGMENT_SHADER {
			stage = "fragment"
		}
		return 0, fmt.Errorf("compile %s shader: %s", stage, strings.TrimRight(msg, "\x00"))
	}
	return sh, nil
}

func (p *litProgram) uniform(name string) int32 {
	return gl.GetUniformLocation(p.id, gl.Str(name+"\x00"))
}

func (p *litProgram) resolve() {
	p.model = p.uniform("uModel")
	p.view = p.uniform("uView")
	p.projection = p.uniform("uProjection")
	p.color = p.uniform("uColor")
	p.cameraPos = p.uniform("uCameraPos")
	p.ambient = p.uniform("uAmbient")
	p.lightCount = p.uniform("uLightCount")
	for i := range p.lights {
		prefix := fmt.Sprintf("uLights[%d].", i)
		p.lights[i] = lightSlot{
			position:  p.uniform(prefix + "position"),
			color:     p.uniform(prefix + "color"),
			intensity: p.uniform(prefix + "intensity"),
			kind:      p.uniform(prefix + "type"),
		}
	}
}

// beginFrame binds the program and uploads camera and lighting.
func (p *litProgram) beginFrame(v render.View) {
	gl.UseProgram(p.id)
	setMat4(p.view, v.Camera.ViewMatrix())
	setMat4(p.projection, v.Camera.ProjectionMatrix())
	setVec3(p.cameraPos, v.Camera.Position)
	setVec3(p.ambient, v.Lighting.Ambient())

	n := 0
	for _, light := range v.Lighting.Lights {
		if n == maxLights {
			break
		}
		slot := p.lights[n]
		setVec3(slot.position, light.Position)
		setVec3(slot.color, light.Color)
		gl.Uniform1f(slot.intensity, light.Intensity)
		gl.Uniform1i(slot.kind, int32(light.Type))
		n++
	}
	gl.Uniform1i(p.lightCount, int32(n))
}

// setMesh uploads the per-mesh transform and colour.
func (p *litProgram) setMesh(model mgl32.Mat4, color mgl32.Vec3) {
	setMat4(p.model, model)
	setVec3(p.color, color)
}

func (p *litProgram) delete() {
	gl.DeleteProgram(p.id)
}

func setMat4(loc int32, m mgl32.Mat4) { gl.UniformMatrix4fv(loc, 1, false, &m[0]) }
func setVec3(loc int32, v mgl32.Vec3) { gl.Uniform3fv(loc, 1, &v[0]) }

// shaderWatcher marks the override directory dirty when lit.vert or lit.frag
// is written. The GL thread polls dirty and relinks.
type shaderWatcher struct {
	fs    *fsnotify.Watcher
	src   shaderSource
	log   zerolog.Logger
	dirty atomic.Bool
	done  chan struct{}
}

func watchShaders(src shaderSource, log zerolog.Logger) (*shaderWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(src.dir); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("watch %s: %w", src.dir, err)
	}
	w := &shaderWatcher{fs: fs, src: src, log: log, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

// touches reports whether ev changes one of the lit shader files.
func (src shaderSource) touches(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	vp, fp := src.paths()
	name := filepath.Clean(ev.Name)
	return name == filepath.Clean(vp) || name == filepath.Clean(fp)
}

func (w *shaderWatcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.src.touches(ev) {
				w.dirty.Store(true)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("Shader watcher error")
		}
	}
}

// relink swaps in a freshly linked program when the sources changed. A
// failed link keeps the current program.
func (w *shaderWatcher) relink(current *litProgram) *litProgram {
	if !w.dirty.CompareAndSwap(true, false) {
		return current
	}
	fresh, err := linkLit(w.src)
	if err != nil {
		w.log.Warn().Err(err).Str("dir", w.src.dir).Msg("Shader reload failed")
		return current
	}
	current.delete()
	w.log.Info().Str("dir", w.src.dir).Msg("Shader reloaded")
	return fresh
}

func (w *shaderWatcher) close() error {
	close(w.done)
	return w.fs.Close()
}
