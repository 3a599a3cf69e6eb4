package scene

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// Path is the animated property of a track.
type Path int

const (
	PathTranslation Path = iota
	PathRotation
	PathScale
	PathWeights
)

// Track samples one property of one node over time.
type Track struct {
	Target *Node
	Path   Path
	Step   bool
	Times  []float32
	// Values holds Width floats per keyframe.
	Values []float32
	Width  int
}

// Clip is a named set of tracks. Duration is the last keyframe time.
type Clip struct {
	Name     string
	Duration float32
	Tracks   []*Track
}

// Mixer plays every clip of an asset in a loop.
type Mixer struct {
	clips []*Clip
	time  float32
}

// NewMixer returns a mixer over clips. A nil or empty set is valid.
func NewMixer(clips []*Clip) *Mixer {
	return &Mixer{clips: clips}
}

// Time reports the accumulated playback time.
func (m *Mixer) Time() float32 {
	return m.time
}

// Update advances playback by dt seconds and writes sampled values into
// the target nodes.
func (m *Mixer) Update(dt float32) {
	if m == nil || len(m.clips) == 0 {
		return
	}
	m.time += dt
	for _, c := range m.clips {
		t := m.time
		if c.Duration > 0 {
			t = float32(math.Mod(float64(t), float64(c.Duration)))
		}
		for _, tr := range c.Tracks {
			tr.apply(t)
		}
	}
}

func (tr *Track) apply(t float32) {
	if tr.Target == nil || len(tr.Times) == 0 {
		return
	}
	v := tr.sample(t)
	switch tr.Path {
	case PathTranslation:
		tr.Target.Position = mgl32.Vec3{v[0], v[1], v[2]}
	case PathScale:
		tr.Target.Scale = mgl32.Vec3{v[0], v[1], v[2]}
	case PathRotation:
		q := mgl32.Quat{W: v[3], V: mgl32.Vec3{v[0], v[1], v[2]}}
		tr.Target.Rotation = quatToEuler(q)
	case PathWeights:
		for i, w := range v {
			tr.Target.SetInfluence(i, w)
		}
	}
}

func (tr *Track) sample(t float32) []float32 {
	w := tr.Width
	n := len(tr.Times)
	out := make([]float32, w)

	if t <= tr.Times[0] || n == 1 {
		copy(out, tr.Values[:w])
		return out
	}
	if t >= tr.Times[n-1] {
		copy(out, tr.Values[(n-1)*w:n*w])
		return out
	}

	i := sort.Search(n, func(i int) bool { return tr.Times[i] > t }) - 1
	a := tr.Values[i*w : (i+1)*w]
	if tr.Step {
		copy(out, a)
		return out
	}
	b := tr.Values[(i+1)*w : (i+2)*w]
	span := tr.Times[i+1] - tr.Times[i]
	f := float32(0)
	if span > 0 {
		f = (t - tr.Times[i]) / span
	}

	if tr.Path == PathRotation {
		qa := mgl32.Quat{W: a[3], V: mgl32.Vec3{a[0], a[1], a[2]}}
		qb := mgl32.Quat{W: b[3], V: mgl32.Vec3{b[0], b[1], b[2]}}
		q := mgl32.QuatSlerp(qa, qb, f)
		return []float32{q.V[0], q.V[1], q.V[2], q.W}
	}
	for k := 0; k < w; k++ {
		out[k] = a[k] + (b[k]-a[k])*f
	}
	return out
}

func buildClips(rd *accessorReader, doc *gltf.Document, nodes []*Node) ([]*Clip, error) {
	var clips []*Clip
	for ai, anim := range doc.Animations {
		name := anim.Name
		if name == "" {
			name = fmt.Sprintf("clip_%d", ai)
		}
		clip := &Clip{Name: name}

		for _, ch := range anim.Channels {
			ni, ok := index(ch.Target.Node)
			if !ok || ni >= len(nodes) {
				continue
			}
			si, ok := index(ch.Sampler)
			if !ok || si >= len(anim.Samplers) {
				continue
			}
			smp := anim.Samplers[si]

			in, ok := index(smp.Input)
			if !ok {
				continue
			}
			out, ok := index(smp.Output)
			if !ok {
				continue
			}
			times, _, err := rd.floats(in)
			if err != nil {
				return nil, fmt.Errorf("clip %q input: %w", name, err)
			}
			values, comps, err := rd.floats(out)
			if err != nil {
				return nil, fmt.Errorf("clip %q output: %w", name, err)
			}
			if len(times) == 0 {
				continue
			}

			tr := &Track{
				Target: nodes[ni],
				Times:  times,
				Values: values,
				Step:   smp.Interpolation == gltf.InterpolationStep,
			}
			switch ch.Target.Path {
			case gltf.TRSTranslation:
				tr.Path, tr.Width = PathTranslation, 3
			case gltf.TRSRotation:
				tr.Path, tr.Width = PathRotation, 4
			case gltf.TRSScale:
				tr.Path, tr.Width = PathScale, 3
			case gltf.TRSWeights:
				tr.Path = PathWeights
				tr.Width = len(values) / len(times)
			default:
				continue
			}
			if comps > tr.Width && tr.Path != PathWeights {
				continue
			}
			// Cubic spline stores in-tangent, value, out-tangent per key.
			if smp.Interpolation == gltf.InterpolationCubicSpline {
				tr.Values = splineValues(values, tr.Width)
			}
			if tr.Width == 0 || len(tr.Values) < len(times)*tr.Width {
				continue
			}

			if d := times[len(times)-1]; d > clip.Duration {
				clip.Duration = d
			}
			clip.Tracks = append(clip.Tracks, tr)
		}
		clips = append(clips, clip)
	}
	return clips, nil
}

func splineValues(v []float32, w int) []float32 {
	keys := len(v) / (3 * w)
	out := make([]float32, 0, keys*w)
	for k := 0; k < keys; k++ {
		base := k*3*w + w
		out = append(out, v[base:base+w]...)
	}
	return out
}

// index unwraps a glTF index field that may be a value or an optional pointer.
func index(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, x >= 0
	case *int:
		if x == nil {
			return 0, false
		}
		return *x, *x >= 0
	case uint32:
		return int(x), true
	case *uint32:
		if x == nil {
			return 0, false
		}
		return int(*x), true
	}
	return 0, false
}
