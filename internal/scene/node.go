// Package scene holds the engine-agnostic avatar scene graph: nodes with
// transforms, CPU-side geometry with morph targets, and embedded clips.
package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Kind classifies a node.
type Kind int

const (
	KindGroup Kind = iota
	KindMesh
	KindBone
)

func (k Kind) String() string {
	switch k {
	case KindMesh:
		return "mesh"
	case KindBone:
		return "bone"
	default:
		return "group"
	}
}

// Geometry is one drawable primitive kept on the CPU. Backends upload it.
type Geometry struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Indices   []uint32
	// Targets holds per morph-target position deltas, parallel to the
	// owning node's MorphNames.
	Targets [][]mgl32.Vec3
	Color   mgl32.Vec3
}

// Morphed writes base positions plus weighted target deltas into dst,
// reusing its storage when large enough.
func (g *Geometry) Morphed(influences []float32, dst []mgl32.Vec3) []mgl32.Vec3 {
	if cap(dst) < len(g.Positions) {
		dst = make([]mgl32.Vec3, len(g.Positions))
	}
	dst = dst[:len(g.Positions)]
	copy(dst, g.Positions)
	for t, deltas := range g.Targets {
		if t >= len(influences) || influences[t] == 0 || len(deltas) != len(dst) {
			continue
		}
		w := influences[t]
		for i, d := range deltas {
			dst[i] = dst[i].Add(d.Mul(w))
		}
	}
	return dst
}

// Triangles counts indexed or sequential triangles.
func (g *Geometry) Triangles() int {
	if len(g.Indices) > 0 {
		return len(g.Indices) / 3
	}
	return len(g.Positions) / 3
}

// Node is a scene graph node. Rotation is Euler XYZ in radians.
type Node struct {
	Name     string
	Kind     Kind
	Position mgl32.Vec3
	Rotation mgl32.Vec3
	Scale    mgl32.Vec3

	Parent   *Node
	Children []*Node

	Geometry []*Geometry

	// MorphNames is the blend-shape dictionary; Influences is parallel to it.
	MorphNames []string
	Influences []float32
}

// NewNode returns a node with unit scale.
func NewNode(name string, kind Kind) *Node {
	return &Node{
		Name:  name,
		Kind:  kind,
		Scale: mgl32.Vec3{1, 1, 1},
	}
}

// Add attaches child to n.
func (n *Node) Add(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// HasMorphs reports whether the node exposes a blend-shape dictionary.
func (n *Node) HasMorphs() bool {
	return (n.Kind == KindMesh || len(n.Geometry) > 0) && len(n.MorphNames) > 0
}

// MorphIndex returns the channel index for name or -1.
func (n *Node) MorphIndex(name string) int {
	for i, m := range n.MorphNames {
		if m == name {
			return i
		}
	}
	return -1
}

// EnsureInfluences sizes the influence storage to the dictionary, zero filling.
func (n *Node) EnsureInfluences() {
	if len(n.Influences) >= len(n.MorphNames) {
		return
	}
	inf := make([]float32, len(n.MorphNames))
	copy(inf, n.Influences)
	n.Influences = inf
}

// SetInfluence writes a channel value, ignoring out of range indices.
func (n *Node) SetInfluence(idx int, v float32) {
	if idx < 0 || idx >= len(n.Influences) {
		return
	}
	n.Influences[idx] = v
}

// LocalMatrix composes translation, rotation (XYZ) and scale.
func (n *Node) LocalMatrix() mgl32.Mat4 {
	t := mgl32.Translate3D(n.Position.X(), n.Position.Y(), n.Position.Z())
	r := mgl32.HomogRotate3DX(n.Rotation.X()).
		Mul4(mgl32.HomogRotate3DY(n.Rotation.Y())).
		Mul4(mgl32.HomogRotate3DZ(n.Rotation.Z()))
	s := mgl32.Scale3D(n.Scale.X(), n.Scale.Y(), n.Scale.Z())
	return t.Mul4(r).Mul4(s)
}

// WorldMatrix composes local matrices up the parent chain.
func (n *Node) WorldMatrix() mgl32.Mat4 {
	m := n.LocalMatrix()
	for p := n.Parent; p != nil; p = p.Parent {
		m = p.LocalMatrix().Mul4(m)
	}
	return m
}

// Asset is one loaded avatar: a root node plus the clips bundled with it.
type Asset struct {
	Source string
	Root   *Node
	Clips  []*Clip
}

// Walk visits every node depth-first, pre-order, each node once.
// Returning false from fn stops the walk.
func (a *Asset) Walk(fn func(*Node) bool) {
	if a == nil || a.Root == nil {
		return
	}
	walk(a.Root, fn)
}

func walk(n *Node, fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

// Find returns the first node named name in traversal order.
func (a *Asset) Find(name string) *Node {
	var found *Node
	a.Walk(func(n *Node) bool {
		if n.Name == name {
			found = n
			return false
		}
		return true
	})
	return found
}

// Stats counts nodes by kind.
func (a *Asset) Stats() (nodes, meshes, bones int) {
	a.Walk(func(n *Node) bool {
		nodes++
		switch n.Kind {
		case KindMesh:
			meshes++
		case KindBone:
			bones++
		}
		return true
	})
	return
}

// quatToEuler converts a rotation quaternion to Euler XYZ angles.
func quatToEuler(q mgl32.Quat) mgl32.Vec3 {
	m := q.Normalize().Mat4()
	m11, m12, m13 := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	m22, m23 := m.At(1, 1), m.At(1, 2)
	m32, m33 := m.At(2, 1), m.At(2, 2)

	y := float32(math.Asin(float64(clamp(m13, -1, 1))))
	var x, z float32
	if abs(m13) < 0.9999999 {
		x = float32(math.Atan2(float64(-m23), float64(m33)))
		z = float32(math.Atan2(float64(-m12), float64(m11)))
	} else {
		x = float32(math.Atan2(float64(m32), float64(m22)))
		z = 0
	}
	return mgl32.Vec3{x, y, z}
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
