package glbackend

import (
	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/talkingavatar/internal/scene"
)

// floatsPerVertex is position + normal.
const floatsPerVertex = 6

// gpuMesh is one uploaded scene.Geometry. Morphing geometry is re-uploaded
// each frame from the CPU deformation.
type gpuMesh struct {
	node *scene.Node
	geo  *scene.Geometry

	vao, vbo, ebo uint32
	vertexCount   int32
	indexCount    int32
	dynamic       bool

	positions []mgl32.Vec3
	data      []float32
}

func newGPUMesh(n *scene.Node, g *scene.Geometry) *gpuMesh {
	m := &gpuMesh{
		node:        n,
		geo:         g,
		vertexCount: int32(len(g.Positions)),
		indexCount:  int32(len(g.Indices)),
		dynamic:     len(g.Targets) > 0,
	}
	m.data = interleave(g.Positions, g.Normals, m.data)

	usage := uint32(gl.STATIC_DRAW)
	if m.dynamic {
		usage = gl.DYNAMIC_DRAW
	}

	gl.GenVertexArrays(1, &m.vao)
	gl.GenBuffers(1, &m.vbo)
	gl.BindVertexArray(m.vao)
	gl.BindBuffer(gl.ARRAY_BUFFER, m.vbo)
	if len(m.data) > 0 {
		gl.BufferData(gl.ARRAY_BUFFER, len(m.data)*4, gl.Ptr(m.data), usage)
	}

	stride := int32(floatsPerVertex * 4)
	gl.VertexAttribPointerWithOffset(0, 3, gl.FLOAT, false, stride, 0)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(1, 3, gl.FLOAT, false, stride, 3*4)
	gl.EnableVertexAttribArray(1)

	if m.indexCount > 0 {
		gl.GenBuffers(1, &m.ebo)
		gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, m.ebo)
		gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(g.Indices)*4, gl.Ptr(g.Indices), gl.STATIC_DRAW)
	}
	gl.BindVertexArray(0)
	return m
}

// sync uploads the current morph deformation.
func (m *gpuMesh) sync() {
	if !m.dynamic || m.vertexCount == 0 {
		return
	}
	m.positions = m.geo.Morphed(m.node.Influences, m.positions)
	m.data = interleave(m.positions, m.geo.Normals, m.data)
	gl.BindBuffer(gl.ARRAY_BUFFER, m.vbo)
	gl.BufferSubData(gl.ARRAY_BUFFER, 0, len(m.data)*4, gl.Ptr(m.data))
}

func (m *gpuMesh) draw() {
	gl.BindVertexArray(m.vao)
	if m.indexCount > 0 {
		gl.DrawElements(gl.TRIANGLES, m.indexCount, gl.UNSIGNED_INT, nil)
	} else {
		gl.DrawArrays(gl.TRIANGLES, 0, m.vertexCount)
	}
	gl.BindVertexArray(0)
}

func (m *gpuMesh) delete() {
	gl.DeleteVertexArrays(1, &m.vao)
	gl.DeleteBuffers(1, &m.vbo)
	if m.ebo != 0 {
		gl.DeleteBuffers(1, &m.ebo)
	}
}

// interleave packs positions and normals into dst. Missing normals are zero.
func interleave(positions, normals []mgl32.Vec3, dst []float32) []float32 {
	n := len(positions) * floatsPerVertex
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i, p := range positions {
		o := i * floatsPerVertex
		dst[o], dst[o+1], dst[o+2] = p[0], p[1], p[2]
		var nm mgl32.Vec3
		if i < len(normals) {
			nm = normals[i]
		}
		dst[o+3], dst[o+4], dst[o+5] = nm[0], nm[1], nm[2]
	}
	return dst
}
