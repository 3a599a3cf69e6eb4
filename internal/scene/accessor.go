package scene

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// accessorReader resolves accessors into float or index slices. Buffer
// bytes are cached per buffer index so large GLB chunks are read once.
type accessorReader struct {
	doc     *gltf.Document
	baseDir string
	buffers map[int][]byte
}

func newAccessorReader(doc *gltf.Document, baseDir string) *accessorReader {
	return &accessorReader{doc: doc, baseDir: baseDir, buffers: make(map[int][]byte)}
}

func componentCount(acr *gltf.Accessor) int {
	switch acr.Type {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	case gltf.AccessorMat4:
		return 16
	}
	return 1
}

func componentSize(ct gltf.ComponentType) int {
	switch ct {
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	default:
		return 4
	}
}

// floats returns the accessor as a flat float slice of count*components.
// Normalized integer components are mapped to [0,1] or [-1,1].
func (r *accessorReader) floats(idx int) ([]float32, int, error) {
	if idx < 0 || idx >= len(r.doc.Accessors) {
		return nil, 0, fmt.Errorf("accessor %d out of range", idx)
	}
	acr := r.doc.Accessors[idx]
	comps := componentCount(acr)
	count := int(acr.Count)
	out := make([]float32, count*comps)

	// Accessors without a buffer view are all zeros.
	if acr.BufferView == nil {
		return out, comps, nil
	}

	data, stride, offset, err := r.view(int(*acr.BufferView))
	if err != nil {
		return nil, 0, err
	}
	size := componentSize(acr.ComponentType)
	if stride == 0 {
		stride = size * comps
	}
	offset += int(acr.ByteOffset)

	for i := 0; i < count; i++ {
		base := offset + i*stride
		for c := 0; c < comps; c++ {
			p := base + c*size
			if p+size > len(data) {
				return nil, 0, fmt.Errorf("accessor %d overruns buffer", idx)
			}
			out[i*comps+c] = readComponent(data[p:p+size], acr.ComponentType, acr.Normalized)
		}
	}
	return out, comps, nil
}

func readComponent(b []byte, ct gltf.ComponentType, normalized bool) float32 {
	switch ct {
	case gltf.ComponentFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case gltf.ComponentUbyte:
		if normalized {
			return float32(b[0]) / 255
		}
		return float32(b[0])
	case gltf.ComponentByte:
		if normalized {
			return max32(float32(int8(b[0]))/127, -1)
		}
		return float32(int8(b[0]))
	case gltf.ComponentUshort:
		v := binary.LittleEndian.Uint16(b)
		if normalized {
			return float32(v) / 65535
		}
		return float32(v)
	case gltf.ComponentShort:
		v := int16(binary.LittleEndian.Uint16(b))
		if normalized {
			return max32(float32(v)/32767, -1)
		}
		return float32(v)
	case gltf.ComponentUint:
		return float32(binary.LittleEndian.Uint32(b))
	}
	return 0
}

func (r *accessorReader) indices(idx int) ([]uint32, error) {
	if idx < 0 || idx >= len(r.doc.Accessors) {
		return nil, fmt.Errorf("accessor %d out of range", idx)
	}
	acr := r.doc.Accessors[idx]
	if acr.BufferView == nil {
		return nil, fmt.Errorf("index accessor %d has no buffer view", idx)
	}
	data, stride, offset, err := r.view(int(*acr.BufferView))
	if err != nil {
		return nil, err
	}
	size := componentSize(acr.ComponentType)
	if stride == 0 {
		stride = size
	}
	offset += int(acr.ByteOffset)

	count := int(acr.Count)
	out := make([]uint32, count)
	for i := 0; i < count; i++ {
		p := offset + i*stride
		if p+size > len(data) {
			return nil, fmt.Errorf("index accessor %d overruns buffer", idx)
		}
		switch acr.ComponentType {
		case gltf.ComponentUbyte:
			out[i] = uint32(data[p])
		case gltf.ComponentUshort:
			out[i] = uint32(binary.LittleEndian.Uint16(data[p:]))
		case gltf.ComponentUint:
			out[i] = binary.LittleEndian.Uint32(data[p:])
		default:
			return nil, fmt.Errorf("index accessor %d: unsupported component type", idx)
		}
	}
	return out, nil
}

func (r *accessorReader) vec3s(idx int) ([]mgl32.Vec3, error) {
	flat, comps, err := r.floats(idx)
	if err != nil {
		return nil, err
	}
	if comps != 3 {
		return nil, fmt.Errorf("accessor %d: expected vec3, got %d components", idx, comps)
	}
	out := make([]mgl32.Vec3, len(flat)/3)
	for i := range out {
		out[i] = mgl32.Vec3{flat[i*3], flat[i*3+1], flat[i*3+2]}
	}
	return out, nil
}

// view returns the buffer bytes behind a buffer view, with its stride and offset.
func (r *accessorReader) view(idx int) ([]byte, int, int, error) {
	if idx < 0 || idx >= len(r.doc.BufferViews) {
		return nil, 0, 0, fmt.Errorf("buffer view %d out of range", idx)
	}
	bv := r.doc.BufferViews[idx]
	data, err := r.buffer(int(bv.Buffer))
	if err != nil {
		return nil, 0, 0, err
	}
	return data, int(bv.ByteStride), int(bv.ByteOffset), nil
}

func (r *accessorReader) buffer(idx int) ([]byte, error) {
	if data, ok := r.buffers[idx]; ok {
		return data, nil
	}
	if idx < 0 || idx >= len(r.doc.Buffers) {
		return nil, fmt.Errorf("buffer %d out of range", idx)
	}
	buf := r.doc.Buffers[idx]

	var data []byte
	switch {
	case len(buf.Data) > 0:
		data = buf.Data
	case buf.URI == "":
		return nil, fmt.Errorf("buffer %d has no URI and no embedded data", idx)
	case strings.HasPrefix(buf.URI, "data:"):
		return nil, fmt.Errorf("buffer %d: data URI not supported", idx)
	case r.baseDir == "":
		return nil, fmt.Errorf("buffer %d: external URI %q without a base directory", idx, buf.URI)
	default:
		b, err := os.ReadFile(filepath.Join(r.baseDir, buf.URI))
		if err != nil {
			return nil, fmt.Errorf("read buffer file: %w", err)
		}
		data = b
	}
	r.buffers[idx] = data
	return data, nil
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
