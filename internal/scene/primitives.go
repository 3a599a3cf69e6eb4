package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// SphereGeometry builds a UV sphere centred on the origin.
func SphereGeometry(radius float32, segments, rings int, color mgl32.Vec3) *Geometry {
	geo := &Geometry{Color: color}

	for y := 0; y <= rings; y++ {
		for x := 0; x <= segments; x++ {
			xSeg := float64(x) / float64(segments)
			ySeg := float64(y) / float64(rings)

			nx := float32(math.Cos(2*math.Pi*xSeg) * math.Sin(math.Pi*ySeg))
			ny := float32(math.Cos(math.Pi * ySeg))
			nz := float32(math.Sin(2*math.Pi*xSeg) * math.Sin(math.Pi*ySeg))

			geo.Positions = append(geo.Positions, mgl32.Vec3{nx * radius, ny * radius, nz * radius})
			geo.Normals = append(geo.Normals, mgl32.Vec3{nx, ny, nz})
		}
	}

	for y := 0; y < rings; y++ {
		for x := 0; x < segments; x++ {
			first := uint32(y*(segments+1) + x)
			second := first + uint32(segments+1)

			geo.Indices = append(geo.Indices, first, second, first+1)
			geo.Indices = append(geo.Indices, second, second+1, first+1)
		}
	}
	return geo
}

// BoxGeometry builds an axis-aligned box centred on the origin.
func BoxGeometry(w, h, d float32, color mgl32.Vec3) *Geometry {
	hx, hy, hz := w/2, h/2, d/2
	faces := []struct {
		n       mgl32.Vec3
		corners [4]mgl32.Vec3
	}{
		{mgl32.Vec3{0, 0, 1}, [4]mgl32.Vec3{{-hx, -hy, hz}, {hx, -hy, hz}, {hx, hy, hz}, {-hx, hy, hz}}},
		{mgl32.Vec3{0, 0, -1}, [4]mgl32.Vec3{{hx, -hy, -hz}, {-hx, -hy, -hz}, {-hx, hy, -hz}, {hx, hy, -hz}}},
		{mgl32.Vec3{1, 0, 0}, [4]mgl32.Vec3{{hx, -hy, hz}, {hx, -hy, -hz}, {hx, hy, -hz}, {hx, hy, hz}}},
		{mgl32.Vec3{-1, 0, 0}, [4]mgl32.Vec3{{-hx, -hy, -hz}, {-hx, -hy, hz}, {-hx, hy, hz}, {-hx, hy, -hz}}},
		{mgl32.Vec3{0, 1, 0}, [4]mgl32.Vec3{{-hx, hy, hz}, {hx, hy, hz}, {hx, hy, -hz}, {-hx, hy, -hz}}},
		{mgl32.Vec3{0, -1, 0}, [4]mgl32.Vec3{{-hx, -hy, -hz}, {hx, -hy, -hz}, {hx, -hy, hz}, {-hx, -hy, hz}}},
	}

	geo := &Geometry{Color: color}
	for _, f := range faces {
		base := uint32(len(geo.Positions))
		for _, c := range f.corners {
			geo.Positions = append(geo.Positions, c)
			geo.Normals = append(geo.Normals, f.n)
		}
		geo.Indices = append(geo.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return geo
}

// HexColor converts 0xRRGGBB to a linear-ish RGB vector.
func HexColor(c uint32) mgl32.Vec3 {
	return mgl32.Vec3{
		float32((c>>16)&0xff) / 255,
		float32((c>>8)&0xff) / 255,
		float32(c&0xff) / 255,
	}
}
