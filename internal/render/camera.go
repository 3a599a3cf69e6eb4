// internal/render/camera.go
//
// Perspective camera and damped orbit controls for viewing the avatar
package render

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera represents a 3D camera
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3

	// Projection parameters
	FOV         float32
	AspectRatio float32
	NearPlane   float32
	FarPlane    float32

	// Cached matrices
	viewMatrix       mgl32.Mat4
	projectionMatrix mgl32.Mat4
	dirty            bool
}

// NewCamera creates a new camera
func NewCamera(position, target, up mgl32.Vec3, fov, aspect, near, far float32) *Camera {
	c := &Camera{
		Position:    position,
		Target:      target,
		Up:          up,
		FOV:         fov,
		AspectRatio: aspect,
		NearPlane:   near,
		FarPlane:    far,
		dirty:       true,
	}
	c.updateMatrices()
	return c
}

// NewAvatarCamera frames a standing avatar's head from slightly above.
func NewAvatarCamera(aspect float32) *Camera {
	return NewCamera(
		mgl32.Vec3{0, 1.6, 2}, // eye height, 2m back
		mgl32.Vec3{0, 1, 0},   // avatar centre
		mgl32.Vec3{0, 1, 0},
		75.0,
		aspect,
		0.1, 1000.0,
	)
}

// ViewMatrix returns the view matrix
func (c *Camera) ViewMatrix() mgl32.Mat4 {
	if c.dirty {
		c.updateMatrices()
	}
	return c.viewMatrix
}

// ProjectionMatrix returns the projection matrix
func (c *Camera) ProjectionMatrix() mgl32.Mat4 {
	if c.dirty {
		c.updateMatrices()
	}
	return c.projectionMatrix
}

func (c *Camera) updateMatrices() {
	c.viewMatrix = mgl32.LookAtV(c.Position, c.Target, c.Up)
	c.projectionMatrix = mgl32.Perspective(
		mgl32.DegToRad(c.FOV),
		c.AspectRatio,
		c.NearPlane,
		c.FarPlane,
	)
	c.dirty = false
}

// SetPosition updates camera position
func (c *Camera) SetPosition(pos mgl32.Vec3) {
	c.Position = pos
	c.dirty = true
}

// SetTarget updates camera target
func (c *Camera) SetTarget(target mgl32.Vec3) {
	c.Target = target
	c.dirty = true
}

// SetAspectRatio updates aspect ratio
func (c *Camera) SetAspectRatio(aspect float32) {
	if aspect <= 0 {
		return
	}
	c.AspectRatio = aspect
	c.dirty = true
}

// Forward returns the camera's forward direction
func (c *Camera) Forward() mgl32.Vec3 {
	return c.Target.Sub(c.Position).Normalize()
}

// Right returns the camera's right direction
func (c *Camera) Right() mgl32.Vec3 {
	return c.Forward().Cross(c.Up).Normalize()
}

// =============================================================================
// ORBIT CONTROLS
// =============================================================================

// OrbitControls orbits the camera around a target with damped motion and
// clamps distance and polar angle.
type OrbitControls struct {
	camera *Camera

	DampingFactor float32
	MinDistance   float32
	MaxDistance   float32
	MinPolar      float64
	MaxPolar      float64

	// Sensitivity
	RotateSpeed float32
	ZoomSpeed   float32
	PanSpeed    float32

	deltaTheta float64
	deltaPhi   float64
	scale      float32
	panOffset  mgl32.Vec3

	lastMouseX float32
	lastMouseY float32
	isOrbiting bool
	isPanning  bool

	attached bool
}

// NewOrbitControls attaches damped orbit controls to a camera.
func NewOrbitControls(camera *Camera) *OrbitControls {
	return &OrbitControls{
		camera:        camera,
		DampingFactor: 0.05,
		MinDistance:   0.5,
		MaxDistance:   5,
		MinPolar:      math.Pi / 3,
		MaxPolar:      math.Pi / 1.5,
		RotateSpeed:   0.005,
		ZoomSpeed:     0.95,
		PanSpeed:      0.002,
		scale:         1,
		attached:      true,
	}
}

// Attached reports whether the controls still respond to input.
func (oc *OrbitControls) Attached() bool {
	return oc.attached
}

// Detach stops the controls from reacting to input or moving the camera.
func (oc *OrbitControls) Detach() {
	oc.attached = false
	oc.deltaTheta, oc.deltaPhi = 0, 0
	oc.scale = 1
	oc.panOffset = mgl32.Vec3{}
}

// Rotate queues a rotation in radians.
func (oc *OrbitControls) Rotate(dTheta, dPhi float64) {
	if !oc.attached {
		return
	}
	oc.deltaTheta += dTheta
	oc.deltaPhi += dPhi
}

// Dolly queues a zoom; steps > 0 moves closer.
func (oc *OrbitControls) Dolly(steps float32) {
	if !oc.attached || steps == 0 {
		return
	}
	oc.scale *= float32(math.Pow(float64(oc.ZoomSpeed), float64(steps)))
}

// ProcessMouse handles mouse input
func (oc *OrbitControls) ProcessMouse(x, y float32, leftButton, rightButton, middleButton bool) {
	deltaX := x - oc.lastMouseX
	deltaY := y - oc.lastMouseY

	if leftButton {
		if !oc.isOrbiting {
			oc.isOrbiting = true
		} else {
			oc.Rotate(-float64(deltaX*oc.RotateSpeed), -float64(deltaY*oc.RotateSpeed))
		}
	} else {
		oc.isOrbiting = false
	}

	if middleButton || rightButton {
		if !oc.isPanning {
			oc.isPanning = true
		} else if oc.attached {
			right := oc.camera.Right()
			oc.panOffset = oc.panOffset.
				Add(right.Mul(-deltaX * oc.PanSpeed)).
				Add(oc.camera.Up.Mul(deltaY * oc.PanSpeed))
		}
	} else {
		oc.isPanning = false
	}

	oc.lastMouseX = x
	oc.lastMouseY = y
}

// ProcessScroll handles scroll wheel for zoom
func (oc *OrbitControls) ProcessScroll(delta float32) {
	oc.Dolly(delta)
}

// Update applies one damped step of queued motion. It must run before the
// camera matrices are read for the frame. Returns whether the camera moved.
func (oc *OrbitControls) Update() bool {
	if !oc.attached {
		return false
	}
	c := oc.camera
	offset := c.Position.Sub(c.Target)

	radius := float64(offset.Len())
	if radius == 0 {
		return false
	}
	theta := math.Atan2(float64(offset.X()), float64(offset.Z()))
	phi := math.Acos(clamp64(float64(offset.Y())/radius, -1, 1))

	damping := float64(oc.DampingFactor)
	theta += oc.deltaTheta * damping
	phi += oc.deltaPhi * damping
	phi = clamp64(phi, oc.MinPolar, oc.MaxPolar)

	radius = clamp64(radius*float64(oc.scale), float64(oc.MinDistance), float64(oc.MaxDistance))

	target := c.Target.Add(oc.panOffset.Mul(oc.DampingFactor))
	pos := target.Add(mgl32.Vec3{
		float32(radius * math.Sin(phi) * math.Sin(theta)),
		float32(radius * math.Cos(phi)),
		float32(radius * math.Sin(phi) * math.Cos(theta)),
	})

	moved := pos.Sub(c.Position).Len() > 1e-5 || target.Sub(c.Target).Len() > 1e-5
	c.SetTarget(target)
	c.SetPosition(pos)

	oc.deltaTheta *= 1 - damping
	oc.deltaPhi *= 1 - damping
	oc.panOffset = oc.panOffset.Mul(1 - oc.DampingFactor)
	oc.scale = 1
	return moved
}

func clamp64(v, min, max float64) float64 {
	return math.Max(min, math.Min(max, v))
}
