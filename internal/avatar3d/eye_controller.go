package avatar3d

import "github.com/go-gl/mathgl/mgl32"

// track advances head yaw and eye offsets toward the pointer. Yaw is low-pass
// filtered so it never fights the orbit camera; pitch is set directly.
func (a *Animator) track(p Pointer, t Tuning) {
	lookX := p.X * t.LookGainX
	lookY := p.Y * t.LookGainY

	a.state.Yaw = a.state.Yaw*(1-t.YawSmoothing) + lookX*t.YawSmoothing
	a.state.Pitch = clamp(-lookY, -t.PitchLimit, t.PitchLimit)

	target := mgl32.Vec2{lookX * t.EyeGain, lookY * t.EyeGain}
	for i := range a.state.EyeOffsets {
		off := a.state.EyeOffsets[i]
		a.state.EyeOffsets[i] = off.Add(target.Sub(off).Mul(t.EyeSmoothing))
	}
}

// pose writes the head orientation and eye positions into the scene.
func (a *Animator) pose(c *Controls) {
	if c.Root != nil {
		c.Root.Rotation[0] = a.state.Pitch
		c.Root.Rotation[1] = a.state.Yaw
	}
	for i, eye := range []*EyeProxy{c.EyeLeft, c.EyeRight} {
		if eye == nil || eye.Node == nil {
			continue
		}
		off := a.state.EyeOffsets[i]
		eye.Node.Position = mgl32.Vec3{
			eye.Rest.X() + off.X(),
			eye.Rest.Y() + off.Y(),
			eye.Rest.Z(),
		}
	}
}
