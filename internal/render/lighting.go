// internal/render/lighting.go
//
// Light definitions for the avatar stage
package render

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/talkingavatar/internal/scene"
)

// LightType defines the type of light source
type LightType int

const (
	LightTypePoint LightType = iota
	LightTypeDirectional
)

// Light represents a light source
type Light struct {
	Type      LightType
	Position  mgl32.Vec3
	Color     mgl32.Vec3
	Intensity float32
}

// Direction is the normalized vector from the light toward the origin.
// Meaningful for directional lights.
func (l Light) Direction() mgl32.Vec3 {
	if l.Position.Len() == 0 {
		return mgl32.Vec3{0, -1, 0}
	}
	return l.Position.Mul(-1).Normalize()
}

// LightingRig represents a collection of lights for a scene
type LightingRig struct {
	Lights           []Light
	AmbientColor     mgl32.Vec3
	AmbientIntensity float32
	Background       mgl32.Vec3
}

// NewStageLighting returns the default rig: a white ambient, a white key
// from above right and a violet fill from the left.
func NewStageLighting() *LightingRig {
	return &LightingRig{
		Lights: []Light{
			{
				Type:      LightTypeDirectional,
				Position:  mgl32.Vec3{5, 10, 5},
				Color:     mgl32.Vec3{1, 1, 1},
				Intensity: 0.8,
			},
			{
				Type:      LightTypePoint,
				Position:  mgl32.Vec3{-5, 5, 5},
				Color:     scene.HexColor(0x667eea),
				Intensity: 0.5,
			},
		},
		AmbientColor:     mgl32.Vec3{1, 1, 1},
		AmbientIntensity: 0.6,
		Background:       scene.HexColor(0x0a0a0a),
	}
}

// Ambient returns the premultiplied ambient term.
func (rig *LightingRig) Ambient() mgl32.Vec3 {
	return rig.AmbientColor.Mul(rig.AmbientIntensity)
}
