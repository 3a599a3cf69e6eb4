package avatar3d

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/talkingavatar/internal/scene"
)

// PlaceholderSource marks assets produced by BuildPlaceholder.
const PlaceholderSource = "placeholder"

// MouthBaseline is the closed scale.y of the placeholder mouth.
const MouthBaseline = 0.1

// BuildPlaceholder synthesizes a proxy avatar: a head sphere, two eye
// spheres wired as eye proxies and a box mouth wired as a NodeScale control.
func BuildPlaceholder() (*scene.Asset, *Controls) {
	root := scene.NewNode("PlaceholderAvatar", scene.KindGroup)

	head := scene.NewNode("Head", scene.KindMesh)
	head.Position = mgl32.Vec3{0, 1.6, 0}
	head.Geometry = []*scene.Geometry{scene.SphereGeometry(0.3, 32, 32, scene.HexColor(0xffdbac))}
	root.Add(head)

	eyeColor := scene.HexColor(0x000000)
	left := scene.NewNode("EyeLeft", scene.KindMesh)
	left.Position = mgl32.Vec3{-0.1, 1.65, 0.25}
	left.Geometry = []*scene.Geometry{scene.SphereGeometry(0.05, 16, 16, eyeColor)}
	root.Add(left)

	right := scene.NewNode("EyeRight", scene.KindMesh)
	right.Position = mgl32.Vec3{0.1, 1.65, 0.25}
	right.Geometry = []*scene.Geometry{scene.SphereGeometry(0.05, 16, 16, eyeColor)}
	root.Add(right)

	mouth := scene.NewNode("Mouth", scene.KindMesh)
	mouth.Position = mgl32.Vec3{0, 1.5, 0.25}
	mouth.Scale = mgl32.Vec3{1, MouthBaseline, 1}
	mouth.Geometry = []*scene.Geometry{scene.BoxGeometry(0.15, 0.05, 0.02, scene.HexColor(0x8b0000))}
	root.Add(mouth)

	asset := &scene.Asset{Source: PlaceholderSource, Root: root}
	controls := &Controls{
		Root:     root,
		Mouth:    NodeScale{Node: mouth, Baseline: MouthBaseline},
		Strategy: StrategyPlaceholder,
		EyeLeft:  newEyeProxy(left),
		EyeRight: newEyeProxy(right),
	}
	return asset, controls
}
