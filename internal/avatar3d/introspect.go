package avatar3d

import (
	"strings"

	"github.com/normanking/talkingavatar/internal/scene"
)

// Introspect walks the asset once, depth-first pre-order, and resolves the
// mouth control, the two eye proxies and the clip set.
//
// Mouth resolution runs per mesh in traversal order: an exact name from
// MouthChannelNames, then a case-insensitive substring match, then the
// mesh's first channel. The first mesh that yields a channel wins and later
// meshes are not considered.
//
// Eyes are the first two meshes or bones whose name contains "eye". When no
// eye-named node exists, bones whose name contains "head" are used instead.
func Introspect(asset *scene.Asset) *Controls {
	c := &Controls{Strategy: StrategyNone}
	if asset == nil {
		return c
	}
	c.Root = asset.Root
	c.Clips = asset.Clips

	var eyes, heads []*scene.Node

	asset.Walk(func(n *scene.Node) bool {
		if n.HasMorphs() {
			n.EnsureInfluences()
			if c.Mouth == nil {
				if idx, s := resolveMouth(n.MorphNames); idx >= 0 {
					c.Mouth = BlendShape{Mesh: n, Channel: idx}
					c.Strategy = s
				}
			}
		}

		if n.Kind != scene.KindMesh && n.Kind != scene.KindBone {
			return true
		}
		lower := strings.ToLower(n.Name)
		switch {
		case strings.Contains(lower, "eye"):
			eyes = append(eyes, n)
		case n.Kind == scene.KindBone && strings.Contains(lower, "head"):
			heads = append(heads, n)
		}
		return true
	})

	candidates := eyes
	if len(candidates) == 0 {
		candidates = heads
	}
	if len(candidates) > 0 {
		c.EyeLeft = newEyeProxy(candidates[0])
	}
	if len(candidates) > 1 {
		c.EyeRight = newEyeProxy(candidates[1])
	}
	return c
}

func resolveMouth(names []string) (int, Strategy) {
	if idx := exactMouthChannel(names); idx >= 0 {
		return idx, StrategyExact
	}
	if idx := fuzzyMouthChannel(names); idx >= 0 {
		return idx, StrategyFuzzy
	}
	if len(names) > 0 {
		return 0, StrategyFirst
	}
	return -1, StrategyNone
}
