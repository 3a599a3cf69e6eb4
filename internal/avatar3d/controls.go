package avatar3d

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/talkingavatar/internal/scene"
)

// FacialControlHandle is the mouth control chosen for an asset. It is one of
// BlendShape, NodeScale or ModelScale.
type FacialControlHandle interface {
	Tier() ControlTier
	String() string
	isControl()
}

// ControlTier orders the handle variants from finest to coarsest.
type ControlTier int

const (
	TierBlendShape ControlTier = iota
	TierNodeScale
	TierModelScale
)

func (t ControlTier) String() string {
	switch t {
	case TierBlendShape:
		return "blend_shape"
	case TierNodeScale:
		return "node_scale"
	default:
		return "model_scale"
	}
}

// BlendShape drives one morph channel on a mesh.
type BlendShape struct {
	Mesh    *scene.Node
	Channel int
}

func (BlendShape) Tier() ControlTier { return TierBlendShape }
func (BlendShape) isControl()        {}

func (b BlendShape) String() string {
	name := ""
	if b.Channel >= 0 && b.Channel < len(b.Mesh.MorphNames) {
		name = b.Mesh.MorphNames[b.Channel]
	}
	return fmt.Sprintf("blend_shape(%s[%d] %q)", b.Mesh.Name, b.Channel, name)
}

// NodeScale squashes a proxy mouth mesh. Baseline is the closed scale.y.
type NodeScale struct {
	Node     *scene.Node
	Baseline float32
}

func (NodeScale) Tier() ControlTier { return TierNodeScale }
func (NodeScale) isControl()        {}

func (n NodeScale) String() string {
	return fmt.Sprintf("node_scale(%s baseline=%.2f)", n.Node.Name, n.Baseline)
}

// ModelScale stretches the whole asset root.
type ModelScale struct {
	Root *scene.Node
}

func (ModelScale) Tier() ControlTier { return TierModelScale }
func (ModelScale) isControl()        {}

func (m ModelScale) String() string {
	return fmt.Sprintf("model_scale(%s)", m.Root.Name)
}

// EyeProxy is a node used for eye tracking. Rest is its position at load.
type EyeProxy struct {
	Node *scene.Node
	Rest mgl32.Vec3
}

func newEyeProxy(n *scene.Node) *EyeProxy {
	return &EyeProxy{Node: n, Rest: n.Position}
}

// Strategy records which rule resolved the mouth control.
type Strategy string

const (
	StrategyExact       Strategy = "exact"
	StrategyFuzzy       Strategy = "fuzzy"
	StrategyFirst       Strategy = "first_available"
	StrategyPlaceholder Strategy = "placeholder"
	StrategyNone        Strategy = "none"
)

// Controls is the control set for one loaded asset. Mouth is nil when no
// blend shape was discovered; Active then yields the model-scale fallback.
type Controls struct {
	Root     *scene.Node
	Mouth    FacialControlHandle
	Strategy Strategy
	EyeLeft  *EyeProxy
	EyeRight *EyeProxy
	Clips    []*scene.Clip
}

// Active returns the handle the animator drives, never nil when Root is set.
func (c *Controls) Active() FacialControlHandle {
	if c == nil {
		return nil
	}
	if c.Mouth != nil {
		return c.Mouth
	}
	if c.Root == nil {
		return nil
	}
	return ModelScale{Root: c.Root}
}

// Eyes returns the discovered eye proxies in left, right order.
func (c *Controls) Eyes() []*EyeProxy {
	var eyes []*EyeProxy
	if c.EyeLeft != nil {
		eyes = append(eyes, c.EyeLeft)
	}
	if c.EyeRight != nil {
		eyes = append(eyes, c.EyeRight)
	}
	return eyes
}
