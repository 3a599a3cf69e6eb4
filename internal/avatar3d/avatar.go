package avatar3d

import (
	"github.com/normanking/talkingavatar/internal/scene"
)

// Avatar is one active asset with its derived controls and clip mixer.
type Avatar struct {
	Asset    *scene.Asset
	Controls *Controls
	Mixer    *scene.Mixer

	Placeholder bool
}

// NewAvatar introspects asset and prepares clip playback.
func NewAvatar(asset *scene.Asset) *Avatar {
	c := Introspect(asset)
	return &Avatar{
		Asset:    asset,
		Controls: c,
		Mixer:    scene.NewMixer(c.Clips),
	}
}

// NewPlaceholderAvatar wraps BuildPlaceholder.
func NewPlaceholderAvatar() *Avatar {
	asset, c := BuildPlaceholder()
	return &Avatar{
		Asset:       asset,
		Controls:    c,
		Mixer:       scene.NewMixer(nil),
		Placeholder: true,
	}
}

// Update advances clip playback by dt seconds.
func (a *Avatar) Update(dt float32) {
	if a == nil {
		return
	}
	a.Mixer.Update(dt)
}

// Summary describes the resolved controls for logs and the inspect command.
type Summary struct {
	Source     string   `json:"source" yaml:"source"`
	Tier       string   `json:"tier" yaml:"tier"`
	Strategy   Strategy `json:"strategy" yaml:"strategy"`
	Mouth      string   `json:"mouth" yaml:"mouth"`
	EyeLeft    string   `json:"eyeLeft,omitempty" yaml:"eyeLeft,omitempty"`
	EyeRight   string   `json:"eyeRight,omitempty" yaml:"eyeRight,omitempty"`
	Clips      []string `json:"clips,omitempty" yaml:"clips,omitempty"`
	Nodes      int      `json:"nodes" yaml:"nodes"`
	Meshes     int      `json:"meshes" yaml:"meshes"`
	Bones      int      `json:"bones" yaml:"bones"`
	MorphCount int      `json:"morphCount" yaml:"morphCount"`
}

func (a *Avatar) Summary() Summary {
	s := Summary{Source: a.Asset.Source, Strategy: a.Controls.Strategy}
	if h := a.Controls.Active(); h != nil {
		s.Tier = h.Tier().String()
		s.Mouth = h.String()
	}
	if a.Controls.EyeLeft != nil {
		s.EyeLeft = a.Controls.EyeLeft.Node.Name
	}
	if a.Controls.EyeRight != nil {
		s.EyeRight = a.Controls.EyeRight.Node.Name
	}
	for _, c := range a.Controls.Clips {
		s.Clips = append(s.Clips, c.Name)
	}
	s.Nodes, s.Meshes, s.Bones = a.Asset.Stats()
	a.Asset.Walk(func(n *scene.Node) bool {
		if n.HasMorphs() {
			s.MorphCount += len(n.MorphNames)
		}
		return true
	})
	return s
}
