package render

// LoadState is the asset loading state machine.
type LoadState int

const (
	StateIdle LoadState = iota
	StateLoading
	StateReady
	StateFailed
)

func (s LoadState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the loop for observers.
type Status struct {
	State       LoadState `json:"-"`
	StateName   string    `json:"loadState"`
	Source      string    `json:"source,omitempty"`
	Placeholder bool      `json:"placeholder"`
	Error       string    `json:"error,omitempty"`
	Frames      uint64    `json:"frames"`
	Backend     string    `json:"backend"`
}

// Pose is the animator output of the last frame, for remote viewers.
type Pose struct {
	Opening    float32       `json:"mouthOpening"`
	Yaw        float32       `json:"headYaw"`
	Pitch      float32       `json:"headPitch"`
	EyeOffsets [2][2]float32 `json:"eyeOffsets"`
	Tier       string        `json:"tier,omitempty"`
	Speaking   bool          `json:"isSpeaking"`
	Emotion    string        `json:"emotion"`
}
