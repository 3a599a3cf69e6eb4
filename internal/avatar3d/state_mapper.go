package avatar3d

import "sync"

// SpeechState is what the speech pipeline reports each time it changes.
type SpeechState struct {
	Speaking  bool
	Volume    float32
	MessageID string
	Message   string
}

// Classifier maps an assistant reply to an emotion.
type Classifier func(text string) Emotion

// StateMapper feeds speech state into an InputBridge. The classifier runs
// at most once per new message; an empty message resets to neutral.
type StateMapper struct {
	mu sync.Mutex

	classify   Classifier
	lastID     string
	lastText   string
	emotion    Emotion
	classified int
}

func NewStateMapper(classify Classifier) *StateMapper {
	return &StateMapper{
		classify: classify,
		emotion:  EmotionNeutral,
	}
}

// Apply pushes s into b, reclassifying only when the message changed.
func (m *StateMapper) Apply(s SpeechState, b *InputBridge) {
	m.mu.Lock()
	if s.MessageID != m.lastID || s.Message != m.lastText {
		m.lastID = s.MessageID
		m.lastText = s.Message
		switch {
		case s.Message == "":
			m.emotion = EmotionNeutral
		case m.classify != nil:
			m.emotion = m.classify(s.Message)
			m.classified++
		}
	}
	emotion := m.emotion
	m.mu.Unlock()

	b.update(func(in *FrameInputs) {
		in.Speaking = s.Speaking
		in.Volume = s.Volume
		in.Emotion = emotion
	})
}

// Emotion returns the current classification.
func (m *StateMapper) Emotion() Emotion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emotion
}

// Classifications reports how many times the classifier ran.
func (m *StateMapper) Classifications() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classified
}
