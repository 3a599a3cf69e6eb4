package sentiment

import (
	"testing"

	"github.com/normanking/talkingavatar/internal/avatar3d"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want avatar3d.Emotion
	}{
		{"empty", "", avatar3d.EmotionNeutral},
		{"plain", "The meeting is at noon.", avatar3d.EmotionNeutral},
		{"positive", "That is a GREAT idea, I love it!", avatar3d.EmotionHappy},
		{"negative", "Sorry, that was a terrible error.", avatar3d.EmotionSad},
		{"tie", "good news and bad news", avatar3d.EmotionNeutral},
		{"repeats count once", "good good good, but sad and awful", avatar3d.EmotionSad},
		{"substring match", "I dislike this", avatar3d.EmotionNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}
}

func TestScore(t *testing.T) {
	pos, neg := Score("I'm unhappy")
	assert.Equal(t, 1, pos)
	assert.Equal(t, 1, neg)
}

func TestClassify_FeedsStateMapper(t *testing.T) {
	m := avatar3d.NewStateMapper(Classify)
	b := avatar3d.NewInputBridge()

	m.Apply(avatar3d.SpeechState{Speaking: true, MessageID: "1", Message: "Awesome, glad to help!"}, b)
	m.Apply(avatar3d.SpeechState{Speaking: true, Volume: 0.5, MessageID: "1", Message: "Awesome, glad to help!"}, b)

	assert.Equal(t, avatar3d.EmotionHappy, b.Snapshot().Emotion)
	assert.Equal(t, 1, m.Classifications())
}
