// Package sentiment derives the avatar's mood from reply text with a small
// keyword lexicon.
package sentiment

import (
	"strings"

	"github.com/normanking/talkingavatar/internal/avatar3d"
)

var positiveWords = []string{
	"happy", "great", "excellent", "wonderful", "amazing", "fantastic",
	"good", "nice", "love", "like", "enjoy", "pleased", "delighted",
	"smile", "laugh", "joy", "excited", "awesome", "perfect", "brilliant",
}

var negativeWords = []string{
	"sad", "bad", "terrible", "awful", "hate", "dislike", "angry",
	"frustrated", "disappointed", "worried", "concerned", "upset",
	"frown", "cry", "unhappy", "horrible", "worst", "problem", "error",
}

// Score counts how many lexicon words appear in text. Each word counts once
// and matches as a substring, so "unhappy" also hits "happy".
func Score(text string) (positive, negative int) {
	lower := strings.ToLower(text)
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			positive++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			negative++
		}
	}
	return positive, negative
}

// Classify returns happy or sad when one side of the lexicon wins, else neutral.
func Classify(text string) avatar3d.Emotion {
	if text == "" {
		return avatar3d.EmotionNeutral
	}
	pos, neg := Score(text)
	switch {
	case pos > neg:
		return avatar3d.EmotionHappy
	case neg > pos:
		return avatar3d.EmotionSad
	}
	return avatar3d.EmotionNeutral
}
