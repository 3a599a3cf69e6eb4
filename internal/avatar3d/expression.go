package avatar3d

var emotionChannels = map[Emotion][]string{
	EmotionHappy: {"smile", "Smile"},
	EmotionSad:   {"frown", "Frown"},
}

// applyEmotion sets the smile or frown channel on the mouth mesh. It only
// acts when the mouth is a blend shape and never touches the mouth channel.
func applyEmotion(h FacialControlHandle, e Emotion, t Tuning) {
	bs, ok := h.(BlendShape)
	if !ok {
		return
	}
	names, ok := emotionChannels[e]
	if !ok {
		return
	}
	idx := channelByNames(bs.Mesh.MorphNames, names...)
	if idx < 0 || idx == bs.Channel {
		return
	}
	bs.Mesh.EnsureInfluences()
	bs.Mesh.SetInfluence(idx, t.EmotionWeight)
}
