package avatar3d

import "strings"

// MouthChannelNames is the ranked list of mouth-open morph names. Exact
// matches are tried in this order before any substring match.
var MouthChannelNames = []string{
	"mouthOpen", "Mouth_Open", "mouth_open", "jawOpen", "Jaw_Open",
	"jaw_open", "mouthA", "MouthA", "viseme_aa", "viseme_oh", "viseme_ee",
	"jawDrop", "JawDrop", "mouthSmile", "MouthSmile", "jaw", "Jaw",
	"mouth", "Mouth", "open", "Open", "A", "aa", "oh", "ee",
}

var lowerMouthNames = func() []string {
	out := make([]string, len(MouthChannelNames))
	for i, n := range MouthChannelNames {
		out[i] = strings.ToLower(n)
	}
	return out
}()

// exactMouthChannel returns the channel index of the first list entry
// present verbatim in names, or -1.
func exactMouthChannel(names []string) int {
	for _, want := range MouthChannelNames {
		for i, have := range names {
			if have == want {
				return i
			}
		}
	}
	return -1
}

// fuzzyMouthChannel returns the first channel whose lowercase name contains
// any list entry, or -1.
func fuzzyMouthChannel(names []string) int {
	for i, have := range names {
		lower := strings.ToLower(have)
		for _, want := range lowerMouthNames {
			if strings.Contains(lower, want) {
				return i
			}
		}
	}
	return -1
}

// channelByNames returns the index of the first of candidates present in names.
func channelByNames(names []string, candidates ...string) int {
	for _, c := range candidates {
		for i, n := range names {
			if n == c {
				return i
			}
		}
	}
	return -1
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
