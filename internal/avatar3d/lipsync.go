package avatar3d

import "math"

// Opening computes the mouth opening for one frame. It is 0 when not
// speaking and within [MinOpening, 1] while speaking.
func Opening(in FrameInputs, elapsed float64, t Tuning) float32 {
	if !in.Speaking {
		return 0
	}
	vol := clamp(in.Volume, 0, 1)

	var opening float32
	if vol > t.VolumeThreshold {
		base := min32(vol*t.VolumeGain, t.VolumeCeiling)
		variation := float32(math.Abs(math.Sin(elapsed*float64(t.VariationFreq)))) * t.VariationAmp
		opening = min32(1, base+variation)
	} else {
		// No usable amplitude: synthetic talking cadence.
		opening = float32(math.Abs(math.Sin(elapsed*float64(t.CadenceFreq))))*t.CadenceAmp + t.CadenceBase
	}

	opening = max32(t.MinOpening, opening)
	return min32(1, opening)
}

// applyMouth writes opening into whichever tier is active. When not
// speaking the model-scale tier returns to exactly 1.
func applyMouth(h FacialControlHandle, speaking bool, opening float32, t Tuning) {
	switch ctl := h.(type) {
	case BlendShape:
		ctl.Mesh.EnsureInfluences()
		ctl.Mesh.SetInfluence(ctl.Channel, opening)

	case NodeScale:
		ctl.Node.Scale[1] = ctl.Baseline + opening*(1-ctl.Baseline)
		ctl.Node.Scale[0] = t.NodeWidthBase + opening*t.NodeWidthGain

	case ModelScale:
		if !speaking {
			ctl.Root.Scale[0] = 1
			ctl.Root.Scale[1] = 1
			return
		}
		ctl.Root.Scale[1] = 1 + (opening-t.ModelScaleCentre)*t.ModelHeightGain
		ctl.Root.Scale[0] = 1 + (opening-t.ModelScaleCentre)*t.ModelWidthGain
	}
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
