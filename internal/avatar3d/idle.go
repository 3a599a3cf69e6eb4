package avatar3d

// idle adds the constant yaw drift applied on frames without speech. It runs
// after track on the same yaw, so the smoothing pulls it back each frame and
// the drift settles at a bounded offset.
func (a *Animator) idle(t Tuning) {
	a.state.Yaw += t.IdleYawDrift
}
