package bridge

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/normanking/talkingavatar/internal/avatar3d"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/config"
	"github.com/normanking/talkingavatar/internal/library"
	"github.com/normanking/talkingavatar/internal/render"
	"github.com/normanking/talkingavatar/internal/scene"
	"github.com/normanking/talkingavatar/internal/tts"
	"github.com/rs/zerolog"
)

// ModelPrefix is the URL path local models are served under.
const ModelPrefix = "/models/"

// SpeechSource reports what is being spoken.
type SpeechSource interface {
	Snapshot() tts.State
}

// View is the render loop as the bridge drives it.
type View interface {
	Load(src string) error
	Status() render.Status
	Pose() render.Pose
}

// AvatarState is pushed to browser clients.
type AvatarState struct {
	IsSpeaking  bool         `json:"isSpeaking"`
	AudioVolume float64      `json:"audioVolume"`
	Emotion     string       `json:"emotion"`
	MessageID   string       `json:"messageId,omitempty"`
	LoadState   string       `json:"loadState"`
	ModelURL    string       `json:"modelUrl,omitempty"`
	Placeholder bool         `json:"placeholder"`
	Error       string       `json:"error,omitempty"`
	Pose        *render.Pose `json:"pose,omitempty"`
}

// AvatarBridge feeds speech state and pointer motion into the avatar inputs
// and manages which model is shown.
type AvatarBridge struct {
	speech  SpeechSource
	mapper  *avatar3d.StateMapper
	inputs  *avatar3d.InputBridge
	library *library.Store
	cfg     config.AvatarConfig
	bus     *bus.EventBus
	log     zerolog.Logger

	mu          sync.Mutex
	view        View
	lastEmotion avatar3d.Emotion
	modelURL    string
}

// NewAvatarBridge creates the avatar bridge. lib may be nil when only the
// configured model is used.
func NewAvatarBridge(speech SpeechSource, classify avatar3d.Classifier, lib *library.Store, cfg config.AvatarConfig, eventBus *bus.EventBus, log zerolog.Logger) *AvatarBridge {
	return &AvatarBridge{
		speech:      speech,
		mapper:      avatar3d.NewStateMapper(classify),
		inputs:      avatar3d.NewInputBridge(),
		library:     lib,
		cfg:         cfg,
		bus:         eventBus,
		log:         log.With().Str("component", "avatar-bridge").Logger(),
		lastEmotion: avatar3d.EmotionNeutral,
	}
}

// Inputs is the frame input source for a render loop.
func (b *AvatarBridge) Inputs() *avatar3d.InputBridge { return b.inputs }

// Attach sets the render loop that shows the avatar.
func (b *AvatarBridge) Attach(v View) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.view = v
}

// Pump copies the current speech state into the inputs once.
func (b *AvatarBridge) Pump() {
	s := b.speech.Snapshot()
	b.mapper.Apply(avatar3d.SpeechState{
		Speaking:  s.IsSpeaking,
		Volume:    float32(s.AudioVolume),
		MessageID: s.MessageID,
		Message:   s.Message,
	}, b.inputs)

	emotion := b.mapper.Emotion()
	b.mu.Lock()
	changed := emotion != b.lastEmotion
	b.lastEmotion = emotion
	b.mu.Unlock()
	if changed {
		b.log.Debug().Str("emotion", string(emotion)).Msg("Emotion changed")
		b.bus.Publish(bus.Event{
			Type: bus.EventTypeEmotionChanged,
			Data: map[string]any{"emotion": string(emotion), "id": s.MessageID},
		})
	}
}

// Run pumps at hz until ctx is done.
func (b *AvatarBridge) Run(ctx context.Context, hz int) {
	if hz <= 0 {
		hz = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Pump()
		}
	}
}

// SetPointer records the cursor relative to the viewport centre.
func (b *AvatarBridge) SetPointer(x, y float32) {
	b.inputs.SetPointer(x, y)
}

// State returns the latest speech, emotion and load state.
func (b *AvatarBridge) State() AvatarState {
	in := b.inputs.Snapshot()
	s := b.speech.Snapshot()
	st := AvatarState{
		IsSpeaking:  in.Speaking,
		AudioVolume: float64(in.Volume),
		Emotion:     string(in.Emotion),
		MessageID:   s.MessageID,
		LoadState:   render.StateIdle.String(),
	}

	b.mu.Lock()
	view := b.view
	st.ModelURL = b.modelURL
	b.mu.Unlock()

	if view != nil {
		status := view.Status()
		st.LoadState = status.StateName
		st.Placeholder = status.Placeholder
		st.Error = status.Error
		pose := view.Pose()
		st.Pose = &pose
	}
	return st
}

// ModelURL is the model to show: the configured one in single-model mode,
// else the library selection, else the configured one.
func (b *AvatarBridge) ModelURL(ctx context.Context) string {
	if b.cfg.SingleModel || b.library == nil {
		return b.cfg.ModelURL
	}
	a, err := b.library.Selected(ctx)
	if err != nil {
		if !errors.Is(err, library.ErrNotFound) {
			b.log.Warn().Err(err).Msg("Library lookup failed, using configured model")
		}
		return b.cfg.ModelURL
	}
	return a.URL
}

// Reload shows the current model in the attached view.
func (b *AvatarBridge) Reload(ctx context.Context) error {
	url := b.ModelURL(ctx)

	b.mu.Lock()
	b.modelURL = url
	view := b.view
	b.mu.Unlock()

	if view == nil {
		return nil
	}
	// an empty URL shows the placeholder
	return view.Load(url)
}

// ErrLibraryDisabled is returned by library calls in single-model mode.
var ErrLibraryDisabled = errors.New("avatar library disabled in single-model mode")

func (b *AvatarBridge) lib() (*library.Store, error) {
	if b.cfg.SingleModel || b.library == nil {
		return nil, ErrLibraryDisabled
	}
	return b.library, nil
}

// Avatars lists the library. In single-model mode it lists the configured
// model alone.
func (b *AvatarBridge) Avatars(ctx context.Context) ([]library.Avatar, error) {
	lib, err := b.lib()
	if err != nil {
		return []library.Avatar{{
			ID:       "default",
			Name:     b.cfg.ModelName,
			URL:      b.cfg.ModelURL,
			Selected: true,
		}}, nil
	}
	return lib.List(ctx)
}

// CreateAvatar adds a model to the library.
func (b *AvatarBridge) CreateAvatar(ctx context.Context, name, url string) (*library.Avatar, error) {
	lib, err := b.lib()
	if err != nil {
		return nil, err
	}
	a, err := lib.Create(ctx, name, url)
	if err != nil {
		return nil, err
	}
	b.log.Info().Str("id", a.ID).Str("url", a.URL).Msg("Avatar added")
	if a.Selected {
		b.selected(ctx, a)
	}
	return a, nil
}

// RenameAvatar changes an avatar's name.
func (b *AvatarBridge) RenameAvatar(ctx context.Context, id, name string) (*library.Avatar, error) {
	lib, err := b.lib()
	if err != nil {
		return nil, err
	}
	return lib.Rename(ctx, id, name)
}

// DeleteAvatar removes an avatar, falling back to the configured model
// when it was the one shown.
func (b *AvatarBridge) DeleteAvatar(ctx context.Context, id string) error {
	lib, err := b.lib()
	if err != nil {
		return err
	}
	a, err := lib.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := lib.Delete(ctx, id); err != nil {
		return err
	}
	b.log.Info().Str("id", id).Msg("Avatar deleted")
	if a.Selected {
		return b.Reload(ctx)
	}
	return nil
}

// SelectAvatar makes id the shown avatar.
func (b *AvatarBridge) SelectAvatar(ctx context.Context, id string) (*library.Avatar, error) {
	lib, err := b.lib()
	if err != nil {
		return nil, err
	}
	a, err := lib.Select(ctx, id)
	if err != nil {
		return nil, err
	}
	b.selected(ctx, a)
	return a, nil
}

func (b *AvatarBridge) selected(ctx context.Context, a *library.Avatar) {
	b.bus.Publish(bus.Event{
		Type: bus.EventTypeAvatarSelected,
		Data: map[string]any{"id": a.ID, "name": a.Name, "url": a.URL},
	})
	if err := b.Reload(ctx); err != nil {
		b.log.Warn().Err(err).Str("id", a.ID).Msg("Reload after selection failed")
	}
}

// ModelLoader loads models for a render loop. Paths under ModelPrefix are
// read from modelDir; everything else goes to scene.Load.
func ModelLoader(modelDir string, client *http.Client) render.LoaderFunc {
	return func(ctx context.Context, src string) (*scene.Asset, error) {
		return scene.Load(ctx, client, ResolveModelPath(modelDir, src))
	}
}

// ResolveModelPath maps a served model URL onto modelDir.
func ResolveModelPath(modelDir, src string) string {
	if modelDir == "" || !strings.HasPrefix(src, ModelPrefix) {
		return src
	}
	rel := filepath.FromSlash(strings.TrimPrefix(src, ModelPrefix))
	return filepath.Join(modelDir, filepath.Clean(string(filepath.Separator)+rel))
}
