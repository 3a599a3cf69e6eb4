// Command avatarchat chats with an LLM through a talking 3D avatar.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/normanking/talkingavatar/internal/audio"
	"github.com/normanking/talkingavatar/internal/bridge"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/chat"
	"github.com/normanking/talkingavatar/internal/config"
	"github.com/normanking/talkingavatar/internal/library"
	"github.com/normanking/talkingavatar/internal/logging"
	"github.com/normanking/talkingavatar/internal/render"
	"github.com/normanking/talkingavatar/internal/render/glbackend"
	"github.com/normanking/talkingavatar/internal/sentiment"
	"github.com/normanking/talkingavatar/internal/tts"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// GLFW and OpenGL calls must stay on the main thread.
func init() {
	runtime.LockOSThread()
}

var (
	version = "dev"

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "avatarchat",
		Short: "Chat with an LLM through a talking 3D avatar",
		Long: titleStyle.Render("Talking Avatar") + `

Chat with a language model and hear replies spoken by a lip-synced avatar.

` + dimStyle.Render("Use 'avatarchat [command] --help' for more information."),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ~/.talkingavatar/config.yaml)")

	rootCmd.AddCommand(
		serveCmd(&configFile),
		viewCmd(&configFile),
		chatCmd(&configFile),
		inspectCmd(),
		avatarsCmd(&configFile),
		voicesCmd(&configFile),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// app holds the wired components shared by the commands.
type app struct {
	logger *logging.Logger
	log    zerolog.Logger
	cfgMgr *config.Manager
	cfg    *config.Config
	bus    *bus.EventBus

	chat     *chat.Client
	player   *audio.Player
	speech   *tts.Pipeline
	library  *library.Store
	settings *bridge.SettingsBridge
	chatUI   *bridge.ChatBridge
	avatar   *bridge.AvatarBridge
	logs     *bridge.LogBridge
}

func newApp(ctx context.Context, configFile string) (*app, error) {
	boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	cfgMgr, err := config.Load(configFile, boot)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := cfgMgr.Config()

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logger.Zerolog()
	log.Info().Str("config", cfgMgr.Path()).Str("version", version).Msg("Starting")

	a := &app{
		logger: logger,
		log:    log,
		cfgMgr: cfgMgr,
		cfg:    cfg,
		bus:    bus.NewEventBus(),
	}
	a.bus.SetLogger(log)

	a.chat = chat.NewClient(cfg.Chat, a.bus, logger.Component("chat"))
	if !a.chat.IsAvailable() {
		log.Warn().Msg("GROQ_API_KEY is not set, chat requests will fail")
	}

	a.player = audio.NewPlayer(audio.SpeakerOutput{}, cfg.Audio.Analyser, cfg.TTS.Volume, log)
	a.player.SetSampleRate(cfg.Audio.SampleRate)
	a.speech = newSpeech(cfg.TTS, a.player, a.bus, log)

	if !cfg.Avatar.SingleModel {
		a.library, err = library.NewStore(cfg.Library.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open avatar library: %w", err)
		}
		if cfg.Library.SeedDefault {
			if seeded, err := a.library.Seed(ctx, cfg.Avatar.ModelName, cfg.Avatar.ModelURL); err != nil {
				log.Warn().Err(err).Msg("Failed to seed avatar library")
			} else if seeded {
				log.Info().Str("url", cfg.Avatar.ModelURL).Msg("Seeded avatar library")
			}
		}
	}

	a.settings = bridge.NewSettingsBridge(cfg.Server, a.speech, a.player, cfgMgr, a.bus, log)
	a.chatUI = bridge.NewChatBridge(a.chat, a.speech, a.settings, log)
	a.avatar = bridge.NewAvatarBridge(a.speech, sentiment.Classify, a.library, cfg.Avatar, a.bus, log)
	a.logs = bridge.NewLogBridge(logger)
	return a, nil
}

// newSpeech picks the primary provider from config. The local synthesizer
// doubles as the fallback when enabled.
func newSpeech(cfg tts.Config, player *audio.Player, eventBus *bus.EventBus, log zerolog.Logger) *tts.Pipeline {
	local := tts.NewLocalProvider(cfg, log)

	var primary tts.Provider
	switch cfg.Provider {
	case tts.ProviderOpenAI:
		primary = tts.NewOpenAIProvider(cfg, log)
	case tts.ProviderLocal:
		primary = local
	default:
		primary = tts.NewRemoteProvider(cfg, log)
	}

	var fallback tts.DirectSpeaker
	if cfg.UseFallback {
		fallback = local
	}
	return tts.NewPipeline(cfg, primary, fallback, player, eventBus, log)
}

// newLoop builds a render loop showing the avatar bridge's inputs.
func (a *app) newLoop(backend render.Backend) (*render.Loop, error) {
	rc := a.cfg.Render
	loop, err := render.NewLoop(backend, a.avatar.Inputs(), render.Options{
		Width:  rc.Width,
		Height: rc.Height,
		FPS:    rc.FPS,
		Tuning: a.cfg.Avatar.Tuning,
		Loader: bridge.ModelLoader(a.cfg.Server.ModelDir, &http.Client{}),
		Bus:    a.bus,
		Logger: a.log,
	})
	if err != nil {
		return nil, err
	}
	name := loop.Backend().Name()
	if rc.Backend == config.BackendOpenGL && name != glbackend.Name {
		a.log.Warn().Str("backend", name).Msg("OpenGL requested but unavailable")
	}
	a.bus.Publish(bus.Event{
		Type: bus.EventTypeBackendSelected,
		Data: map[string]any{"backend": name},
	})
	a.avatar.Attach(loop)
	loop.SetPointerHandler(a.avatar.SetPointer)
	return loop, nil
}

// selectBackend honours render.backend. The loop falls back to headless if
// the chosen backend cannot initialise.
func (a *app) selectBackend() render.Backend {
	rc := a.cfg.Render
	if rc.Backend == config.BackendHeadless {
		return render.NewHeadless()
	}
	return render.Select([]render.Provider{
		glbackend.Provider(glbackend.Config{
			Title:     rc.Title,
			VSync:     rc.VSync,
			MSAA:      rc.MSAA,
			ShaderDir: rc.ShaderDir,
		}, a.log),
	}, a.log)
}

// watchConfig applies tuning and volume edits made to the config file.
func (a *app) watchConfig(loop *render.Loop) {
	a.cfgMgr.Watch(func(c *config.Config) {
		if loop != nil {
			loop.Animator().SetTuning(c.Avatar.Tuning)
		}
		a.player.SetVolume(c.TTS.Volume)
	})
}

func (a *app) Close() {
	if a.chatUI != nil {
		a.chatUI.Close()
	}
	if a.speech != nil {
		a.speech.Stop()
	}
	if a.library != nil {
		if err := a.library.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close avatar library")
		}
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}
