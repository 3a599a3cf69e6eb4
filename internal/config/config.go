// Package config provides configuration management for the talking avatar
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/normanking/talkingavatar/internal/audio"
	"github.com/normanking/talkingavatar/internal/avatar3d"
	"github.com/normanking/talkingavatar/internal/chat"
	"github.com/normanking/talkingavatar/internal/logging"
	"github.com/normanking/talkingavatar/internal/tts"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	dirName    = ".talkingavatar"
	fileName   = "config.yaml"
	envPrefix  = "TALKINGAVATAR"
	configType = "yaml"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig   `mapstructure:"server" yaml:"server"`
	Chat    chat.Config    `mapstructure:"chat" yaml:"chat"`
	TTS     tts.Config     `mapstructure:"tts" yaml:"tts"`
	Audio   AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Avatar  AvatarConfig   `mapstructure:"avatar" yaml:"avatar"`
	Render  RenderConfig   `mapstructure:"render" yaml:"render"`
	Logging logging.Config `mapstructure:"logging" yaml:"logging"`
	Library LibraryConfig  `mapstructure:"library" yaml:"library"`
}

// ServerConfig configures the browser UI server
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// StateHz is how often /ws/avatar pushes state.
	StateHz int `mapstructure:"state_hz" yaml:"state_hz"`
	// Mode is the initial chat mode: text or voice.
	Mode     string `mapstructure:"mode" yaml:"mode"`
	AutoPlay bool   `mapstructure:"auto_play" yaml:"auto_play"`
	// ModelDir is served under /models/ for locally stored .glb files.
	ModelDir string `mapstructure:"model_dir" yaml:"model_dir"`
}

// AudioConfig configures playback and the volume analyser
type AudioConfig struct {
	SampleRate int                  `mapstructure:"sample_rate" yaml:"sample_rate"`
	Analyser   audio.AnalyserConfig `mapstructure:"analyser" yaml:"analyser"`
}

// AvatarConfig configures the avatar model and its animation feel
type AvatarConfig struct {
	ModelURL  string `mapstructure:"model_url" yaml:"model_url"`
	ModelName string `mapstructure:"model_name" yaml:"model_name"`
	// SingleModel ignores the library and always shows ModelURL.
	SingleModel bool            `mapstructure:"single_model" yaml:"single_model"`
	Tuning      avatar3d.Tuning `mapstructure:"tuning" yaml:"tuning"`
}

// RenderConfig configures the native view window
type RenderConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
	FPS    int `mapstructure:"fps" yaml:"fps"`
	// Backend is auto, opengl or headless.
	Backend   string `mapstructure:"backend" yaml:"backend"`
	Title     string `mapstructure:"title" yaml:"title"`
	VSync     bool   `mapstructure:"vsync" yaml:"vsync"`
	MSAA      int    `mapstructure:"msaa" yaml:"msaa"`
	ShaderDir string `mapstructure:"shader_dir" yaml:"shader_dir"`
}

// LibraryConfig configures the avatar library database
type LibraryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	// SeedDefault adds the avatar model as "My Avatar" to an empty library.
	SeedDefault bool `mapstructure:"seed_default" yaml:"seed_default"`
}

// Render backends
const (
	BackendAuto     = "auto"
	BackendOpenGL   = "opengl"
	BackendHeadless = "headless"
)

// Chat modes
const (
	ModeText  = "text"
	ModeVoice = "voice"
)

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	dir, err := GetConfigDir()
	if err != nil {
		dir = dirName
	}
	logs := logging.DefaultConfig()
	logs.Dir = filepath.Join(dir, "logs")

	return &Config{
		Server: ServerConfig{
			Addr:     "127.0.0.1:8080",
			StateHz:  20,
			Mode:     ModeText,
			AutoPlay: true,
			ModelDir: filepath.Join(dir, "models"),
		},
		Chat: chat.DefaultConfig(),
		TTS:  tts.DefaultConfig(),
		Audio: AudioConfig{
			SampleRate: int(audio.DefaultSampleRate),
			Analyser:   audio.DefaultAnalyserConfig(),
		},
		Avatar: AvatarConfig{
			ModelURL:    "/models/avatar.glb",
			ModelName:   "My Avatar",
			SingleModel: true,
			Tuning:      avatar3d.DefaultTuning(),
		},
		Render: RenderConfig{
			Width:   1280,
			Height:  720,
			FPS:     60,
			Backend: BackendAuto,
			Title:   "Talking Avatar",
			VSync:   true,
			MSAA:    4,
		},
		Logging: *logs,
		Library: LibraryConfig{
			Path:        filepath.Join(dir, "library.db"),
			SeedDefault: true,
		},
	}
}

// Validate rejects settings the application cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.StateHz <= 0 || c.Server.StateHz > 120 {
		errs = append(errs, fmt.Errorf("server.state_hz must be in 1..120, got %d", c.Server.StateHz))
	}
	switch c.Server.Mode {
	case ModeText, ModeVoice:
	default:
		errs = append(errs, fmt.Errorf("server.mode must be %q or %q, got %q", ModeText, ModeVoice, c.Server.Mode))
	}
	switch c.TTS.Provider {
	case tts.ProviderRemote, tts.ProviderOpenAI, tts.ProviderLocal:
	default:
		errs = append(errs, fmt.Errorf("tts.provider %q is not supported", c.TTS.Provider))
	}
	if c.TTS.Voice != "" && !tts.IsKnownVoice(c.TTS.Voice) {
		errs = append(errs, fmt.Errorf("tts.voice %q is not one of the known voices", c.TTS.Voice))
	}
	if c.TTS.Volume < 0 || c.TTS.Volume > 1 {
		errs = append(errs, fmt.Errorf("tts.volume must be in [0,1], got %g", c.TTS.Volume))
	}
	switch c.Render.Backend {
	case BackendAuto, BackendOpenGL, BackendHeadless:
	default:
		errs = append(errs, fmt.Errorf("render.backend %q is not supported", c.Render.Backend))
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		errs = append(errs, errors.New("render.width and render.height must be positive"))
	}
	return errors.Join(errs...)
}

// Manager owns the viper instance behind a loaded configuration.
type Manager struct {
	v   *viper.Viper
	log zerolog.Logger

	mu   sync.RWMutex
	cfg  *Config
	path string
}

// Load reads configuration from file, .env and environment. An empty file
// searches ~/.talkingavatar then the working directory and writes the
// defaults to ~/.talkingavatar/config.yaml when nothing is found.
func Load(file string, log zerolog.Logger) (*Manager, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}
	return load(file, dir, log)
}

func load(file, dir string, log zerolog.Logger) (*Manager, error) {
	log = log.With().Str("component", "config").Logger()

	// .env supplies GROQ_API_KEY and friends; it is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Could not read .env")
	}

	v := viper.New()
	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	m := &Manager{v: v, log: log}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(strings.TrimSuffix(fileName, filepath.Ext(fileName)))
		v.AddConfigPath(dir)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and create one
		m.path = file
		if m.path == "" {
			m.path = filepath.Join(dir, fileName)
		}
		cfg, err := m.decode()
		if err != nil {
			return nil, err
		}
		if err := m.Save(cfg); err != nil {
			return nil, err
		}
		log.Info().Str("path", m.path).Msg("Wrote default config")
		return m, nil
	}

	m.path = v.ConfigFileUsed()
	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.cfg = cfg
	log.Debug().Str("path", m.path).Msg("Config loaded")
	return m, nil
}

// setDefaults registers every key of the defaults so AutomaticEnv can
// override keys that are absent from the file.
func setDefaults(v *viper.Viper, cfg *Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	flatten("", tree, v.SetDefault)
	return nil
}

func flatten(prefix string, tree map[string]any, set func(string, any)) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			flatten(key, sub, set)
			continue
		}
		set(key, val)
	}
}

func (m *Manager) decode() (*Config, error) {
	cfg := DefaultConfig()
	if err := m.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Config returns a copy of the current configuration.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := *m.cfg
	return &c
}

// Path is the file the configuration was read from or saved to.
func (m *Manager) Path() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.path
}

// Save validates cfg and writes it to the manager's file.
func (m *Manager) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(m.path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	c := *cfg
	m.cfg = &c
	return nil
}

// Watch calls fn with the new configuration each time the file changes.
// Invalid edits are logged and ignored.
func (m *Manager) Watch(fn func(*Config)) {
	m.mu.RLock()
	path := m.path
	m.mu.RUnlock()
	m.v.SetConfigFile(path)

	m.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := m.decode()
		if err != nil {
			m.log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring config change")
			return
		}
		m.mu.Lock()
		c := *cfg
		m.cfg = &c
		m.mu.Unlock()
		m.log.Info().Str("file", e.Name).Msg("Config reloaded")
		if fn != nil {
			fn(cfg)
		}
	})
	m.v.WatchConfig()
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, dirName), nil
}
