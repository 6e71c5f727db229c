package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for live recording.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Audio   AudioConfig   `yaml:"audio"`
	Session SessionConfig `yaml:"session"`
	Feed    FeedConfig    `yaml:"feed"`
	Log     LogConfig     `yaml:"log"`
}

type BackendConfig struct {
	BaseURL         string        `yaml:"base_url"`
	StartPath       string        `yaml:"start_path"`
	AppendPath      string        `yaml:"append_path"`
	StopPath        string        `yaml:"stop_path"`
	AuthToken       string        `yaml:"auth_token"`
	SessionCookie   string        `yaml:"session_cookie"`
	StartTimeout    time.Duration `yaml:"start_timeout"`
	AppendTimeout   time.Duration `yaml:"append_timeout"`
	FinalizeTimeout time.Duration `yaml:"finalize_timeout"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	OutputFormat    string `yaml:"output_format"`
	OutputCodec     string `yaml:"output_codec"`
}

type SessionConfig struct {
	ChunkInterval time.Duration `yaml:"chunk_interval"`
	ReadSize      int           `yaml:"read_size"`
	AppendRetries int           `yaml:"append_retries"`
	MaxInFlight   int           `yaml:"max_in_flight"`
	Language      string        `yaml:"language"`
	LanguageHint  string        `yaml:"language_hint"`
}

// FeedConfig controls the optional status server. An empty Addr disables it.
type FeedConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:         "http://127.0.0.1:5000/api/asr/live",
			StartPath:       "start",
			AppendPath:      "append/{rec_id}",
			StopPath:        "stop/{rec_id}",
			StartTimeout:    10 * time.Second,
			AppendTimeout:   15 * time.Second,
			FinalizeTimeout: 60 * time.Second,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      48000,
			Channels:        1,
			OutputFormat:    "webm",
			OutputCodec:     "libopus",
		},
		Session: SessionConfig{
			ChunkInterval: 500 * time.Millisecond,
			ReadSize:      4096,
			AppendRetries: 1,
			MaxInFlight:   4,
			Language:      "en",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves configuration from defaults, the YAML file named by
// LIVEMIC_CONFIG if any, then environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("LIVEMIC_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	clamp(&cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	b := &cfg.Backend
	b.BaseURL = envOrDefault("LIVEMIC_BACKEND_URL", b.BaseURL)
	b.AuthToken = envOrDefault("LIVEMIC_BACKEND_TOKEN", b.AuthToken)
	b.SessionCookie = envOrDefault("LIVEMIC_BACKEND_COOKIE", b.SessionCookie)
	b.StartTimeout = envOrDefaultMillis("LIVEMIC_START_TIMEOUT_MS", b.StartTimeout)
	b.AppendTimeout = envOrDefaultMillis("LIVEMIC_APPEND_TIMEOUT_MS", b.AppendTimeout)
	b.FinalizeTimeout = envOrDefaultMillis("LIVEMIC_FINALIZE_TIMEOUT_MS", b.FinalizeTimeout)

	a := &cfg.Audio
	a.RecorderCommand = envOrDefault("LIVEMIC_FFMPEG_COMMAND", a.RecorderCommand)
	a.InputFormat = envOrDefault("LIVEMIC_AUDIO_INPUT_FORMAT", a.InputFormat)
	a.InputDevice = firstNonEmpty(
		os.Getenv("LIVEMIC_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		a.InputDevice,
	)
	a.SampleRate = envOrDefaultInt("LIVEMIC_SAMPLE_RATE", a.SampleRate)
	a.Channels = envOrDefaultInt("LIVEMIC_CHANNELS", a.Channels)
	a.OutputFormat = envOrDefault("LIVEMIC_AUDIO_OUTPUT_FORMAT", a.OutputFormat)
	a.OutputCodec = envOrDefault("LIVEMIC_AUDIO_CODEC", a.OutputCodec)

	s := &cfg.Session
	s.ChunkInterval = envOrDefaultMillis("LIVEMIC_CHUNK_INTERVAL_MS", s.ChunkInterval)
	s.ReadSize = envOrDefaultInt("LIVEMIC_READ_SIZE", s.ReadSize)
	s.AppendRetries = envOrDefaultInt("LIVEMIC_APPEND_RETRIES", s.AppendRetries)
	s.MaxInFlight = envOrDefaultInt("LIVEMIC_MAX_IN_FLIGHT", s.MaxInFlight)
	s.Language = envOrDefault("LIVEMIC_LANGUAGE", s.Language)
	s.LanguageHint = envOrDefault("LIVEMIC_LANGUAGE_HINT", s.LanguageHint)

	cfg.Feed.Addr = envOrDefault("LIVEMIC_FEED_ADDR", cfg.Feed.Addr)
	cfg.Log.Level = envOrDefault("LIVEMIC_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("LIVEMIC_LOG_FORMAT", cfg.Log.Format)
}

// clamp replaces out-of-range values with defaults. Negative timeouts mean
// unbounded and become zero.
func clamp(cfg *Config) {
	def := Default()

	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = def.Backend.BaseURL
	}
	cfg.Backend.BaseURL = strings.TrimRight(cfg.Backend.BaseURL, "/")
	for _, d := range []*time.Duration{&cfg.Backend.StartTimeout, &cfg.Backend.AppendTimeout, &cfg.Backend.FinalizeTimeout} {
		if *d < 0 {
			*d = 0
		}
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = def.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = def.Audio.Channels
	}

	if cfg.Session.ChunkInterval < 50*time.Millisecond {
		cfg.Session.ChunkInterval = def.Session.ChunkInterval
	}
	if cfg.Session.ReadSize < 256 {
		cfg.Session.ReadSize = def.Session.ReadSize
	}
	if cfg.Session.AppendRetries < 0 {
		cfg.Session.AppendRetries = 0
	}
	if cfg.Session.MaxInFlight <= 0 {
		cfg.Session.MaxInFlight = def.Session.MaxInFlight
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = def.Session.Language
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
		cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	default:
		cfg.Log.Format = def.Log.Format
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
