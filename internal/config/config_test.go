package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LIVEMIC_CONFIG", "")
	t.Setenv("LIVEMIC_BACKEND_URL", "")
	t.Setenv("LIVEMIC_AUDIO_INPUT_DEVICE", "")
	t.Setenv("PULSE_SOURCE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Backend.BaseURL != "http://127.0.0.1:5000/api/asr/live" {
		t.Fatalf("unexpected base url: %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.StartTimeout != 10*time.Second || cfg.Backend.AppendTimeout != 15*time.Second || cfg.Backend.FinalizeTimeout != time.Minute {
		t.Fatalf("unexpected timeouts: %+v", cfg.Backend)
	}
	if cfg.Session.ChunkInterval != 500*time.Millisecond || cfg.Session.AppendRetries != 1 {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Audio.InputDevice != "default" || cfg.Audio.OutputFormat != "webm" {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Feed.Addr != "" {
		t.Fatalf("feed must be disabled by default")
	}
}

func TestLoadRespectsOverridesAndFallbacks(t *testing.T) {
	t.Setenv("LIVEMIC_CONFIG", "")
	t.Setenv("LIVEMIC_BACKEND_URL", "https://asr.example.com/api/asr/live/")
	t.Setenv("LIVEMIC_BACKEND_TOKEN", "secret")
	t.Setenv("LIVEMIC_BACKEND_COOKIE", "session=abc")
	t.Setenv("LIVEMIC_APPEND_TIMEOUT_MS", "2500")
	t.Setenv("LIVEMIC_FFMPEG_COMMAND", "my-ffmpeg")
	t.Setenv("LIVEMIC_AUDIO_INPUT_FORMAT", "alsa")
	t.Setenv("LIVEMIC_AUDIO_INPUT_DEVICE", "")
	t.Setenv("PULSE_SOURCE", "mic0")
	t.Setenv("LIVEMIC_SAMPLE_RATE", "16000")
	t.Setenv("LIVEMIC_CHANNELS", "2")
	t.Setenv("LIVEMIC_AUDIO_OUTPUT_FORMAT", "s16le")
	t.Setenv("LIVEMIC_CHUNK_INTERVAL_MS", "250")
	t.Setenv("LIVEMIC_READ_SIZE", "512")
	t.Setenv("LIVEMIC_APPEND_RETRIES", "3")
	t.Setenv("LIVEMIC_MAX_IN_FLIGHT", "2")
	t.Setenv("LIVEMIC_LANGUAGE", "hi")
	t.Setenv("LIVEMIC_FEED_ADDR", "127.0.0.1:8765")
	t.Setenv("LIVEMIC_LOG_LEVEL", "debug")
	t.Setenv("LIVEMIC_LOG_FORMAT", "JSON")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Backend.BaseURL != "https://asr.example.com/api/asr/live" {
		t.Fatalf("expected trailing slash to be trimmed, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.AuthToken != "secret" || cfg.Backend.SessionCookie != "session=abc" {
		t.Fatalf("unexpected backend auth: %+v", cfg.Backend)
	}
	if cfg.Backend.AppendTimeout != 2500*time.Millisecond {
		t.Fatalf("unexpected append timeout: %s", cfg.Backend.AppendTimeout)
	}
	if cfg.Audio.RecorderCommand != "my-ffmpeg" || cfg.Audio.InputFormat != "alsa" || cfg.Audio.InputDevice != "mic0" {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 2 || cfg.Audio.OutputFormat != "s16le" {
		t.Fatalf("unexpected audio format: %+v", cfg.Audio)
	}
	if cfg.Session.ChunkInterval != 250*time.Millisecond || cfg.Session.ReadSize != 512 {
		t.Fatalf("unexpected session cadence: %+v", cfg.Session)
	}
	if cfg.Session.AppendRetries != 3 || cfg.Session.MaxInFlight != 2 || cfg.Session.Language != "hi" {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Feed.Addr != "127.0.0.1:8765" {
		t.Fatalf("unexpected feed addr: %q", cfg.Feed.Addr)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoadInvalidNumericValuesFallback(t *testing.T) {
	t.Setenv("LIVEMIC_CONFIG", "")
	t.Setenv("LIVEMIC_SAMPLE_RATE", "bad")
	t.Setenv("LIVEMIC_CHANNELS", "-1")
	t.Setenv("LIVEMIC_READ_SIZE", "5")
	t.Setenv("LIVEMIC_CHUNK_INTERVAL_MS", "bad")
	t.Setenv("LIVEMIC_APPEND_RETRIES", "-4")
	t.Setenv("LIVEMIC_MAX_IN_FLIGHT", "0")
	t.Setenv("LIVEMIC_FINALIZE_TIMEOUT_MS", "-1")
	t.Setenv("LIVEMIC_LOG_FORMAT", "xml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Audio.SampleRate != 48000 {
		t.Fatalf("expected default sample rate, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Fatalf("expected default channels, got %d", cfg.Audio.Channels)
	}
	if cfg.Session.ReadSize != 4096 {
		t.Fatalf("expected read size fallback, got %d", cfg.Session.ReadSize)
	}
	if cfg.Session.ChunkInterval != 500*time.Millisecond {
		t.Fatalf("expected default interval, got %s", cfg.Session.ChunkInterval)
	}
	if cfg.Session.AppendRetries != 0 || cfg.Session.MaxInFlight != 4 {
		t.Fatalf("unexpected retry bounds: %+v", cfg.Session)
	}
	if cfg.Backend.FinalizeTimeout != 0 {
		t.Fatalf("negative timeout must mean unbounded, got %s", cfg.Backend.FinalizeTimeout)
	}
	if cfg.Log.Format != "text" {
		t.Fatalf("expected text log format, got %q", cfg.Log.Format)
	}
}

func TestLoadYAMLFileUnderEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livemic.yaml")
	contents := strings.Join([]string{
		"backend:",
		"  base_url: http://asr.internal:5000/api/asr/live",
		"  append_path: chunks/{rec_id}",
		"  finalize_timeout: 90s",
		"session:",
		"  chunk_interval: 1s",
		"  language: mr",
		"feed:",
		"  addr: 127.0.0.1:9000",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("LIVEMIC_CONFIG", path)
	t.Setenv("LIVEMIC_BACKEND_URL", "")
	t.Setenv("LIVEMIC_LANGUAGE", "en")
	t.Setenv("LIVEMIC_FEED_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Backend.BaseURL != "http://asr.internal:5000/api/asr/live" || cfg.Backend.AppendPath != "chunks/{rec_id}" {
		t.Fatalf("unexpected backend from file: %+v", cfg.Backend)
	}
	if cfg.Backend.StopPath != "stop/{rec_id}" {
		t.Fatalf("unset file keys must keep defaults, got %q", cfg.Backend.StopPath)
	}
	if cfg.Backend.FinalizeTimeout != 90*time.Second || cfg.Session.ChunkInterval != time.Second {
		t.Fatalf("unexpected durations: %+v %+v", cfg.Backend, cfg.Session)
	}
	if cfg.Session.Language != "en" {
		t.Fatalf("environment must override file, got %q", cfg.Session.Language)
	}
	if cfg.Feed.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected feed addr: %q", cfg.Feed.Addr)
	}
}

func TestLoadYAMLFileErrors(t *testing.T) {
	t.Setenv("LIVEMIC_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing file error")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("session: [unterminated"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("LIVEMIC_CONFIG", path)
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
