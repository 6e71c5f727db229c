package bootstrap

import (
	"log/slog"
	"net/http"

	"livemic/internal/audio"
	"livemic/internal/backend"
	"livemic/internal/config"
	"livemic/internal/eventsink"
	"livemic/internal/feed"
	"livemic/internal/observe"
	"livemic/internal/ports"
	"livemic/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
	Logger     *slog.Logger

	// Feed is nil unless a feed address is configured. The caller starts
	// and shuts it down.
	Feed *feed.Server
}

// Build wires all dependencies for the current runtime. eventSink and
// clipboard may be nil for headless use.
func Build(eventSink ports.EventSink, clipboard ports.Clipboard) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger := observe.NewLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	metrics := observe.DefaultMetrics()

	sinks := []ports.EventSink{eventSink, eventsink.NewLogger(logger)}
	var hub *feed.Hub
	if cfg.Feed.Addr != "" {
		hub = feed.NewHub(logger)
		sinks = append(sinks, hub)
	}

	client := backend.NewClient(backend.Config{
		BaseURL:       cfg.Backend.BaseURL,
		StartPath:     cfg.Backend.StartPath,
		AppendPath:    cfg.Backend.AppendPath,
		StopPath:      cfg.Backend.StopPath,
		AuthToken:     cfg.Backend.AuthToken,
		SessionCookie: cfg.Backend.SessionCookie,
	}, &http.Client{}, metrics)

	controller := usecase.NewSessionController(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		client,
		clipboard,
		eventsink.NewFanout(sinks...),
		metrics,
		SessionConfig(cfg),
	)

	services := Services{Controller: controller, Config: cfg, Logger: logger}
	if hub != nil {
		services.Feed = feed.NewServer(cfg.Feed.Addr, hub, controller.Status, logger)
	}
	return services, nil
}

// SessionConfig maps loaded configuration onto controller settings.
func SessionConfig(cfg config.Config) usecase.Config {
	return usecase.Config{
		Audio: ports.AudioConfig{
			SampleRate:   cfg.Audio.SampleRate,
			Channels:     cfg.Audio.Channels,
			InputFormat:  cfg.Audio.InputFormat,
			InputDevice:  cfg.Audio.InputDevice,
			OutputFormat: cfg.Audio.OutputFormat,
			OutputCodec:  cfg.Audio.OutputCodec,
		},
		ChunkInterval:   cfg.Session.ChunkInterval,
		ReadSize:        cfg.Session.ReadSize,
		AppendRetries:   cfg.Session.AppendRetries,
		MaxInFlight:     cfg.Session.MaxInFlight,
		StartTimeout:    cfg.Backend.StartTimeout,
		AppendTimeout:   cfg.Backend.AppendTimeout,
		FinalizeTimeout: cfg.Backend.FinalizeTimeout,
	}
}
