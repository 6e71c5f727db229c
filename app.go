package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"livemic/internal/bootstrap"
	"livemic/internal/config"
	"livemic/internal/domain"
	"livemic/internal/eventsink"
	"livemic/internal/feed"
	"livemic/internal/observe"
	"livemic/internal/usecase"
)

const (
	eventSession = "livemic:session"
	eventFinal   = "livemic:final"
	eventError   = "livemic:error"
)

// emitFunc matches runtime.EventsEmit.
type emitFunc func(ctx context.Context, name string, data ...interface{})

type telemetryInit func(ctx context.Context, cfg observe.ProviderConfig) (func(context.Context) error, error)

// App is the Wails application root.
type App struct {
	ctx           context.Context
	emit          emitFunc
	initTelemetry telemetryInit

	controller   *usecase.SessionController
	cfg          config.Config
	feed         *feed.Server
	telemetry    func(context.Context) error
	telemetryErr error
	bootErr      error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit, initTelemetry: observe.InitProvider}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	initTelemetry := a.initTelemetry
	if initTelemetry == nil {
		initTelemetry = observe.InitProvider
	}
	shutdown, telemetryErr := initTelemetry(ctx, observe.ProviderConfig{ServiceName: "livemic"})
	if telemetryErr != nil {
		a.telemetryErr = telemetryErr
	} else {
		a.telemetry = shutdown
	}

	services, err := bootstrap.Build(a, &wailsClipboard{})
	if err != nil {
		a.bootErr = err
		if telemetryErr != nil {
			slog.Warn("telemetry disabled", "err", telemetryErr)
		}
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	if telemetryErr != nil {
		// Recording still works; metrics and spans go to no-op providers.
		services.Logger.Warn("telemetry disabled", "err", telemetryErr)
	}

	a.cfg = services.Config
	a.controller = services.Controller
	if services.Feed != nil {
		if err := services.Feed.Start(); err != nil {
			a.SessionError(domain.ErrorCodeStartup, fmt.Sprintf("feed server: %v", err))
		} else {
			a.feed = services.Feed
		}
	}
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if a.controller != nil && a.controller.Status().State == domain.SessionStateRecording {
		_, _ = a.controller.Stop(ctx, a.cfg.Session.Language)
	}
	if a.feed != nil {
		_ = a.feed.Shutdown(ctx)
	}
	if a.telemetry != nil {
		_ = a.telemetry(ctx)
	}
}

// StartLive starts a live recording. A finished or failed previous session
// is cleared first. lang is an optional language hint.
func (a *App) StartLive(lang string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if a.controller.Status().State.Terminal() {
		if err := a.controller.Reset(); err != nil {
			return domain.Status{}, err
		}
	}

	hint := strings.TrimSpace(lang)
	if hint == "" {
		hint = a.cfg.Session.LanguageHint
	}
	if err := a.controller.Start(a.ctx, hint); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StopLive stops recording and returns the recognized text.
func (a *App) StopLive(lang string) (domain.SessionResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionResult{}, err
	}
	language := strings.TrimSpace(lang)
	if language == "" {
		language = a.cfg.Session.Language
	}
	return a.controller.Stop(a.ctx, language)
}

// ResetLive returns a finished or failed session to idle.
func (a *App) ResetLive() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Reset()
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateFailed, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"backend":          a.cfg.Backend.BaseURL,
		"language":         a.cfg.Session.Language,
		"chunkInterval":    a.cfg.Session.ChunkInterval.String(),
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"audioOutput":      a.cfg.Audio.OutputFormat,
	}
	if a.feed != nil {
		info["feed"] = a.feed.Addr()
	}
	if a.telemetryErr != nil {
		info["telemetry"] = a.telemetryErr.Error()
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": eventsink.StatusText(state, reason),
	})
}

// FinalTranscript emits the recognized text and the status line.
func (a *App) FinalTranscript(text string, note string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventFinal, map[string]string{
		"text":    text,
		"note":    note,
		"message": eventsink.FinalStatus(note),
	})
}

// SessionError emits errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeSessionStart:
		return "Could not reach the transcription server"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeCapture:
		return "Microphone unavailable"
	case domain.ErrorCodePartialLoss:
		return "Some audio was not uploaded"
	case domain.ErrorCodeFinalize:
		return "Transcription failed"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
