package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"livemic/internal/domain"
	"livemic/internal/observe"
)

type emitted struct {
	name string
	data map[string]string
}

type emitRecorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *emitRecorder) emit(_ context.Context, name string, data ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payload, _ := data[0].(map[string]string)
	r.events = append(r.events, emitted{name: name, data: payload})
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:      "Startup failed",
		domain.ErrorCodeSessionStart: "Could not reach the transcription server",
		domain.ErrorCodeAudioStop:    "Audio stop issue",
		domain.ErrorCodeCapture:      "Microphone unavailable",
		domain.ErrorCodePartialLoss:  "Some audio was not uploaded",
		domain.ErrorCodeFinalize:     "Transcription failed",
		domain.ErrorCodeClipboard:    "Clipboard write failed",
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestAppEmitsFrontendEvents(t *testing.T) {
	t.Parallel()

	rec := &emitRecorder{}
	app := &App{ctx: context.Background(), emit: rec.emit}

	app.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	app.FinalTranscript("namaste", "")
	app.SessionError(domain.ErrorCodeFinalize, "stop: finalize_failure")

	if len(rec.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(rec.events))
	}
	if rec.events[0].name != eventSession || rec.events[0].data["message"] != "Recording…" {
		t.Fatalf("unexpected session event: %+v", rec.events[0])
	}
	if rec.events[1].name != eventFinal || rec.events[1].data["text"] != "namaste" || rec.events[1].data["message"] != "Stopped." {
		t.Fatalf("unexpected final event: %+v", rec.events[1])
	}
	if rec.events[2].name != eventError || rec.events[2].data["message"] != "Transcription failed" {
		t.Fatalf("unexpected error event: %+v", rec.events[2])
	}
}

func TestAppSkipsEventsBeforeStartup(t *testing.T) {
	t.Parallel()

	rec := &emitRecorder{}
	app := &App{emit: rec.emit}
	app.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
	app.SessionError(domain.ErrorCodeStartup, "boom")
	if len(rec.events) != 0 {
		t.Fatalf("events must not be emitted without a runtime context")
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}
	if _, err := app.StartLive("en"); err == nil {
		t.Fatalf("expected start to fail before startup")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.StopLive(""); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error from stop, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	status := app.GetStatus()
	if status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.State != domain.SessionStateFailed || status.Active || status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("unexpected runtime info: %+v", info)
	}
}

func TestStartupReportsTelemetryFailure(t *testing.T) {
	t.Setenv("LIVEMIC_CONFIG", "")
	t.Setenv("LIVEMIC_FEED_ADDR", "")

	rec := &emitRecorder{}
	app := &App{
		emit: rec.emit,
		initTelemetry: func(context.Context, observe.ProviderConfig) (func(context.Context) error, error) {
			return nil, errors.New("exporter unavailable")
		},
	}
	app.startup(context.Background())
	defer app.shutdown(context.Background())

	if err := app.requireReady(); err != nil {
		t.Fatalf("telemetry failure must not block recording: %v", err)
	}
	if info := app.GetRuntimeInfo(); info["telemetry"] != "exporter unavailable" {
		t.Fatalf("expected telemetry error in runtime info: %+v", info)
	}
	if app.telemetry != nil {
		t.Fatalf("no shutdown hook expected without a provider")
	}
	if len(rec.events) != 1 || rec.events[0].name != eventSession || rec.events[0].data["reason"] != string(domain.SessionReasonReady) {
		t.Fatalf("expected a single ready event: %+v", rec.events)
	}
}
