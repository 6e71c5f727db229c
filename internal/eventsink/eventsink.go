// Package eventsink holds session event sinks that are not tied to a UI.
package eventsink

import (
	"context"
	"log/slog"

	"livemic/internal/domain"
	"livemic/internal/ports"
)

// Fanout forwards every event to each sink in order. Nil sinks are skipped.
type Fanout []ports.EventSink

func NewFanout(sinks ...ports.EventSink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

func (f Fanout) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	for _, sink := range f {
		sink.SessionStateChanged(state, reason)
	}
}

func (f Fanout) FinalTranscript(text string, note string) {
	for _, sink := range f {
		sink.FinalTranscript(text, note)
	}
}

func (f Fanout) SessionError(code domain.ErrorCode, detail string) {
	for _, sink := range f {
		sink.SessionError(code, detail)
	}
}

// Logger mirrors session events into a structured log.
type Logger struct {
	log *slog.Logger
}

func NewLogger(log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{log: log.With("component", "session")}
}

func (l *Logger) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	l.log.Info("session state", "state", state, "reason", reason)
}

func (l *Logger) FinalTranscript(text string, note string) {
	l.log.Info("final transcript", "chars", len(text), "note", note)
}

func (l *Logger) SessionError(code domain.ErrorCode, detail string) {
	level := slog.LevelError
	if code == domain.ErrorCodePartialLoss || code == domain.ErrorCodeClipboard || code == domain.ErrorCodeAudioStop {
		level = slog.LevelWarn
	}
	l.log.Log(context.Background(), level, "session error", "code", code, "detail", detail)
}

// StatusText is the one-line status shown to the user for a transition.
// An empty string means the previous text stays.
func StatusText(state domain.SessionState, reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady, domain.SessionReasonSessionReset:
		return "Ready."
	case domain.SessionReasonStarting:
		return "Starting…"
	case domain.SessionReasonRecordingStarted:
		return "Recording…"
	case domain.SessionReasonFinalizing:
		return "Finalizing…"
	case domain.SessionReasonTranscriptCopied:
		return "Copied to clipboard."
	case domain.SessionReasonTranscriptReady, domain.SessionReasonNoTranscript:
		return "Stopped."
	case domain.SessionReasonSessionStartFailed:
		return "Could not start recording."
	case domain.SessionReasonCaptureUnavailable:
		return "Microphone unavailable."
	case domain.SessionReasonDrainInterrupted, domain.SessionReasonFinalizeFailed:
		return "Transcription failed."
	}
	if state == domain.SessionStateFailed {
		return "Failed."
	}
	return ""
}

// FinalStatus is the status after a transcript arrives: the backend note if
// it sent one, otherwise "Stopped.".
func FinalStatus(note string) string {
	if note != "" {
		return note
	}
	return "Stopped."
}
