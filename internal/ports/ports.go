package ports

import (
	"context"
	"io"

	"livemic/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate   int
	Channels     int
	InputFormat  string
	InputDevice  string
	OutputFormat string
	OutputCodec  string
}

// AudioSession is a live capture session. Read returns io.EOF once the
// device has been stopped and all buffered audio has been read.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// SessionBackend is the remote recorder that buffers chunks and transcribes
// them when the session is finalized.
type SessionBackend interface {
	StartSession(ctx context.Context, languageHint string) (string, error)
	AppendChunk(ctx context.Context, sessionID string, chunk domain.Chunk) error
	StopSession(ctx context.Context, sessionID string, language string) (domain.Transcript, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink receives session state and results for display. Implementations
// must not block.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	FinalTranscript(text string, note string)
	SessionError(code domain.ErrorCode, detail string)
}
