package domain

import "time"

// SessionState models the live recording lifecycle.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateStarting  SessionState = "starting"
	SessionStateRecording SessionState = "recording"
	SessionStateStopping  SessionState = "stopping"
	SessionStateFinished  SessionState = "finished"
	SessionStateFailed    SessionState = "failed"
)

// Terminal reports whether no further transitions are possible without a reset.
func (s SessionState) Terminal() bool {
	return s == SessionStateFinished || s == SessionStateFailed
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady              SessionStateReason = "ready"
	SessionReasonStarting           SessionStateReason = "starting"
	SessionReasonRecordingStarted   SessionStateReason = "recording_started"
	SessionReasonSessionStartFailed SessionStateReason = "session_start_failed"
	SessionReasonCaptureUnavailable SessionStateReason = "capture_unavailable"
	SessionReasonFinalizing         SessionStateReason = "finalizing"
	SessionReasonTranscriptReady    SessionStateReason = "transcript_ready"
	SessionReasonTranscriptCopied   SessionStateReason = "transcript_copied"
	SessionReasonNoTranscript       SessionStateReason = "no_transcript"
	SessionReasonDrainInterrupted   SessionStateReason = "drain_interrupted"
	SessionReasonFinalizeFailed     SessionStateReason = "finalize_failed"
	SessionReasonSessionReset       SessionStateReason = "session_reset"
)

// ErrorCode identifies non-fatal and fatal errors reported to event sinks.
type ErrorCode string

const (
	ErrorCodeStartup      ErrorCode = "startup"
	ErrorCodeSessionStart ErrorCode = "session_start"
	ErrorCodeAudioStop    ErrorCode = "audio_stop"
	ErrorCodeCapture      ErrorCode = "capture"
	ErrorCodePartialLoss  ErrorCode = "partial_loss"
	ErrorCodeFinalize     ErrorCode = "finalize"
	ErrorCodeClipboard    ErrorCode = "clipboard"
)

// Chunk is one fragment of captured audio. Sequence is assigned at emission
// time and is gap-free within a session.
type Chunk struct {
	SessionID string
	Sequence  int64
	Data      []byte
	EmittedAt time.Time
}

// FailedChunk records a chunk whose transmission was abandoned after retries.
type FailedChunk struct {
	Sequence int64  `json:"sequence"`
	Size     int    `json:"size"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// UploadStats accounts for every chunk emitted during a session.
type UploadStats struct {
	Emitted  int64 `json:"emitted"`
	Appended int64 `json:"appended"`
	Skipped  int64 `json:"skipped"`
	Failed   int64 `json:"failed"`
	Pending  int64 `json:"pending"`
	Bytes    int64 `json:"bytes"`
}

// Transcript is the backend's answer to a finalize call.
type Transcript struct {
	Text string `json:"text,omitempty"`
	Note string `json:"note,omitempty"`
}

// SessionResult is the terminal value of a successfully finalized session.
type SessionResult struct {
	SessionID    string        `json:"sessionId"`
	Language     string        `json:"language"`
	Text         string        `json:"text"`
	Note         string        `json:"note,omitempty"`
	Incomplete   bool          `json:"incomplete"`
	Uploads      UploadStats   `json:"uploads"`
	FailedChunks []FailedChunk `json:"failedChunks,omitempty"`
	Duration     time.Duration `json:"duration"`
	Copied       bool          `json:"copied"`
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState `json:"state"`
	Active    bool         `json:"active"`
	SessionID string       `json:"sessionId,omitempty"`
	Uploads   UploadStats  `json:"uploads"`
	Message   string       `json:"message,omitempty"`
}
