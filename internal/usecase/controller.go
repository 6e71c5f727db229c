package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"livemic/internal/domain"
	"livemic/internal/observe"
	"livemic/internal/ports"
)

// Config controls live recording behavior.
type Config struct {
	Audio           ports.AudioConfig
	ChunkInterval   time.Duration
	ReadSize        int
	AppendRetries   int
	MaxInFlight     int
	StartTimeout    time.Duration
	AppendTimeout   time.Duration
	FinalizeTimeout time.Duration
}

// SessionController owns the recording lifecycle:
// idle -> starting -> recording -> stopping -> finished|failed.
type SessionController struct {
	audio     ports.AudioCapture
	backend   ports.SessionBackend
	events    ports.EventSink
	finalizer transcriptFinalizer
	metrics   *observe.Metrics
	cfg       Config
	newTicker tickerFactory

	mu        sync.Mutex
	state     domain.SessionState
	current   *activeSession
	outcome   *outcome
	lastError string
}

func NewSessionController(
	audio ports.AudioCapture,
	backend ports.SessionBackend,
	clipboard ports.Clipboard,
	events ports.EventSink,
	metrics *observe.Metrics,
	cfg Config,
) *SessionController {
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = 500 * time.Millisecond
	}
	if cfg.ReadSize < 256 {
		cfg.ReadSize = 4096
	}
	if cfg.AppendRetries < 0 {
		cfg.AppendRetries = 0
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SessionController{
		audio:     audio,
		backend:   backend,
		events:    events,
		finalizer: newTranscriptFinalizer(clipboard, events),
		metrics:   metrics,
		cfg:       cfg,
		newTicker: realTicker,
		state:     domain.SessionStateIdle,
	}
}

// Start opens a backend session and arms capture. It is only valid while idle.
func (c *SessionController) Start(ctx context.Context, languageHint string) error {
	c.mu.Lock()
	if c.state != domain.SessionStateIdle {
		state := c.state
		c.mu.Unlock()
		return domain.InvalidState("start", state)
	}
	c.state = domain.SessionStateStarting
	c.lastError = ""
	done := newOutcome()
	c.outcome = done
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.SessionStateStarting, domain.SessionReasonStarting)
	c.metrics.ActiveSessions.Add(ctx, 1)
	createdAt := time.Now()

	// Stop is the only cancellation path, so the session outlives ctx.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	id, err := c.startBackendSession(sessionCtx, languageHint)
	if err != nil {
		cancel()
		serr := &domain.SessionError{Kind: domain.KindNetworkFailure, Op: "start", Err: err}
		c.events.SessionError(domain.ErrorCodeSessionStart, serr.Error())
		c.fail(ctx, nil, done, createdAt, serr, domain.SessionReasonSessionStartFailed)
		return serr
	}

	audioSession, err := c.audio.Start(sessionCtx, c.cfg.Audio)
	if err != nil {
		cancel()
		serr := &domain.SessionError{Kind: domain.KindCaptureUnavailable, Op: "start", SessionID: id, Err: err}
		c.events.SessionError(domain.ErrorCodeCapture, serr.Error())
		c.fail(ctx, nil, done, createdAt, serr, domain.SessionReasonCaptureUnavailable)
		return serr
	}

	active := &activeSession{
		id:           id,
		languageHint: languageHint,
		createdAt:    createdAt,
		ctx:          sessionCtx,
		cancel:       cancel,
	}
	active.uploader = newChunkUploader(
		sessionCtx,
		c.backend,
		c.events,
		c.metrics,
		id,
		c.cfg.AppendRetries,
		c.cfg.AppendTimeout,
		c.cfg.MaxInFlight,
	)
	active.capture = newCaptureSource(
		audioSession,
		id,
		c.cfg.ChunkInterval,
		c.cfg.ReadSize,
		active.uploader.submit,
		func(err error) { go c.captureFailed(active, err) },
		c.newTicker,
	)

	c.mu.Lock()
	c.current = active
	c.state = domain.SessionStateRecording
	c.mu.Unlock()

	active.capture.arm()
	observe.Logger(ctx).Info("recording started", "session_id", id, "language_hint", languageHint)
	c.events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	return nil
}

// Stop disarms capture, waits for every pending chunk, then finalizes the
// session. It is only valid while recording. On a drain or finalize failure
// the upload record is returned alongside the error.
func (c *SessionController) Stop(ctx context.Context, language string) (domain.SessionResult, error) {
	active, done, err := c.beginStopping("stop", nil)
	if err != nil {
		return domain.SessionResult{}, err
	}
	c.events.SessionStateChanged(domain.SessionStateStopping, domain.SessionReasonFinalizing)

	if err := active.capture.stop(); err != nil {
		c.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
		observe.Logger(ctx).Warn("audio capture stop failed", "session_id", active.id, "err", err)
	}

	if err := active.uploader.drain(ctx); err != nil {
		serr := &domain.SessionError{Kind: domain.KindNetworkFailure, Op: "drain", SessionID: active.id, Err: err}
		c.events.SessionError(domain.ErrorCodeFinalize, serr.Error())
		result := c.fail(ctx, active, done, active.createdAt, serr, domain.SessionReasonDrainInterrupted)
		result.Language = language
		return result, serr
	}

	transcript, err := c.finalizeBackendSession(ctx, active.id, language)
	if err != nil {
		kind := domain.KindNetworkFailure
		if errors.Is(err, domain.ErrBackendRejected) {
			kind = domain.KindFinalizeFailure
		}
		serr := &domain.SessionError{Kind: kind, Op: "stop", SessionID: active.id, Err: err}
		c.events.SessionError(domain.ErrorCodeFinalize, serr.Error())
		result := c.fail(ctx, active, done, active.createdAt, serr, domain.SessionReasonFinalizeFailed)
		result.Language = language
		return result, serr
	}

	stats, failed := active.uploader.snapshot()
	result := domain.SessionResult{
		SessionID:    active.id,
		Language:     language,
		Incomplete:   stats.Failed > 0,
		Uploads:      stats,
		FailedChunks: failed,
		Duration:     time.Since(active.createdAt),
	}
	result, reason := c.finalizer.Finalize(ctx, transcript, result)

	c.finish(ctx, active, done, domain.SessionStateFinished, result, nil, reason)
	observe.Logger(ctx).Info("recording finished",
		"session_id", active.id,
		"appended", stats.Appended,
		"failed", stats.Failed,
		"incomplete", result.Incomplete)
	return result, nil
}

// Reset returns a terminal controller to idle so a new session can start.
func (c *SessionController) Reset() error {
	c.mu.Lock()
	if !c.state.Terminal() && c.state != domain.SessionStateIdle {
		state := c.state
		c.mu.Unlock()
		return domain.InvalidState("reset", state)
	}
	wasIdle := c.state == domain.SessionStateIdle
	c.state = domain.SessionStateIdle
	c.outcome = nil
	c.lastError = ""
	c.mu.Unlock()

	if !wasIdle {
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonSessionReset)
	}
	return nil
}

// Wait blocks until the current session reaches a terminal state and returns
// its outcome.
func (c *SessionController) Wait(ctx context.Context) (domain.SessionResult, error) {
	c.mu.Lock()
	done := c.outcome
	state := c.state
	c.mu.Unlock()

	if done == nil {
		return domain.SessionResult{}, domain.InvalidState("wait", state)
	}
	select {
	case <-done.done:
		return done.result, done.err
	case <-ctx.Done():
		return domain.SessionResult{}, ctx.Err()
	}
}

// Status returns the current lifecycle status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{
		State:   c.state,
		Active:  !c.state.Terminal() && c.state != domain.SessionStateIdle,
		Message: c.lastError,
	}
	if c.current != nil {
		status.SessionID = c.current.id
		status.Uploads, _ = c.current.uploader.snapshot()
	} else if c.outcome != nil && c.state.Terminal() {
		status.SessionID = c.outcome.result.SessionID
		status.Uploads = c.outcome.result.Uploads
	}
	return status
}

// captureFailed treats a dead capture device as a stop that fails. It loses
// to a concurrent Stop, which already owns the teardown.
func (c *SessionController) captureFailed(active *activeSession, cause error) {
	ctx := active.ctx
	_, done, err := c.beginStopping("capture", active)
	if err != nil {
		observe.Logger(ctx).Warn("capture error after stop requested", "session_id", active.id, "err", cause)
		return
	}
	observe.Logger(ctx).Error("audio capture failed", "session_id", active.id, "err", cause)
	c.events.SessionStateChanged(domain.SessionStateStopping, domain.SessionReasonCaptureUnavailable)

	_ = active.capture.stop()
	_ = active.uploader.drain(ctx)

	serr := &domain.SessionError{Kind: domain.KindCaptureUnavailable, Op: "capture", SessionID: active.id, Err: cause}
	c.events.SessionError(domain.ErrorCodeCapture, serr.Error())
	c.fail(ctx, active, done, active.createdAt, serr, domain.SessionReasonCaptureUnavailable)
}

// beginStopping moves recording -> stopping. When want is set, the move only
// happens if want is still the current session.
func (c *SessionController) beginStopping(op string, want *activeSession) (*activeSession, *outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.SessionStateRecording || c.current == nil || (want != nil && c.current != want) {
		return nil, nil, domain.InvalidState(op, c.state)
	}
	c.state = domain.SessionStateStopping
	return c.current, c.outcome, nil
}

func (c *SessionController) startBackendSession(ctx context.Context, languageHint string) (string, error) {
	if c.cfg.StartTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.StartTimeout)
		defer cancel()
	}
	id, err := c.backend.StartSession(ctx, languageHint)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%w: empty session id", domain.ErrBackendRejected)
	}
	return id, nil
}

func (c *SessionController) finalizeBackendSession(ctx context.Context, id string, language string) (domain.Transcript, error) {
	if c.cfg.FinalizeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.FinalizeTimeout)
		defer cancel()
	}
	return c.backend.StopSession(ctx, id, language)
}

func (c *SessionController) fail(
	ctx context.Context,
	active *activeSession,
	done *outcome,
	createdAt time.Time,
	err error,
	reason domain.SessionStateReason,
) domain.SessionResult {
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()

	result := domain.SessionResult{Duration: time.Since(createdAt)}
	if active != nil {
		result.SessionID = active.id
		result.Uploads, result.FailedChunks = active.uploader.snapshot()
		result.Incomplete = result.Uploads.Failed > 0
	}
	c.finish(ctx, active, done, domain.SessionStateFailed, result, err, reason)
	return result
}

func (c *SessionController) finish(
	ctx context.Context,
	active *activeSession,
	done *outcome,
	state domain.SessionState,
	result domain.SessionResult,
	err error,
	reason domain.SessionStateReason,
) {
	if active != nil {
		active.uploader.detach()
		active.cancel()
	}

	c.mu.Lock()
	if done != nil {
		done.resolve(result, err)
	}
	c.state = state
	if c.current == active {
		c.current = nil
	}
	c.mu.Unlock()

	c.metrics.RecordSessionEnd(ctx, string(state), result.Duration)
	c.events.SessionStateChanged(state, reason)
}
