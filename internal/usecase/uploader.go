package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"livemic/internal/domain"
	"livemic/internal/observe"
	"livemic/internal/ports"
)

// chunkUploader transmits chunks for one session. Completion order is not
// guaranteed; every submitted chunk ends up appended, skipped or failed.
type chunkUploader struct {
	ctx       context.Context
	backend   ports.SessionBackend
	events    ports.EventSink
	metrics   *observe.Metrics
	sessionID string
	retries   int
	timeout   time.Duration
	inFlight  *semaphore.Weighted

	mu       sync.Mutex
	pending  map[int64]struct{}
	idle     chan struct{}
	stats    domain.UploadStats
	failed   []domain.FailedChunk
	detached bool
}

func newChunkUploader(
	ctx context.Context,
	backend ports.SessionBackend,
	events ports.EventSink,
	metrics *observe.Metrics,
	sessionID string,
	retries int,
	timeout time.Duration,
	maxInFlight int,
) *chunkUploader {
	if retries < 0 {
		retries = 0
	}
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	idle := make(chan struct{})
	close(idle)
	return &chunkUploader{
		ctx:       ctx,
		backend:   backend,
		events:    events,
		metrics:   metrics,
		sessionID: sessionID,
		retries:   retries,
		timeout:   timeout,
		inFlight:  semaphore.NewWeighted(int64(maxInFlight)),
		pending:   make(map[int64]struct{}),
		idle:      idle,
	}
}

// submit takes ownership of a freshly emitted chunk. Zero-byte chunks are
// counted and dropped without a network call.
func (u *chunkUploader) submit(chunk domain.Chunk) {
	u.mu.Lock()
	u.stats.Emitted++
	if len(chunk.Data) == 0 {
		u.stats.Skipped++
		u.mu.Unlock()
		u.metrics.RecordChunk(u.ctx, "skipped", 0)
		return
	}
	if len(u.pending) == 0 {
		u.idle = make(chan struct{})
	}
	u.pending[chunk.Sequence] = struct{}{}
	u.stats.Pending = int64(len(u.pending))
	u.mu.Unlock()
	u.metrics.PendingUploads.Add(u.ctx, 1)

	chunk.Data = append([]byte(nil), chunk.Data...)
	go u.transmit(chunk)
}

func (u *chunkUploader) transmit(chunk domain.Chunk) {
	var err error
	attempts := 0

	if err = u.inFlight.Acquire(u.ctx, 1); err == nil {
		for attempts <= u.retries {
			if attempts > 0 {
				u.metrics.ChunkRetries.Add(u.ctx, 1)
			}
			attempts++
			err = u.appendOnce(chunk)
			if err == nil {
				break
			}
			observe.Logger(u.ctx).Warn("chunk append failed",
				"session_id", u.sessionID,
				"sequence", chunk.Sequence,
				"attempt", attempts,
				"err", err)
		}
		u.inFlight.Release(1)
	}

	u.complete(chunk, attempts, err)
}

func (u *chunkUploader) appendOnce(chunk domain.Chunk) error {
	ctx := u.ctx
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}
	return u.backend.AppendChunk(ctx, u.sessionID, chunk)
}

func (u *chunkUploader) complete(chunk domain.Chunk, attempts int, err error) {
	u.mu.Lock()
	delete(u.pending, chunk.Sequence)
	u.stats.Pending = int64(len(u.pending))
	if err == nil {
		u.stats.Appended++
		u.stats.Bytes += int64(len(chunk.Data))
	} else {
		u.stats.Failed++
		u.failed = append(u.failed, domain.FailedChunk{
			Sequence: chunk.Sequence,
			Size:     len(chunk.Data),
			Attempts: attempts,
			Error:    err.Error(),
		})
	}
	if len(u.pending) == 0 {
		close(u.idle)
	}
	detached := u.detached
	u.mu.Unlock()

	u.metrics.PendingUploads.Add(u.ctx, -1)
	if err == nil {
		u.metrics.RecordChunk(u.ctx, "appended", len(chunk.Data))
		return
	}
	u.metrics.RecordChunk(u.ctx, "failed", len(chunk.Data))
	if detached {
		return
	}
	u.events.SessionError(domain.ErrorCodePartialLoss,
		fmt.Sprintf("chunk %d dropped after %d attempts: %v", chunk.Sequence, attempts, err))
}

// drain blocks until no chunk is pending or ctx is done.
func (u *chunkUploader) drain(ctx context.Context) error {
	u.mu.Lock()
	idle := u.idle
	u.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// detach silences sink events for chunks that complete after the session
// has ended. Stats keep counting.
func (u *chunkUploader) detach() {
	u.mu.Lock()
	u.detached = true
	u.mu.Unlock()
}

func (u *chunkUploader) snapshot() (domain.UploadStats, []domain.FailedChunk) {
	u.mu.Lock()
	defer u.mu.Unlock()
	failed := make([]domain.FailedChunk, len(u.failed))
	copy(failed, u.failed)
	return u.stats, failed
}
