package usecase

import (
	"context"
	"time"

	"livemic/internal/domain"
)

// activeSession is everything the controller owns between a successful
// session-start and the terminal state. It is dropped once the outcome is
// recorded.
type activeSession struct {
	id           string
	languageHint string
	createdAt    time.Time

	ctx    context.Context
	cancel context.CancelFunc

	capture  *captureSource
	uploader *chunkUploader
}

// outcome is the single terminal value of a session.
type outcome struct {
	done   chan struct{}
	result domain.SessionResult
	err    error
}

func newOutcome() *outcome {
	return &outcome{done: make(chan struct{})}
}

func (o *outcome) resolve(result domain.SessionResult, err error) {
	o.result = result
	o.err = err
	close(o.done)
}
