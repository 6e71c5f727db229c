package usecase

import (
	"context"

	"livemic/internal/domain"
	"livemic/internal/ports"
)

type transcriptFinalizer struct {
	clipboard ports.Clipboard
	events    ports.EventSink
}

func newTranscriptFinalizer(clipboard ports.Clipboard, events ports.EventSink) transcriptFinalizer {
	return transcriptFinalizer{clipboard: clipboard, events: events}
}

// Finalize turns the backend transcript into the session result and hands
// it to the display sinks.
func (f transcriptFinalizer) Finalize(
	ctx context.Context,
	transcript domain.Transcript,
	result domain.SessionResult,
) (domain.SessionResult, domain.SessionStateReason) {
	result.Text = transcript.Text
	result.Note = transcript.Note
	f.events.FinalTranscript(result.Text, result.Note)

	if result.Text == "" {
		return result, domain.SessionReasonNoTranscript
	}
	if f.clipboard == nil {
		return result, domain.SessionReasonTranscriptReady
	}
	if err := f.clipboard.SetText(ctx, result.Text); err != nil {
		f.events.SessionError(domain.ErrorCodeClipboard, "transcript ready but clipboard write failed")
		return result, domain.SessionReasonTranscriptReady
	}
	result.Copied = true
	return result, domain.SessionReasonTranscriptCopied
}
