package eventsink

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"livemic/internal/domain"
)

type recordingSink struct {
	events []string
}

func (r *recordingSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	r.events = append(r.events, "state:"+string(state)+":"+string(reason))
}

func (r *recordingSink) FinalTranscript(text string, note string) {
	r.events = append(r.events, "final:"+text+":"+note)
}

func (r *recordingSink) SessionError(code domain.ErrorCode, detail string) {
	r.events = append(r.events, "error:"+string(code)+":"+detail)
}

func TestFanoutForwardsToEverySink(t *testing.T) {
	t.Parallel()

	a, b := &recordingSink{}, &recordingSink{}
	fan := NewFanout(a, nil, b)
	if len(fan) != 2 {
		t.Fatalf("nil sinks must be dropped, got %d", len(fan))
	}

	fan.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	fan.FinalTranscript("hello", "ok")
	fan.SessionError(domain.ErrorCodeFinalize, "boom")

	want := []string{
		"state:recording:recording_started",
		"final:hello:ok",
		"error:finalize:boom",
	}
	for _, sink := range []*recordingSink{a, b} {
		if strings.Join(sink.events, "|") != strings.Join(want, "|") {
			t.Fatalf("unexpected events: %v", sink.events)
		}
	}
}

func TestLoggerWritesStructuredRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	sink.SessionStateChanged(domain.SessionStateFinished, domain.SessionReasonTranscriptCopied)
	sink.FinalTranscript("secret words", "")
	sink.SessionError(domain.ErrorCodePartialLoss, "chunk 3 dropped")

	out := buf.String()
	for _, part := range []string{"state=finished", "reason=transcript_copied", "chars=12", "level=WARN", "code=partial_loss"} {
		if !strings.Contains(out, part) {
			t.Fatalf("expected %q in log output:\n%s", part, out)
		}
	}
	if strings.Contains(out, "secret words") {
		t.Fatalf("transcript text must not be logged")
	}
}

func TestStatusText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		state  domain.SessionState
		reason domain.SessionStateReason
		want   string
	}{
		{domain.SessionStateRecording, domain.SessionReasonRecordingStarted, "Recording…"},
		{domain.SessionStateFinished, domain.SessionReasonNoTranscript, "Stopped."},
		{domain.SessionStateFailed, domain.SessionReasonFinalizeFailed, "Transcription failed."},
		{domain.SessionStateFailed, domain.SessionStateReason("other"), "Failed."},
		{domain.SessionStateStopping, domain.SessionStateReason("other"), ""},
	}
	for _, tc := range cases {
		if got := StatusText(tc.state, tc.reason); got != tc.want {
			t.Fatalf("StatusText(%s, %s) = %q, want %q", tc.state, tc.reason, got, tc.want)
		}
	}

	if FinalStatus("") != "Stopped." || FinalStatus("low confidence") != "low confidence" {
		t.Fatalf("unexpected final status")
	}
}
