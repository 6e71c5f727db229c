// Package audio captures the microphone through an ffmpeg child process and
// exposes its encoded output as a byte stream.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"livemic/internal/ports"
)

const (
	defaultSampleRate   = 48000
	defaultChannels     = 1
	defaultInputFormat  = "pulse"
	defaultInputDevice  = "default"
	defaultOutputFormat = "webm"
	defaultOutputCodec  = "libopus"

	stderrLimit = 4096
)

// FFMPEGCapture records the microphone with ffmpeg. The default output is a
// streamed WebM/Opus container, so the concatenated chunks form one playable
// recording on the backend.
type FFMPEGCapture struct {
	command      string
	startupGrace time.Duration
	stopGrace    time.Duration
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{
		command:      command,
		startupGrace: 250 * time.Millisecond,
		stopGrace:    1200 * time.Millisecond,
	}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cmd := exec.CommandContext(ctx, c.command, buildArgs(cfg)...)
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	// A plain pipe rather than StdoutPipe: Wait must not close the read end
	// while encoded audio is still buffered in it.
	stdout, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	_ = pw.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// A missing device or codec makes ffmpeg exit almost immediately.
	select {
	case err := <-waitErr:
		_ = stdout.Close()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stderr.String())
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(c.startupGrace):
	}

	return &ffmpegSession{
		stdout:    stdout,
		stderr:    stderr,
		process:   cmd.Process,
		waitErr:   waitErr,
		stopGrace: c.stopGrace,
	}, nil
}

// buildArgs fills capture defaults and renders the ffmpeg command line.
func buildArgs(cfg ports.AudioConfig) []string {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaultChannels
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = defaultInputFormat
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = defaultInputDevice
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = defaultOutputFormat
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
	}

	switch cfg.OutputFormat {
	case "s16le", "f32le", "wav":
		// raw PCM needs no encoder
	default:
		codec := cfg.OutputCodec
		if codec == "" {
			codec = defaultOutputCodec
		}
		args = append(args, "-c:a", codec)
	}
	if cfg.OutputFormat == "webm" {
		// No seeking back to patch headers on a pipe.
		args = append(args, "-live", "1", "-cluster_time_limit", "500")
	}
	return append(args, "-f", cfg.OutputFormat, "-")
}

type ffmpegSession struct {
	stdout *os.File
	stderr *tailBuffer

	process   *os.Process
	waitErr   <-chan error
	stopGrace time.Duration

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if errors.Is(err, os.ErrClosed) {
		err = io.EOF
	}
	if errors.Is(err, io.EOF) {
		_ = s.stdout.Close()
	}
	return n, err
}

func (s *ffmpegSession) Close() error {
	err := s.Stop()
	if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && err == nil {
		err = closeErr
	}
	return err
}

// Stop asks ffmpeg to finish the container, then kills it if it lingers.
// Output already written to the pipe stays readable until EOF.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(s.stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, s.stderr.String())
		}
	})

	return s.stopErr
}

// normalizeStopErr ignores the non-zero exit ffmpeg reports after SIGINT.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; b.limit > 0 && over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf))
}
