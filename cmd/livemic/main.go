// Command livemic records one live session from the microphone without the
// desktop shell and prints the result as JSON.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"livemic/internal/bootstrap"
	"livemic/internal/domain"
	"livemic/internal/observe"
)

func main() {
	os.Exit(run())
}

// recorder is the part of the session controller the command drives.
type recorder interface {
	Start(ctx context.Context, languageHint string) error
	Stop(ctx context.Context, language string) (domain.SessionResult, error)
	Wait(ctx context.Context) (domain.SessionResult, error)
}

type options struct {
	language    string
	hint        string
	duration    time.Duration
	stopTimeout time.Duration
}

func run() int {
	lang := flag.String("lang", "", "language used to finalize the transcript (default from config)")
	hint := flag.String("hint", "", "language hint sent when the session starts")
	duration := flag.Duration("duration", 0, "stop automatically after this long (0 waits for Enter or Ctrl+C)")
	configPath := flag.String("config", "", "optional YAML configuration file")
	stopTimeout := flag.Duration("stop-timeout", 90*time.Second, "upper bound for draining uploads and finalizing")
	flag.Parse()

	if *configPath != "" {
		_ = os.Setenv("LIVEMIC_CONFIG", *configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "livemic-cli"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "livemic: telemetry: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetryShutdown(shutdownCtx)
	}()

	services, err := bootstrap.Build(nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livemic: %v\n", err)
		return 1
	}

	opts := options{
		language:    *lang,
		hint:        *hint,
		duration:    *duration,
		stopTimeout: *stopTimeout,
	}
	if opts.language == "" {
		opts.language = services.Config.Session.Language
	}
	if opts.hint == "" {
		opts.hint = services.Config.Session.LanguageHint
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var result domain.SessionResult
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancelRun()
		var recErr error
		result, recErr = record(gctx, services.Controller, opts, enterPressed(os.Stdin))
		return recErr
	})
	if services.Feed != nil {
		if err := services.Feed.Start(); err != nil {
			slog.Warn("feed server not started", "err", err)
		} else {
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return services.Feed.Shutdown(shutdownCtx)
			})
		}
	}

	return report(os.Stdout, os.Stderr, result, g.Wait())
}

// report prints the session record and maps the outcome to an exit code. A
// failed session that got as far as a backend id is still printed.
func report(stdout, stderr io.Writer, result domain.SessionResult, err error) int {
	if err == nil || result.SessionID != "" {
		if printErr := printResult(stdout, result); printErr != nil {
			slog.Error("print result failed", "err", printErr)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "livemic: %v\n", err)
		return 1
	}
	if result.Incomplete {
		return 2
	}
	return 0
}

// record starts a session and stops it on the first of: ctx done, a value
// on enter, the duration elapsing. A session that ends on its own, e.g. on
// capture failure, is returned as is.
func record(ctx context.Context, rec recorder, opts options, enter <-chan struct{}) (domain.SessionResult, error) {
	if err := rec.Start(ctx, opts.hint); err != nil {
		return domain.SessionResult{}, err
	}
	slog.Info("recording; press Enter or Ctrl+C to stop", "duration", opts.duration)

	type ended struct {
		result domain.SessionResult
		err    error
	}
	endedCh := make(chan ended, 1)
	waitCtx, cancelWait := context.WithCancel(context.Background())
	defer cancelWait()
	go func() {
		res, err := rec.Wait(waitCtx)
		endedCh <- ended{result: res, err: err}
	}()

	var timeout <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		timeout = timer.C
	}

	var trigger string
	select {
	case <-ctx.Done():
		trigger = "signal"
	case <-enter:
		trigger = "enter"
	case <-timeout:
		trigger = "duration"
	case e := <-endedCh:
		return e.result, e.err
	}
	slog.Info("stopping", "trigger", trigger)

	// The stop must outlive the signal that requested it.
	stopCtx := context.WithoutCancel(ctx)
	if opts.stopTimeout > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(stopCtx, opts.stopTimeout)
		defer cancel()
	}
	result, err := rec.Stop(stopCtx, opts.language)
	if errors.Is(err, domain.ErrInvalidState) {
		// Lost the race against a session that ended on its own.
		e := <-endedCh
		return e.result, e.err
	}
	return result, err
}

// enterPressed delivers one value per line read from r.
func enterPressed(r io.Reader) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		reader := bufio.NewReader(r)
		for {
			if _, err := reader.ReadString('\n'); err != nil {
				return
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch
}

func printResult(w io.Writer, result domain.SessionResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
