// Package ocr turns an uploaded invoice document into an invoice.OcrResult:
// optional image clean-up, a provider call with timeout and bounded retry,
// then heuristic field guesses over the recognized text.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"invoice-engine/internal/domain/invoice"
	"invoice-engine/internal/extract"
)

type Config struct {
	// Timeout bounds each provider call.
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Enhance runs image clean-up before recognition.
	Enhance bool
	Locale  extract.Locale
}

// Recorder observes finished OCR runs. failure is the Kind name, "" on success.
type Recorder interface {
	ObserveOCR(d time.Duration, failure string)
}

type Orchestrator struct {
	provider Provider
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Orchestrator)

func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// withSleep replaces the backoff wait in tests.
func withSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = f }
}

func New(p Provider, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	o := &Orchestrator{provider: p, cfg: cfg, logger: slog.Default(), sleep: sleepCtx}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process recognizes the document at path. locale reads the amounts;
// LocaleAuto falls back to the configured locale. On failure the returned
// result is still usable for display: IsProcessed is false and ErrorMessage
// says why. The error is always an *Error.
func (o *Orchestrator) Process(ctx context.Context, path string, locale extract.Locale) (res invoice.OcrResult, err error) {
	start := time.Now()
	defer func() {
		failure := ""
		if err != nil {
			failure = KindOf(err).String()
		}
		if o.recorder != nil {
			o.recorder.ObserveOCR(time.Since(start), failure)
		}
		if err != nil {
			o.logger.Warn("ocr failed", "path", path, "kind", failure, "error", err,
				"duration_ms", time.Since(start).Milliseconds())
			res = Failed(err)
		} else {
			o.logger.Debug("ocr done", "path", path, "processed", res.IsProcessed,
				"confidence", res.ConfidenceScore, "duration_ms", time.Since(start).Milliseconds())
		}
	}()

	if o.provider == nil {
		return invoice.OcrResult{}, configError("process", errors.New("no OCR provider configured"))
	}
	fi, statErr := os.Stat(path)
	switch {
	case statErr != nil:
		return invoice.OcrResult{}, contentError("process", statErr)
	case fi.Size() == 0:
		return invoice.OcrResult{}, contentError("process", ErrEmptyDocument)
	case !IsSupported(path):
		return invoice.OcrResult{}, contentError("process", ErrUnsupportedFormat)
	}

	src := path
	if o.cfg.Enhance {
		out, cleanup, err := enhance(path)
		defer cleanup()
		if err != nil {
			return invoice.OcrResult{}, err
		}
		src = out
	}

	lines, err := o.recognize(ctx, src)
	if err != nil {
		return invoice.OcrResult{}, err
	}
	if len(lines) == 0 {
		return invoice.OcrResult{}, contentError("process", ErrNoText)
	}
	if locale == extract.LocaleAuto {
		locale = o.cfg.Locale
	}
	return buildResult(lines, locale), nil
}

// recognize calls the provider, retrying transient failures with capped
// exponential backoff.
func (o *Orchestrator) recognize(ctx context.Context, path string) ([]string, error) {
	var last *Error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		lines, err := o.provider.Recognize(cctx, path)
		timedOut := errors.Is(cctx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return lines, nil
		}

		last = asError(err, timedOut)
		if !last.Retryable() || attempt == o.cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return nil, providerError("recognize", ctx.Err())
		}
		wait := o.backoff(attempt)
		o.logger.Info("ocr provider failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		if err := o.sleep(ctx, wait); err != nil {
			return nil, providerError("recognize", err)
		}
	}
	return nil, last
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.cfg.BaseBackoff
	for i := 1; i < attempt && d < o.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > o.cfg.MaxBackoff {
		return o.cfg.MaxBackoff
	}
	return d
}

func asError(err error, timedOut bool) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if timedOut {
		return providerError("recognize", fmt.Errorf("timed out: %w", err))
	}
	return providerError("recognize", err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Failed is the partial result reported for a document that could not be read.
func Failed(err error) invoice.OcrResult {
	return invoice.OcrResult{
		IsProcessed:  false,
		ErrorMessage: UserMessage(err),
		LineItems:    []invoice.LineItem{},
	}
}

// UserMessage is a human-readable reason suitable for API responses.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "the document could not be processed"
	}
	switch e.Kind {
	case KindConfiguration:
		return "OCR service is not configured"
	case KindProvider:
		return "OCR service is temporarily unavailable, please retry"
	default:
		switch {
		case errors.Is(e, ErrEmptyDocument):
			return "the uploaded document is empty"
		case errors.Is(e, ErrUnsupportedFormat):
			return "unsupported document format, upload a PDF or an image"
		case errors.Is(e, ErrNoText):
			return "no text could be recognized in the document"
		default:
			return "the document could not be read"
		}
	}
}
