package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"eduetl/internal/config"
	"eduetl/internal/files"
	"eduetl/internal/infrastructure"
)

// RetryPolicy bounds the download attempts of one archive.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if time.Duration(delay) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return time.Duration(delay)
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Fetcher downloads yearly archives with a rate limit and retries.
type Fetcher struct {
	client      *http.Client
	limiter     *rate.Limiter
	policy      RetryPolicy
	urlTemplate string
	files       *files.Manager
	logger      *slog.Logger
	metrics     *infrastructure.PipelineMetrics
	sleep       func(context.Context, time.Duration) error
}

// NewFetcher creates a fetcher from the source config. Archives are written
// through fm.
func NewFetcher(cfg config.SourceConfig, fm *files.Manager, logger *slog.Logger, metrics *infrastructure.PipelineMetrics) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(limit, 1),
		policy:      RetryPolicy{MaxAttempts: cfg.MaxAttempts, InitialDelay: cfg.InitialDelay, MaxDelay: cfg.MaxDelay, Multiplier: 2},
		urlTemplate: cfg.URLTemplate,
		files:       fm,
		logger:      logger.With("component", "fetcher"),
		metrics:     metrics,
		sleep:       sleepContext,
	}
}

// URL returns the archive location of year.
func (f *Fetcher) URL(year int) string {
	return config.SourceURL(f.urlTemplate, year)
}

// Fetch downloads the archive of year to dest and returns its size.
// Every failure is retried until the policy is exhausted or ctx ends.
func (f *Fetcher) Fetch(ctx context.Context, year int, dest string) (int64, error) {
	url := f.URL(year)
	attempts := max(f.policy.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, err
		}
		if f.metrics != nil {
			f.metrics.FetchAttempts.Add(ctx, 1)
		}

		n, err := f.download(ctx, url, dest)
		if err == nil {
			if f.metrics != nil {
				f.metrics.FetchBytes.Add(ctx, n)
			}
			f.logger.InfoContext(ctx, "Downloaded archive",
				slog.Int("year", year),
				slog.String("url", url),
				slog.Int64("bytes", n),
				slog.Int("attempt", attempt))
			return n, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if attempt == attempts {
			break
		}

		delay := f.policy.Delay(attempt)
		f.logger.WarnContext(ctx, "Archive download failed, retrying",
			slog.Int("year", year),
			slog.String("url", url),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if err := f.sleep(ctx, delay); err != nil {
			return 0, err
		}
	}

	return 0, fmt.Errorf("download of %s failed after %d attempts: %w", url, attempts, lastErr)
}

func (f *Fetcher) download(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return f.files.WriteFile(dest, resp.Body)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
