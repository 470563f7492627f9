package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/recmirror/internal/manifest"
)

// RetryPolicy bounds the retry loop. The zero value retries forever with
// no delay between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

type FileDownloader interface {
	Download(ctx context.Context, url, partialPath, finalPath string, total int64, sink ProgressSink) error
}

type Driver struct {
	downloader FileDownloader
	policy     RetryPolicy
}

func NewDriver(downloader FileDownloader, policy RetryPolicy) *Driver {
	return &Driver{downloader: downloader, policy: policy}
}

// Run downloads entry, re-invoking the downloader after every transient
// failure. Each attempt resumes from the partial file the previous one left.
func (d *Driver) Run(ctx context.Context, entry manifest.Entry, url, partialPath, finalPath string, sink ProgressSink) error {
	for attempt := 1; ; attempt++ {
		err := d.downloader.Download(ctx, url, partialPath, finalPath, entry.Size, sink)
		if err == nil {
			if attempt > 1 {
				log.Info().Str("op", "downloader/retry").Msgf("Download of %s succeeded after %d attempts", entry.Name, attempt)
			}
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if d.policy.MaxAttempts > 0 && attempt >= d.policy.MaxAttempts {
			return fmt.Errorf("%w for %s after %d attempts: %w", ErrRetriesExhausted, entry.Name, attempt, err)
		}
		log.Warn().Str("op", "downloader/retry").Err(err).Msgf("Retrying download for %s (attempt %d)", entry.Name, attempt+1)
		if d.policy.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.policy.Delay):
			}
		}
	}
}
