package bootstrap

import (
	"context"
	"time"

	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

const defaultPurgeInterval = time.Hour

type processedPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunProcessedEventsJanitor purges dedupe markers older than retention on every
// interval until ctx is cancelled. A non-positive retention disables purging.
func RunProcessedEventsJanitor(ctx context.Context, store processedPurger, retention, interval time.Duration, logger *logging.Logger) {
	if store == nil || retention <= 0 {
		return
	}
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = defaultPurgeInterval
	}

	purge := func() {
		removed, err := store.PurgeBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("failed to purge processed events", "error", err)
			}
			return
		}
		if removed > 0 {
			logger.Info("purged processed events", "removed", removed, "retention", retention.String())
		}
	}

	purge()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}
