package chat

import (
	"context"
	"log/slog"
	"time"

	"benchchat/internal/store"
)

const retentionSweepInterval = 15 * time.Minute

// StartRetentionWorker runs a background goroutine that periodically closes
// sessions with no activity within the retention window. Closed sessions
// keep their history; only their active status is retired.
func StartRetentionWorker(ctx context.Context, repo store.Repository, retention time.Duration) {
	ticker := time.NewTicker(retentionSweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session retention worker started", "interval", retentionSweepInterval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				sweepIdleSessions(ctx, repo, retention)
			case <-ctx.Done():
				slog.Info("Session retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepIdleSessions(ctx context.Context, repo store.Repository, retention time.Duration) {
	idle, err := repo.GetIdleSessions(ctx, retention)
	if err != nil {
		slog.Error("Retention worker failed to list idle sessions", "error", err)
		return
	}
	if len(idle) == 0 {
		return
	}

	slog.Info("Retention worker found idle sessions", "count", len(idle))
	closed := 0
	for _, sess := range idle {
		if err := repo.CloseSession(ctx, sess.ID); err != nil {
			slog.Warn("Retention worker failed to close session",
				"session_id", sess.ID, "error", err)
			continue
		}
		closed++
	}
	slog.Info("Retention worker sweep completed", "closed", closed)
}
