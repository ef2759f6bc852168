package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

// ExpireCallback is called for every session removed by the sweeper.
type ExpireCallback func(ownerID, sessionID string)

// RunSweeper periodically discards sessions idle longer than ttl until ctx is
// done. A non-positive ttl disables expiry and returns immediately.
func RunSweeper(ctx context.Context, m *Manager, ttl, interval time.Duration, onExpire ExpireCallback) error {
	if ttl <= 0 {
		slog.Info("Session sweeper disabled")
		return nil
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

	for {
		select {
		case <-ticker.C:
			sweep(m, ttl, onExpire)
		case <-ctx.Done():
			slog.Info("Session sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func sweep(m *Manager, ttl time.Duration, onExpire ExpireCallback) {
	expired := m.ExpireIdle(ttl)
	if len(expired) == 0 {
		return
	}

	for _, sess := range expired {
		slog.Debug("Session expired", "session_id", sess.ID, "owner_id", sess.OwnerID)
		if onExpire != nil {
			onExpire(sess.OwnerID, sess.ID)
		}
	}
	slog.Info("Session sweeper expired idle sessions", "count", len(expired), "remaining", m.Len())
}
