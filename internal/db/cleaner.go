package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PurgeSessions deletes browser sessions last touched before cutoff and
// returns how many were removed.
func PurgeSessions(ctx context.Context, conn *sql.DB, cutoff time.Time) (int64, error) {
	res, err := conn.ExecContext(ctx,
		`DELETE FROM browser_sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// StartSessionCleaner purges browser sessions idle for longer than
// retention every interval until ctx is done.
func StartSessionCleaner(
	ctx context.Context,
	conn *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				removed, err := PurgeSessions(ctx, conn, now.Add(-retention))
				if err != nil {
					log.Error("failed to clean expired browser sessions", zap.Error(err))
					continue
				}
				if removed > 0 {
					log.Info("cleaned expired browser sessions", zap.Int64("removed", removed))
				}
			}
		}
	}()
}
