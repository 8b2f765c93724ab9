package db

import (
	"context"
	"time"

	"github.com/unklstewy/skyplot/pkg/config"
	"github.com/unklstewy/skyplot/pkg/logger"
)

// ConnectWithRetry attempts to connect with exponential backoff. It is for
// startup only, where the database may still be coming up; ingestion cycles
// never wait on it.
//
// Parameters:
//   - maxAttempts: Maximum number of connection attempts (0 = until ctx is done)
//   - initialDelay: Initial wait time between attempts
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxAttempts int, initialDelay time.Duration, log *logger.Logger) (*DB, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("db")

	delay := initialDelay
	attempt := 0

	for {
		attempt++

		db, err := Connect(ctx, cfg, log)
		if err == nil {
			if attempt > 1 {
				log.Info("Database reconnected", logger.Int("attempt", attempt))
			}
			return db, nil
		}

		// Check if we've exceeded max attempts
		if maxAttempts > 0 && attempt >= maxAttempts {
			log.Error("Giving up on database", logger.Int("attempts", attempt), logger.Error(err))
			return nil, err
		}

		log.Warn("Database connection failed",
			logger.Int("attempt", attempt),
			logger.Duration("retry_in", delay),
			logger.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		// Exponential backoff with cap at 60 seconds
		delay *= 2
		if delay > 60*time.Second {
			delay = 60 * time.Second
		}
	}
}

// HealthCheck reports whether the database answers a trivial query.
func HealthCheck(ctx context.Context, db *DB) bool {
	if db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		db.logger.Warn("Health check failed", logger.Error(err))
		return false
	}
	return result == 1
}
