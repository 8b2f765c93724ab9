// Package db persists ingestion cycle events so failed polls stay visible
// after the process log has rotated. PostgreSQL is the production store;
// SQLite serves single-host installs and tests.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/unklstewy/skyplot/pkg/config"
	"github.com/unklstewy/skyplot/pkg/logger"
)

//go:embed schema_postgres.sql schema_sqlite.sql
var schemaSQL embed.FS

// DB wraps a database connection with helper methods.
type DB struct {
	*sql.DB

	// Driver is the database/sql driver name in use
	Driver string

	config config.DatabaseConfig
	logger *logger.Logger
}

// DataSource returns the database/sql driver name and DSN for cfg.
func DataSource(cfg config.DatabaseConfig) (driver, dsn string, err error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "postgres":
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host,
			cfg.Port,
			cfg.Username,
			cfg.Password,
			cfg.Database,
			cfg.SSLMode,
		)
		return "postgres", dsn, nil
	case "sqlite":
		if cfg.Path == "" {
			return "", "", fmt.Errorf("sqlite requires a database path")
		}
		return "sqlite", cfg.Path, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Connect opens the configured database and verifies it answers.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	if log == nil {
		log = logger.NewNop()
	}

	driver, dsn, err := DataSource(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	switch driver {
	case "sqlite":
		// One physical connection; sqlite serializes writers anyway.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	default:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Named("db").Info("Database connected", logger.String("driver", driver))

	return &DB{
		DB:     sqlDB,
		Driver: driver,
		config: cfg,
		logger: log.Named("db"),
	}, nil
}

// InitSchema creates the cycle event table and its indexes.
// This should be called once at application startup.
func (db *DB) InitSchema(ctx context.Context) error {
	schemaBytes, err := schemaSQL.ReadFile("schema_" + db.Driver + ".sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	// Statements run one at a time; not every driver accepts a batch.
	for _, stmt := range strings.Split(string(schemaBytes), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
	}

	return nil
}

// CleanupOldEvents removes cycle events older than maxAge and returns how
// many were deleted.
func (db *DB) CleanupOldEvents(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	res, err := db.ExecContext(ctx,
		db.rebind(`DELETE FROM cycle_events WHERE started_at_ms < ?`),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old cycle events: %w", err)
	}
	return res.RowsAffected()
}

// GetStats returns event counts per outcome plus the total.
func (db *DB) GetStats(ctx context.Context) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM cycle_events GROUP BY outcome`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int64{"total": 0}
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		stats[outcome] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (db *DB) rebind(query string) string {
	if db.Driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
