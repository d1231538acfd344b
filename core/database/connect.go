package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	coreconfig "github.com/m3rciful/formbot/core/config"
	"github.com/m3rciful/formbot/core/logger"
)

const connectTimeout = 5 * time.Second

// Connect opens the database for the configured driver, configures the pool and
// verifies connectivity. Postgres is retried until waitTimeout elapses so the bot can
// start alongside its database container.
func Connect(cfg coreconfig.DatabaseConfig, waitTimeout time.Duration) (*sqlx.DB, error) {
	driver, dsn, err := driverDSN(cfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var db *sqlx.DB
	for {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		db, err = sqlx.ConnectContext(ctx, driver, dsn)
		cancel()
		if err == nil || driver != coreconfig.DriverPostgres || time.Since(start) > waitTimeout {
			break
		}
		logger.Debug(logger.Background(), "db", "db.connect.retry",
			slog.String("driver", driver),
			slog.String("err", err.Error()),
		)
		time.Sleep(2 * time.Second)
	}
	took := time.Since(start)
	if err != nil {
		logger.Error(logger.Background(), "db", "db.connect",
			slog.String("status", "fail"),
			slog.String("driver", driver),
			slog.String("host", cfg.Host),
			slog.String("db", cfg.Name),
			slog.Duration("duration", took),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	pool := cfg.MaxConnections
	if driver == coreconfig.DriverSQLite {
		// a single writer avoids SQLITE_BUSY between concurrent handlers
		pool = 1
	}
	if pool > 0 {
		db.SetMaxOpenConns(pool)
		db.SetMaxIdleConns(pool)
	}

	logger.Info(logger.Background(), "db", "db.connect",
		slog.String("status", "ok"),
		slog.String("driver", driver),
		slog.String("host", cfg.Host),
		slog.String("db", dbName(cfg)),
		slog.Int("pool_open", pool),
		slog.Duration("duration", took),
	)
	return db, nil
}

func driverDSN(cfg coreconfig.DatabaseConfig) (string, string, error) {
	switch cfg.Driver {
	case coreconfig.DriverPostgres:
		return coreconfig.DriverPostgres, cfg.PostgresDSN(), nil
	case coreconfig.DriverSQLite:
		if cfg.Path == "" {
			return "", "", fmt.Errorf("db connect: sqlite path is empty")
		}
		return coreconfig.DriverSQLite, cfg.Path, nil
	default:
		return "", "", fmt.Errorf("db connect: unsupported driver %q", cfg.Driver)
	}
}

func dbName(cfg coreconfig.DatabaseConfig) string {
	if cfg.Driver == coreconfig.DriverSQLite {
		return cfg.Path
	}
	return cfg.Name
}
