package db

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

type Config struct {
	Driver        string
	DSN           string
	Host          string
	Port          string
	User          string
	Password      string
	Name          string
	SQLitePath    string
	SlowThreshold time.Duration
	MaxOpenConns  int
	// LockTimeout bounds how long a transaction waits on a parent lock
	// before Postgres fails it with 55P03 (mapped to retryable). It is set
	// per connection through the DSN.
	LockTimeout time.Duration
}

func (c Config) postgresDSN() string {
	dsn := strings.TrimSpace(c.DSN)
	if dsn == "" {
		dsn = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			c.User,
			c.Password,
			c.Host,
			c.Port,
			c.Name,
		)
	}
	if c.LockTimeout <= 0 || strings.Contains(dsn, "lock_timeout") {
		return dsn
	}
	// pgx forwards unknown parameters as session settings, so every pooled
	// connection gets the timeout.
	ms := c.LockTimeout.Milliseconds()
	switch {
	case !strings.Contains(dsn, "://"):
		return fmt.Sprintf("%s lock_timeout=%d", dsn, ms)
	case strings.Contains(dsn, "?"):
		return fmt.Sprintf("%s&lock_timeout=%d", dsn, ms)
	default:
		return fmt.Sprintf("%s?lock_timeout=%d", dsn, ms)
	}
}

type PostgresService struct {
	db     *gorm.DB
	driver string
	log    *logger.Logger
}

// NewPostgresService opens the backing store. Despite the name it also
// serves DB_DRIVER=sqlite for local runs; row locks degrade to SQLite's
// database-wide write lock there.
func NewPostgresService(logg *logger.Logger, cfg Config) (*PostgresService, error) {
	serviceLog := logg.With("service", "PostgresService")
	gormCfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   NewGormLogger(serviceLog, cfg.SlowThreshold),
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "sqlite":
		path := strings.TrimSpace(cfg.SQLitePath)
		if path == "" {
			path = "file::memory:"
		}
		db, err = gorm.Open(sqlite.Open(path), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		// SQLite allows one writer; a single connection turns lock waits
		// into pool waits instead of SQLITE_BUSY errors.
		sqlDB.SetMaxOpenConns(1)
	default:
		driver = "postgres"
		db, err = gorm.Open(postgres.Open(cfg.postgresDSN()), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("postgres handle: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	}

	serviceLog.Info("Connected to backing store", "driver", driver)
	return &PostgresService{db: db, driver: driver, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) Driver() string { return s.driver }

func (s *PostgresService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
