package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Options struct {
	Driver      string
	DSN         string
	ReplicaDSNs []string
	// SlowThreshold is the query duration above which gorm logs a warning
	SlowThreshold time.Duration
	LogLevel      logger.LogLevel
}

// Open connects to the configured database and registers read replicas, if any
func Open(opts Options) (*gorm.DB, error) {
	if opts.SlowThreshold == 0 {
		opts.SlowThreshold = 2 * time.Second
	}
	if opts.LogLevel == 0 {
		opts.LogLevel = logger.Warn
	}

	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             opts.SlowThreshold,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
	gormConfig := &gorm.Config{
		Logger:         newLogger,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		db  *gorm.DB
		err error
	)
	switch opts.Driver {
	case DriverPostgres, "":
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  opts.DSN,
			PreferSimpleProtocol: true,
		}), gormConfig)
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(opts.DSN), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", opts.Driver, err)
	}

	if opts.Driver == DriverSQLite {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY under concurrent requests
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if len(opts.ReplicaDSNs) > 0 && opts.Driver != DriverSQLite {
		replicas := make([]gorm.Dialector, 0, len(opts.ReplicaDSNs))
		for _, dsn := range opts.ReplicaDSNs {
			replicas = append(replicas, postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}))
		}
		resolver := dbresolver.Register(dbresolver.Config{
			Replicas: replicas,
			Policy:   dbresolver.RandomPolicy{},
		}).SetMaxOpenConns(25).SetConnMaxIdleTime(5 * time.Minute)
		if err := db.Use(resolver); err != nil {
			return nil, fmt.Errorf("register read replicas: %w", err)
		}
	}

	var result int
	if err := db.Raw("SELECT 1").Scan(&result).Error; err != nil {
		return nil, fmt.Errorf("test database connection: %w", err)
	}

	return db, nil
}
