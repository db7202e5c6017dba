package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rpupo63/postzen-backend/api"
	"github.com/rpupo63/postzen-backend/cache"
	"github.com/rpupo63/postzen-backend/config"
	"github.com/rpupo63/postzen-backend/database"
	"github.com/rpupo63/postzen-backend/services"
)

func main() {
	fmt.Println("Initializing app...")

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: Error loading .env file: %v\n", err)
	}

	c := config.New()
	setupLogging(c)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c); err != nil {
		log.Fatal().Err(err).Msg("Closing server")
	}
}

func run(ctx context.Context, c map[string]string) error {
	if err := config.ResolveSecrets(ctx, c, nil); err != nil {
		return err
	}

	dbOpts := databaseOptions(c)
	log.Info().Str("driver", dbOpts.Driver).Int("replicas", len(dbOpts.ReplicaDSNs)).Msg("Connecting to database...")
	db, err := database.Open(dbOpts)
	if err != nil {
		return err
	}
	currentDB := database.New(db)
	defer currentDB.Close()

	if err := currentDB.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	postCache, closeCache, err := openCache(ctx, g, c)
	if err != nil {
		return err
	}
	defer closeCache()

	cacheSync := services.NewCacheSync(postCache, config.GetDuration(c, "CACHE_TTL", services.DefaultCacheTTL))
	postService := services.NewPostService(currentDB.PostRepo(), cacheSync,
		services.WithFeedPageSize(config.GetInt(c, "FEED_PAGE_SIZE", services.DefaultFeedPageSize)),
	)
	publisher := services.NewScheduledPublisher(currentDB.PostRepo(), cacheSync,
		services.WithPublishInterval(config.GetDuration(c, "PUBLISH_INTERVAL", services.DefaultPublishInterval)),
	)

	server, err := api.NewServer(postService, c)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	g.Go(func() error {
		return server.Run(ctx, 30*time.Second)
	})
	g.Go(func() error {
		return publisher.Run(ctx)
	})

	return g.Wait()
}

func databaseOptions(c map[string]string) database.Options {
	driver := strings.ToLower(config.GetString(c, "DB_DRIVER", database.DriverPostgres))
	if driver == database.DriverSQLite {
		return database.Options{
			Driver: driver,
			DSN:    config.GetString(c, "SQLITE_PATH", "postzen.db"),
		}
	}

	dsn := config.GetString(c, "DATABASE_URL", "")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			config.GetString(c, "DB_HOST", "localhost"),
			config.GetString(c, "DB_USER", "postgres"),
			config.GetString(c, "DB_PASSWORD", ""),
			config.GetString(c, "DB_NAME", "postzen"),
			config.GetString(c, "DB_PORT", "5432"),
			config.GetString(c, "DB_SSLMODE", "disable"),
		)
	}

	return database.Options{
		Driver:        driver,
		DSN:           dsn,
		ReplicaDSNs:   config.GetList(c, "DB_REPLICA_DSNS"),
		SlowThreshold: config.GetDuration(c, "DB_SLOW_THRESHOLD", 2*time.Second),
	}
}

// openCache builds the configured cache. A Redis that cannot be reached is not fatal:
// the cache is an accelerator and every failure degrades to a store read.
func openCache(ctx context.Context, g *errgroup.Group, c map[string]string) (cache.Cache, func(), error) {
	switch driver := strings.ToLower(config.GetString(c, "CACHE_DRIVER", "redis")); driver {
	case "redis":
		r := cache.NewRedis(cache.RedisOptions{
			Addr:     config.GetString(c, "REDIS_ADDR", "localhost:6379"),
			Password: config.GetString(c, "REDIS_PASSWORD", ""),
			DB:       config.GetInt(c, "REDIS_DB", 0),
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := r.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable at startup, serving from the database until it recovers")
		}
		return r, func() { _ = r.Close() }, nil
	case "memory":
		m := cache.NewMemory()
		g.Go(func() error {
			m.RunCleanup(ctx, time.Minute)
			return nil
		})
		return m, func() {}, nil
	case "none":
		return cache.Nop{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache driver %q", driver)
	}
}

func setupLogging(c map[string]string) {
	level, err := zerolog.ParseLevel(config.GetString(c, "LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.GetBool(c, "LOG_PRETTY", false) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
