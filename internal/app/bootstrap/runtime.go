package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/dealer-sms-agent/internal/config"
	"github.com/wolfman30/dealer-sms-agent/internal/conversation"
	"github.com/wolfman30/dealer-sms-agent/internal/events"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

const postgresConnectTimeout = 10 * time.Second

// ProcessedEvents dedupes inbound provider ids and supports retention purges.
type ProcessedEvents interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool connects to DATABASE_URL. It returns nil when the URL is empty
// or the database cannot be reached.
func BuildPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	connectCtx, cancel := context.WithTimeout(ctx, postgresConnectTimeout)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(connectCtx); err != nil {
		logger.Error("postgres not reachable", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// BuildStore returns the Postgres store, or the in-memory store for local
// development when no pool is available.
func BuildStore(pool *pgxpool.Pool, cfg *appconfig.Config, logger *logging.Logger) conversation.Store {
	if logger == nil {
		logger = logging.Default()
	}
	if pool != nil {
		return conversation.NewPostgresStore(pool)
	}
	env := ""
	if cfg != nil {
		env = cfg.Env
	}
	if env == "production" {
		logger.Error("DATABASE_URL not configured in production; conversations will not survive a restart")
	} else {
		logger.Warn("DATABASE_URL not configured; using in-memory conversation store")
	}
	return conversation.NewMemoryStore()
}

// BuildProcessedEvents returns the Postgres dedupe table when a pool is available.
func BuildProcessedEvents(pool *pgxpool.Pool) ProcessedEvents {
	if pool != nil {
		return events.NewProcessedStore(pool)
	}
	return events.NewMemoryProcessedStore()
}

// BuildLocker returns a Redis-backed phone lock when Redis is configured, otherwise
// an in-process lock that only serializes turns within this binary.
func BuildLocker(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) conversation.Locker {
	if logger == nil {
		logger = logging.Default()
	}
	if redisClient == nil {
		if cfg != nil && !cfg.UseMemoryQueue {
			logger.Warn("redis not configured; phone locks are process-local while consuming a shared queue")
		}
		return conversation.NewLocalLocker()
	}
	ttl := 45 * time.Second
	if cfg != nil && cfg.PhoneLockTTL > 0 {
		ttl = cfg.PhoneLockTTL
	}
	return conversation.NewRedisLocker(redisClient, ttl)
}
