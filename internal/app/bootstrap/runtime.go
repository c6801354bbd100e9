package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-receptionist/internal/audit"
	appconfig "github.com/wolfman30/dental-receptionist/internal/config"
	"github.com/wolfman30/dental-receptionist/internal/session"
	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

// Store backends accepted by STORE_BACKEND.
const (
	BackendFile     = "file"
	BackendS3       = "s3"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

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

// NewS3Client builds an S3 client, switching to path-style addressing when an
// endpoint override (LocalStack) is configured.
func NewS3Client(awsCfg aws.Config, cfg *appconfig.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = strings.TrimSpace(cfg.AWSEndpointOverride) != ""
	})
}

// Resources holds connections that must be closed at shutdown.
type Resources struct {
	closers []func()
}

// Add registers fn to run on Close.
func (r *Resources) Add(fn func()) {
	if fn != nil {
		r.closers = append(r.closers, fn)
	}
}

// Close releases resources in reverse order.
func (r *Resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// BuildSessionBackend selects the durable artifact behind the session store.
// awsCfg is only called for the s3 backend.
func BuildSessionBackend(ctx context.Context, cfg *appconfig.Config, awsCfg func() (aws.Config, error), res *Resources, logger *logging.Logger) (session.Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.StoreBackend {
	case "", BackendFile:
		logger.Info("session store backend", "backend", BackendFile, "path", cfg.StorePath)
		return session.NewFileBackend(cfg.StorePath), nil

	case BackendS3:
		if strings.TrimSpace(cfg.StoreS3Bucket) == "" {
			return nil, fmt.Errorf("bootstrap: STORE_S3_BUCKET is required for the s3 store backend")
		}
		ac, err := awsCfg()
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		logger.Info("session store backend", "backend", BackendS3, "bucket", cfg.StoreS3Bucket, "key", cfg.StoreS3Key)
		return session.NewS3Backend(NewS3Client(ac, cfg), cfg.StoreS3Bucket, cfg.StoreS3Key), nil

	case BackendRedis:
		client := BuildRedisClient(ctx, cfg, logger, true)
		if client == nil {
			return nil, fmt.Errorf("bootstrap: redis unavailable at %q", cfg.RedisAddr)
		}
		res.Add(func() { _ = client.Close() })
		logger.Info("session store backend", "backend", BackendRedis, "key", cfg.StoreRedisKey)
		return session.NewRedisBackend(client, cfg.StoreRedisKey), nil

	case BackendPostgres:
		pool := ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
		if pool == nil {
			return nil, fmt.Errorf("bootstrap: postgres unavailable for the session store")
		}
		res.Add(pool.Close)
		logger.Info("session store backend", "backend", BackendPostgres)
		return session.NewPostgresBackend(pool, "default"), nil
	}
	return nil, fmt.Errorf("bootstrap: unknown STORE_BACKEND %q", cfg.StoreBackend)
}

// ConnectPostgresPool opens and pings a pgx pool. It returns nil for an empty
// URL or an unreachable database.
func ConnectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres not reachable", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// BuildAuditService opens the audit trail database. Without DATABASE_URL the
// service is disabled and every event is dropped.
func BuildAuditService(ctx context.Context, cfg *appconfig.Config, res *Resources, logger *logging.Logger) *audit.Service {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return audit.NewService(nil)
	}
	if logger == nil {
		logger = logging.Default()
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Warn("audit trail disabled", "error", err)
		return audit.NewService(nil)
	}
	if err := db.PingContext(ctx); err != nil {
		logger.Warn("audit trail disabled, database unreachable", "error", err)
		_ = db.Close()
		return audit.NewService(nil)
	}
	res.Add(func() { _ = db.Close() })
	logger.Info("audit trail enabled")
	return audit.NewService(db)
}
