package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// FileBackend stores the JSON document on local disk. Writes go to a temp
// file in the same directory and are renamed into place.
type FileBackend struct {
	Path string
}

// NewFileBackend returns a backend writing to path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

// Load implements Backend.
func (b *FileBackend) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", b.Path, err)
	}
	return data, nil
}

// Save implements Backend.
func (b *FileBackend) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(b.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("session: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("session: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("session: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.Path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("session: replace %s: %w", b.Path, err)
	}
	return nil
}

// S3API is the subset of the S3 client used by S3Backend.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Backend stores the JSON document as a single S3 object.
type S3Backend struct {
	client S3API
	bucket string
	key    string
}

// NewS3Backend builds an S3-backed store artifact.
func NewS3Backend(client S3API, bucket, key string) *S3Backend {
	if client == nil {
		panic("session: s3 client cannot be nil")
	}
	return &S3Backend{client: client, bucket: bucket, key: key}
}

// Load implements Backend.
func (b *S3Backend) Load(ctx context.Context) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: s3 get %s: %w", b.key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("session: s3 read %s: %w", b.key, err)
	}
	return data, nil
}

// Save implements Backend.
func (b *S3Backend) Save(ctx context.Context, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("session: s3 put %s: %w", b.key, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404")
}

// RedisBackend stores the JSON document under one Redis key with no expiry.
type RedisBackend struct {
	client redis.Cmdable
	key    string
}

// NewRedisBackend builds a Redis-backed store artifact.
func NewRedisBackend(client redis.Cmdable, key string) *RedisBackend {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	return &RedisBackend{client: client, key: key}
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get %s: %w", b.key, err)
	}
	return data, nil
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, data []byte) error {
	if err := b.client.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("session: redis set %s: %w", b.key, err)
	}
	return nil
}

// PgxQuerier is the subset of pgxpool.Pool used by PostgresBackend.
type PgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresBackend stores the JSON document in one row of session_store.
type PostgresBackend struct {
	db   PgxQuerier
	name string
}

// NewPostgresBackend builds a Postgres-backed store artifact. name selects the row.
func NewPostgresBackend(db PgxQuerier, name string) *PostgresBackend {
	if db == nil {
		panic("session: pgx pool cannot be nil")
	}
	if name == "" {
		name = "default"
	}
	return &PostgresBackend{db: db, name: name}
}

// Load implements Backend.
func (b *PostgresBackend) Load(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := b.db.QueryRow(ctx, `SELECT payload FROM session_store WHERE name = $1`, b.name).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load store row: %w", err)
	}
	return payload, nil
}

// Save implements Backend.
func (b *PostgresBackend) Save(ctx context.Context, data []byte) error {
	_, err := b.db.Exec(ctx, `
		INSERT INTO session_store (name, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`, b.name, string(data))
	if err != nil {
		return fmt.Errorf("session: save store row: %w", err)
	}
	return nil
}
