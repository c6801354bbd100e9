package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrAudioNotFound is returned by AudioStore.Open for a missing artifact.
var ErrAudioNotFound = errors.New("speech: audio not found")

var audioNamePattern = regexp.MustCompile(`^response_[0-9a-f]{10}\.mp3$`)

// ValidAudioName reports whether name looks like a synthesized artifact name.
// It rejects anything that could escape the audio directory.
func ValidAudioName(name string) bool {
	return audioNamePattern.MatchString(name)
}

// AudioStore keeps synthesized audio artifacts by file name.
type AudioStore interface {
	Exists(ctx context.Context, name string) (bool, error)
	Put(ctx context.Context, name string, data []byte) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// DirAudioStore keeps artifacts in a local directory.
type DirAudioStore struct {
	Dir string
}

// NewDirAudioStore creates dir if needed.
func NewDirAudioStore(dir string) (*DirAudioStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("speech: create audio dir %s: %w", dir, err)
	}
	return &DirAudioStore{Dir: dir}, nil
}

func (s *DirAudioStore) path(name string) (string, error) {
	if !ValidAudioName(name) {
		return "", fmt.Errorf("speech: invalid audio name %q", name)
	}
	return filepath.Join(s.Dir, name), nil
}

// Exists implements AudioStore.
func (s *DirAudioStore) Exists(_ context.Context, name string) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("speech: stat %s: %w", name, err)
	}
	return true, nil
}

// Put implements AudioStore.
func (s *DirAudioStore) Put(_ context.Context, name string, data []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("speech: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("speech: rename %s: %w", name, err)
	}
	return nil
}

// Open implements AudioStore.
func (s *DirAudioStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, ErrAudioNotFound
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrAudioNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("speech: open %s: %w", name, err)
	}
	return f, nil
}

// S3API is the subset of the S3 client used by S3AudioStore.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3AudioStore keeps artifacts under a prefix in an S3 bucket.
type S3AudioStore struct {
	client S3API
	bucket string
	prefix string
}

// NewS3AudioStore creates an S3-backed audio store. Keys are prefix + name.
func NewS3AudioStore(client S3API, bucket, prefix string) *S3AudioStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3AudioStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3AudioStore) key(name string) string {
	return s.prefix + name
}

// Exists implements AudioStore.
func (s *S3AudioStore) Exists(ctx context.Context, name string) (bool, error) {
	if !ValidAudioName(name) {
		return false, fmt.Errorf("speech: invalid audio name %q", name)
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("speech: s3 head %s: %w", s.key(name), err)
}

// Put implements AudioStore.
func (s *S3AudioStore) Put(ctx context.Context, name string, data []byte) error {
	if !ValidAudioName(name) {
		return fmt.Errorf("speech: invalid audio name %q", name)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("audio/mpeg"),
	})
	if err != nil {
		return fmt.Errorf("speech: s3 put %s: %w", s.key(name), err)
	}
	return nil
}

// Open implements AudioStore.
func (s *S3AudioStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !ValidAudioName(name) {
		return nil, ErrAudioNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrAudioNotFound
		}
		return nil, fmt.Errorf("speech: s3 get %s: %w", s.key(name), err)
	}
	return out.Body, nil
}

func isS3NotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound")
}
