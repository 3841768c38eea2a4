package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
	"google.golang.org/api/option"
)

const (
	defaultStagingPrefix = "raw_data"
	stagingTimeLayout    = "20060102_150405"
)

// objectStore writes objects into storage such as Cloud Storage.
type objectStore interface {
	put(ctx context.Context, bucket, key string, r io.Reader, metadata map[string]string) (int64, error)
}

type defaultObjectStore struct {
	storage *storage.Client
}

func newDefaultObjectStore(ctx context.Context, project string, opts ...option.ClientOption) (*defaultObjectStore, error) {
	s, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to build storage client for %s: %w", project, err)
	}

	return &defaultObjectStore{storage: s}, nil
}

// put refuses to replace an existing object.
func (s *defaultObjectStore) put(ctx context.Context, bucket, key string, r io.Reader, metadata map[string]string) (int64, error) {
	l := log.Ctx(ctx)

	// Cancelling the writer's context aborts the upload instead of
	// committing a truncated object.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obj := s.storage.Bucket(bucket).Object(key).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = "text/csv"
	w.Metadata = metadata

	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()
		return 0, xerrors.Errorf("failed to write %s: %w", objectURI(bucket, key), err)
	}

	if err := w.Close(); err != nil {
		l.Error().Err(err).Str("bucket", bucket).Str("key", key).Msg("failed to commit object")
		return 0, xerrors.Errorf("failed to commit %s: %w", objectURI(bucket, key), err)
	}

	return n, nil
}

func (s *defaultObjectStore) close() error {
	return s.storage.Close()
}

// StagedObject is a source file copied into object storage.
type StagedObject struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URI    string `json:"uri"`
	Size   int64  `json:"size"`
}

// Stager uploads validated sources under timestamped keys.
type Stager struct {
	Bucket string

	// Prefix is the key prefix, "raw_data" when empty.
	Prefix string

	// Location is the time zone of key timestamps, local time when nil.
	Location *time.Location

	store objectStore
	now   func() time.Time
}

// Key returns the object key for a logical name staged at t.
// Keys have second resolution, so two stagings within the same second collide.
func (s *Stager) Key(name string, t time.Time) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = defaultStagingPrefix
	}

	if s.Location != nil {
		t = t.In(s.Location)
	}

	return fmt.Sprintf("%s/%s_%s.csv", prefix, name, t.Format(stagingTimeLayout))
}

// Stage uploads the full contents of r and returns the object's locator.
func (s *Stager) Stage(ctx context.Context, name string, r io.Reader, metadata map[string]string) (*StagedObject, error) {
	l := log.Ctx(ctx)

	now := time.Now
	if s.now != nil {
		now = s.now
	}

	key := s.Key(name, now())

	n, err := s.store.put(ctx, s.Bucket, key, r, metadata)
	if err != nil {
		return nil, xerrors.Errorf("failed to upload %s: %w", key, err)
	}

	o := &StagedObject{
		Bucket: s.Bucket,
		Key:    key,
		URI:    objectURI(s.Bucket, key),
		Size:   n,
	}

	l.Info().Str("uri", o.URI).Int64("bytes", n).Msg("source staged")

	return o, nil
}

func objectURI(bucket, key string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, key)
}
