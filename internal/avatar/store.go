package avatar

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavel-fokin/grayavatar/internal/fs"
	"github.com/pavel-fokin/grayavatar/internal/imaging"
)

// Store persists converted images under generated identifiers and
// releases each of them exactly once
type Store struct {
	blobs    Blobs
	index    Index
	codec    Codec
	ttl      time.Duration
	now      func() time.Time
	newID    func() string
	recorder Recorder
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithStoreClock replaces time.Now as the store's time source
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator replaces the random identifier generator
func WithIDGenerator(newID func() string) StoreOption {
	return func(s *Store) {
		s.newID = newID
	}
}

// WithStoreRecorder reports sweeps to r
func WithStoreRecorder(r Recorder) StoreOption {
	return func(s *Store) {
		s.recorder = r
	}
}

// NewStore creates a store. Artifacts not taken within ttl are removed by Sweep.
func NewStore(blobs Blobs, index Index, codec Codec, ttl time.Duration, opts ...StoreOption) *Store {
	s := &Store{
		blobs:    blobs,
		index:    index,
		codec:    codec,
		ttl:      ttl,
		now:      time.Now,
		newID:    uuid.NewString,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save encodes buf in the format named by ext and stores it. The returned
// identifier carries the extension and is what clients download by.
func (s *Store) Save(ctx context.Context, buf *imaging.Buffer, ext string) (string, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	id := s.newID() + "." + ext

	var data bytes.Buffer
	if err := s.codec.Encode(&data, buf, ext); err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}

	size, err := s.blobs.Save(id, &data)
	if err != nil {
		return "", fmt.Errorf("failed to save artifact: %w", err)
	}

	now := s.now()
	artifact := &Artifact{
		ID:          id,
		ContentType: imaging.ContentType(ext),
		Size:        size,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.index.Create(ctx, artifact); err != nil {
		// Clean up file if metadata save fails
		s.blobs.Delete(id)
		return "", fmt.Errorf("failed to save artifact metadata: %w", err)
	}

	slog.Debug("Artifact stored", "file_id", id, "size", size)
	return id, nil
}

// TakeAndDelete returns the artifact stored under id and removes it. The
// identifier is validated before anything is looked up. Only the first of
// concurrent callers for the same id succeeds; the rest get ErrNotFound.
func (s *Store) TakeAndDelete(ctx context.Context, id string) (*Artifact, []byte, error) {
	if _, err := fs.Resolve(s.blobs.Root(), id); err != nil {
		return nil, nil, err
	}

	artifact, err := s.index.Take(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	defer func() {
		if err := s.blobs.Delete(id); err != nil {
			slog.Warn("Failed to delete artifact", "error", err, "file_id", id)
		}
	}()

	data, err := s.blobs.Read(id)
	if err != nil {
		return nil, nil, err
	}

	artifact.Size = int64(len(data))
	return artifact, data, nil
}

// Sweep removes artifacts whose lifetime has passed and returns how many
func (s *Store) Sweep(ctx context.Context) (int, error) {
	ids, err := s.index.TakeExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to collect expired artifacts: %w", err)
	}

	for _, id := range ids {
		if err := s.blobs.Delete(id); err != nil {
			slog.Warn("Failed to delete expired artifact", "error", err, "file_id", id)
		}
	}

	if len(ids) > 0 {
		slog.Info("Expired artifacts removed", "count", len(ids))
		s.recorder.Swept(len(ids))
	}
	return len(ids), nil
}

// RunSweeper calls Sweep every interval until ctx is done
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("Artifact sweep failed", "error", err)
			}
		}
	}
}
