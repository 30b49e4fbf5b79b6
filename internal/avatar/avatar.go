package avatar

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pavel-fokin/grayavatar/internal/fs"
	"github.com/pavel-fokin/grayavatar/internal/imaging"
)

var (
	ErrEmptyUpload     = errors.New("empty upload")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrInvalidImage    = errors.New("invalid image")
	ErrRateLimited     = errors.New("rate limited")
	ErrPathTraversal   = fs.ErrPathTraversal
	ErrNotFound        = fs.ErrNotFound
)

// Artifact is the metadata of a converted image waiting for download
type Artifact struct {
	ID          string
	ContentType string
	Size        int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Index records which artifacts exist and hands each one out once
type Index interface {
	Create(ctx context.Context, artifact *Artifact) error
	Take(ctx context.Context, id string) (*Artifact, error)
	TakeExpired(ctx context.Context, now time.Time) ([]string, error)
}

// Blobs is the physical storage of artifact bytes
type Blobs interface {
	Root() string
	Save(id string, content io.Reader) (int64, error)
	Read(id string) ([]byte, error)
	Delete(id string) error
}

// Codec turns upload bytes into pixels and pixels back into files
type Codec interface {
	Decode(r io.Reader) (*imaging.Buffer, string, error)
	Encode(w io.Writer, buf *imaging.Buffer, ext string) error
}

// Limiter decides whether a client may make another attempt
type Limiter interface {
	Allow(key string) bool
}

// Recorder receives outcomes for observability. All methods must be safe
// for concurrent use.
type Recorder interface {
	Converted(ext string, size int64)
	Downloaded(contentType string, size int64)
	Rejected(reason string)
	Swept(n int)
}

type nopRecorder struct{}

func (nopRecorder) Converted(string, int64) {}
func (nopRecorder) Downloaded(string, int64) {}
func (nopRecorder) Rejected(string) {}
func (nopRecorder) Swept(int) {}
