package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pavel-fokin/grayavatar/internal/imaging"
)

const (
	DefaultMaxSize   int64 = 1 << 20
	DefaultMaxPixels int64 = 4096 * 4096
	DefaultExtension       = "jpg"
)

// Saver stores a converted image and returns its identifier
type Saver interface {
	Save(ctx context.Context, buf *imaging.Buffer, ext string) (string, error)
}

// Taker hands out a stored image exactly once
type Taker interface {
	TakeAndDelete(ctx context.Context, id string) (*Artifact, []byte, error)
}

// UploadRequest represents an image upload
type UploadRequest struct {
	Name    string
	Size    int64
	Content io.Reader
}

// UploadResult is returned to the client after a successful conversion
type UploadResult struct {
	FileID string `json:"fileId"`
}

// Converter turns uploaded images into stored grayscale artifacts
type Converter struct {
	store      Saver
	codec      Codec
	maxSize    int64
	maxPixels  int64
	defaultExt string
	recorder   Recorder
}

// NewConverter creates a converter accepting uploads of at most maxSize bytes
// that decode to at most maxPixels pixels. Uploads without a filename
// extension are stored as defaultExt.
func NewConverter(store Saver, codec Codec, maxSize, maxPixels int64, defaultExt string, recorder Recorder) *Converter {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Converter{
		store:      store,
		codec:      codec,
		maxSize:    maxSize,
		maxPixels:  maxPixels,
		defaultExt: defaultExt,
		recorder:   recorder,
	}
}

// Convert decodes the upload, converts it to grayscale and stores the result
func (c *Converter) Convert(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if req.Content == nil {
		return nil, c.reject(ErrEmptyUpload, "empty")
	}
	if req.Size > c.maxSize {
		return nil, c.reject(fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, req.Size), "too_large")
	}

	// Read one byte past the ceiling so an under-declared Size is still caught.
	data, err := io.ReadAll(io.LimitReader(req.Content, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, c.reject(ErrEmptyUpload, "empty")
	}
	if int64(len(data)) > c.maxSize {
		return nil, c.reject(fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, c.maxSize), "too_large")
	}

	ext := c.extension(req.Name)
	if !imaging.Supported(ext) {
		return nil, c.reject(fmt.Errorf("%w: unsupported extension %q", ErrInvalidImage, ext), "invalid_image")
	}

	// A small compressed file can declare an enormous canvas.
	width, height, err := imaging.Dimensions(bytes.NewReader(data))
	if err != nil {
		return nil, c.reject(fmt.Errorf("%w: %v", ErrInvalidImage, err), "invalid_image")
	}
	if int64(width)*int64(height) > c.maxPixels {
		return nil, c.reject(fmt.Errorf("%w: %dx%d pixels", ErrPayloadTooLarge, width, height), "too_many_pixels")
	}

	buf, format, err := c.codec.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, c.reject(fmt.Errorf("%w: %v", ErrInvalidImage, err), "invalid_image")
	}

	imaging.Grayscale(buf)

	id, err := c.store.Save(ctx, buf, ext)
	if err != nil {
		return nil, err
	}

	slog.Info("Avatar converted",
		"file_id", id,
		"source_format", format,
		"width", buf.Width,
		"height", buf.Height,
	)
	c.recorder.Converted(ext, int64(len(data)))

	return &UploadResult{FileID: id}, nil
}

func (c *Converter) extension(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filepath.Base(name)), "."))
	if ext == "" {
		return c.defaultExt
	}
	return ext
}

func (c *Converter) reject(err error, reason string) error {
	c.recorder.Rejected(reason)
	return err
}

// Download is a retrieved artifact ready to be written to the client
type Download struct {
	ID          string
	ContentType string
	Content     []byte
}

// Retriever serves stored artifacts once each, behind a per-client limiter
type Retriever struct {
	limiter  Limiter
	store    Taker
	recorder Recorder
}

// NewRetriever creates a retriever
func NewRetriever(limiter Limiter, store Taker, recorder Recorder) *Retriever {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Retriever{
		limiter:  limiter,
		store:    store,
		recorder: recorder,
	}
}

// Retrieve checks the client's quota, then takes the artifact out of the store
func (r *Retriever) Retrieve(ctx context.Context, clientKey, id string) (*Download, error) {
	if !r.limiter.Allow(clientKey) {
		slog.Warn("Download rejected, too many attempts", "client", clientKey)
		r.recorder.Rejected("rate_limited")
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, clientKey)
	}

	artifact, data, err := r.store.TakeAndDelete(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, ErrPathTraversal):
			slog.Warn("Download rejected, bad file id", "client", clientKey, "file_id", id)
			r.recorder.Rejected("path_traversal")
		case errors.Is(err, ErrNotFound):
			r.recorder.Rejected("not_found")
		}
		return nil, err
	}

	r.recorder.Downloaded(artifact.ContentType, int64(len(data)))

	return &Download{
		ID:          artifact.ID,
		ContentType: artifact.ContentType,
		Content:     data,
	}, nil
}
