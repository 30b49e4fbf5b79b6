package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// ErrUnsupportedFormat is returned for extensions with no registered codec
var ErrUnsupportedFormat = errors.New("unsupported image format")

// DefaultContentType is used for extensions without a known media type
const DefaultContentType = "application/octet-stream"

type format struct {
	contentType string
	encode      func(io.Writer, image.Image) error
}

var formats = map[string]format{
	"png": {
		contentType: "image/png",
		encode:      png.Encode,
	},
	"jpg": {
		contentType: "image/jpeg",
		encode:      encodeJPEG,
	},
	"gif": {
		contentType: "image/gif",
		encode:      encodeGIF,
	},
	"bmp": {
		contentType: "image/bmp",
		encode:      bmp.Encode,
	},
	"tiff": {
		contentType: "image/tiff",
		encode:      encodeTIFF,
	},
}

var aliases = map[string]string{
	"jpeg": "jpg",
	"tif":  "tiff",
}

func encodeJPEG(w io.Writer, img image.Image) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
}

// grayPalette holds every opaque gray level, so converted pixels map onto
// the palette exactly instead of being dithered.
var grayPalette = func() color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		p[i] = color.Gray{Y: uint8(i)}
	}
	return p
}()

type grayQuantizer struct{}

func (grayQuantizer) Quantize(p color.Palette, _ image.Image) color.Palette {
	return append(p, grayPalette...)
}

func encodeGIF(w io.Writer, img image.Image) error {
	return gif.Encode(w, img, &gif.Options{
		NumColors: len(grayPalette),
		Quantizer: grayQuantizer{},
		Drawer:    xdraw.Src,
	})
}

func encodeTIFF(w io.Writer, img image.Image) error {
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
}

func lookup(ext string) (format, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if canonical, ok := aliases[ext]; ok {
		ext = canonical
	}
	f, ok := formats[ext]
	return f, ok
}

// Supported reports whether ext has a registered codec
func Supported(ext string) bool {
	_, ok := lookup(ext)
	return ok
}

// ContentType returns the media type stored files with ext are served as
func ContentType(ext string) string {
	if f, ok := lookup(ext); ok {
		return f.contentType
	}
	return DefaultContentType
}

// Codec decodes any registered format and encodes by file extension
type Codec struct{}

// NewCodec creates a codec over the built-in formats
func NewCodec() *Codec {
	return &Codec{}
}

// Decode reads an image in any registered format, sniffed from its header.
// The upload's extension only decides the output format.
func (c *Codec) Decode(r io.Reader) (*Buffer, string, error) {
	img, name, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	return FromImage(img), name, nil
}

// Dimensions reads only the image header and reports its size in pixels
func Dimensions(r io.Reader) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Encode writes buf to w in the format named by ext
func (c *Codec) Encode(w io.Writer, buf *Buffer, ext string) error {
	f, ok := lookup(ext)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if err := f.encode(w, buf.Image()); err != nil {
		return fmt.Errorf("failed to encode %s image: %w", ext, err)
	}

	return nil
}
