package application

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"

	pkgError "github.com/AzielCF/az-restyle/pkg/error"
)

var acceptedTypes = map[string]string{
	"image/jpeg": "jpeg",
	"image/jpg":  "jpeg",
	"image/png":  "png",
	"image/webp": "webp",
}

// FormatForContentType maps an accepted MIME type to its format name.
func FormatForContentType(contentType string) (string, bool) {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	format, ok := acceptedTypes[mediaType]
	return format, ok
}

// ImageHeader is what can be learned without decoding pixels.
type ImageHeader struct {
	Format      string
	ContentType string
	Width       int
	Height      int
}

// NormalizedImage holds the bytes that will be persisted.
type NormalizedImage struct {
	Data             []byte
	ContentType      string
	Format           string
	Width            int
	Height           int
	OriginalBytes    int64
	DidNormalize     bool
	CompressionRatio *float64
}

// SourceImage is a validated upload. Pixels is only set when Normalize will
// re-encode it.
type SourceImage struct {
	Data   []byte
	Header ImageHeader
	Pixels image.Image
}

type NormalizerConfig struct {
	MaxDimension   int
	MaxPixels      int64
	JPEGQuality    int
	MinJPEGQuality int
	TargetBytes    int64
	Concurrency    int
}

const defaultMaxPixels = 40_000_000

// Normalizer bounds image dimensions and size. Decode and resize run under
// a weighted semaphore so a burst of uploads cannot take every CPU.
type Normalizer struct {
	cfg NormalizerConfig
	sem *semaphore.Weighted
}

func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = 2048
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = defaultMaxPixels
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 85
	}
	if cfg.MinJPEGQuality <= 0 || cfg.MinJPEGQuality > cfg.JPEGQuality {
		cfg.MinJPEGQuality = cfg.JPEGQuality
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Normalizer{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.Concurrency))}
}

// Inspect sniffs the real content type and reads the image header. Images
// claiming more than MaxPixels are rejected before any pixel is decoded.
func (n *Normalizer) Inspect(data []byte) (ImageHeader, error) {
	sniffed := http.DetectContentType(data)
	format, ok := FormatForContentType(sniffed)
	if !ok {
		return ImageHeader{}, pkgError.ValidationError(fmt.Sprintf("unsupported image content %s, expected jpeg, png or webp", sniffed))
	}

	cfg, decoded, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageHeader{}, pkgError.ValidationError("image header could not be decoded")
	}
	if decoded != format {
		return ImageHeader{}, pkgError.ValidationError(fmt.Sprintf("image content is %s but header decodes as %s", format, decoded))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageHeader{}, pkgError.ValidationError("image has no pixels")
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > n.cfg.MaxPixels {
		return ImageHeader{}, pkgError.ValidationError(fmt.Sprintf("image is %dx%d, the limit is %s pixels",
			cfg.Width, cfg.Height, humanize.Comma(n.cfg.MaxPixels)))
	}
	return ImageHeader{Format: format, ContentType: "image/" + format, Width: cfg.Width, Height: cfg.Height}, nil
}

// needsWork reports whether an upload is outside the dimension or byte
// bounds.
func (n *Normalizer) needsWork(header ImageHeader, size int64) bool {
	withinBounds := header.Width <= n.cfg.MaxDimension && header.Height <= n.cfg.MaxDimension
	return !withinBounds || (n.cfg.TargetBytes > 0 && size > n.cfg.TargetBytes)
}

// Prepare decodes the pixels of uploads Normalize will re-encode, so a body
// whose header is fine but whose pixels are corrupt fails validation.
func (n *Normalizer) Prepare(ctx context.Context, data []byte, header ImageHeader) (*SourceImage, error) {
	src := &SourceImage{Data: data, Header: header}
	if !n.needsWork(header, int64(len(data))) {
		return src, nil
	}

	if err := n.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer n.sem.Release(1)

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, pkgError.ValidationError("image could not be decoded")
	}
	src.Pixels = img
	return src, nil
}

// Normalize resizes and recompresses src when it exceeds the configured
// bounds. Images already inside the bounds are returned untouched.
func (n *Normalizer) Normalize(ctx context.Context, src *SourceImage) (*NormalizedImage, error) {
	data, header := src.Data, src.Header
	original := int64(len(data))
	if !n.needsWork(header, original) {
		return &NormalizedImage{
			Data:          data,
			ContentType:   header.ContentType,
			Format:        header.Format,
			Width:         header.Width,
			Height:        header.Height,
			OriginalBytes: original,
		}, nil
	}
	if src.Pixels == nil {
		return nil, pkgError.InternalServerError("normalize called without prepared pixels")
	}

	if err := n.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer n.sem.Release(1)

	img := src.Pixels
	bounds := img.Bounds()
	width, height := TargetDimensions(bounds.Dx(), bounds.Dy(), n.cfg.MaxDimension)
	resized := width != bounds.Dx() || height != bounds.Dy()

	var working image.Image = img
	if resized {
		working = imaging.Resize(img, width, height, imaging.Lanczos)
	}
	if header.Format != "jpeg" {
		background := imaging.New(width, height, color.White)
		working = imaging.Overlay(background, working, image.Pt(0, 0), 1.0)
	}

	encoded, err := n.encodeJPEG(working)
	if err != nil {
		return nil, err
	}

	if !resized && int64(len(encoded)) >= original {
		// Recompression did not help, keep the upload as is.
		return &NormalizedImage{
			Data:          data,
			ContentType:   header.ContentType,
			Format:        header.Format,
			Width:         header.Width,
			Height:        header.Height,
			OriginalBytes: original,
		}, nil
	}

	ratio := CompressionRatio(original, int64(len(encoded)))
	return &NormalizedImage{
		Data:             encoded,
		ContentType:      "image/jpeg",
		Format:           "jpeg",
		Width:            width,
		Height:           height,
		OriginalBytes:    original,
		DidNormalize:     true,
		CompressionRatio: &ratio,
	}, nil
}

// encodeJPEG steps quality down by 10 until the output fits TargetBytes or
// the floor is reached.
func (n *Normalizer) encodeJPEG(img image.Image) ([]byte, error) {
	quality := n.cfg.JPEGQuality
	for {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, pkgError.InternalServerError(fmt.Sprintf("encode jpeg: %v", err))
		}
		if n.cfg.TargetBytes <= 0 || int64(buf.Len()) <= n.cfg.TargetBytes || quality-10 < n.cfg.MinJPEGQuality {
			return buf.Bytes(), nil
		}
		quality -= 10
	}
}

// TargetDimensions scales (w, h) down so neither side exceeds maxDim while
// keeping the aspect ratio. It never upscales.
func TargetDimensions(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	scale := math.Min(float64(maxDim)/float64(w), float64(maxDim)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	if nw > maxDim {
		nw = maxDim
	}
	if nh > maxDim {
		nh = maxDim
	}
	return nw, nh
}

// CompressionRatio is the percentage of bytes saved.
func CompressionRatio(original, normalized int64) float64 {
	if original <= 0 {
		return 0
	}
	return float64(original-normalized) / float64(original) * 100
}
