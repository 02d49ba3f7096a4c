package application

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgError "github.com/AzielCF/az-restyle/pkg/error"
)

func noisyImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(42))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestTargetDimensions(t *testing.T) {
	cases := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{800, 600, 2048, 800, 600},
		{4096, 2048, 2048, 2048, 1024},
		{1000, 4000, 2000, 500, 2000},
		{3000, 3000, 1024, 1024, 1024},
		{10000, 1, 100, 100, 1},
		{2048, 2048, 2048, 2048, 2048},
	}
	for _, tc := range cases {
		w, h := TargetDimensions(tc.w, tc.h, tc.max)
		assert.Equal(t, tc.wantW, w, "%dx%d max %d", tc.w, tc.h, tc.max)
		assert.Equal(t, tc.wantH, h, "%dx%d max %d", tc.w, tc.h, tc.max)
		assert.LessOrEqual(t, w, tc.w, "never upscales")
		assert.LessOrEqual(t, h, tc.h, "never upscales")
	}
}

func TestCompressionRatio(t *testing.T) {
	assert.InDelta(t, 75.0, CompressionRatio(1000, 250), 1e-9)
	assert.InDelta(t, 0.0, CompressionRatio(0, 10), 1e-9)
}

func TestFormatForContentType(t *testing.T) {
	for ct, want := range map[string]string{"image/jpeg": "jpeg", "IMAGE/PNG": "png", "image/webp; q=1": "webp", "image/jpg": "jpeg"} {
		got, ok := FormatForContentType(ct)
		assert.True(t, ok, ct)
		assert.Equal(t, want, got)
	}
	_, ok := FormatForContentType("image/gif")
	assert.False(t, ok)
}

func TestNormalizer_Inspect(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{MaxDimension: 512})

	header, err := n.Inspect(encodePNG(t, noisyImage(40, 30)))
	require.NoError(t, err)
	assert.Equal(t, "png", header.Format)
	assert.Equal(t, 40, header.Width)
	assert.Equal(t, 30, header.Height)

	_, err = n.Inspect([]byte("GIF89a not really"))
	var validation pkgError.ValidationError
	assert.ErrorAs(t, err, &validation)

	_, err = n.Inspect([]byte("plain text payload"))
	assert.ErrorAs(t, err, &validation)
}

func TestNormalizer_SkipsImagesWithinBounds(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{MaxDimension: 512, TargetBytes: 1 << 20, JPEGQuality: 85, MinJPEGQuality: 55})
	data := encodeJPEG(t, noisyImage(64, 48), 80)

	out, err := n.Normalize(context.Background(), prepare(t, n, data))
	require.NoError(t, err)

	assert.False(t, out.DidNormalize)
	assert.Nil(t, out.CompressionRatio)
	assert.Equal(t, data, out.Data)
	assert.Equal(t, "image/jpeg", out.ContentType)
}

func TestNormalizer_ResizesOversizedImages(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{MaxDimension: 100, TargetBytes: 1 << 20, JPEGQuality: 85, MinJPEGQuality: 55, Concurrency: 2})
	data := encodePNG(t, noisyImage(400, 200))

	out, err := n.Normalize(context.Background(), prepare(t, n, data))
	require.NoError(t, err)

	assert.True(t, out.DidNormalize)
	assert.Equal(t, 100, out.Width)
	assert.Equal(t, 50, out.Height)
	assert.Equal(t, "jpeg", out.Format)
	require.NotNil(t, out.CompressionRatio)
	assert.Greater(t, *out.CompressionRatio, 0.0)
	assert.Equal(t, int64(len(data)), out.OriginalBytes)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestNormalizer_StepsQualityDownTowardTarget(t *testing.T) {
	img := noisyImage(300, 300)
	data := encodeJPEG(t, img, 100)

	loose := NewNormalizer(NormalizerConfig{MaxDimension: 1000, TargetBytes: int64(len(data)) - 1, JPEGQuality: 95, MinJPEGQuality: 95})
	tight := NewNormalizer(NormalizerConfig{MaxDimension: 1000, TargetBytes: int64(len(data)) - 1, JPEGQuality: 95, MinJPEGQuality: 25})

	src := prepare(t, loose, data)

	a, err := loose.Normalize(context.Background(), src)
	require.NoError(t, err)
	b, err := tight.Normalize(context.Background(), src)
	require.NoError(t, err)

	require.True(t, b.DidNormalize)
	assert.Less(t, len(b.Data), len(a.Data))
	assert.Equal(t, 300, b.Width)
}

func TestNormalizer_ContextCancelledWhileWaitingForSlot(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{MaxDimension: 10, Concurrency: 1})
	src := prepare(t, n, encodePNG(t, noisyImage(40, 40)))
	require.True(t, n.sem.TryAcquire(1))
	defer n.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := n.Normalize(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
}

// pngHeader builds a PNG that carries only a signature and an IHDR chunk.
func pngHeader(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA

	var buf bytes.Buffer
	buf.Write([]byte("\x89PNG\r\n\x1a\n"))
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestNormalizer_InspectRejectsImagesOverThePixelCeiling(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{MaxPixels: 40_000_000})

	_, err := n.Inspect(pngHeader(60000, 60000))
	var validation pkgError.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, err.Error(), "60000x60000")

	header, err := n.Inspect(pngHeader(4000, 4000))
	require.NoError(t, err)
	assert.Equal(t, 4000, header.Width)
}

func TestNormalizer_PrepareRejectsTruncatedPixels(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{MaxDimension: 100})
	data := encodePNG(t, noisyImage(400, 200))
	truncated := data[:len(data)/2]

	header, err := n.Inspect(truncated)
	require.NoError(t, err)
	_, err = n.Prepare(context.Background(), truncated, header)
	var validation pkgError.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestNormalizer_PrepareSkipsDecodeWithinBounds(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{MaxDimension: 512, TargetBytes: 1 << 20})
	src := prepare(t, n, encodeJPEG(t, noisyImage(64, 48), 80))
	assert.Nil(t, src.Pixels)
}

func prepare(t *testing.T, n *Normalizer, data []byte) *SourceImage {
	t.Helper()
	header, err := n.Inspect(data)
	require.NoError(t, err)
	src, err := n.Prepare(context.Background(), data, header)
	require.NoError(t, err)
	return src
}
