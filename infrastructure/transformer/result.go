package transformer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/AzielCF/az-restyle/pipeline/domain"
)

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// storeResult validates the provider output, persists it under
// results/YYYY/MM/DD/ and describes it.
func storeResult(ctx context.Context, store domain.ObjectStore, data []byte, declaredType string, now time.Time) (domain.TransformedImage, error) {
	if len(data) == 0 {
		return domain.TransformedImage{}, fmt.Errorf("provider returned an empty image")
	}

	contentType := http.DetectContentType(data)
	ext, ok := extensions[contentType]
	if !ok {
		return domain.TransformedImage{}, fmt.Errorf("provider returned unsupported content %q (declared %q)", contentType, declaredType)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return domain.TransformedImage{}, fmt.Errorf("provider returned an undecodable image: %w", err)
	}

	key := fmt.Sprintf("results/%s/%s.%s", now.UTC().Format("2006/01/02"), uuid.NewString(), ext)
	url, err := store.Put(ctx, key, data, contentType)
	if err != nil {
		return domain.TransformedImage{}, fmt.Errorf("failed to store result: %w", err)
	}

	return domain.TransformedImage{
		URL:         url,
		ByteSize:    int64(len(data)),
		ContentType: contentType,
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, nil
}

func normalizeMIME(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
