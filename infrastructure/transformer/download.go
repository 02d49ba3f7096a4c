package transformer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"
)

const defaultDownloadTimeout = 30 * time.Second

// LocalResolver short-circuits URLs that point at our own object store so
// providers do not download from ourselves over HTTP.
type LocalResolver interface {
	Open(rawURL string) (data []byte, ok bool, err error)
}

// Fetcher retrieves source and result images by URL with a size ceiling.
type Fetcher struct {
	client   *fasthttp.Client
	local    LocalResolver
	maxBytes int64
}

func NewFetcher(local LocalResolver, maxBytes int64) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = 20 * 1024 * 1024
	}
	return &Fetcher{
		client: &fasthttp.Client{
			Name:                "az-restyle",
			MaxResponseBodySize: int(maxBytes),
			ReadTimeout:         defaultDownloadTimeout,
			WriteTimeout:        defaultDownloadTimeout,
		},
		local:    local,
		maxBytes: maxBytes,
	}
}

// Fetch returns the body and its content type. The content type is sniffed
// when the server does not send one.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if f.local != nil {
		data, ok, err := f.local.Open(rawURL)
		if ok {
			if err != nil {
				return nil, "", err
			}
			if int64(len(data)) > f.maxBytes {
				return nil, "", fmt.Errorf("object exceeds %s", humanize.Bytes(uint64(f.maxBytes)))
			}
			return data, http.DetectContentType(data), nil
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultDownloadTimeout)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rawURL)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := f.client.DoDeadline(req, resp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrBodyTooLarge) {
			return nil, "", fmt.Errorf("download exceeds %s", humanize.Bytes(uint64(f.maxBytes)))
		}
		if errors.Is(err, fasthttp.ErrTimeout) {
			return nil, "", fmt.Errorf("download timed out: %w", context.DeadlineExceeded)
		}
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, "", fmt.Errorf("download returned status %d", resp.StatusCode())
	}

	body := append([]byte(nil), resp.Body()...)
	contentType := string(resp.Header.ContentType())
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(body)
	}
	return body, contentType, nil
}
