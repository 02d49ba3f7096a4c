package transformer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/AzielCF/az-restyle/pipeline/domain"
)

type imageEditor interface {
	Edit(ctx context.Context, body openai.ImageEditParams, opts ...option.RequestOption) (*openai.ImagesResponse, error)
}

// OpenAI restyles images through the images edit endpoint.
type OpenAI struct {
	images imageEditor
	model  string
	fetch  *Fetcher
	store  domain.ObjectStore
	now    func() time.Time
}

func NewOpenAI(apiKey, model string, fetch *Fetcher, store domain.ObjectStore) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key is empty")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return newOpenAI(&client.Images, model, fetch, store, time.Now), nil
}

func newOpenAI(images imageEditor, model string, fetch *Fetcher, store domain.ObjectStore, now func() time.Time) *OpenAI {
	if model == "" {
		model = string(openai.ImageModelGPTImage1)
	}
	return &OpenAI{images: images, model: model, fetch: fetch, store: store, now: now}
}

func (o *OpenAI) Name() string {
	return "openai"
}

func (o *OpenAI) Transform(ctx context.Context, sourceURL, prompt string) (domain.TransformedImage, error) {
	source, contentType, err := o.fetch.Fetch(ctx, sourceURL)
	if err != nil {
		return domain.TransformedImage{}, fmt.Errorf("fetch source: %w", err)
	}
	contentType = normalizeMIME(contentType)
	filename := "source." + extensions[contentType]

	resp, err := o.images.Edit(ctx, openai.ImageEditParams{
		Image: openai.ImageEditParamsImageUnion{
			OfFile: openai.File(bytes.NewReader(source), filename, contentType),
		},
		Prompt: restylePreamble + "\n" + prompt,
		Model:  openai.ImageModel(o.model),
	})
	if err != nil {
		return domain.TransformedImage{}, fmt.Errorf("image edit: %w", err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return domain.TransformedImage{}, fmt.Errorf("model %s returned no image", o.model)
	}

	img := resp.Data[0]
	var data []byte
	declared := ""
	switch {
	case img.B64JSON != "":
		data, err = base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return domain.TransformedImage{}, fmt.Errorf("decode image payload: %w", err)
		}
	case img.URL != "":
		data, declared, err = o.fetch.Fetch(ctx, img.URL)
		if err != nil {
			return domain.TransformedImage{}, fmt.Errorf("fetch result: %w", err)
		}
	default:
		return domain.TransformedImage{}, fmt.Errorf("model %s returned an empty image entry", o.model)
	}

	return storeResult(ctx, o.store, data, declared, o.now())
}
