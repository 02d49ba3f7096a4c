package transformer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/AzielCF/az-restyle/pipeline/domain"
)

const restylePreamble = "Edit the attached photo. Keep the subject, pose and composition recognizable and apply this style:"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini restyles images with a Gemini image model.
type Gemini struct {
	models contentGenerator
	model  string
	fetch  *Fetcher
	store  domain.ObjectStore
	now    func() time.Time
}

func NewGemini(ctx context.Context, apiKey, model string, fetch *Fetcher, store domain.ObjectStore) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newGemini(client.Models, model, fetch, store, time.Now), nil
}

func newGemini(models contentGenerator, model string, fetch *Fetcher, store domain.ObjectStore, now func() time.Time) *Gemini {
	return &Gemini{models: models, model: model, fetch: fetch, store: store, now: now}
}

func (g *Gemini) Name() string {
	return "gemini"
}

func (g *Gemini) Transform(ctx context.Context, sourceURL, prompt string) (domain.TransformedImage, error) {
	source, contentType, err := g.fetch.Fetch(ctx, sourceURL)
	if err != nil {
		return domain.TransformedImage{}, fmt.Errorf("fetch source: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(restylePreamble + "\n" + prompt),
			genai.NewPartFromBytes(source, normalizeMIME(contentType)),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return domain.TransformedImage{}, fmt.Errorf("generate content: %w", err)
	}

	blob := firstImage(resp)
	if blob == nil {
		return domain.TransformedImage{}, fmt.Errorf("model %s returned no image", g.model)
	}
	logrus.Debugf("[TRANSFORM] gemini returned %d bytes (%s)", len(blob.Data), blob.MIMEType)

	return storeResult(ctx, g.store, blob.Data, blob.MIMEType, g.now())
}

func firstImage(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData
			}
		}
	}
	return nil
}
