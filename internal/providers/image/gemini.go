package image

import (
	"context"
	"errors"

	"creativehub/internal/providers/genai"
)

type GeminiGenerator struct {
	client *genai.Client
}

func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*Asset, error) {
	if g == nil || g.client == nil {
		return nil, errors.New("gemini generator is not configured")
	}
	asset, err := g.client.GenerateImage(ctx, genai.ImageRequest{
		Prompt:      BuildCreativePrompt(req.Params),
		AspectRatio: req.Params.AspectRatio(),
		Locale:      req.Params.Locale,
		Watermark:   req.Params.Brand.Watermark,
		RequestID:   req.CreativeID,
	})
	if err != nil {
		return nil, err
	}
	return &Asset{
		Format: asset.Format,
		Width:  asset.Width,
		Height: asset.Height,
		Data:   asset.Data,
	}, nil
}

var _ Generator = (*GeminiGenerator)(nil)
