package image

import (
	"context"

	"creativehub/internal/domain/jsoncfg"
)

// GenerateRequest describes a normalized request passed to any image provider.
type GenerateRequest struct {
	CreativeID string
	RequestID  string
	Params     jsoncfg.CreativeParams
}

// Asset represents a generated image.
type Asset struct {
	Format string
	Width  int
	Height int
	Data   []byte
}

// Extension returns the file extension matching the asset's MIME type.
func (a Asset) Extension() string {
	switch a.Format {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// Generator is the contract implemented by all image providers. The result
// is either a renderable asset or an error; callers bound the call with ctx.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Asset, error)
}

// GeneratorFunc adapts a plain function into a Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (*Asset, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (*Asset, error) {
	return f(ctx, req)
}
