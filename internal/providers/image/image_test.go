package image

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"creativehub/internal/domain/jsoncfg"
	"creativehub/internal/providers/genai"
)

func TestBuildCreativePromptIncludesCopyAndBrand(t *testing.T) {
	prompt := BuildCreativePrompt(jsoncfg.CreativeParams{
		Format:   "story",
		Style:    "Bold",
		Headline: "Summer Sale",
		CTA:      "Shop now",
		Locale:   "id",
		Brand:    jsoncfg.BrandConfig{Name: "Kopi", Watermark: "@kopi"},
	})

	for _, want := range []string{"story", "9:16", "Bold", `"Summer Sale"`, `"Shop now"`, `brand "Kopi"`, `"@kopi"`, "ID language"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGeminiGeneratorSyntheticWithoutKey(t *testing.T) {
	gen := NewGeminiGenerator(genai.NewClient(genai.Options{}))

	asset, err := gen.Generate(context.Background(), GenerateRequest{
		CreativeID: "c-1",
		Params:     jsoncfg.CreativeParams{Format: "landscape", Headline: "Hi"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if asset.Width != 1920 || asset.Height != 1080 {
		t.Fatalf("unexpected size %dx%d", asset.Width, asset.Height)
	}
	if len(asset.Data) == 0 || asset.Extension() != ".png" {
		t.Fatalf("expected png data, got %d bytes %s", len(asset.Data), asset.Extension())
	}
}

func TestGeminiGeneratorPropagatesRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exhausted"}}`))
	}))
	defer srv.Close()

	gen := NewGeminiGenerator(genai.NewClient(genai.Options{APIKey: "k", BaseURL: srv.URL}))
	_, err := gen.Generate(context.Background(), GenerateRequest{Params: jsoncfg.CreativeParams{Format: "square", Headline: "x"}})
	if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestGeminiGeneratorDecodesInlineImage(t *testing.T) {
	png := base64.StdEncoding.EncodeToString([]byte("not-really-a-png"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k" {
			t.Errorf("missing api key query")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{
					map[string]any{"text": "here you go"},
					map[string]any{"inlineData": map[string]any{"mimeType": "image/jpeg", "data": png}},
				}},
			}},
		})
	}))
	defer srv.Close()

	gen := NewGeminiGenerator(genai.NewClient(genai.Options{APIKey: "k", BaseURL: srv.URL}))
	asset, err := gen.Generate(context.Background(), GenerateRequest{Params: jsoncfg.CreativeParams{Format: "square", Headline: "x"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if asset.Format != "image/jpeg" || asset.Extension() != ".jpg" {
		t.Fatalf("unexpected format %s", asset.Format)
	}
	if string(asset.Data) != "not-really-a-png" {
		t.Fatalf("unexpected payload %q", asset.Data)
	}
	if asset.Width != 1024 || asset.Height != 1024 {
		t.Fatalf("expected fallback dimensions, got %dx%d", asset.Width, asset.Height)
	}
}
