package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CreativeParams is the generation payload stored on each creative. The core
// treats it as opaque; only the provider adapter reads individual fields.
type CreativeParams struct {
	Version  string          `json:"version"`
	Format   string          `json:"format" validate:"required"`
	Style    string          `json:"style"`
	Headline string          `json:"headline" validate:"max=120"`
	Body     string          `json:"body" validate:"max=500"`
	CTA      string          `json:"cta" validate:"max=60"`
	Locale   string          `json:"locale"`
	Brand    BrandConfig     `json:"brand"`
	Extras   json.RawMessage `json:"extras,omitempty"`
}

// BrandConfig carries optional brand hints forwarded to the provider.
type BrandConfig struct {
	Name         string `json:"name,omitempty"`
	PrimaryColor string `json:"primary_color,omitempty"`
	Watermark    string `json:"watermark,omitempty"`
}

var formatAspectRatios = map[string]string{
	"square":    "1:1",
	"portrait":  "4:5",
	"story":     "9:16",
	"landscape": "16:9",
	"banner":    "3:1",
}

const (
	// DefaultParamsVersion is the schema version persisted with new params.
	DefaultParamsVersion = "2024-06"
	// DefaultFormat is applied when the request omits a format.
	DefaultFormat = "square"
	// DefaultStyle is applied when the request omits a style.
	DefaultStyle = "Minimalist"
	// DefaultLocale is applied when no locale preference is provided.
	DefaultLocale = "en"
	// MaxFormatsPerRequest caps the fan-out of one request.
	MaxFormatsPerRequest = 5
)

// SupportedFormat reports whether format maps to a known aspect ratio.
func SupportedFormat(format string) bool {
	_, ok := formatAspectRatios[strings.ToLower(strings.TrimSpace(format))]
	return ok
}

// AspectRatio returns the aspect ratio for the params' format.
func (p CreativeParams) AspectRatio() string {
	if ratio, ok := formatAspectRatios[strings.ToLower(p.Format)]; ok {
		return ratio
	}
	return formatAspectRatios[DefaultFormat]
}

// Normalize applies server defaults. preferredLocale comes from the request
// context and only fills an empty locale.
func (p *CreativeParams) Normalize(preferredLocale string) {
	if p == nil {
		return
	}
	if p.Version == "" {
		p.Version = DefaultParamsVersion
	}
	p.Format = strings.ToLower(strings.TrimSpace(p.Format))
	if p.Format == "" {
		p.Format = DefaultFormat
	}
	style := strings.TrimSpace(p.Style)
	if style == "" {
		style = DefaultStyle
	}
	p.Style = cases.Title(language.Und).String(strings.ToLower(style))
	if p.Locale == "" {
		p.Locale = DefaultLocale
		if preferredLocale != "" {
			if tag, err := language.Parse(preferredLocale); err == nil {
				base, _ := tag.Base()
				p.Locale = base.String()
			}
		}
	}
	p.Headline = strings.TrimSpace(p.Headline)
	p.Body = strings.TrimSpace(p.Body)
	p.CTA = strings.TrimSpace(p.CTA)
}

// Validate checks the params contract before persistence.
func (p CreativeParams) Validate() error {
	if !SupportedFormat(p.Format) {
		return fmt.Errorf("format %q is not supported", p.Format)
	}
	if strings.TrimSpace(p.Headline) == "" && strings.TrimSpace(p.Body) == "" {
		return fmt.Errorf("headline or body is required")
	}
	return nil
}

// WithFormat returns a copy of p targeting format.
func (p CreativeParams) WithFormat(format string) CreativeParams {
	p.Format = strings.ToLower(strings.TrimSpace(format))
	return p
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
