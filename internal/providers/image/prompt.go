package image

import (
	"fmt"
	"strings"

	"creativehub/internal/domain/jsoncfg"
)

// BuildCreativePrompt converts the creative params into a natural language
// instruction for text-to-image models. Copy fields are quoted verbatim so the
// model renders them as on-image typography.
func BuildCreativePrompt(p jsoncfg.CreativeParams) string {
	var lines []string

	format := strings.TrimSpace(p.Format)
	if format == "" {
		format = jsoncfg.DefaultFormat
	}
	lines = append(lines, fmt.Sprintf("Create a %s marketing creative (%s aspect ratio).", format, p.AspectRatio()))

	style := strings.TrimSpace(p.Style)
	if style == "" {
		style = jsoncfg.DefaultStyle
	}
	lines = append(lines, fmt.Sprintf("Visual style: %s.", style))

	if headline := strings.TrimSpace(p.Headline); headline != "" {
		lines = append(lines, fmt.Sprintf("Headline text: %q.", headline))
	}
	if body := strings.TrimSpace(p.Body); body != "" {
		lines = append(lines, fmt.Sprintf("Supporting copy: %q.", body))
	}
	if cta := strings.TrimSpace(p.CTA); cta != "" {
		lines = append(lines, fmt.Sprintf("Call to action button reading %q.", cta))
	}

	var brand []string
	if name := strings.TrimSpace(p.Brand.Name); name != "" {
		brand = append(brand, fmt.Sprintf("brand %q", name))
	}
	if c := strings.TrimSpace(p.Brand.PrimaryColor); c != "" {
		brand = append(brand, fmt.Sprintf("primary colour %s", c))
	}
	if len(brand) > 0 {
		lines = append(lines, "Brand direction: "+strings.Join(brand, ", ")+".")
	}
	if wm := strings.TrimSpace(p.Brand.Watermark); wm != "" {
		lines = append(lines, fmt.Sprintf("Embed the watermark text %q at the bottom-right in a subtle style.", wm))
	}

	locale := strings.TrimSpace(p.Locale)
	if locale == "" {
		locale = jsoncfg.DefaultLocale
	}
	lines = append(lines, fmt.Sprintf("Use %s language for any on-image typography.", strings.ToUpper(locale)))

	return strings.Join(lines, "\n")
}
