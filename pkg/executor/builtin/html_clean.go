package builtin

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/smilemakc/mbflow/pkg/executor"
)

// HTMLCleanExecutor strips script/style/iframe noise from raw HTML and
// extracts its readable article content, title, and plain text — the
// canonical "simple" node for turning scraped HTML into loop/fan-out input.
// Non-HTML input (plain text, JSON, markdown) passes through unchanged.
type HTMLCleanExecutor struct {
	*executor.BaseExecutor
}

// NewHTMLCleanExecutor creates a new HTML clean executor.
func NewHTMLCleanExecutor() *HTMLCleanExecutor {
	return &HTMLCleanExecutor{
		BaseExecutor: executor.NewBaseExecutor("html_clean"),
	}
}

var htmlTagPattern = regexp.MustCompile(`(?i)<!doctype|<[a-z][a-z0-9]*[^>]*>`)

func looksLikeHTML(s string) bool {
	return htmlTagPattern.MatchString(s)
}

// Execute cleans the HTML found in input and returns its text/html content.
func (e *HTMLCleanExecutor) Execute(ctx context.Context, config map[string]any, input any) (any, error) {
	raw, err := e.extractRaw(config, input)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("html_clean: input is empty")
	}

	if !looksLikeHTML(raw) {
		return map[string]any{
			"passthrough":  true,
			"is_html":      false,
			"text_content": raw,
			"html_content": "",
			"title":        "",
			"word_count":   len(strings.Fields(raw)),
		}, nil
	}

	outputFormat := e.GetStringDefault(config, "output_format", "both")
	extractMetadata := e.GetBoolDefault(config, "extract_metadata", true)
	preserveLinks := e.GetBoolDefault(config, "preserve_links", false)
	maxLength := e.GetIntDefault(config, "max_length", 0)
	sourceURL := e.GetStringDefault(config, "source_url", "")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("html_clean: parse html: %w", err)
	}
	doc.Find("script, style, iframe, noscript, object, embed").Remove()

	title := ""
	if extractMetadata {
		title = strings.TrimSpace(doc.Find("title").First().Text())
		if pageURL, uerr := url.Parse(sourceURL); uerr == nil {
			cleaned, herr := doc.Find("html").Html()
			if herr == nil {
				if article, rerr := readability.FromReader(strings.NewReader(cleaned), pageURL); rerr == nil {
					if article.Title != "" {
						title = article.Title
					}
				}
			}
		}
	}

	if preserveLinks {
		doc.Find("a").Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if ok && href != "" {
				s.SetText(fmt.Sprintf("%s (%s)", s.Text(), href))
			}
		})
	}

	textContent := strings.TrimSpace(collapseWhitespace(doc.Find("body").Text()))
	htmlContent := ""
	if body := doc.Find("body"); body.Length() > 0 {
		if h, herr := body.Html(); herr == nil {
			htmlContent = strings.TrimSpace(h)
		}
	}

	wordCount := len(strings.Fields(textContent))

	switch outputFormat {
	case "text":
		htmlContent = ""
	case "html":
		textContent = ""
	}

	if maxLength > 0 {
		textContent = truncateWithEllipsis(textContent, maxLength)
		htmlContent = truncateWithEllipsis(htmlContent, maxLength)
	}

	return map[string]any{
		"passthrough":  false,
		"is_html":      true,
		"text_content": textContent,
		"html_content": htmlContent,
		"title":        title,
		"word_count":   wordCount,
	}, nil
}

// extractRaw resolves the HTML string to clean from input, honoring
// input_key for map inputs and falling back to the "html"/"body" keys.
func (e *HTMLCleanExecutor) extractRaw(config map[string]any, input any) (string, error) {
	switch v := input.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case map[string]any:
		if inputKey := e.GetStringDefault(config, "input_key", ""); inputKey != "" {
			raw, ok := v[inputKey]
			if !ok {
				return "", fmt.Errorf("html_clean: key '%s' not found in input", inputKey)
			}
			s, _ := raw.(string)
			return s, nil
		}
		if raw, ok := v["html"].(string); ok {
			return raw, nil
		}
		if raw, ok := v["body"].(string); ok {
			return raw, nil
		}
		return "", fmt.Errorf("html_clean: no content found in input map (expected 'html' or 'body' field)")
	default:
		return "", fmt.Errorf("html_clean: unsupported input type %T", input)
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateWithEllipsis(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Validate validates the HTML clean executor configuration.
func (e *HTMLCleanExecutor) Validate(config map[string]any) error {
	outputFormat := e.GetStringDefault(config, "output_format", "both")
	switch outputFormat {
	case "", "text", "html", "both":
	default:
		return fmt.Errorf("html_clean: invalid output_format %q (must be text, html, or both)", outputFormat)
	}

	maxLength := e.GetIntDefault(config, "max_length", 0)
	if maxLength < 0 {
		return fmt.Errorf("html_clean: max_length must be non-negative")
	}

	return nil
}
