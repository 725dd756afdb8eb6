// Package fetch downloads a web page and reduces it to readable text.
// It backs the fetch_page tool, so limits are tight: tool output feeds
// straight back into a model context.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/despensa-ai/despensa/internal/httpkit"
)

// DefaultMaxChars is the default character limit for extracted text.
const DefaultMaxChars = 2000

const (
	requestTimeout       = 10 * time.Second
	maxBodyBytes   int64 = 2 << 20 // 2 MiB
)

// Result holds the fetched and extracted content from a URL.
type Result struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Content    string `json:"content"`
	Truncated  bool   `json:"truncated,omitempty"`
	StatusCode int    `json:"status_code"`
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client *http.Client
}

// New creates a Fetcher with default settings.
func New() *Fetcher {
	return &Fetcher{
		client: httpkit.NewClient(httpkit.WithTimeout(requestTimeout)),
	}
}

// Fetch downloads the URL and extracts readable text content.
// maxChars limits the output length in runes; 0 uses DefaultMaxChars.
// Non-2xx responses and non-HTML content are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("fetch_page: url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch_page: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch_page: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch_page: HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return nil, fmt.Errorf("fetch_page: unsupported content type %q", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch_page: read response: %w", err)
	}

	title, text := extractText(string(body))
	content, truncated := truncate(text, maxChars)

	return &Result{
		URL:        rawURL,
		Title:      title,
		Content:    content,
		Truncated:  truncated,
		StatusCode: resp.StatusCode,
	}, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// truncate cuts s after max runes without splitting a multi-byte rune.
func truncate(s string, max int) (string, bool) {
	count := 0
	for i := range s {
		if count >= max {
			return s[:i], true
		}
		count++
	}
	return s, false
}
