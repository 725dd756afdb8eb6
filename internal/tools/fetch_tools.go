package tools

import (
	"context"
	"fmt"

	"github.com/despensa-ai/despensa/internal/fetch"
)

// Bounds for the fetch_page max_chars argument.
const (
	fetchMinChars = 200
	fetchMaxChars = 8000
)

// runFetchPage handles the fetch_page tool.
func (r *Registry) runFetchPage(ctx context.Context, call Call) (string, error) {
	rawURL, _ := call.Args["url"].(string)
	if rawURL == "" {
		return "", fmt.Errorf("url is required")
	}

	maxChars := fetch.DefaultMaxChars
	if n, ok := call.Args["max_chars"].(float64); ok && n != 0 {
		maxChars = int(n)
	}
	maxChars = max(fetchMinChars, min(maxChars, fetchMaxChars))

	r.stream(ctx, call.Sink, call.Msg, fmt.Sprintf("\n🌐 **Fetching page:** %s", rawURL))
	r.logger.Info("fetching page", "url", rawURL, "max_chars", maxChars)

	res, err := r.fetcher.Fetch(ctx, rawURL, maxChars)
	if err != nil {
		return "", err
	}

	title := res.Title
	if title == "" {
		title = res.URL
	}
	return fmt.Sprintf("**%s**\n%s", title, res.Content), nil
}
