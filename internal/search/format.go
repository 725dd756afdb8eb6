package search

import (
	"fmt"
	"strings"
)

// FormatResults renders web results as the markdown block streamed back
// to the user by the google_search tool. Missing titles and snippets get
// placeholder text so every entry keeps the same shape.
func FormatResults(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("🔍 **Search Results for: %s**\n\nNo results found for your search query.", query)
	}

	entries := make([]string, 0, len(results))
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "No title"
		}
		snippet := r.Snippet
		if snippet == "" {
			snippet = "No description available"
		}
		entries = append(entries, fmt.Sprintf("%d. **%s**\n   %s\n   [Link](%s)\n", i+1, title, snippet, r.Link))
	}

	return fmt.Sprintf("🔍 **Search Results for: %s**\n\n", query) + strings.Join(entries, "\n")
}
