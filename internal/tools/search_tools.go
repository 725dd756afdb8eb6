package tools

import (
	"context"
	"fmt"

	"github.com/despensa-ai/despensa/internal/search"
)

// runGoogleSearch handles the google_search tool. Search failures,
// including a missing SERPER_API_KEY, are rendered into the result text
// so the model's caller sees why nothing came back.
func (r *Registry) runGoogleSearch(ctx context.Context, call Call) (string, error) {
	query, _ := call.Args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	count := search.DefaultCount
	if n, ok := call.Args["num_results"].(float64); ok && n > 0 {
		count = int(n)
	}

	r.stream(ctx, call.Sink, call.Msg, fmt.Sprintf("\n🔍 **Searching Google for:** %s", query))
	r.logger.Info("searching google", "query", query, "num_results", count)

	apiKey := call.Msg.Variables.Get("SERPER_API_KEY")
	results, err := r.search.Search(ctx, apiKey, query, count)
	if err != nil {
		r.logger.Error("google search failed", "query", query, "error", err)
		result := fmt.Sprintf("❌ **Search Error:** Error performing Google search: %v", err)
		r.stream(ctx, call.Sink, call.Msg, result)
		return result, nil
	}

	result := search.FormatResults(query, results)
	r.logger.Info("google search completed", "results", len(results))
	r.stream(ctx, call.Sink, call.Msg, result)
	return result, nil
}
