// Package search provides a Serper (google.serper.dev) client for web and
// image search.
//
// The API key is not held by the client: every platform request carries its
// own SERPER_API_KEY variable, so each method takes the key as an argument
// and returns [ErrMissingAPIKey] without any network traffic when it is
// empty.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/despensa-ai/despensa/internal/httpkit"
)

// DefaultBaseURL is the Serper API endpoint.
const DefaultBaseURL = "https://google.serper.dev"

// DefaultCount is the number of web results requested when the caller
// does not ask for a specific count.
const DefaultCount = 5

// maxCount caps the per-request result count sent to Serper.
const maxCount = 10

const requestTimeout = 30 * time.Second

// ErrMissingAPIKey is returned when a method is called with an empty key.
var ErrMissingAPIKey = errors.New("serper: missing API key")

// Result is a single organic web search result.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
}

// Client talks to the Serper API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Serper client. An empty baseURL means
// [DefaultBaseURL].
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(requestTimeout)),
		logger:     logger.With("component", "search"),
	}
}

type webResponse struct {
	Organic []Result `json:"organic"`
}

type imageResponse struct {
	Images []struct {
		Title        string `json:"title"`
		ImageURL     string `json:"imageUrl"`
		ThumbnailURL string `json:"thumbnailUrl"`
		Link         string `json:"link"`
		Source       string `json:"source"`
	} `json:"images"`
}

// Search runs a web search and returns up to count organic results.
// A count of zero or less means [DefaultCount]; Serper is never asked
// for more than ten results per request.
func (c *Client) Search(ctx context.Context, apiKey, query string, count int) ([]Result, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if count <= 0 {
		count = DefaultCount
	}

	payload := map[string]any{
		"q":   query,
		"num": min(count, maxCount),
	}

	var wr webResponse
	if err := c.post(ctx, apiKey, "/search", payload, &wr); err != nil {
		return nil, err
	}

	results := wr.Organic
	if len(results) > count {
		results = results[:count]
	}
	c.logger.Debug("web search completed", "query", query, "results", len(results))
	return results, nil
}

// FirstLink returns the link of the first organic result for query, or
// an empty string when the search comes back empty.
func (c *Client) FirstLink(ctx context.Context, apiKey, query string) (string, error) {
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}

	payload := map[string]any{
		"q":   query,
		"num": DefaultCount,
	}

	var wr webResponse
	if err := c.post(ctx, apiKey, "/search", payload, &wr); err != nil {
		return "", err
	}
	if len(wr.Organic) == 0 {
		return "", nil
	}
	return wr.Organic[0].Link, nil
}

// foodKeywords mark an image result as food-related when any of them
// appears in the lowercased title or source.
var foodKeywords = []string{"food", "dish", "meal", "recipe", "cooking", "restaurant", "kitchen", "chef"}

// ImageSearch returns an image URL for query, biased toward food
// photography. The query is extended with food terms and results whose
// title or source mention food win over the rest; with no such match the
// first image is used. An empty string with a nil error means Serper
// returned no images at all.
func (c *Client) ImageSearch(ctx context.Context, apiKey, query string) (string, error) {
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}

	payload := map[string]any{
		"q":    query + " food dish meal recipe",
		"num":  5,
		"safe": "active",
	}

	var ir imageResponse
	if err := c.post(ctx, apiKey, "/images", payload, &ir); err != nil {
		return "", err
	}
	if len(ir.Images) == 0 {
		return "", nil
	}

	for _, img := range ir.Images {
		title := strings.ToLower(img.Title)
		source := strings.ToLower(img.Source)
		for _, kw := range foodKeywords {
			if strings.Contains(title, kw) || strings.Contains(source, kw) {
				return firstNonEmpty(img.ImageURL, img.ThumbnailURL, img.Link), nil
			}
		}
	}

	first := ir.Images[0]
	return firstNonEmpty(first.ImageURL, first.ThumbnailURL, first.Link), nil
}

func (c *Client) post(ctx context.Context, apiKey, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("serper: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("serper: build request: %w", err)
	}
	req.Header.Set("X-API-KEY", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("serper: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("serper: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("serper: decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
