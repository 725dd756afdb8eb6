// Package tools defines the functions the model can call and the
// dispatcher that executes them. Tool failures become text in the
// combined result rather than aborting the turn; the model's caller
// always gets something to read.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/despensa-ai/despensa/internal/audit"
	"github.com/despensa-ai/despensa/internal/events"
	"github.com/despensa-ai/despensa/internal/fetch"
	"github.com/despensa-ai/despensa/internal/llm"
	"github.com/despensa-ai/despensa/internal/relay"
	"github.com/despensa-ai/despensa/internal/search"
)

// Call carries the invocation context a tool runs with: decoded
// arguments, the originating platform message (for per-turn
// credentials), and the sink for progress streaming.
type Call struct {
	Args map[string]any
	Msg  *relay.Message
	Sink relay.Sink
}

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	Run func(ctx context.Context, call Call) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools   map[string]*Tool
	search  *search.Client
	fetcher *fetch.Fetcher
	audit   *audit.Recorder
	bus     *events.Bus
	logger  *slog.Logger
}

// NewRegistry creates a tool registry with the built-in tools
// registered. bus may be nil.
func NewRegistry(sc *search.Client, fetcher *fetch.Fetcher, recorder *audit.Recorder, bus *events.Bus, logger *slog.Logger) *Registry {
	r := &Registry{
		tools:   make(map[string]*Tool),
		search:  sc,
		fetcher: fetcher,
		audit:   recorder,
		bus:     bus,
		logger:  logger.With("component", "tools"),
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "google_search",
		Description: "Search Google for current information on any topic",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query to look up on Google",
				},
				"num_results": map[string]any{
					"type":        "integer",
					"description": "Number of search results to return (default: 5, max: 10)",
					"minimum":     1,
					"maximum":     10,
				},
			},
			"required": []string{"query"},
		},
		Run: r.runGoogleSearch,
	})

	r.Register(&Tool{
		Name:        "build_menu_gallery",
		Description: "Given menu text, write it to menu.txt and fetch an image for each item via Serper images. Streams results.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"menu_text": map[string]any{
					"type":        "string",
					"description": "Raw menu text where each line is a menu item (extracted from an image or user input).",
				},
				"results_per_item": map[string]any{
					"type":        "integer",
					"description": "Number of images to fetch per item (default 1, max 3)",
					"minimum":     1,
					"maximum":     3,
				},
			},
			"required": []string{"menu_text"},
		},
		Run: r.runBuildMenuGallery,
	})

	r.Register(&Tool{
		Name:        "fetch_page",
		Description: "Fetch a web page and return its readable text. Use to read a recipe or product page the user mentions by URL.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The page URL to fetch",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"description": "Maximum characters of extracted text to return (default 2000)",
					"minimum":     200,
					"maximum":     8000,
				},
			},
			"required": []string{"url"},
		},
		Run: r.runFetchPage,
	})
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Definitions returns all tools in the OpenAI tools array shape,
// ordered by name so request payloads are stable.
func (r *Registry) Definitions() []map[string]any {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]map[string]any, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a single tool call and returns its result text. Failures
// are rendered into the text, never panics: the caller concatenates
// results into the user-facing response regardless of outcome.
func (r *Registry) Execute(ctx context.Context, tc llm.ToolCall, msg *relay.Message, sink relay.Sink) string {
	name := tc.Function.Name
	r.logger.Info("processing function", "function", name)

	r.stream(ctx, sink, msg, fmt.Sprintf("\n⚙️ **Processing function:** %s", name))

	tool := r.tools[name]
	if tool == nil {
		r.logger.Error("unknown function", "function", name)
		return fmt.Sprintf("\n\n❌ **Function Error:** Unknown function: %s", name)
	}

	var args map[string]any
	if raw := tc.Function.Arguments; raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			r.logger.Error("invalid function arguments", "function", name, "error", err)
			return fmt.Sprintf("\n\n❌ **Function Execution Error:** Error executing function %s: %v", name, err)
		}
	}

	start := time.Now()
	r.bus.Publish(events.Event{
		Source:   events.SourceTools,
		Kind:     events.KindToolCall,
		ThreadID: msg.ThreadID,
		Data:     map[string]any{"response_uuid": msg.ResponseID, "tool": name},
	})

	result, err := tool.Run(ctx, Call{Args: args, Msg: msg, Sink: sink})

	r.bus.Publish(events.Event{
		Source:   events.SourceTools,
		Kind:     events.KindToolDone,
		ThreadID: msg.ThreadID,
		Data: map[string]any{
			"response_uuid": msg.ResponseID,
			"tool":          name,
			"ok":            err == nil,
			"duration_ms":   time.Since(start).Milliseconds(),
		},
	})

	if err != nil {
		r.logger.Error("function execution failed", "function", name, "error", err)
		return fmt.Sprintf("\n\n❌ **Function Execution Error:** Error executing function %s: %v", name, err)
	}
	return result
}

// ProcessCalls executes tool calls sequentially, in order, and returns
// the concatenated result texts. A failed call contributes its error
// text and processing continues with the next call.
func (r *Registry) ProcessCalls(ctx context.Context, calls []llm.ToolCall, msg *relay.Message, sink relay.Sink) string {
	if len(calls) == 0 {
		r.logger.Info("no function calls to process")
		return ""
	}
	r.logger.Info("processing function calls", "count", len(calls))

	var combined strings.Builder
	for _, tc := range calls {
		if err := ctx.Err(); err != nil {
			r.logger.Error("function call processing aborted", "error", err)
			combined.WriteString(fmt.Sprintf("\n\n❌ **Function Processing Error:** Error processing function call: %v", err))
			break
		}
		combined.WriteString(r.Execute(ctx, tc, msg, sink))
	}
	return combined.String()
}

// stream sends a progress chunk, logging delivery failures. Chunks are
// best-effort; the terminal outcome is what must arrive.
func (r *Registry) stream(ctx context.Context, sink relay.Sink, msg *relay.Message, text string) {
	if err := sink.StreamChunk(ctx, msg, text); err != nil {
		r.logger.Warn("stream chunk failed", "error", err)
	}
}
