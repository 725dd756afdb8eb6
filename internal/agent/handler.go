// Package agent implements the turn pipeline: credential check,
// greeting short-circuit, ingredient extraction via the LLM, scratch
// persistence, and the per-ingredient retailer search. One call to
// [Handler.Process] handles one inbound platform message end to end.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/despensa-ai/despensa/internal/audit"
	"github.com/despensa-ai/despensa/internal/events"
	"github.com/despensa-ai/despensa/internal/extract"
	"github.com/despensa-ai/despensa/internal/llm"
	"github.com/despensa-ai/despensa/internal/memory"
	"github.com/despensa-ai/despensa/internal/prompts"
	"github.com/despensa-ai/despensa/internal/relay"
	"github.com/despensa-ai/despensa/internal/search"
	"github.com/despensa-ai/despensa/internal/tools"
)

// Canned replies for the short-circuit paths. These complete the turn
// without an LLM call and are not recorded in conversation memory.
const (
	// missingKeyReply is sent when a turn arrives without an OpenAI key
	// in its variables. Keys are per-agent platform settings, so the fix
	// happens there rather than in Despensa's own config.
	missingKeyReply = "Sorry, the OpenAI API key is missing or empty. " +
		"Open the agent settings in your platform's admin panel and set " +
		"the OPENAI_API_KEY variable for this agent."

	greetingReply = "👋 Hola, dime qué plato quieres preparar (por ejemplo: 'tortilla de patata')."

	noItemsReply = "No pude identificar ingredientes. Por favor, especifica el plato con más detalle."
)

// ackChunk is streamed as soon as a turn passes the credential check,
// before any model traffic, so the user sees activity immediately.
const ackChunk = "🔎 Analizando tu mensaje...\n"

// greetings are matched against the trimmed, lowercased message. Exact
// membership only; "hola!" is treated as a dish request.
var greetings = map[string]struct{}{
	"hi":            {},
	"hello":         {},
	"hola":          {},
	"hey":           {},
	"buenas":        {},
	"buenos días":   {},
	"buenas tardes": {},
	"buenas noches": {},
}

// Turn outcomes reported on the event bus and in logs.
const (
	outcomeMissingKey = "missing_key"
	outcomeGreeting   = "greeting"
	outcomeToolCalls  = "tool_calls"
	outcomeNoItems    = "no_items"
	outcomeComposed   = "composed"
)

// TurnObserver is notified with token usage after each chat completion.
// The MQTT status publisher implements this to keep its daily counters.
type TurnObserver interface {
	OnTurn(inputTokens, outputTokens int)
}

// Config wires a Handler's collaborators and turn-processing knobs.
type Config struct {
	Logger   *slog.Logger
	LLM      llm.Client
	Search   *search.Client
	Memory   *memory.Store
	Tools    *tools.Registry
	Audit    *audit.Recorder
	Bus      *events.Bus
	Observer TurnObserver

	// DefaultModel is used when a message does not name a model.
	DefaultModel string
	// MaxTokens caps the extraction completion. Zero selects 300.
	MaxTokens int
	// RetailerSite scopes per-ingredient searches via the site: operator.
	RetailerSite string
	// RetailerName is the retailer's display name in streamed text.
	RetailerName string
	// IncludeHistory prepends prior thread turns to the extraction call.
	IncludeHistory bool
}

// Handler processes inbound chat turns.
type Handler struct {
	logger   *slog.Logger
	llm      llm.Client
	search   *search.Client
	memory   *memory.Store
	tools    *tools.Registry
	audit    *audit.Recorder
	bus      *events.Bus
	observer TurnObserver
	stats    Stats

	defaultModel   string
	maxTokens      int
	retailerSite   string
	retailerName   string
	includeHistory bool
}

// NewHandler creates a turn handler from cfg.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		logger:         logger.With("component", "agent"),
		llm:            cfg.LLM,
		search:         cfg.Search,
		memory:         cfg.Memory,
		tools:          cfg.Tools,
		audit:          cfg.Audit,
		bus:            cfg.Bus,
		observer:       cfg.Observer,
		defaultModel:   cfg.DefaultModel,
		maxTokens:      cfg.MaxTokens,
		retailerSite:   cfg.RetailerSite,
		retailerName:   cfg.RetailerName,
		includeHistory: cfg.IncludeHistory,
	}
	if h.maxTokens <= 0 {
		h.maxTokens = 300
	}
	if h.retailerSite == "" {
		h.retailerSite = "carrefour.es"
	}
	if h.retailerName == "" {
		h.retailerName = "Carrefour"
	}
	return h
}

// Stats returns a snapshot of the handler's turn counters.
func (h *Handler) Stats() Snapshot {
	return h.stats.Snapshot()
}

// Process handles one inbound turn. Every turn ends with exactly one
// terminal sink call: CompleteResponse on all handled outcomes
// (including the short-circuit replies), or SendError when processing
// fails, in which case the failure is also returned. A failed terminal
// delivery is logged and never converted into the other terminal kind.
func (h *Handler) Process(ctx context.Context, msg *relay.Message, sink relay.Sink) error {
	start := time.Now()

	h.logger.Info("processing turn",
		"thread", msg.ThreadID,
		"response_uuid", msg.ResponseID,
		"chars", len(msg.Message),
	)
	h.bus.Publish(events.Event{
		Source:   events.SourceAgent,
		Kind:     events.KindTurnReceived,
		ThreadID: msg.ThreadID,
		Data: map[string]any{
			"response_uuid": msg.ResponseID,
			"message_len":   len(msg.Message),
		},
	})

	outcome, err := h.processTurn(ctx, msg, sink)
	if err != nil {
		h.logger.Error("turn failed", "thread", msg.ThreadID, "response_uuid", msg.ResponseID, "error", err)
		h.stats.recordError()
		h.sendError(ctx, msg, sink, fmt.Sprintf("Error processing message: %v", err))
		h.bus.Publish(events.Event{
			Source:   events.SourceAgent,
			Kind:     events.KindTurnErrored,
			ThreadID: msg.ThreadID,
			Data: map[string]any{
				"response_uuid": msg.ResponseID,
				"error":         err.Error(),
			},
		})
		return err
	}

	elapsed := time.Since(start)
	h.stats.recordTurn()
	h.bus.Publish(events.Event{
		Source:   events.SourceAgent,
		Kind:     events.KindTurnCompleted,
		ThreadID: msg.ThreadID,
		Data: map[string]any{
			"response_uuid": msg.ResponseID,
			"outcome":       outcome,
			"elapsed_ms":    elapsed.Milliseconds(),
		},
	})
	h.logger.Info("turn completed",
		"thread", msg.ThreadID,
		"response_uuid", msg.ResponseID,
		"outcome", outcome,
		"elapsed", elapsed,
	)
	return nil
}

// processTurn runs the pipeline and reports which outcome ended the
// turn. On a nil error the terminal CompleteResponse has already been
// delivered; on error the caller owns the SendError.
func (h *Handler) processTurn(ctx context.Context, msg *relay.Message, sink relay.Sink) (string, error) {
	openaiKey := msg.Variables.Get("OPENAI_API_KEY")
	if openaiKey == "" {
		h.logger.Error("OPENAI_API_KEY not found or empty in variables", "thread", msg.ThreadID)
		h.reply(ctx, msg, sink, missingKeyReply)
		return outcomeMissingKey, nil
	}

	h.memory.AddMessage(msg.ThreadID, memory.RoleUser, msg.Message)

	h.chunk(ctx, msg, sink, ackChunk)

	if _, ok := greetings[strings.ToLower(strings.TrimSpace(msg.Message))]; ok {
		h.reply(ctx, msg, sink, greetingReply)
		return outcomeGreeting, nil
	}

	messages := []llm.Message{{Role: "system", Content: prompts.ExtractionSystem}}
	if h.includeHistory {
		// History already ends with the turn recorded above.
		for _, t := range h.memory.History(msg.ThreadID) {
			messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
		}
	} else {
		messages = append(messages, llm.Message{Role: "user", Content: msg.Message})
	}

	model := msg.Model
	if model == "" {
		model = h.defaultModel
	}

	h.logger.Info("asking for ingredients", "model", model, "thread", msg.ThreadID)
	h.bus.Publish(events.Event{
		Source:   events.SourceAgent,
		Kind:     events.KindLLMRequest,
		ThreadID: msg.ThreadID,
		Data: map[string]any{
			"response_uuid": msg.ResponseID,
			"model":         model,
		},
	})

	resp, err := h.llm.Chat(ctx, openaiKey, llm.Request{
		Model:       model,
		Messages:    messages,
		MaxTokens:   h.maxTokens,
		Temperature: 0,
		Tools:       h.tools.Definitions(),
	})
	if err != nil {
		return "", fmt.Errorf("ingredient extraction: %w", err)
	}

	h.bus.Publish(events.Event{
		Source:   events.SourceAgent,
		Kind:     events.KindLLMResponse,
		ThreadID: msg.ThreadID,
		Data: map[string]any{
			"response_uuid": msg.ResponseID,
			"model":         model,
			"tokens_in":     resp.InputTokens,
			"tokens_out":    resp.OutputTokens,
			"tool_calls":    len(resp.ToolCalls),
		},
	})
	h.stats.recordTokens(resp.InputTokens, resp.OutputTokens)
	if h.observer != nil {
		h.observer.OnTurn(resp.InputTokens, resp.OutputTokens)
	}

	if len(resp.ToolCalls) > 0 {
		h.logger.Info("model requested functions", "count", len(resp.ToolCalls), "thread", msg.ThreadID)
		combined := h.tools.ProcessCalls(ctx, resp.ToolCalls, msg, sink)
		h.memory.AddMessage(msg.ThreadID, memory.RoleAssistant, combined)
		h.complete(ctx, msg, sink, combined)
		return outcomeToolCalls, nil
	}

	items := extract.Items(resp.Content)
	if len(items) == 0 {
		h.logger.Warn("no ingredients recovered from model output", "thread", msg.ThreadID)
		h.reply(ctx, msg, sink, noItemsReply)
		return outcomeNoItems, nil
	}

	if _, err := h.audit.WriteList(audit.IngredientsFile, items); err != nil {
		return "", err
	}

	h.chunk(ctx, msg, sink, "🍳 Ingredientes detectados:\n")
	for _, item := range items {
		h.chunk(ctx, msg, sink, "- "+item+"\n")
	}
	h.chunk(ctx, msg, sink, fmt.Sprintf("\n🗂️ Guardados %d ingredientes en %s\n\n", len(items), audit.IngredientsFile))

	serperKey := msg.Variables.Get("SERPER_API_KEY")
	resultLines := []string{fmt.Sprintf("🛒 Enlaces de %s por ingrediente:", h.retailerName)}
	for _, item := range items {
		h.chunk(ctx, msg, sink, fmt.Sprintf("🔎 Buscando en %s: %s\n", h.retailerName, item))

		query := fmt.Sprintf("%s site:%s", item, h.retailerSite)
		link, err := h.search.FirstLink(ctx, serperKey, query)
		if err != nil {
			h.logger.Error("retailer search failed", "ingredient", item, "error", err)
			link = ""
		}

		if link != "" {
			h.chunk(ctx, msg, sink, fmt.Sprintf("➡️ %s: %s\n", item, link))
			resultLines = append(resultLines, fmt.Sprintf("- %s: %s", item, link))
		} else {
			h.chunk(ctx, msg, sink, fmt.Sprintf("➡️ %s: No encontrado\n", item))
			resultLines = append(resultLines, fmt.Sprintf("- %s: No encontrado", item))
		}
	}

	final := strings.Join([]string{
		"🍳 Ingredientes detectados:",
		"- " + strings.Join(items, "\n- "),
		"",
		strings.Join(resultLines, "\n"),
	}, "\n")

	h.memory.AddMessage(msg.ThreadID, memory.RoleAssistant, final)
	h.complete(ctx, msg, sink, final)
	return outcomeComposed, nil
}

// reply streams text and completes the turn with the same text. The
// short-circuit paths send their full reply both ways so streaming and
// non-streaming clients see it.
func (h *Handler) reply(ctx context.Context, msg *relay.Message, sink relay.Sink, text string) {
	h.chunk(ctx, msg, sink, text)
	h.complete(ctx, msg, sink, text)
}

func (h *Handler) chunk(ctx context.Context, msg *relay.Message, sink relay.Sink, text string) {
	if err := sink.StreamChunk(ctx, msg, text); err != nil {
		h.logger.Warn("stream chunk failed", "response_uuid", msg.ResponseID, "error", err)
	}
}

func (h *Handler) complete(ctx context.Context, msg *relay.Message, sink relay.Sink, text string) {
	if err := sink.CompleteResponse(ctx, msg, text); err != nil {
		h.logger.Error("complete delivery failed", "response_uuid", msg.ResponseID, "error", err)
	}
}

func (h *Handler) sendError(ctx context.Context, msg *relay.Message, sink relay.Sink, text string) {
	if err := sink.SendError(ctx, msg, text); err != nil {
		h.logger.Error("error delivery failed", "response_uuid", msg.ResponseID, "error", err)
	}
}
