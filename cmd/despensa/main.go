// Despensa is a grocery-list chat agent for hosted chat platforms.
//
// It receives dish requests relayed by the platform, extracts the
// ingredient list with an OpenAI chat completion, finds a product link
// per ingredient at the configured retailer, and streams the composed
// reply back through the platform's callback URL. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	despensa serve            Start the API server
//	despensa init [dir]       Initialize a working directory with defaults
//	despensa ask <dish>       Process a single request (for testing)
//	despensa version          Print version and build information
//	despensa -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/despensa-ai/despensa/internal/agent"
	"github.com/despensa-ai/despensa/internal/api"
	"github.com/despensa-ai/despensa/internal/audit"
	"github.com/despensa-ai/despensa/internal/buildinfo"
	"github.com/despensa-ai/despensa/internal/config"
	"github.com/despensa-ai/despensa/internal/events"
	"github.com/despensa-ai/despensa/internal/fetch"
	"github.com/despensa-ai/despensa/internal/llm"
	"github.com/despensa-ai/despensa/internal/memory"
	"github.com/despensa-ai/despensa/internal/mqtt"
	"github.com/despensa-ai/despensa/internal/relay"
	"github.com/despensa-ai/despensa/internal/search"
	"github.com/despensa-ai/despensa/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the despensa command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and background goroutines.
//   - stdout and stderr receive all program output.
//   - args is os.Args[1:], parsed by hand rather than with the flag
//     package to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var listen string
	var logLevel string
	var logFormat string
	var model string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "--json":
			outputFmt = "json"
		case (args[i] == "-listen" || args[i] == "--listen") && i+1 < len(args):
			listen = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--listen="):
			listen = strings.TrimPrefix(args[i], "--listen=")
		case (args[i] == "-log-level" || args[i] == "--log-level") && i+1 < len(args):
			logLevel = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--log-level="):
			logLevel = strings.TrimPrefix(args[i], "--log-level=")
		case (args[i] == "-log-format" || args[i] == "--log-format") && i+1 < len(args):
			logFormat = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--log-format="):
			logFormat = strings.TrimPrefix(args[i], "--log-format=")
		case (args[i] == "-model" || args[i] == "--model") && i+1 < len(args):
			model = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--model="):
			model = strings.TrimPrefix(args[i], "--model=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	// Default to human-readable text output.
	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath, serveOverrides{
			listen:    listen,
			logLevel:  logLevel,
			logFormat: logFormat,
		})
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: despensa ask <dish>")
		}
		return runAsk(ctx, stdout, stderr, configPath, model, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// despensa is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Despensa - Grocery List Chat Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: despensa [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask <dish>   Process a single request (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>      Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt    Output format: text (default) or json (--json is a shorthand)")
	fmt.Fprintln(w, "  --listen addr:port  Override the configured listen address (serve)")
	fmt.Fprintln(w, "  --log-level level   Override the configured log level (serve)")
	fmt.Fprintln(w, "  --log-format fmt    Override the configured log format (serve)")
	fmt.Fprintln(w, "  --model name        Model to use for a one-shot request (ask)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/despensa/config.yaml, /etc/despensa/config.yaml")
	return nil
}

// runAsk handles the "despensa ask <dish>" subcommand. It boots a
// minimal pipeline (in-memory store, no API server, no MQTT) and
// processes a single request, streaming the chunks to stdout as they
// arrive. Structured logs go to stderr so the reply on stdout stays
// clean. The OpenAI and Serper keys come from the environment, since
// there is no platform here to supply them per request.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, model string, args []string) error {
	logger := config.NewLogger(stderr, slog.LevelWarn, "text")

	openaiKey := os.Getenv("OPENAI_API_KEY")
	if openaiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set")
	}

	dish := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		if configPath != "" {
			return err
		}
		// No config file anywhere; ask works fine on defaults.
		cfg = config.Default()
	}

	mem := memory.NewStore(cfg.Agent.MaxHistory)
	sc := search.NewClient(cfg.Serper.BaseURL, logger)
	rec := audit.NewRecorder(cfg.Agent.ScratchDir, logger)
	llmClient := llm.NewOpenAIClient(cfg.OpenAI.BaseURL, logger)

	handler := agent.NewHandler(agent.Config{
		Logger:         logger,
		LLM:            llmClient,
		Search:         sc,
		Memory:         mem,
		Tools:          tools.NewRegistry(sc, fetch.New(), rec, nil, logger),
		Audit:          rec,
		DefaultModel:   cfg.Agent.DefaultModel,
		MaxTokens:      cfg.Agent.MaxTokens,
		RetailerSite:   cfg.Agent.RetailerSite,
		RetailerName:   cfg.Agent.RetailerName,
		IncludeHistory: cfg.Agent.IncludeHistory,
	})

	msg := &relay.Message{
		ThreadID:   "cli",
		Message:    dish,
		ResponseID: uuid.NewString(),
		Model:      model,
		Variables: relay.Variables{
			{Name: "OPENAI_API_KEY", Value: openaiKey},
			{Name: "SERPER_API_KEY", Value: os.Getenv("SERPER_API_KEY")},
		},
	}

	if err := handler.Process(ctx, msg, &relay.WriterSink{W: stdout}); err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	return nil
}

// serveOverrides are command-line flags that take precedence over the
// configuration file for a single serve invocation.
type serveOverrides struct {
	listen    string // addr:port for the API listener
	logLevel  string
	logFormat string
}

// apply folds the overrides into a loaded config. Values are validated
// here because cfg has already passed config.Validate by the time the
// overrides land.
func (ov serveOverrides) apply(cfg *config.Config) error {
	if ov.listen != "" {
		host, portStr, err := net.SplitHostPort(ov.listen)
		if err != nil {
			return fmt.Errorf("bad -listen value %q: %w", ov.listen, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("bad -listen port %q", portStr)
		}
		cfg.Listen.Address = host
		cfg.Listen.Port = port
	}
	if ov.logLevel != "" {
		if _, err := config.ParseLogLevel(ov.logLevel); err != nil {
			return err
		}
		cfg.LogLevel = ov.logLevel
	}
	if ov.logFormat != "" {
		if ov.logFormat != "text" && ov.logFormat != "json" {
			return fmt.Errorf("unknown log format: %q (expected text or json)", ov.logFormat)
		}
		cfg.LogFormat = ov.logFormat
	}
	return nil
}

// runServe handles the "despensa serve" subcommand. It is the primary
// operating mode: loads config, wires the turn pipeline and tool
// registry, starts the API server and the optional MQTT status
// publisher, and blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The MQTT publisher announces offline and disconnects
//  3. The HTTP server drains in-flight requests
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, ov serveOverrides) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Despensa", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := ov.apply(cfg); err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the startup
	// banner and config load errors.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already checked by config.Validate or ov.apply, so this
			// error path should be unreachable in practice.
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = config.NewLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Agent.DefaultModel,
		"retailer", cfg.Agent.RetailerSite,
	)

	// --- Scratch directory ---
	// Per-turn ingredient list files land here.
	if err := os.MkdirAll(cfg.Agent.ScratchDir, 0755); err != nil {
		return fmt.Errorf("create scratch directory %s: %w", cfg.Agent.ScratchDir, err)
	}

	// --- Event bus ---
	// Broadcasts turn, LLM, and tool lifecycle events to websocket
	// subscribers. Non-blocking: slow subscribers miss events.
	bus := events.New()

	// --- Conversation store ---
	// In-memory, bounded per thread. Each platform conversation maps to
	// one thread; history is lost on restart, which suits the stateless
	// relay model.
	mem := memory.NewStore(cfg.Agent.MaxHistory)

	// --- Outbound clients ---
	llmClient := llm.NewOpenAIClient(cfg.OpenAI.BaseURL, logger)
	sc := search.NewClient(cfg.Serper.BaseURL, logger)
	rec := audit.NewRecorder(cfg.Agent.ScratchDir, logger)

	// --- Tool registry ---
	// Functions the model may call during a turn: web search, image
	// search, page fetch.
	registry := tools.NewRegistry(sc, fetch.New(), rec, bus, logger)

	// --- MQTT token counters ---
	// Created before the handler so they can observe its turns. The
	// counters reset at local midnight.
	var counters *mqtt.DailyCounters
	if cfg.MQTT.Configured() {
		counters = mqtt.NewDailyCounters(time.Local)
	}

	// --- Turn handler ---
	agentCfg := agent.Config{
		Logger:         logger,
		LLM:            llmClient,
		Search:         sc,
		Memory:         mem,
		Tools:          registry,
		Audit:          rec,
		Bus:            bus,
		DefaultModel:   cfg.Agent.DefaultModel,
		MaxTokens:      cfg.Agent.MaxTokens,
		RetailerSite:   cfg.Agent.RetailerSite,
		RetailerName:   cfg.Agent.RetailerName,
		IncludeHistory: cfg.Agent.IncludeHistory,
	}
	if counters != nil {
		agentCfg.Observer = counters
	}
	handler := agent.NewHandler(agentCfg)

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, handler, mem, bus, logger)

	// --- Signal handling ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components,
	// including the MQTT publish loop started below.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- MQTT publisher ---
	// Optional: publishes availability and a periodic state document so
	// the instance shows up on an operations dashboard.
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		statsAdapter := &mqttStatsAdapter{
			model:   cfg.Agent.DefaultModel,
			handler: handler,
			store:   mem,
		}
		mqttPub = mqtt.New(cfg.MQTT, counters, statsAdapter, logger)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.PublishIntervalSec,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- Graceful shutdown ---
	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		// Publish the MQTT offline status before disconnecting.
		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		_ = server.Shutdown(context.Background())
	}()

	// Start the API server. This blocks until the server is shut down
	// (via context cancellation or fatal error).
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Despensa stopped")
	return nil
}

// loadConfig locates, parses, and validates the YAML configuration
// file. If explicit is non-empty, that exact path is used (and must
// exist). Otherwise, [config.FindConfig] searches the default
// locations. Returns the parsed config, the path that was loaded, and
// any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// mqttStatsAdapter bridges the turn handler, the conversation store,
// and build info to the MQTT publisher's [mqtt.StatsSource] interface.
type mqttStatsAdapter struct {
	model   string
	handler *agent.Handler
	store   *memory.Store
}

func (a *mqttStatsAdapter) Uptime() time.Duration   { return buildinfo.Uptime() }
func (a *mqttStatsAdapter) Version() string         { return buildinfo.Version }
func (a *mqttStatsAdapter) DefaultModel() string    { return a.model }
func (a *mqttStatsAdapter) ActiveThreads() int      { return a.store.ThreadCount() }
func (a *mqttStatsAdapter) LastTurnTime() time.Time { return a.handler.Stats().LastTurn }
