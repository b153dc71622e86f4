// Package main provides the CLI entry point for the Data Machine engine.
//
// The engine runs AI pipeline steps and chat sessions through a shared
// conversation loop with tool execution.
//
// # Basic Usage
//
// Run a flow's AI step over input packets:
//
//	datamachine run --config engine.yaml --flow my-flow --input packets.json
//
// Start an interactive chat session:
//
//	datamachine chat --config engine.yaml
//
// List the tools available to a flow step:
//
//	datamachine tools --config engine.yaml --flow my-flow
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datamachine/engine/internal/chat"
	"github.com/datamachine/engine/internal/config"
	"github.com/datamachine/engine/internal/dedup"
	"github.com/datamachine/engine/internal/engine"
	"github.com/datamachine/engine/internal/jobs"
	"github.com/datamachine/engine/internal/observability"
	"github.com/datamachine/engine/internal/pipeline"
	"github.com/datamachine/engine/internal/providers"
	"github.com/datamachine/engine/internal/selection"
	"github.com/datamachine/engine/internal/tools/availability"
	"github.com/datamachine/engine/internal/tools/system"
	"github.com/datamachine/engine/pkg/models"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "datamachine",
		Short: "Data Machine - AI pipeline and chat engine",
		Long: `Data Machine runs automated content pipelines and chat sessions
through a shared AI conversation loop with tool execution.

Supported AI providers: Anthropic (Claude), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildChatCmd(),
		buildToolsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("datamachine %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}

// runtime holds the wired engine components for one command invocation.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	discovery *engine.Discovery
	loop      *engine.ConversationLoop
	provider  engine.Provider
	model     string
	jobStore  jobs.Store
	timeline  *observability.Timeline
	closers   []func() error
}

func (r *runtime) Close() {
	for _, closer := range r.closers {
		if err := closer(); err != nil {
			r.logger.Warn("close failed", "error", err)
		}
	}
}

// buildRuntime wires stores, discovery, dispatch, and the loop from config.
func buildRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	rt := &runtime{cfg: cfg, logger: logger, timeline: observability.NewTimeline(0)}

	tracer, stopTracing := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "datamachine",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	rt.closers = append(rt.closers, func() error {
		return stopTracing(context.Background())
	})

	if cfg.Metrics.Addr != "" {
		metricsServer, err := observability.StartMetricsServer(cfg.Metrics.Addr, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() error {
			return metricsServer.Shutdown(context.Background())
		})
	}

	var selectionStore availability.SelectionStore
	if cfg.Storage.SelectionDB != "" {
		store, err := selection.NewSQLiteStore(cfg.Storage.SelectionDB)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		selectionStore = store
	} else {
		selectionStore = availability.NewMemoryStore()
	}

	var jobStore jobs.Store
	switch {
	case cfg.Storage.JobsDSN != "":
		store, err := jobs.NewPostgresStore(cfg.Storage.JobsDSN, nil)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		jobStore = store
	case cfg.Storage.JobsDB != "":
		store, err := jobs.NewSQLiteStore(cfg.Storage.JobsDB)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		jobStore = store
	default:
		jobStore = jobs.NewMemoryStore()
	}
	rt.jobStore = jobStore

	var dedupStore dedup.Store
	if cfg.Storage.DedupDB != "" {
		store, err := dedup.NewSQLiteStore(cfg.Storage.DedupDB)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		dedupStore = store
	} else {
		dedupStore = dedup.NewMemoryStore()
	}

	gate := availability.NewGate(selectionStore, nil, logger)
	rt.discovery = engine.NewDiscovery(gate, logger)
	system.Register(rt.discovery, jobStore, dedupStore)

	metrics := observability.NewMetrics()
	dispatcher := engine.NewDispatcher(logger,
		engine.WithToolTimeout(cfg.Engine.ToolTimeout.Std()),
		engine.WithJobStore(jobStore),
		engine.WithMetrics(metrics),
		engine.WithTracer(tracer),
		engine.WithEventSink(rt.timeline),
	)

	composer := engine.NewComposer()
	if cfg.Directive.Global != "" {
		composer.Register(engine.TierGlobal, engine.StaticDirective(cfg.Directive.Global))
	}
	composer.Register(engine.TierPipeline, engine.StepPromptDirective())
	composer.Register(engine.TierPipeline, pipeline.WorkflowDirective())
	if cfg.Directive.Site != "" {
		composer.Register(engine.TierSite, engine.StaticDirective(cfg.Directive.Site))
	}

	rt.loop = engine.NewConversationLoop(rt.discovery, dispatcher, composer, metrics, logger,
		engine.WithLoopTracer(tracer))

	rt.provider, rt.model, err = buildProvider(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func buildProvider(cfg *config.Config) (engine.Provider, string, error) {
	switch cfg.Providers.Default {
	case "openai":
		apiKey := cfg.Providers.OpenAI.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		provider, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  apiKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
		})
		return provider, cfg.Providers.OpenAI.Model, err
	default:
		apiKey := cfg.Providers.Anthropic.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  apiKey,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
		})
		return provider, cfg.Providers.Anthropic.Model, err
	}
}

func buildRunCmd() *cobra.Command {
	var configPath, flowID, inputPath, jobID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a flow's AI step over input data packets",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			flow := findFlow(rt.cfg, flowID)
			if flow == nil {
				return fmt.Errorf("flow %q not found in config", flowID)
			}
			stepIndex := -1
			for i, step := range flow.Steps {
				if step.Type == models.StepAI {
					stepIndex = i
					break
				}
			}
			if stepIndex < 0 {
				return fmt.Errorf("flow %q has no AI step", flowID)
			}

			packets, err := readPackets(inputPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runner := pipeline.NewStepRunner(rt.loop, rt.provider, rt.model, rt.cfg.Engine.MaxTurns, rt.logger)
			outcome, err := runner.RunStep(ctx, flow, stepIndex, jobID, packets)
			if err != nil {
				return err
			}
			if outcome.Loop.Warning != "" {
				fmt.Fprintln(os.Stderr, "warning:", outcome.Loop.Warning)
			}
			for _, summary := range rt.timeline.Summarize() {
				rt.logger.Debug("tool activity",
					"tool", summary.Tool,
					"calls", summary.Calls,
					"failures", summary.Failures,
					"total_time", summary.TotalTime)
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(outcome.Packets)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "engine.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&flowID, "flow", "", "Flow id to run")
	cmd.Flags().StringVar(&inputPath, "input", "", "JSON file of input data packets (default: stdin)")
	cmd.Flags().StringVar(&jobID, "job", "", "Job id for attribution")
	_ = cmd.MarkFlagRequired("flow")
	return cmd
}

func buildChatCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var sessions chat.SessionStore
			if rt.cfg.Storage.ChatDB != "" {
				store, err := chat.NewSQLiteSessionStore(rt.cfg.Storage.ChatDB)
				if err != nil {
					return err
				}
				defer store.Close()
				sessions = store
			} else {
				sessions = chat.NewMemorySessionStore()
			}

			service := chat.NewService(rt.loop, rt.provider, rt.model, sessions, rt.logger)
			session, err := service.NewSession(ctx, "cli")
			if err != nil {
				return err
			}

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Println("Chat session started. Ctrl-D to exit.")
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					continue
				}

				turn, err := service.Send(ctx, session.ID, text)
				if err != nil {
					return err
				}
				for !turn.Completed {
					for _, call := range turn.ToolCalls {
						fmt.Printf("[tool] %s\n", call.Name)
					}
					turn, err = service.Continue(ctx, session.ID)
					if err != nil {
						return err
					}
				}
				fmt.Println(turn.Content)
			}
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "engine.yaml", "Path to configuration file")
	return cmd
}

func buildToolsCmd() *cobra.Command {
	var configPath, flowID string
	var stepIndex int
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools available to a flow step or chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := context.Background()
			var available map[string]*engine.DiscoveredTool
			if flowID == "" {
				available = rt.discovery.AvailableTools(ctx, nil, nil, models.ChatContext())
			} else {
				flow := findFlow(rt.cfg, flowID)
				if flow == nil {
					return fmt.Errorf("flow %q not found in config", flowID)
				}
				step := flow.StepByIndex(stepIndex)
				if step == nil {
					return fmt.Errorf("flow %q has no step at index %d", flowID, stepIndex)
				}
				available = rt.discovery.AvailableTools(ctx,
					flow.StepByIndex(stepIndex-1),
					flow.StepByIndex(stepIndex+1),
					models.PipelineContext(step.ID))
			}

			for _, def := range engine.Definitions(available) {
				kind := "global"
				if def.IsHandlerTool() {
					kind = "handler:" + def.HandlerBinding
				}
				fmt.Printf("%-24s %-20s %s\n", def.Name, kind, def.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "engine.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&flowID, "flow", "", "Flow id (omit for chat context)")
	cmd.Flags().IntVar(&stepIndex, "step", 0, "Step index within the flow")
	return cmd
}

func findFlow(cfg *config.Config, id string) *models.Flow {
	for i := range cfg.Flows {
		if cfg.Flows[i].ID == id {
			return &cfg.Flows[i]
		}
	}
	return nil
}

func readPackets(path string) ([]models.DataPacket, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = readAllStdin()
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var packets []models.DataPacket
	if err := json.Unmarshal(data, &packets); err != nil {
		return nil, fmt.Errorf("parse input packets: %w", err)
	}
	return packets, nil
}

func readAllStdin() ([]byte, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return nil, err
	}
	// No piped input is fine: the step runs with no packets.
	if stat.Mode()&os.ModeCharDevice != 0 {
		return nil, nil
	}
	return io.ReadAll(os.Stdin)
}
