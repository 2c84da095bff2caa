package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"conduit/internal/config"
	"conduit/internal/core"
	"conduit/internal/logging"
	"conduit/internal/provider"
	"conduit/internal/store"
	"conduit/internal/tui"
	"conduit/internal/types"
)

var (
	// Global flags
	cfgPath      string
	debug        bool
	providerName string
	modelID      string
	storePath    string
	modeName     string
	threadID     string
)

// rootCmd launches the interactive chat surface.
var rootCmd = &cobra.Command{
	Use:   "conduit",
	Short: "conduit - asynchronous multi-provider chat orchestrator",
	Long: `conduit routes every chat, agent, expert, and realtime request through a
single sequencing kernel: one event loop owns all conversation state, pool
workers only ever talk back to it through signals.

Run without arguments to start the interactive chat interface.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&providerName, "provider", "", "provider override (echo, gemini)")
	rootCmd.PersistentFlags().StringVar(&modelID, "model", "", "model override")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "conversation database path override")
	rootCmd.Flags().StringVar(&modeName, "mode", "chat", "initial conversation mode")
	rootCmd.Flags().StringVar(&threadID, "thread", "", "resume an existing conversation by id")

	rootCmd.AddCommand(modesCmd, threadsCmd, versionCmd)
}

// loadConfig layers the flag overrides over file and environment config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if providerName != "" {
		cfg.Provider.Name = providerName
	}
	if modelID != "" {
		cfg.Provider.Model = modelID
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if debug {
		cfg.Logging.Debug = true
	}
	return cfg, nil
}

// buildRegistry registers one gateway per mode for the configured provider.
// The loopback realtime gateway is always available; gemini requests fall
// back to it until a native duplex adapter lands.
func buildRegistry(ctx context.Context, cfg *config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	registry.RegisterRealtime(provider.NewEchoRealtimeGateway())

	switch cfg.Provider.Name {
	case "echo", "":
		for _, mode := range types.AllModes() {
			if mode == types.ModeRealtime {
				continue
			}
			registry.Register(provider.NewEchoGateway(mode))
		}

	case "gemini":
		if cfg.Provider.APIKey == "" {
			return nil, fmt.Errorf("gemini provider requires an API key (CONDUIT_API_KEY or GEMINI_API_KEY)")
		}
		for _, mode := range types.AllModes() {
			if mode == types.ModeRealtime {
				continue
			}
			gw, err := provider.NewGeminiGateway(ctx, cfg.Provider.APIKey, cfg.Provider.Model, mode)
			if err != nil {
				return nil, fmt.Errorf("failed to build gemini gateway for %s: %w", mode, err)
			}
			registry.Register(gw)
		}

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
	return registry, nil
}

// defaultExperts registers the built-in personas available to /expert and to
// the agent's expert-invocation tool.
func defaultExperts(experts *core.ExpertRegistry) {
	experts.Register(core.Expert{
		ID:      "researcher",
		Name:    "Researcher",
		Persona: "You are a meticulous research specialist. Answer with verified facts, cite reasoning, and state uncertainty explicitly.",
	})
	experts.Register(core.Expert{
		ID:      "reviewer",
		Name:    "Reviewer",
		Persona: "You are a rigorous reviewer. Identify defects, risks, and gaps before style concerns. Be specific.",
	})
	experts.Register(core.Expert{
		ID:        "coder",
		Name:      "Coder",
		Persona:   "You are a pragmatic software engineer. Produce minimal working solutions with clear trade-offs.",
		AgentMode: true,
	})
}

// runChat wires the full stack and blocks in the TUI until exit.
func runChat() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.Logging.Debug); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer st.Close()

	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	experts := core.NewExpertRegistry()
	defaultExperts(experts)

	renderer := tui.NewProgramRenderer()
	kernel := core.New(core.Deps{
		Registry: registry,
		Store:    st,
		Renderer: renderer,
		Config:   cfg,
		Experts:  experts,
		Exit:     os.Exit,
	})

	runErr := make(chan error, 1)
	go func() { runErr <- kernel.Run(ctx) }()

	// Hot-reload feature flags on config file changes.
	if watcher, werr := config.NewWatcher(cfgPath, kernel.ApplyConfig); werr == nil {
		if serr := watcher.Start(ctx); serr == nil {
			defer watcher.Stop()
		}
	}

	mode := types.Mode(modeName)
	uiErr := tui.Run(kernel, renderer, threadID, mode)

	kernel.Terminate()
	cancel()
	<-runErr
	return uiErr
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conduit/config.yaml"
	}
	return home + "/.conduit/config.yaml"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
