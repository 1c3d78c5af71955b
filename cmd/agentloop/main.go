package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markatally/agentloop/internal/agent"
	"github.com/markatally/agentloop/internal/config"
	"github.com/markatally/agentloop/internal/events"
	"github.com/markatally/agentloop/internal/guardrail"
	"github.com/markatally/agentloop/internal/llm"
	"github.com/markatally/agentloop/internal/logger"
	"github.com/markatally/agentloop/internal/search"
	"github.com/markatally/agentloop/internal/secrets"
	"github.com/markatally/agentloop/internal/session"
	"github.com/markatally/agentloop/internal/temporal"
	"github.com/markatally/agentloop/internal/tools"
	"github.com/markatally/agentloop/internal/turn"
	"github.com/markatally/agentloop/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agentloop: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", config.GetConfigPath(), "path to the config file")
		serve      = flag.Bool("serve", false, "start the web server instead of running a single prompt")
		prompt     = flag.String("prompt", "", "prompt to run in one-shot mode")
		logLevel   = flag.String("log-level", "", "override the configured log level")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if password := os.Getenv("AGENTLOOP_SECRETS_PASSWORD"); password != "" || cfg.Secrets.PasswordSet {
		if err := cfg.ApplySecretsPassword(password); err != nil {
			return fmt.Errorf("failed to unlock config secrets: %w", err)
		}
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	// Route slog output from libraries through our logger to keep stdout clean
	if handler := logger.NewSlogHandler(logger.Global()); handler != nil {
		slog.SetDefault(slog.New(handler))
	}

	vault := secrets.NewStore()
	loadSecrets(vault, cfg)

	client, err := buildClient(cfg, vault)
	if err != nil {
		return err
	}

	guard := guardrail.NewManager(guardrail.Config{
		SearchCallsPerTask:    cfg.Limits.SearchCallsPerTask,
		ConsecutiveFailureCap: cfg.Limits.ConsecutiveFailureCap,
	}, nil)

	registry := buildRegistry(cfg, vault, client)

	controller := turn.NewController(client, registry, guard, turn.Config{
		MaxSteps:    cfg.Limits.MaxSteps,
		Budget:      time.Duration(cfg.Limits.TurnTimeoutSeconds) * time.Second,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})

	var store *session.Store
	if cfg.SessionDBPath != "" {
		store, err = session.OpenStore(cfg.SessionDBPath)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		defer store.Close()
	}

	ag := agent.New(session.NewManager(store), guard, controller, store)

	if *serve {
		return serveForever(cfg, *configPath, ag, guard, controller)
	}

	if *prompt == "" {
		flag.Usage()
		return fmt.Errorf("either -serve or -prompt is required")
	}
	return runOnce(ag, *prompt)
}

// loadSecrets gathers API keys from config and environment into the vault
// so plaintext copies do not linger on the heap.
func loadSecrets(vault *secrets.Store, cfg *config.Config) {
	if cfg.Provider.APIKey != "" {
		vault.Set("provider_api_key", cfg.Provider.APIKey)
		cfg.Provider.APIKey = ""
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.Name == "anthropic" {
		vault.Set("provider_api_key", key)
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.Name == "openai" {
		vault.Set("provider_api_key", key)
	} else if key := googleKeyFromEnv(); key != "" && (cfg.Provider.Name == "google" || cfg.Provider.Name == "gemini") {
		vault.Set("provider_api_key", key)
	}

	if cfg.Search.Exa.APIKey != "" {
		vault.Set("exa_api_key", cfg.Search.Exa.APIKey)
		cfg.Search.Exa.APIKey = ""
	} else if key := os.Getenv("EXA_API_KEY"); key != "" {
		vault.Set("exa_api_key", key)
	}
}

// googleKeyFromEnv checks both names the Gemini tooling uses
func googleKeyFromEnv() string {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("GOOGLE_API_KEY")
}

func buildClient(cfg *config.Config, vault *secrets.Store) (llm.Client, error) {
	apiKey := vault.Get("provider_api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", cfg.Provider.Name)
	}

	switch cfg.Provider.Name {
	case "anthropic":
		return llm.NewAnthropicClient(apiKey, cfg.Provider.Model)
	case "openai":
		return llm.NewOpenAIClient(apiKey, cfg.Provider.Model)
	case "google", "gemini":
		return llm.NewGoogleClient(apiKey, cfg.Provider.Model)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

func buildRegistry(cfg *config.Config, vault *secrets.Store, client llm.Client) *tools.Registry {
	registry := tools.NewRegistry()

	filterOpts := temporal.FilterOptions{ExcludeYearOnlyInStrict: cfg.ExcludeYearOnlyInStrict}

	if cfg.Search.Provider == "exa" {
		exaCfg := config.ExaConfig{APIKey: vault.Get("exa_api_key")}
		provider := search.NewExaProvider(exaCfg)
		if err := provider.Validate(); err != nil {
			logger.Warn("search disabled: %v", err)
		} else {
			registry.RegisterSpec(&tools.SearchToolSpec{}, tools.NewSearchToolFactory(provider, nil, filterOpts))
		}
	}

	registry.RegisterSpec(&tools.FetchURLToolSpec{}, tools.NewFetchURLToolFactory(nil, client))
	registry.RegisterSpec(&tools.CreateFileToolSpec{}, tools.NewCreateFileToolFactory(cfg.ArtifactDir))

	return registry
}

// serveForever runs the web server until interrupted, reloading limits when
// the config file changes on disk.
func serveForever(cfg *config.Config, configPath string, ag *agent.Agent, guard *guardrail.Manager, controller *turn.Controller) error {
	srv := web.NewServer(cfg.ListenAddr, ag)
	if err := srv.Start(); err != nil {
		return err
	}

	watcher, err := config.NewWatcher(configPath, cfg, func(updated *config.Config) {
		guard.SetLimits(updated.Limits.SearchCallsPerTask, updated.Limits.ConsecutiveFailureCap)
		controller.SetLimits(updated.Limits.MaxSteps, time.Duration(updated.Limits.TurnTimeoutSeconds)*time.Second)
		logger.Global().SetLevel(logger.ParseLevel(updated.LogLevel))
		logger.Info("config reloaded from %s, limits applied", configPath)
	})
	if err != nil {
		logger.Warn("config watching disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	return srv.Stop()
}

// runOnce executes a single prompt and prints the streamed turn to stdout
func runOnce(ag *agent.Agent, prompt string) error {
	sink := events.SinkFunc(func(ev events.Event) error {
		switch ev.Type {
		case events.TypeContentDelta:
			fmt.Print(ev.Content)
		case events.TypeToolStart:
			fmt.Fprintf(os.Stderr, "\n[tool %s]\n", ev.ToolName)
		case events.TypeToolError:
			fmt.Fprintf(os.Stderr, "\n[tool %s failed: %s]\n", ev.ToolName, ev.Error)
		case events.TypeFileCreated:
			fmt.Fprintf(os.Stderr, "\n[created %s]\n", ev.File.Name)
		case events.TypeStepLimit:
			fmt.Fprintln(os.Stderr, "\n[step limit reached]")
		}
		return nil
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_, result, err := ag.HandleMessage(ctx, "", "cli", prompt, sink)
	if err != nil {
		return err
	}

	fmt.Println()
	if result.FinishReason != turn.FinishStop {
		fmt.Fprintf(os.Stderr, "finished early: %s after %d steps\n", result.FinishReason, result.StepsTaken)
	}
	return nil
}
