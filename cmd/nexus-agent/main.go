// Package main provides the CLI entry point for nexus-agent, an
// interactive, provider-agnostic coding agent loop: a REPL that sends user
// turns to a configurable LLM provider, dispatches MCP and built-in tool
// calls on its behalf, and governs its own context window.
//
// Basic usage:
//
//	nexus-agent --config agent.yaml
//
// Environment variables:
//
//   - OPENROUTER_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY
//   - GOOGLE_APPLICATION_CREDENTIALS, GOOGLE_PROJECT_ID, GOOGLE_REGION
//   - AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY
//   - CLOUDFLARE_API_TOKEN, CLOUDFLARE_ACCOUNT_ID
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexuscli/agent/internal/builtintools"
	"github.com/nexuscli/agent/internal/cache"
	"github.com/nexuscli/agent/internal/config"
	"github.com/nexuscli/agent/internal/layers"
	"github.com/nexuscli/agent/internal/mcpclient"
	"github.com/nexuscli/agent/internal/mcpregistry"
	"github.com/nexuscli/agent/internal/mcpsupervisor"
	"github.com/nexuscli/agent/internal/providers"
	"github.com/nexuscli/agent/internal/repl"
	"github.com/nexuscli/agent/internal/session"
	"github.com/nexuscli/agent/internal/slashcmd"
	"github.com/nexuscli/agent/internal/toolloop"
	"github.com/nexuscli/agent/pkg/models"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath  string
		workspace   string
		sessionPath string
		modelFlag   string
	)

	cmd := &cobra.Command{
		Use:     "nexus-agent",
		Short:   "Interactive coding agent loop",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), runOptions{
				configPath:  configPath,
				workspace:   workspace,
				sessionPath: sessionPath,
				modelFlag:   modelFlag,
				stdin:       os.Stdin,
				stdout:      os.Stdout,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nexus-agent.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&workspace, "workspace", ".", "Workspace directory for built-in tools")
	cmd.Flags().StringVar(&sessionPath, "session", "", "Session log path (default: sessions/<generated-name>.jsonl under the workspace)")
	cmd.Flags().StringVar(&modelFlag, "model", "", "Override the configured default_model (provider:model)")
	return cmd
}

type runOptions struct {
	configPath  string
	workspace   string
	sessionPath string
	modelFlag   string
	stdin       *os.File
	stdout      *os.File
}

func run(ctx context.Context, opts runOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	model := cfg.DefaultModel
	if strings.TrimSpace(opts.modelFlag) != "" {
		model = opts.modelFlag
	}

	creds := config.LoadCredentials()
	providerRegistry, pcreds := buildProviderRegistry(creds)

	mcp := mcpregistry.New()
	mcp.Register(builtintools.New(opts.workspace))

	supervisor := mcpsupervisor.Get()
	for name, serverCfg := range cfg.MCP.Servers {
		serverCfg.Name = name
		if serverCfg.ConnectionType == models.ConnectionBuiltin {
			continue
		}
		client := mcpclient.New(serverCfg)
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := client.Connect(connectCtx)
		cancel()
		if err != nil {
			slog.Warn("mcp server unavailable at startup", "server", name, "error", err)
			continue
		}
		mcp.Register(client)
		supervisor.Register(client)
	}
	supervisor.Start(ctx)
	defer supervisor.Stop()

	sessionPath := opts.sessionPath
	if sessionPath == "" {
		sessionPath = filepath.Join(opts.workspace, "sessions", session.NewSessionName()+".jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(sessionPath), 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	sess, err := session.New(sessionPath, models.SessionInfo{
		Model:    model,
		Provider: providerTag(model),
	})
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer sess.Close()

	orchestrator := layers.New(cfg.Layers, mcp, providerRegistry, pcreds, model)

	commands := slashcmd.NewRegistry()
	slashcmd.RegisterBuiltins(commands)

	loop := repl.New(repl.Config{
		DefaultModel:         model,
		SystemPrompt:         cfg.SystemPrompt,
		EnableAutoTruncation: cfg.EnableAutoTruncation,
		Cache: cache.Config{
			CacheTokensThreshold: cfg.CacheTokensThreshold,
			CacheTimeoutSeconds:  cfg.CacheTimeoutSeconds,
		},
		Tools:       toolloop.Config{},
		SessionsDir: filepath.Dir(sessionPath),
	}, sess, mcp, providerRegistry, pcreds, orchestrator, commands)

	return runLoop(ctx, loop, opts.stdin, opts.stdout)
}

// runLoop drives the read-eval-print cycle: one line of stdin per turn,
// with SIGINT wired to the loop's two-stage cancellation (soft cancel on
// the first interrupt, hard exit 130 on the second within the same turn).
func runLoop(ctx context.Context, loop *repl.Loop, stdin, stdout *os.File) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if loop.Interrupt() {
				os.Exit(130)
			}
		}
	}()

	reader := bufio.NewScanner(stdin)
	reader.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(stdout, "> ")
		if !reader.Scan() {
			return nil
		}
		line := reader.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		result, err := loop.HandleLine(ctx, line)
		if err != nil {
			fmt.Fprintf(stdout, "error: %v\n", err)
			continue
		}
		if result.Text != "" {
			fmt.Fprintln(stdout, result.Text)
		}
		if result.Exit {
			os.Exit(result.Code)
		}
	}
}

// buildProviderRegistry wires one adapter per provider tag, grounded on
// the credentials and endpoint parameters spec §6 names. A provider with
// no configured credential is still registered: Provider.ChatCompletion
// fails with <MissingCredential> at call time rather than at startup,
// since a session may only ever address a subset of providers. The
// returned Credentials is resolved per provider tag at each call site
// (internal/repl, internal/layers), since each provider needs a different
// credential and providers.Config carries only one shared APIKey field.
func buildProviderRegistry(creds config.Credentials) (*providers.Registry, providers.Credentials) {
	const (
		maxRetries = 3
		retryDelay = time.Second
	)

	openrouterP := providers.NewOpenRouterProvider(maxRetries, retryDelay, nil)
	openaiP := providers.NewOpenAIProvider(maxRetries, retryDelay)
	anthropicP := providers.NewAnthropicProvider(maxRetries, retryDelay)
	googleP := providers.NewGoogleProvider(maxRetries, retryDelay)
	amazonP := providers.NewBedrockProvider(maxRetries, retryDelay)
	var cloudflareP providers.Provider
	if creds.CloudflareAccountID != "" {
		cloudflareP = providers.NewCloudflareProvider(maxRetries, retryDelay, creds.CloudflareAccountID)
	}

	registry := providers.NewRegistry(openrouterP, openaiP, anthropicP, googleP, amazonP, cloudflareP)

	pcreds := providers.Credentials{
		OpenRouterAPIKey:   creds.OpenRouterAPIKey,
		OpenAIAPIKey:       creds.OpenAIAPIKey,
		AnthropicAPIKey:    creds.AnthropicAPIKey,
		GoogleProjectID:    creds.GoogleProjectID,
		GoogleRegion:       creds.GoogleRegion,
		AWSRegion:          creds.AWSRegion,
		CloudflareAPIToken: creds.CloudflareAPIToken,
	}
	return registry, pcreds
}

func providerTag(model string) string {
	tag, _, err := providers.ParseModel(model)
	if err != nil {
		return ""
	}
	return tag
}
