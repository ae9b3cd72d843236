// CRM is a conversational customer relationship manager.
//
// It serves a session-gated web dashboard for browsing contacts and
// leads, and an OpenAI-compatible streaming chat API backed by a hosted
// language model with CRM tools. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	crm serve              Start the web and API server
//	crm init [dir]         Initialize a working directory with defaults
//	crm ask <question>     Ask the assistant a single question (for testing)
//	crm seed               Populate the database with sample data
//	crm version            Print version and build information
//	crm -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sodown4thecause/CRM/internal/agent"
	"github.com/sodown4thecause/CRM/internal/api"
	"github.com/sodown4thecause/CRM/internal/buildinfo"
	"github.com/sodown4thecause/CRM/internal/config"
	"github.com/sodown4thecause/CRM/internal/crm"
	"github.com/sodown4thecause/CRM/internal/llm"
	"github.com/sodown4thecause/CRM/internal/tools"
	"github.com/sodown4thecause/CRM/internal/web"
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

// run is the real entry point for the crm command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:] — the command-line arguments after the program
//     name. We parse these manually rather than using the flag package
//     to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
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
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: crm ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "seed":
		return runSeed(stdout, configPath)
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
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// crm is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "CRM - Conversational Customer Relationship Manager")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: crm [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the web and API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask the assistant a single question (for testing)")
	fmt.Fprintln(w, "  seed         Populate the database with sample contacts and leads")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/crm/config.yaml, /etc/crm/config.yaml")
	return nil
}

// defaultConfigYAML is written by "crm init". API keys are referenced
// via environment variables so the file itself stays secret-free.
const defaultConfigYAML = `# CRM configuration.
# Environment variables are expanded, so secrets can stay out of this file.

listen:
  address: ""
  port: 8080

provider:
  kind: anthropic            # anthropic or openai
  model: claude-sonnet-4-20250514
  api_key: ${ANTHROPIC_API_KEY}
  # base_url: https://gateway.example.com/v1   # OpenAI-compatible gateway

database_path: crm.db
session_cookie: crm_session
log_level: info              # trace, debug, info, warn, error
`

// runInit handles the "crm init [dir]" subcommand. It creates the
// directory if needed and writes a commented default config.yaml.
// Refuses to overwrite an existing config.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, not overwriting", path)
	}

	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Fprintf(stdout, "Wrote %s\n", path)
	fmt.Fprintln(stdout, "Set ANTHROPIC_API_KEY (or switch provider to openai) and run: crm serve")
	return nil
}

// runAsk handles the "crm ask <question>" subcommand. It boots the
// store and agent loop without the HTTP server and processes a single
// question, streaming the answer to stdout. Useful for smoke tests and
// debugging without a browser.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := crm.NewStore(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	defer store.Close()

	client, err := createProviderClient(cfg, logger)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(logger)
	crm.RegisterTools(registry, store, logger)

	loop := agent.New(agent.Config{
		Client:   client,
		Registry: registry,
		Model:    cfg.Provider.Model,
		Logger:   logger,
	})

	history := []llm.Message{{Role: "user", Content: question}}
	_, err = loop.Run(ctx, history, func(ev llm.StreamEvent) {
		switch ev.Kind {
		case llm.KindToken:
			fmt.Fprint(stdout, ev.Token)
		case llm.KindToolCallStart:
			fmt.Fprintf(stdout, "[%s]\n", ev.ToolName)
		}
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout)
	return nil
}

// runSeed handles the "crm seed" subcommand. It inserts a handful of
// sample contacts and leads so the dashboard and assistant have data to
// work with immediately. Duplicate emails are skipped, so seed is safe
// to re-run.
func runSeed(stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := crm.NewStore(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	defer store.Close()

	value := func(v float64) *float64 { return &v }
	contacts := []*crm.Contact{
		{Name: "Sarah Chen", Email: "sarah.chen@acme.io", Phone: "+1 415 555 0134", Company: "Acme Corp", Status: crm.StatusCustomer, Value: value(48000), Notes: "Renewed annual plan in June. Interested in the **reporting add-on**."},
		{Name: "Marcus Webb", Email: "marcus@webbconsulting.com", Company: "Webb Consulting", Status: crm.StatusProspect, Value: value(12000), Notes: "Referred by Sarah Chen."},
		{Name: "Priya Nair", Email: "priya.nair@northwind.example", Phone: "+44 20 7946 0958", Company: "Northwind Traders", Status: crm.StatusLead},
		{Name: "Diego Alvarez", Email: "diego@solfoods.example", Company: "Sol Foods", Status: crm.StatusLead, Notes: "Met at the trade show. Wants a demo of lead tracking."},
		{Name: "Emma Lindqvist", Email: "emma@lindqvist.se", Company: "Lindqvist AB", Status: crm.StatusInactive, Notes: "Churned in 2024, budget cuts. Worth revisiting next year."},
	}

	var created int
	byEmail := make(map[string]int64, len(contacts))
	for _, c := range contacts {
		got, err := store.CreateContact(c)
		if err != nil {
			if errors.Is(err, crm.ErrDuplicateEmail) {
				existing, gerr := store.GetContactByEmail(c.Email)
				if gerr == nil {
					byEmail[c.Email] = existing.ID
				}
				continue
			}
			return fmt.Errorf("seed contact %s: %w", c.Email, err)
		}
		byEmail[c.Email] = got.ID
		created++
	}

	prob := func(p float64) *float64 { return &p }
	leads := []*crm.Lead{
		{ContactID: byEmail["marcus@webbconsulting.com"], Source: "referral", Status: "qualified", Probability: prob(65)},
		{ContactID: byEmail["priya.nair@northwind.example"], Source: "website", Status: "new", Probability: prob(20)},
		{ContactID: byEmail["diego@solfoods.example"], Source: "trade show", Status: "contacted", Probability: prob(40)},
	}

	// Skip contacts that already have a lead so re-running seed does
	// not pile up duplicates.
	existing, err := store.ListLeads()
	if err != nil {
		return fmt.Errorf("list leads: %w", err)
	}
	hasLead := make(map[int64]bool, len(existing))
	for _, l := range existing {
		hasLead[l.ContactID] = true
	}

	var leadCount int
	for _, l := range leads {
		if l.ContactID == 0 || hasLead[l.ContactID] {
			continue
		}
		if _, err := store.CreateLead(l); err != nil {
			return fmt.Errorf("seed lead for contact %d: %w", l.ContactID, err)
		}
		leadCount++
	}

	fmt.Fprintf(stdout, "Seeded %d contacts and %d leads into %s\n", created, leadCount, cfg.DatabasePath)
	return nil
}

// runServe handles the "crm serve" subcommand. It is the primary
// operating mode: loads config, opens the database, registers the CRM
// tools, connects the provider client and agent loop, and starts the
// HTTP server hosting both the web UI and the chat API. Blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting CRM", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"provider", cfg.Provider.Kind,
		"model", cfg.Provider.Model,
	)

	store, err := crm.NewStore(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	defer store.Close()
	logger.Info("database opened", "path", cfg.DatabasePath)

	client, err := createProviderClient(cfg, logger)
	if err != nil {
		return err
	}

	// Probe the provider in the background; a failure is worth a
	// warning at startup but must not block serving.
	go func() {
		pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
		defer pingCancel()
		if err := client.Ping(pingCtx); err != nil {
			logger.Warn("provider unreachable", "kind", cfg.Provider.Kind, "error", err)
		} else {
			logger.Info("provider reachable", "kind", cfg.Provider.Kind)
		}
	}()

	registry := tools.NewRegistry(logger)
	crm.RegisterTools(registry, store, logger)
	logger.Info("tools registered", "tools", registry.Names())

	loop := agent.New(agent.Config{
		Client:   client,
		Registry: registry,
		Model:    cfg.Provider.Model,
		Logger:   logger,
	})

	webServer := web.NewServer(store, cfg.SessionName, logger)
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, loop, webServer, logger)

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("CRM stopped")
	return nil
}

// newLogger creates a structured text logger writing to w at the given
// level. All log output goes through slog; this helper standardizes the
// handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// createProviderClient builds the hosted-model client selected by the
// provider config. The API key is required for both providers; base_url
// is optional and mainly useful for OpenAI-compatible gateways.
func createProviderClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("provider.api_key is required (set it in config or via environment)")
	}

	switch cfg.Provider.Kind {
	case "anthropic":
		return llm.NewAnthropicClient(cfg.Provider.APIKey, cfg.Provider.BaseURL, logger), nil
	case "openai":
		return llm.NewOpenAIClient(cfg.Provider.APIKey, cfg.Provider.BaseURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider kind: %q (expected anthropic or openai)", cfg.Provider.Kind)
	}
}
