// Command donna runs the personal-assistant webhook service.
//
// Usage:
//
//	donna serve --config donna.yaml
//	donna validate --config donna.yaml
//	donna schema
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/invopop/jsonschema"

	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/config/provider"
	"github.com/donnahq/donna/pkg/logger"
	"github.com/donnahq/donna/pkg/runtime"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the webhook server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the configuration JSON schema."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("donna version %s\n", version)
	return nil
}

// ServeCmd starts the webhook server.
type ServeCmd struct {
	Watch bool `help:"Watch the config file for changes."`

	// Overrides for running without a config file.
	Port     int    `help:"Port to listen on." default:"0"`
	Provider string `help:"LLM provider (openai, anthropic)."`
	Model    string `help:"Model name."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	applyOverrides(cfg, c)

	rt, err := runtime.New(cfg, slog.Default())
	if err != nil {
		return err
	}

	if c.Watch && loader != nil {
		if err := loader.Watch(ctx); err != nil {
			slog.Warn("Config watching unavailable", "error", err)
		}
	}

	slog.Info("Starting donna",
		"host", cfg.Server.Host, "port", cfg.Server.Port,
		"provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	return rt.Run(ctx)
}

// ValidateCmd checks a configuration file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("validate requires --config")
	}
	ctx := context.Background()
	if _, _, err := loadConfig(ctx, cli.Config); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", cli.Config)
	return nil
}

// SchemaCmd prints the configuration JSON schema.
type SchemaCmd struct{}

func (c *SchemaCmd) Run() error {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
	}
	schema := reflector.Reflect(&config.Config{})
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func loadConfig(ctx context.Context, path string) (*config.Config, *config.Loader, error) {
	config.LoadDotEnv()

	if path == "" {
		return config.Default(), nil, nil
	}
	p, err := provider.NewFileProvider(path)
	if err != nil {
		return nil, nil, err
	}
	loader := config.NewLoader(p, config.WithOnChange(func(cfg *config.Config) {
		slog.Info("Configuration reloaded")
	}))
	cfg, err := loader.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

func applyOverrides(cfg *config.Config, c *ServeCmd) {
	if c.Port > 0 {
		cfg.Server.Port = c.Port
	}
	if c.Provider != "" {
		cfg.LLM.Provider = config.LLMProvider(c.Provider)
	}
	if c.Model != "" {
		cfg.LLM.Model = c.Model
	}
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("donna"),
		kong.Description("Conversational personal assistant webhook service."),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "donna: %v\n", err)
		os.Exit(1)
	}
}
