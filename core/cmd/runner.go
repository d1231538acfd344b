package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/m3rciful/formbot/core/buildinfo"
	coreconfig "github.com/m3rciful/formbot/core/config"
	"github.com/m3rciful/formbot/core/logger"
	coretelegram "github.com/m3rciful/formbot/core/telegram"
)

// App is what the commands need from the wired application.
type App interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
	Reconcile(ctx context.Context) error
	Close() error
}

// Options describe how to load configuration, bootstrap the app, and run the bot.
type Options struct {
	Use               string
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (*coreconfig.Config, error)
	Bootstrap  func(ctx context.Context, cfg *coreconfig.Config) (App, error)
	// Migrate applies the schema and returns; serve migrates on its own.
	Migrate func(cfg *coreconfig.Config) error

	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error
}

// Run executes the root command with os.Args.
func Run(opts Options) error {
	return NewRootCommand(opts).Execute()
}

// NewRootCommand builds the CLI: serve (default), migrate, reconcile and version.
func NewRootCommand(opts Options) *cobra.Command {
	use := opts.Use
	if use == "" {
		use = "formbot"
	}
	var cfgFlag string
	root := &cobra.Command{
		Use:           use,
		Short:         "Relay Google Form submissions into Telegram chats",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfgFlag, "config", "", "config file path (overrides the env variable)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the push endpoint and the pollers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveCmd(cmd.Context(), opts, cfgFlag)
		},
	}
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, cfgFlag)
			if err != nil {
				return err
			}
			if opts.Migrate == nil {
				return fmt.Errorf("cmd: Migrate is required")
			}
			defer shutdownLogger(opts)
			return opts.Migrate(cfg)
		},
	}
	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one trigger reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, cfgFlag)
			if err != nil {
				return err
			}
			app, err := bootstrap(cmd.Context(), opts, cfg)
			if err != nil {
				return err
			}
			defer shutdownLogger(opts)
			defer app.Close()
			return app.Reconcile(cmd.Context())
		},
	}
	version := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) %s\n", use, buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		},
	}
	root.RunE = serve.RunE
	root.AddCommand(serve, migrate, reconcile, version)
	return root
}

func serveCmd(parent context.Context, opts Options, cfgFlag string) error {
	startedAt := time.Now()
	cfg, err := loadConfig(opts, cfgFlag)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application, err := bootstrap(ctx, opts, cfg)
	if err != nil {
		return err
	}
	defer shutdownLogger(opts)
	defer application.Close()

	runOpts, err := application.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: telegram options build failed: %w", err)
	}

	prevStart := runOpts.OnStart
	runOpts.OnStart = func(ctx context.Context) error {
		if prevStart != nil {
			if err := prevStart(ctx); err != nil {
				return err
			}
		}
		logger.Info(ctx, "app", "ready",
			slog.String("version", buildinfo.Version),
			slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
		)
		return nil
	}
	prevStop := runOpts.OnStop
	runOpts.OnStop = func(ctx context.Context) error {
		logger.Info(ctx, "app", "shutdown")
		if prevStop != nil {
			return prevStop(ctx)
		}
		return nil
	}

	run := opts.RunTelegram
	if run == nil {
		run = coretelegram.RunTelegram
	}
	return run(ctx, runOpts)
}

func loadConfig(opts Options, cfgFlag string) (*coreconfig.Config, error) {
	if opts.LoadConfig == nil {
		return nil, fmt.Errorf("cmd: LoadConfig is required")
	}
	cfgPath := configPath(opts, cfgFlag)
	if cfgPath == "" {
		return nil, fmt.Errorf("cmd: config path not provided via --config, %s or DefaultConfigPath", envVar(opts))
	}
	log.Printf("loading config: %s", cfgPath)
	cfg, err := opts.LoadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("cmd: failed to load config: %w", err)
	}
	return cfg, nil
}

func configPath(opts Options, cfgFlag string) string {
	if cfgFlag != "" {
		return cfgFlag
	}
	if p := os.Getenv(envVar(opts)); p != "" {
		return p
	}
	return opts.DefaultConfigPath
}

func envVar(opts Options) string {
	if opts.ConfigEnvVar == "" {
		return "CONFIG_PATH"
	}
	return opts.ConfigEnvVar
}

func bootstrap(ctx context.Context, opts Options, cfg *coreconfig.Config) (App, error) {
	if opts.Bootstrap == nil {
		return nil, fmt.Errorf("cmd: Bootstrap is required")
	}
	app, err := opts.Bootstrap(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cmd: bootstrap failed: %w", err)
	}
	return app, nil
}

func shutdownLogger(opts Options) {
	shutdown := opts.ShutdownLogger
	if shutdown == nil {
		shutdown = logger.Shutdown
	}
	if err := shutdown(); err != nil {
		log.Printf("logger shutdown error: %v", err)
	}
}
