package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cosmosai/internal/bootstrap"
	"cosmosai/internal/config"
	"cosmosai/internal/logging"
)

var (
	listenAddr string
	brokerURL  string
	logLevel   string
	leadsJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "cosmos",
	Short: "Voice agent session shell and token broker",
	Long: `cosmos: talk to a hosted voice agent from the terminal.

Commands:
  serve     Run the token broker and lead capture API
  talk      Open the interactive voice session shell
  leads     List captured leads, or show one by id

Configuration is read from COSMOS_* environment variables and the
vendor's per-mode secrets (for example RETELL_API_KEY_ENGLISH).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the token broker and lead capture API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.Server.ListenAddr = listenAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server, err := bootstrap.BuildServer(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("build server: %w", err)
		}
		return server.Run(ctx)
	},
}

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Open the interactive voice session shell",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if brokerURL != "" {
			cfg.Session.BrokerURL = brokerURL
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app := NewApp(cmd.OutOrStdout())
		services, err := bootstrap.BuildVoice(cfg, app, logger)
		if err != nil {
			return fmt.Errorf("build voice client: %w", err)
		}
		app.attach(services)
		return app.Run(ctx, cmd.InOrStdin())
	},
}

var leadsCmd = &cobra.Command{
	Use:   "leads [id]",
	Short: "List captured leads, or show one by id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := bootstrap.OpenLeads(ctx, cfg.Leads, logging.Component(logger, "leads"))
		if err != nil {
			return fmt.Errorf("open lead store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("lead store close failed")
			}
		}()

		var id string
		if len(args) == 1 {
			id = args[0]
		}
		return printLeads(ctx, cmd.OutOrStdout(), store, id, leadsJSON)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides COSMOS_LOG_LEVEL)")
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides COSMOS_LISTEN_ADDR)")
	talkCmd.Flags().StringVar(&brokerURL, "broker", "", "token broker URL (overrides COSMOS_BROKER_URL)")
	leadsCmd.Flags().BoolVar(&leadsJSON, "json", false, "print leads as JSON")
	rootCmd.AddCommand(serveCmd, talkCmd, leadsCmd)
}

func loadRuntime(logOut io.Writer) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, logging.New(logOut, cfg.Log.Level, logging.Format(cfg.Log.Format)), nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
