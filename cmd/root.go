// Package cmd provides the command-line interface for the web server.
package cmd

import (
	"context"
	"fmt"
	"os"

	"webserver/bootstrap"
	"webserver/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version is set at build time: -ldflags "-X webserver/cmd.Version=1.2.3"
var Version = "dev"

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	configFile string
	envFile    string
	outputJSON bool
	noColor    bool
	quiet      bool

	// exitCode is what the serve command asks the process to exit with
	exitCode int
}

// NewRootCmd creates the webserver command. Without a subcommand it serves.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "webserver",
		Short: "Basic web server with MongoDB and sessions",
		Long: `Start a web server that connects to MongoDB, attaches the standard middleware
stack and serves the index route until it receives SIGINT, SIGTERM or SIGUSR2.

Configuration comes from config.yaml, a .env file and the environment
(DATABASE, PORT, SECRET_KEY_ONE, SESSION_NAME, NODE_ENV or WEBSERVER_* overrides).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.noColor {
				color.NoColor = true
			}
			return config.LoadEnvFile(opts.envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before configuration")
	rootCmd.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&opts.quiet, "quiet", false, "Suppress non-essential output")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newCheckCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newVersionCmd(opts))

	return rootCmd
}

// newServeCmd creates the 'serve' subcommand, an explicit alias for the root command
func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

// runServe builds the application and blocks until it terminates
func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}

	logger, _, err := bootstrap.InitLogger(cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	app, err := bootstrap.NewApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	opts.exitCode = app.Run(ctx)
	return nil
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	opts := &rootOptions{}
	rootCmd := newRootCmd(opts)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		if opts.exitCode == 0 {
			return 1
		}
	}
	return opts.exitCode
}
