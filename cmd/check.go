package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"webserver/config"
	"webserver/session"
	"webserver/storage"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// checkResult is the outcome of one dependency check
type checkResult struct {
	Name     string `json:"name"`
	Target   string `json:"target"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// newCheckCmd creates the 'check' subcommand
func newCheckCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and test backing services",
		Long: `Load and validate the configuration, then ping MongoDB and, when sessions are
stored there, redis. Exits non-zero when any check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			results := []checkResult{
				runCheck(out, opts, "MongoDB", storage.RedactURI(cfg.MongoDB.URI), func() error {
					return checkMongo(ctx, cfg)
				}),
			}
			if cfg.Session.Store == config.StoreRedis {
				results = append(results, runCheck(out, opts, "Redis", cfg.Session.Redis.Addr, func() error {
					return checkRedis(ctx, cfg)
				}))
			}

			failed := 0
			for _, r := range results {
				if !r.OK {
					failed++
				}
			}

			if opts.outputJSON {
				if err := outputAsJSON(out, results); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(results))
			}
			if !opts.quiet && !opts.outputJSON {
				successColor.Fprintln(out, "✓ All checks passed")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Overall timeout for the checks")

	return cmd
}

// runCheck runs fn behind a spinner and reports the result
func runCheck(out io.Writer, opts *rootOptions, name, target string, fn func() error) checkResult {
	var s *spinner.Spinner
	if !opts.outputJSON && !opts.quiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriterFile(os.Stderr))
		s.Suffix = fmt.Sprintf(" Checking %s...", name)
		s.Start()
	}

	start := time.Now()
	err := fn()
	elapsed := time.Since(start).Round(time.Millisecond)

	if s != nil {
		s.Stop()
	}

	result := checkResult{Name: name, Target: target, OK: err == nil, Duration: elapsed.String()}
	if err != nil {
		result.Error = err.Error()
	}

	if !opts.outputJSON {
		if err != nil {
			errorColor.Fprintf(out, "✗ %s (%s): %v\n", name, target, err)
		} else if !opts.quiet {
			successColor.Fprintf(out, "✓ %s (%s) reachable in %s\n", name, target, elapsed)
		}
	}
	return result
}

func checkMongo(ctx context.Context, cfg *config.Config) error {
	db := storage.NewMongoDB(storage.MongoOptions{
		URI:            cfg.MongoDB.URI,
		Database:       cfg.DatabaseName(),
		ConnectTimeout: cfg.MongoDB.ConnectTimeout,
		MaxPoolSize:    1,
	}, zap.NewNop().Sugar())
	defer func() { _ = db.Close(context.Background()) }()

	if err := db.Connect(ctx); err != nil {
		return err
	}
	return db.HealthCheck(ctx)
}

func checkRedis(ctx context.Context, cfg *config.Config) error {
	store := session.NewRedisStore(session.RedisOptions{
		Addr:     cfg.Session.Redis.Addr,
		Password: cfg.Session.Redis.Password,
		DB:       cfg.Session.Redis.DB,
		PoolSize: 1,
	}, zap.NewNop().Sugar())
	defer func() { _ = store.Close() }()

	return store.Ping(ctx)
}
