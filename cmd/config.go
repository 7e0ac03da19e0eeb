package cmd

import (
	"fmt"

	"webserver/config"
	"webserver/storage"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "xxxxx"

// configView is the printable form of config.Config with secrets hidden
type configView struct {
	Environment string      `yaml:"environment" json:"environment"`
	StartupMode string      `yaml:"startup_mode" json:"startup_mode"`
	Server      serverView  `yaml:"server" json:"server"`
	MongoDB     mongoView   `yaml:"mongodb" json:"mongodb"`
	Session     sessionView `yaml:"session" json:"session"`
	Metrics     metricsView `yaml:"metrics" json:"metrics"`
}

type serverView struct {
	Addr            string   `yaml:"addr" json:"addr"`
	TrustProxyHops  int      `yaml:"trust_proxy_hops" json:"trust_proxy_hops"`
	StaticDir       string   `yaml:"static_dir" json:"static_dir"`
	ViewsDir        string   `yaml:"views_dir" json:"views_dir"`
	BodyLimit       int64    `yaml:"body_limit" json:"body_limit"`
	AllowedOrigins  []string `yaml:"allowed_origins" json:"allowed_origins"`
	ShutdownTimeout string   `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	ReadTimeout     string   `yaml:"read_timeout" json:"read_timeout"`
}

type mongoView struct {
	URI            string `yaml:"uri" json:"uri"`
	Database       string `yaml:"database" json:"database"`
	ConnectTimeout string `yaml:"connect_timeout" json:"connect_timeout"`
	MaxPoolSize    uint64 `yaml:"max_pool_size" json:"max_pool_size"`
}

type metricsView struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type sessionView struct {
	Secret     string `yaml:"secret" json:"secret"`
	Name       string `yaml:"name" json:"name"`
	Store      string `yaml:"store" json:"store"`
	MaxAge     string `yaml:"max_age" json:"max_age"`
	MemorySize int    `yaml:"memory_size,omitempty" json:"memory_size,omitempty"`
	RedisAddr  string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
}

func newConfigView(cfg *config.Config) configView {
	view := configView{
		Environment: string(cfg.Environment),
		StartupMode: string(cfg.StartupMode),
		Server: serverView{
			Addr:            cfg.Addr(),
			TrustProxyHops:  cfg.Server.TrustProxyHops,
			StaticDir:       cfg.Server.StaticDir,
			ViewsDir:        cfg.Server.ViewsDir,
			BodyLimit:       cfg.Server.BodyLimit,
			AllowedOrigins:  cfg.Server.AllowedOrigins,
			ShutdownTimeout: cfg.Server.ShutdownTimeout.String(),
			ReadTimeout:     cfg.Server.ReadTimeout.String(),
		},
		MongoDB: mongoView{
			URI:            storage.RedactURI(cfg.MongoDB.URI),
			Database:       cfg.DatabaseName(),
			ConnectTimeout: cfg.MongoDB.ConnectTimeout.String(),
			MaxPoolSize:    cfg.MongoDB.MaxPoolSize,
		},
		Session: sessionView{
			Name:   cfg.Session.Name,
			Store:  cfg.Session.Store,
			MaxAge: cfg.Session.MaxAge.String(),
		},
		Metrics: metricsView{Enabled: cfg.Metrics.Enabled, Path: cfg.Metrics.Path},
	}
	if cfg.Session.Secret != "" {
		view.Session.Secret = redacted
	}
	switch cfg.Session.Store {
	case config.StoreMemory:
		view.Session.MemorySize = cfg.Session.MemorySize
	case config.StoreRedis:
		view.Session.RedisAddr = cfg.Session.Redis.Addr
	}
	return view
}

// newConfigCmd creates the 'config' subcommand
func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after defaults, config file and environment are merged. Secrets are redacted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}

			view := newConfigView(cfg)
			if opts.outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), view)
			}

			data, err := yaml.Marshal(view)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
