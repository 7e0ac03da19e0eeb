package bootstrap

import (
	"os"

	"webserver/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output.
// Development logs at debug level, production at info.
func InitLogger(env config.Environment) (*zap.Logger, *zap.SugaredLogger, error) {
	// Create a colored console encoder config
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder // Colored levels
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder        // Readable timestamps
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder      // Short file paths

	level := zapcore.DebugLevel
	if env == config.EnvProduction {
		level = zapcore.InfoLevel
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// logConfig reports the effective configuration without secrets
func logConfig(cfg *config.Config, sugar *zap.SugaredLogger) {
	sugar.Infow("Startup mode",
		"mode", string(cfg.StartupMode),
		"description", func() string {
			if cfg.IsGracefulMode() {
				return "will keep running after initialization errors until a termination signal"
			}
			return "will fail fast on any initialization error"
		}())

	sugar.Infow("Config loaded",
		"environment", string(cfg.Environment),
		"addr", cfg.Addr(),
		"database", cfg.DatabaseName(),
		"session_store", cfg.Session.Store,
		"session_cookie", cfg.Session.Name,
		"metrics_enabled", cfg.Metrics.Enabled)
}
