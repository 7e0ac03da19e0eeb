package bootstrap

import (
	"context"
	"fmt"
	"time"

	"webserver/config"
	"webserver/metrics"
	"webserver/session"
	"webserver/storage"
	"webserver/util"
	"webserver/util/goroutine"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Database is the connection handle the sequencer opens once and releases once
type Database interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	OnStateChange(fn storage.StateObserver)
	Database() *mongo.Database
}

// NewDatabase creates the MongoDB handle described by cfg
func NewDatabase(cfg *config.Config, sugar *zap.SugaredLogger) *storage.MongoDB {
	return storage.NewMongoDB(storage.MongoOptions{
		URI:            cfg.MongoDB.URI,
		Database:       cfg.DatabaseName(),
		ConnectTimeout: cfg.MongoDB.ConnectTimeout,
		MaxPoolSize:    cfg.MongoDB.MaxPoolSize,
	}, sugar)
}

// databaseObserver logs connection state transitions and mirrors them into metrics
func databaseObserver(uri string, sugar *zap.SugaredLogger) storage.StateObserver {
	redacted := storage.RedactURI(uri)
	return func(state storage.ConnState, err error) {
		metrics.DatabaseState.Set(float64(state))
		switch state {
		case storage.StateConnecting:
			sugar.Debugf("MongoDB connecting to: %s", redacted)
		case storage.StateConnected:
			sugar.Infof("MongoDB connected to: %s", redacted)
		case storage.StateError:
			sugar.Errorf("MongoDB connection error: %s", util.SanitizeError(err))
			sugar.Debug(util.SanitizeString(ClassifyConnectionError(err, redacted)))
		case storage.StateDisconnected:
			sugar.Info("MongoDB disconnected")
		}
	}
}

// InitSessionStore builds the configured session store. Store connectivity
// problems are logged, not returned, the same way database errors are.
func InitSessionStore(ctx context.Context, cfg *config.Config, db Database, sugar *zap.SugaredLogger) (session.Store, error) {
	switch cfg.Session.Store {
	case "", config.StoreMemory:
		sugar.Infow("Session store initialized", "store", config.StoreMemory, "size", cfg.Session.MemorySize)
		return session.NewMemoryStore(cfg.Session.MemorySize, cfg.Session.MaxAge), nil

	case config.StoreRedis:
		store := session.NewRedisStore(session.RedisOptions{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
			PoolSize: cfg.Session.Redis.PoolSize,
		}, sugar)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			sugar.Warnw("Redis session store unreachable, sessions will fail until it recovers",
				"addr", cfg.Session.Redis.Addr, "error", err)
		} else {
			sugar.Infow("Session store initialized", "store", config.StoreRedis, "addr", cfg.Session.Redis.Addr)
		}
		return guardStore(store, config.StoreRedis, cfg, sugar)

	case config.StoreMongo:
		mdb := db.Database()
		if mdb == nil {
			return nil, fmt.Errorf("mongo session store requires a database connection")
		}

		// index creation blocks on server selection, keep it off the startup path
		goroutine.Go("session-ttl-index", sugar, func() {
			indexCtx, cancel := context.WithTimeout(context.Background(), cfg.MongoDB.ConnectTimeout+5*time.Second)
			defer cancel()
			if err := session.EnsureTTLIndex(indexCtx, mdb); err != nil {
				sugar.Warnw("Failed to ensure session TTL index", "error", err)
			}
		})

		sugar.Infow("Session store initialized", "store", config.StoreMongo, "collection", session.MongoCollectionName)
		return guardStore(session.NewMongoStore(mdb), config.StoreMongo, cfg, sugar)

	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
}

// guardStore puts a circuit breaker in front of a networked store
func guardStore(store session.Store, name string, cfg *config.Config, sugar *zap.SugaredLogger) (session.Store, error) {
	b := cfg.Session.Breaker
	if b.MaxFailures == 0 {
		return store, nil
	}
	guarded, err := session.NewBreakerStore(store, name, session.BreakerOptions{
		MaxFailures: b.MaxFailures,
		Cooldown:    b.Cooldown,
	}, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store breaker: %w", err)
	}
	return guarded, nil
}
