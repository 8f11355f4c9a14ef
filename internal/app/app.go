package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"prodline/internal/config"
	"prodline/internal/db"
	"prodline/internal/engine"
	"prodline/internal/lock"
	"prodline/internal/migrate"
)

// App bundles the long-lived resources behind one workspace.
type App struct {
	Engine engine.Engine
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client
	Log    *zap.Logger
}

// Open connects the configured database, applies migrations and builds the engine with
// the configured order locker.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dbCfg := db.Config{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		Workspace: workspace,
		MaxConns:  cfg.Database.MaxConns,
	}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn, dbCfg.Dialect()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a := &App{Config: cfg, DB: conn, Log: logger}
	a.Engine = engine.New(conn, dbCfg.Dialect())
	a.Engine.Log = logger

	if cfg.Lock.Backend == "redis" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Lock.Addr, Password: cfg.Lock.Password})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Lock.Addr, err)
		}
		a.Engine.Locks = lock.NewRedis(a.Redis, cfg.Lock.Prefix, cfg.Lock.TTL)
		logger.Info("using redis order locks", zap.String("addr", cfg.Lock.Addr))
	}
	logger.Debug("workspace opened", zap.String("workspace", workspace), zap.String("dialect", string(dbCfg.Dialect())))
	return a, nil
}

func (a *App) Close() error {
	if a.Redis != nil {
		a.Redis.Close()
	}
	return a.DB.Close()
}
