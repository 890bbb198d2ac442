package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/lessonstate/internal/auth"
	"github.com/roach88/lessonstate/internal/config"
	"github.com/roach88/lessonstate/internal/store"
	"github.com/roach88/lessonstate/internal/syncclient"
)

// connFlags are the flags shared by commands that reach durable state.
// A flag left unset keeps the value loaded from the environment.
type connFlags struct {
	store     string
	dbPath    string
	redisURL  string
	serverURL string
}

func (f *connFlags) register(cmd *cobra.Command, withServer bool) {
	cmd.Flags().StringVar(&f.store, "store", "", "store driver (sqlite|redis), overrides LESSONSTATE_STORE")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "SQLite database path, overrides LESSONSTATE_DB_PATH")
	cmd.Flags().StringVar(&f.redisURL, "redis-url", "", "Redis URL, overrides LESSONSTATE_REDIS_URL")
	if withServer {
		cmd.Flags().StringVar(&f.serverURL, "server", "", "talk to a running server instead of the store, overrides LESSONSTATE_SERVER_URL")
	}
}

func (f *connFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("store") {
		cfg.Store = f.store
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = f.dbPath
	}
	if cmd.Flags().Changed("redis-url") {
		cfg.RedisURL = f.redisURL
	}
	if cmd.Flags().Changed("server") {
		cfg.ServerURL = f.serverURL
	}
}

// loadConfig reads the environment, lets override adjust the result from
// flags and validates once everything is applied.
func loadConfig(override func(*config.Config)) (config.Config, error) {
	cfg, err := config.Parse()
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// newLogger builds the text logger for a command. --verbose wins over
// LESSONSTATE_LOG_LEVEL.
func newLogger(opts *RootOptions, cfg config.Config, w io.Writer) *slog.Logger {
	level, _ := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openStore opens the configured StateStore.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.StateStore, error) {
	switch cfg.Store {
	case config.StoreRedis:
		logger.Debug("opening redis store", "prefix", cfg.RedisPrefix)
		st, err := store.OpenRedis(ctx, cfg.RedisURL, store.WithKeyPrefix(cfg.RedisPrefix), store.WithLogger(logger))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open redis store", err)
		}
		return st, nil
	default:
		logger.Debug("opening database", "path", cfg.DBPath)
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		return st, nil
	}
}

// newIssuer builds the token issuer from the JWT settings.
func newIssuer(cfg config.Config) (*auth.Issuer, error) {
	if err := cfg.RequireJWTSecret(); err != nil {
		return nil, WrapExitError(ExitCommandError, "token signing is not configured", err)
	}
	iss, err := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenTTL)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create token issuer", err)
	}
	return iss, nil
}

// newSyncClient returns the client a command should use: HTTP when a
// server URL is configured, otherwise the store in-process. The returned
// function releases whatever was opened.
func newSyncClient(ctx context.Context, cfg config.Config, logger *slog.Logger) (syncclient.Client, func(), error) {
	if cfg.ServerURL != "" {
		iss, err := newIssuer(cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("using server", "url", cfg.ServerURL)
		return syncclient.NewHTTP(cfg.ServerURL, iss, syncclient.WithLogger(logger)), func() {}, nil
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "error", err)
		}
	}
	return syncclient.NewLocal(st, logger), release, nil
}

// commandContext returns cmd's context, or Background when it has none.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
