package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/treasury/pkg/auth"
	"github.com/Mindburn-Labs/treasury/pkg/config"
	"github.com/Mindburn-Labs/treasury/pkg/identity"
	"github.com/Mindburn-Labs/treasury/pkg/observability"
	"github.com/Mindburn-Labs/treasury/pkg/runlock"
	"github.com/Mindburn-Labs/treasury/pkg/settlement"
	"github.com/Mindburn-Labs/treasury/pkg/store"
	"github.com/Mindburn-Labs/treasury/pkg/treasury"
)

// app holds everything a command needs, built once from the environment.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend store.Backend
	obs     *observability.Provider
	redis   redis.UniversalClient
	svc     *treasury.Service
	relay   *settlement.Relay
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func setup(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := newLogger(cfg, logOut)
	slog.SetDefault(logger)

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	otelCfg := observability.DefaultConfig()
	otelCfg.Enabled = cfg.OTelEnabled
	otelCfg.OTLPEndpoint = cfg.OTelEndpoint
	otelCfg.Insecure = true
	if a.obs, err = observability.New(ctx, otelCfg); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}

	if a.backend, err = store.Open(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}

	var (
		locker    runlock.Locker = runlock.NewLocal()
		publisher settlement.Publisher
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.redis = client
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		locker = runlock.NewRedis(client, runlock.DefaultOptions())
		publisher = settlement.NewRedisStreamPublisher(client, cfg.SettlementStream, 0)
	} else {
		logger.Info("no REDIS_ADDR set, settlement events are logged only")
		publisher = settlement.NewLogPublisher(logger)
	}
	a.relay = settlement.NewRelay(a.backend, publisher,
		settlement.WithRate(cfg.RelayRate, 1),
		settlement.WithRelayLogger(logger),
	)

	var validator identity.Validator = identity.NameRule{}
	if len(cfg.KnownAccounts) > 0 {
		validator = identity.All(validator, identity.NewRegistry(cfg.KnownAccounts...))
	}

	a.svc, err = treasury.New(a.backend, treasury.Settings{
		Account:   cfg.Account,
		Symbol:    cfg.Symbol,
		Precision: cfg.Precision,
		Profile:   profile,
	},
		treasury.WithValidator(validator),
		treasury.WithGate(auth.RoleGate{Role: auth.RoleTreasurer}),
		treasury.WithLocker(locker),
		treasury.WithObservability(a.obs),
		treasury.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// operatorContext attaches the principal from TREASURY_TOKEN. Without a
// token the context carries no principal and gated commands are refused.
func (a *app) operatorContext(ctx context.Context) (context.Context, error) {
	if a.cfg.Token == "" {
		return ctx, nil
	}
	p, err := auth.ParseToken(a.cfg.Token, []byte(a.cfg.JWTSecret))
	if err != nil {
		return nil, err
	}
	return auth.WithPrincipal(ctx, p), nil
}

func (a *app) Close(ctx context.Context) {
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Error("close store", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.obs != nil {
		_ = a.obs.Shutdown(ctx)
	}
}
