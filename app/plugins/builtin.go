package plugins

import (
	"context"
	"fmt"

	"github.com/kilianp07/roamgate/config"
	"github.com/kilianp07/roamgate/core/commandlog"
	"github.com/kilianp07/roamgate/core/station"
	"github.com/kilianp07/roamgate/core/store"
	"github.com/kilianp07/roamgate/infra/presence"
	"github.com/kilianp07/roamgate/infra/store/fixtures"
	"github.com/kilianp07/roamgate/infra/store/memory"
	"github.com/kilianp07/roamgate/infra/store/postgres"
)

func init() {
	Stores.MustRegister("memory", func(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
		s := memory.New()
		if cfg.Fixtures == "" {
			return s, nil
		}
		sets, err := fixtures.Load(cfg.Fixtures)
		if err != nil {
			return nil, fmt.Errorf("load fixtures: %w", err)
		}
		if _, err := fixtures.Apply(ctx, s, sets); err != nil {
			return nil, err
		}
		return s, nil
	})
	Stores.MustRegister("postgres", func(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
		s, err := postgres.New(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close() //nolint:errcheck
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return s, nil
	})

	Presences.MustRegister("always", func(context.Context, config.PresenceConfig) (station.Presence, error) {
		return presence.Always{}, nil
	})
	Presences.MustRegister("memory", func(_ context.Context, cfg config.PresenceConfig) (station.Presence, error) {
		return presence.NewMemory(cfg.TTL()), nil
	})
	Presences.MustRegister("redis", func(_ context.Context, cfg config.PresenceConfig) (station.Presence, error) {
		r, err := presence.NewRedis(cfg.RedisURL, cfg.TTL())
		if err != nil {
			return nil, err
		}
		return r, nil
	})

	CommandLogs.MustRegister("jsonl", func(_ context.Context, cfg config.CommandLogConfig) (commandlog.Store, error) {
		s, err := commandlog.NewJSONLStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	CommandLogs.MustRegister("rotating", func(_ context.Context, cfg config.CommandLogConfig) (commandlog.Store, error) {
		s, err := commandlog.NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	CommandLogs.MustRegister("sqlite", func(_ context.Context, cfg config.CommandLogConfig) (commandlog.Store, error) {
		s, err := commandlog.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	CommandLogs.MustRegister("memory", func(_ context.Context, cfg config.CommandLogConfig) (commandlog.Store, error) {
		return commandlog.NewMemoryStore(cfg.MaxEntries), nil
	})
}
