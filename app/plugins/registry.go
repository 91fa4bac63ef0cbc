package plugins

import (
	"context"

	"github.com/kilianp07/roamgate/config"
	"github.com/kilianp07/roamgate/core/commandlog"
	"github.com/kilianp07/roamgate/core/factory"
	"github.com/kilianp07/roamgate/core/station"
	"github.com/kilianp07/roamgate/core/store"
)

// Backend registries keyed by the "backend" setting of each config section.
var (
	Stores      = factory.NewRegistry[config.StoreConfig, store.Store]("store")
	Presences   = factory.NewRegistry[config.PresenceConfig, station.Presence]("presence")
	CommandLogs = factory.NewRegistry[config.CommandLogConfig, commandlog.Store]("command log")
)

// NewStore opens the backend named by cfg.Backend.
func NewStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	return Stores.Create(ctx, cfg.Backend, cfg)
}

// NewPresence builds the tracker named by cfg.Backend.
func NewPresence(ctx context.Context, cfg config.PresenceConfig) (station.Presence, error) {
	return Presences.Create(ctx, cfg.Backend, cfg)
}

// NewCommandLog opens the log store named by cfg.Backend.
func NewCommandLog(ctx context.Context, cfg config.CommandLogConfig) (commandlog.Store, error) {
	return CommandLogs.Create(ctx, cfg.Backend, cfg)
}
