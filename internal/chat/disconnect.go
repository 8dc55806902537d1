package chat

import (
	"context"
	"fmt"

	"fitchat/internal/realtime"
)

// disconnectFallback keeps the one pending offline write a connection holds
// for its user's presence entry. Liveness detection belongs to the store.
type disconnectFallback struct {
	store realtime.Store
	path  string
}

// register must run on every new connection: registrations live and die with
// the connection that made them.
func (d *disconnectFallback) register(ctx context.Context) error {
	if err := d.store.OnDisconnect(ctx, d.path, offlineEntry()); err != nil {
		return fmt.Errorf("failed to register disconnect fallback: %w", err)
	}
	return nil
}

func (d *disconnectFallback) cancel(ctx context.Context) error {
	return d.store.CancelOnDisconnect(ctx, d.path)
}
