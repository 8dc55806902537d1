package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"fitchat/internal/realtime"
)

// Presence publishes the local user's online status for one community and
// tracks who else is online.
type Presence struct {
	store     realtime.Store
	community string
	username  string
	fallback  *disconnectFallback
	logger    *slog.Logger

	mu     sync.RWMutex
	online map[string]bool
}

func NewPresence(store realtime.Store, community, username string, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{
		store:     store,
		community: community,
		username:  username,
		fallback:  &disconnectFallback{store: store, path: presenceEntryPath(community, username)},
		logger:    logger,
		online:    make(map[string]bool),
	}
}

// Enter overwrites the user's entry with online=true and registers the
// offline fallback for this connection. The fallback is registered even when
// the online write fails. Neither step is retried.
func (p *Presence) Enter(ctx context.Context) error {
	var setErr error
	if err := p.store.Set(ctx, presenceEntryPath(p.community, p.username), onlineEntry()); err != nil {
		setErr = fmt.Errorf("failed to publish presence: %w", err)
	}
	return errors.Join(setErr, p.fallback.register(ctx))
}

// Leave writes online=false explicitly, so peers do not have to wait for the
// store to notice the connection is gone, and drops the fallback.
func (p *Presence) Leave(ctx context.Context) error {
	if err := p.store.Set(ctx, presenceEntryPath(p.community, p.username), offlineEntry()); err != nil {
		return fmt.Errorf("failed to publish offline presence: %w", err)
	}
	if err := p.fallback.cancel(ctx); err != nil {
		p.logger.Warn("failed to cancel disconnect fallback", "community", p.community, "username", p.username, "error", err)
	}
	return nil
}

// Apply replaces the local online set with the one in snap.
func (p *Presence) Apply(snap realtime.Snapshot) {
	online := OnlineUsers(snap)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = online
}

// Online returns the sorted usernames currently online.
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	users := make([]string, 0, len(p.online))
	for u := range p.online {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (p *Presence) IsOnline(username string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online[username]
}

// OnlineUsers extracts the set of users whose entry says online=true.
// Missing or malformed entries count as offline.
func OnlineUsers(snap realtime.Snapshot) map[string]bool {
	online := make(map[string]bool)
	for username, raw := range snap.Children() {
		var entry PresenceEntry
		if err := realtime.Decode(raw, &entry); err != nil {
			continue
		}
		if entry.Online {
			online[username] = true
		}
	}
	return online
}
