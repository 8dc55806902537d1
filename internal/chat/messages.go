package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"fitchat/internal/content"
	"fitchat/internal/realtime"
)

// MessageStream appends to a community log and keeps a local, timestamp
// ordered copy of it.
type MessageStream struct {
	store     realtime.Store
	community string
	username  string
	receipts  *Receipts
	autoRead  bool
	logger    *slog.Logger

	mu   sync.RWMutex
	view []Message
}

func NewMessageStream(store realtime.Store, community, username string, receipts *Receipts, autoRead bool, logger *slog.Logger) *MessageStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageStream{
		store:     store,
		community: community,
		username:  username,
		receipts:  receipts,
		autoRead:  autoRead,
		logger:    logger,
	}
}

// Send appends text as a new message by the local user and marks it read by
// them once the append is acknowledged. Blank text is ignored and yields an
// empty id. Failures are returned but never retried.
func (m *MessageStream) Send(ctx context.Context, text string) (string, error) {
	text = content.MessageText(text)
	if text == "" {
		return "", nil
	}

	id, err := m.store.Push(ctx, messagesPath(m.community), map[string]any{
		"text":      text,
		"userName":  m.username,
		"timestamp": realtime.ServerTimestamp(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if err := m.receipts.MarkRead(ctx, id, m.username); err != nil {
		return id, err
	}
	return id, nil
}

// Apply replaces the local view with the log in snap and, unless disabled,
// marks every message in it read by the local user.
func (m *MessageStream) Apply(ctx context.Context, snap realtime.Snapshot) []error {
	msgs := Materialize(snap)

	m.mu.Lock()
	m.view = msgs
	m.mu.Unlock()

	if !m.autoRead {
		return nil
	}
	return m.markVisibleRead(ctx, msgs)
}

// markVisibleRead treats delivery as reading: every message handed to this
// subscription counts as seen by the local user.
func (m *MessageStream) markVisibleRead(ctx context.Context, msgs []Message) []error {
	var errs []error
	for _, msg := range msgs {
		if err := m.receipts.MarkRead(ctx, msg.ID, m.username); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Messages returns a copy of the current view.
func (m *MessageStream) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.view))
	copy(out, m.view)
	return out
}

func (m *MessageStream) Lookup(id string) (Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.view {
		if msg.ID == id {
			return msg, true
		}
	}
	return Message{}, false
}

// Materialize decodes a message log snapshot and orders it by server
// timestamp, then by id for messages written in the same millisecond.
// Entries that cannot be decoded are skipped.
func Materialize(snap realtime.Snapshot) []Message {
	children := snap.Children()
	msgs := make([]Message, 0, len(children))
	for id, raw := range children {
		var msg Message
		if err := realtime.Decode(raw, &msg); err != nil {
			continue
		}
		msg.ID = id
		msgs = append(msgs, msg)
	}

	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}
