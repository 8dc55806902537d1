package realtime

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("connection closed")

// Store is the capability a client needs from the realtime database.
// It is implemented by an in-process *Session and by the websocket client.
type Store interface {
	// Set overwrites the value at path. A nil value removes it.
	Set(ctx context.Context, path string, value any) error
	// Push appends value under path with a generated, creation ordered key.
	Push(ctx context.Context, path string, value any) (string, error)
	// Subscribe streams the full value at path: first the current value,
	// then once per change, until the subscription is closed.
	Subscribe(ctx context.Context, path string) (Subscription, error)
	// OnDisconnect registers a write the database applies once when this
	// connection goes away. A later registration on the same path replaces it.
	OnDisconnect(ctx context.Context, path string, value any) error
	// CancelOnDisconnect drops a pending registration for path.
	CancelOnDisconnect(ctx context.Context, path string) error
}

type Subscription interface {
	Updates() <-chan Snapshot
	Close() error
}

// Snapshot is the full value at a path at some point in time.
type Snapshot struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Decode converts the snapshot value into v.
func (s Snapshot) Decode(v any) error {
	return Decode(s.Value, v)
}

// Children returns the value as a map of child key to child value.
// A missing or scalar value yields an empty map.
func (s Snapshot) Children() map[string]any {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

// Mailbox is a FIFO of snapshots that never blocks the producer: when it is
// full the oldest snapshot is dropped. Since every snapshot carries the whole
// value, consumers only ever skip intermediate states.
type Mailbox struct {
	ch chan Snapshot
}

func NewMailbox(size int) *Mailbox {
	if size < 1 {
		size = 1
	}
	return &Mailbox{ch: make(chan Snapshot, size)}
}

func (m *Mailbox) C() <-chan Snapshot {
	return m.ch
}

// Put must not be called concurrently with itself or after Close.
func (m *Mailbox) Put(s Snapshot) {
	for {
		select {
		case m.ch <- s:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

func (m *Mailbox) Close() {
	close(m.ch)
}
