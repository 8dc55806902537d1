package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fitchat/internal/realtime"
)

// Receipts records which users have seen which messages of a community.
// The receipt map only grows: a (message, user) pair, once true, stays true.
type Receipts struct {
	store     realtime.Store
	community string

	mu      sync.RWMutex
	readers map[string]map[string]bool
	written map[string]bool
}

func NewReceipts(store realtime.Store, community string) *Receipts {
	return &Receipts{
		store:     store,
		community: community,
		readers:   make(map[string]map[string]bool),
		written:   make(map[string]bool),
	}
}

// MarkRead records that username has seen messageID. Repeated calls leave the
// store unchanged; known receipts are not written again.
func (r *Receipts) MarkRead(ctx context.Context, messageID, username string) error {
	path := receiptPath(r.community, messageID, username)

	r.mu.RLock()
	known := r.readers[messageID][username] || r.written[path]
	r.mu.RUnlock()
	if known {
		return nil
	}

	if err := r.store.Set(ctx, path, true); err != nil {
		return fmt.Errorf("failed to mark %s read by %s: %w", messageID, username, err)
	}

	r.mu.Lock()
	r.written[path] = true
	r.mu.Unlock()
	return nil
}

// Apply replaces the local receipt map with the one in snap.
func (r *Receipts) Apply(snap realtime.Snapshot) {
	readers := ReceiptSets(snap)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers = readers
}

// Readers returns the sorted users with a receipt for messageID.
func (r *Receipts) Readers(messageID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.readers[messageID]))
	for u := range r.readers[messageID] {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (r *Receipts) HasRead(messageID, username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readers[messageID][username]
}

// Status derives the read status of msg as seen by currentUser.
func (r *Receipts) Status(msg Message, currentUser string, online []string) ReadStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return DeriveStatus(r.readers[msg.ID], msg.AuthorName, currentUser, online)
}

// ReceiptSets converts a readStatus snapshot into message id -> set of readers.
// Only entries set to true count.
func ReceiptSets(snap realtime.Snapshot) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for messageID, raw := range snap.Children() {
		users, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		set := make(map[string]bool, len(users))
		for u, seen := range users {
			if b, ok := seen.(bool); ok && b {
				set[u] = true
			}
		}
		if len(set) > 0 {
			out[messageID] = set
		}
	}
	return out
}

// DeriveStatus computes the read status of a message written by author.
//
// The candidate readers are everyone online plus everyone who ever read the
// message, minus the author. The message is read by all only when there is at
// least one candidate and every candidate has a receipt.
func DeriveStatus(readers map[string]bool, author, currentUser string, online []string) ReadStatus {
	status := ReadStatus{ReadByMe: readers[currentUser]}

	candidates := make(map[string]bool, len(online)+len(readers))
	for _, u := range online {
		candidates[u] = true
	}
	for u := range readers {
		candidates[u] = true
	}
	delete(candidates, author)

	if len(candidates) == 0 {
		return status
	}
	for u := range candidates {
		if !readers[u] {
			return status
		}
	}
	status.ReadByAll = true
	return status
}
