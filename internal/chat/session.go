package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"fitchat/internal/content"
	"fitchat/internal/realtime"
)

type Config struct {
	Community string
	Username  string

	// DisableAutoRead stops the session from marking every delivered
	// message as read.
	DisableAutoRead bool

	// OnError receives failures of background writes (presence, receipts)
	// that have no caller to return to. Optional.
	OnError func(error)

	Logger *slog.Logger
}

// Session is one user's view of one community chat.
type Session struct {
	cfg      Config
	logger   *slog.Logger
	presence *Presence
	messages *MessageStream
	receipts *Receipts

	ctx     context.Context
	cancel  context.CancelFunc
	subs    []realtime.Subscription
	wg      sync.WaitGroup
	updates chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Join enters the community chat: it publishes presence, registers the
// disconnect fallback and starts following presence, messages and receipts.
// A failed presence write is reported but does not fail the join. If a
// subscription cannot be opened the user is taken offline again.
func Join(ctx context.Context, store realtime.Store, cfg Config) (*Session, error) {
	if err := content.ValidateCommunityID(cfg.Community); err != nil {
		return nil, err
	}
	if err := content.ValidateUsername(cfg.Username); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("community", cfg.Community, "username", cfg.Username)

	receipts := NewReceipts(store, cfg.Community)
	s := &Session{
		cfg:      cfg,
		logger:   logger,
		presence: NewPresence(store, cfg.Community, cfg.Username, logger),
		receipts: receipts,
		messages: NewMessageStream(store, cfg.Community, cfg.Username, receipts, !cfg.DisableAutoRead, logger),
		updates:  make(chan struct{}, 1),
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := s.presence.Enter(ctx); err != nil {
		s.report(err)
	}

	follows := []struct {
		path  string
		apply func(realtime.Snapshot)
	}{
		{presencePath(cfg.Community), s.presence.Apply},
		{receiptsPath(cfg.Community), s.receipts.Apply},
		{messagesPath(cfg.Community), func(snap realtime.Snapshot) {
			for _, err := range s.messages.Apply(s.ctx, snap) {
				s.report(err)
			}
		}},
	}

	for _, f := range follows {
		sub, err := store.Subscribe(ctx, f.path)
		if err != nil {
			s.cancel()
			for _, opened := range s.subs {
				_ = opened.Close()
			}
			s.wg.Wait()
			if lerr := s.presence.Leave(ctx); lerr != nil {
				logger.Warn("failed to leave after join error", "error", lerr)
			}
			return nil, fmt.Errorf("failed to subscribe to %s: %w", f.path, err)
		}
		s.subs = append(s.subs, sub)
		s.wg.Go(func() {
			s.follow(sub, f.apply)
		})
	}

	logger.Info("joined chat")
	return s, nil
}

func (s *Session) follow(sub realtime.Subscription, apply func(realtime.Snapshot)) {
	for snap := range sub.Updates() {
		apply(snap)
		s.notify()
	}
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) report(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn("chat write failed", "error", err)
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}

// Send posts text to the community. Blank text is a no-op.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	id, err := s.messages.Send(ctx, text)
	if err != nil {
		s.report(err)
	}
	return id, err
}

// MarkRead records that the local user has seen messageID. Sessions that
// keep auto read enabled do this on their own.
func (s *Session) MarkRead(ctx context.Context, messageID string) error {
	return s.receipts.MarkRead(ctx, messageID, s.cfg.Username)
}

// Updates signals, coalesced, that some part of the local state changed.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) Messages() []Message {
	return s.messages.Messages()
}

func (s *Session) Online() []string {
	return s.presence.Online()
}

func (s *Session) Readers(messageID string) []string {
	return s.receipts.Readers(messageID)
}

// Status derives the read status of messageID from whatever presence and
// receipt state has arrived so far. Unknown messages are unread.
func (s *Session) Status(messageID string) ReadStatus {
	msg, ok := s.messages.Lookup(messageID)
	if !ok {
		return ReadStatus{}
	}
	return s.receipts.Status(msg, s.cfg.Username, s.presence.Online())
}

// View returns the ordered messages with their read status.
func (s *Session) View() []MessageView {
	msgs := s.messages.Messages()
	online := s.presence.Online()
	out := make([]MessageView, len(msgs))
	for i, msg := range msgs {
		out[i] = MessageView{
			Message:    msg,
			ReadStatus: s.receipts.Status(msg, s.cfg.Username, online),
		}
	}
	return out
}

// Close leaves the chat cleanly: presence goes offline explicitly and all
// subscriptions are torn down. The underlying store stays open.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.presence.Leave(ctx)
		s.cancel()
		for _, sub := range s.subs {
			_ = sub.Close()
		}
		s.wg.Wait()
		close(s.updates)
		s.logger.Info("left chat")
	})
	return s.closeErr
}
