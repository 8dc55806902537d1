package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultSubscriptionBuffer = 16

// Persister stores the tree durably. ReplaceSubtree receives resolved values
// only, nil meaning removal.
type Persister interface {
	ReplaceSubtree(path string, value any) error
	LoadTree() (map[string]any, error)
}

type Config struct {
	Persister          Persister
	SubscriptionBuffer int
	Now                func() time.Time
	Logger             *slog.Logger
}

// Database is an in-memory keyed tree with full-snapshot subscriptions and
// per-connection disconnect hooks.
type Database struct {
	cfg Config

	mu       sync.Mutex
	tree     *tree
	subs     map[*localSubscription]struct{}
	sessions map[*Session]struct{}
	closed   bool
}

func NewDatabase(cfg Config) (*Database, error) {
	if cfg.SubscriptionBuffer <= 0 {
		cfg.SubscriptionBuffer = DefaultSubscriptionBuffer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var root map[string]any
	if cfg.Persister != nil {
		loaded, err := cfg.Persister.LoadTree()
		if err != nil {
			return nil, fmt.Errorf("failed to load tree: %w", err)
		}
		resolved, err := resolve(loaded, cfg.Now().UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("stored tree is invalid: %w", err)
		}
		root, _ = resolved.(map[string]any)
	}

	return &Database{
		cfg:      cfg,
		tree:     newTree(root),
		subs:     make(map[*localSubscription]struct{}),
		sessions: make(map[*Session]struct{}),
	}, nil
}

// Connect opens a session. Closing it fires its disconnect hooks.
func (db *Database) Connect(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		id:   id,
		db:   db,
		subs: make(map[*localSubscription]struct{}),
	}

	db.mu.Lock()
	if db.closed {
		s.closed = true
	} else {
		db.sessions[s] = struct{}{}
	}
	db.mu.Unlock()

	return s
}

// Get returns the current value at path.
func (db *Database) Get(path string) (Snapshot, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return Snapshot{Path: JoinPath(segs...), Value: db.tree.get(segs)}, nil
}

// Sessions returns the number of open sessions.
func (db *Database) Sessions() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.sessions)
}

// Close closes every session, which applies their disconnect hooks, and
// rejects further writes.
func (db *Database) Close() error {
	db.mu.Lock()
	sessions := make([]*Session, 0, len(db.sessions))
	for s := range db.sessions {
		sessions = append(sessions, s)
	}
	db.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}

	db.mu.Lock()
	db.closed = true
	db.mu.Unlock()
	return nil
}

func (db *Database) write(segs []string, raw any) error {
	if len(segs) == 0 {
		return fmt.Errorf("%w: cannot write the root", ErrInvalidPath)
	}
	normalized, err := Normalize(raw)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}

	v, err := resolve(normalized, db.cfg.Now().UnixMilli())
	if err != nil {
		return err
	}

	if db.cfg.Persister != nil {
		if err := db.cfg.Persister.ReplaceSubtree(JoinPath(segs...), v); err != nil {
			return fmt.Errorf("failed to persist %s: %w", JoinPath(segs...), err)
		}
	}

	db.tree.set(segs, v)

	for sub := range db.subs {
		if related(sub.segs, segs) {
			sub.box.Put(Snapshot{Path: sub.path, Value: db.tree.get(sub.segs)})
		}
	}
	return nil
}

func (db *Database) subscribe(s *Session, segs []string) *localSubscription {
	sub := &localSubscription{
		path:    JoinPath(segs...),
		segs:    segs,
		box:     NewMailbox(db.cfg.SubscriptionBuffer),
		session: s,
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	sub.box.Put(Snapshot{Path: sub.path, Value: db.tree.get(segs)})
	db.subs[sub] = struct{}{}
	return sub
}

func (db *Database) unsubscribe(sub *localSubscription) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.subs[sub]; !ok {
		return
	}
	delete(db.subs, sub)
	sub.box.Close()
}

func (db *Database) removeSession(s *Session) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.sessions, s)
}

type pendingWrite struct {
	path  string
	segs  []string
	value any
}

// Session is one client connection to the database. It implements Store.
type Session struct {
	id string
	db *Database

	mu        sync.Mutex
	subs      map[*localSubscription]struct{}
	fallbacks []pendingWrite
	closed    bool
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Session) Set(ctx context.Context, path string, value any) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	return s.db.write(segs, value)
}

func (s *Session) Push(ctx context.Context, path string, value any) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	segs, err := SplitPath(path)
	if err != nil {
		return "", err
	}
	key, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	if err := s.db.write(append(segs, key.String()), value); err != nil {
		return "", err
	}
	return key.String(), nil
}

func (s *Session) Subscribe(ctx context.Context, path string) (Subscription, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}

	sub := s.db.subscribe(s, segs)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.db.unsubscribe(sub)
		return nil, ErrClosed
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	return sub, nil
}

func (s *Session) OnDisconnect(ctx context.Context, path string, value any) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return fmt.Errorf("%w: cannot write the root", ErrInvalidPath)
	}
	v, err := Normalize(value)
	if err != nil {
		return err
	}

	p := JoinPath(segs...)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.fallbacks {
		if s.fallbacks[i].path == p {
			s.fallbacks[i].value = v
			return nil
		}
	}
	s.fallbacks = append(s.fallbacks, pendingWrite{path: p, segs: segs, value: v})
	return nil
}

func (s *Session) CancelOnDisconnect(ctx context.Context, path string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}

	p := JoinPath(segs...)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.fallbacks {
		if s.fallbacks[i].path == p {
			s.fallbacks = append(s.fallbacks[:i], s.fallbacks[i+1:]...)
			return nil
		}
	}
	return nil
}

// Close ends the session: subscriptions are closed and the registered
// disconnect writes are applied, once, in registration order.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	fallbacks := s.fallbacks
	s.fallbacks = nil
	s.mu.Unlock()

	for sub := range subs {
		s.db.unsubscribe(sub)
	}

	for _, fw := range fallbacks {
		if err := s.db.write(fw.segs, fw.value); err != nil {
			s.db.cfg.Logger.Error("disconnect write failed", "session", s.id, "path", fw.path, "error", err)
		}
	}

	s.db.removeSession(s)
	return nil
}

func (s *Session) forget(sub *localSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

type localSubscription struct {
	path    string
	segs    []string
	box     *Mailbox
	session *Session
}

func (l *localSubscription) Updates() <-chan Snapshot {
	return l.box.C()
}

func (l *localSubscription) Close() error {
	l.session.forget(l)
	l.session.db.unsubscribe(l)
	return nil
}
