package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fitchat/internal/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const community = "42"

type clock struct {
	ms atomic.Int64
}

func (c *clock) now() time.Time {
	return time.UnixMilli(c.ms.Load())
}

func newTestDB(t *testing.T, start int64) (*realtime.Database, *clock) {
	t.Helper()
	c := &clock{}
	c.ms.Store(start)
	db, err := realtime.NewDatabase(realtime.Config{Now: c.now})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, c
}

func join(t *testing.T, store realtime.Store, username string, autoRead bool) *Session {
	t.Helper()
	s, err := Join(context.Background(), store, Config{
		Community:       community,
		Username:        username,
		DisableAutoRead: !autoRead,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func eventually(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msgAndArgs...)
}

func presenceOf(t *testing.T, db *realtime.Database, username string) PresenceEntry {
	t.Helper()
	snap, err := db.Get(presenceEntryPath(community, username))
	require.NoError(t, err)
	var entry PresenceEntry
	require.NoError(t, snap.Decode(&entry))
	return entry
}

func TestScenario_SendAlone(t *testing.T) {
	db, _ := newTestDB(t, 1000)
	ana := join(t, db.Connect("ana"), "ana", true)

	id, err := ana.Send(context.Background(), "Hola")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	eventually(t, func() bool { return len(ana.Messages()) == 1 })
	assert.Equal(t, []Message{{ID: id, Text: "Hola", AuthorName: "ana", Timestamp: 1000}}, ana.Messages())

	eventually(t, func() bool { return len(ana.Readers(id)) == 1 })
	assert.Equal(t, []string{"ana"}, ana.Readers(id))

	eventually(t, func() bool { return len(ana.Online()) == 1 })
	assert.Equal(t, ReadStatus{ReadByMe: true, ReadByAll: false}, ana.Status(id))
}

func TestScenario_PeerJoinsAndReads(t *testing.T) {
	db, _ := newTestDB(t, 1000)
	ana := join(t, db.Connect("ana"), "ana", true)

	id, err := ana.Send(context.Background(), "Hola")
	require.NoError(t, err)

	beto := join(t, db.Connect("beto"), "beto", true)

	eventually(t, func() bool { return beto.Status(id).ReadByMe }, "beto should auto read Hola")
	eventually(t, func() bool { return ana.Status(id).ReadByAll }, "Hola should be read by all")
	assert.Equal(t, []string{"ana", "beto"}, ana.Online())
	assert.Equal(t, ReadStatus{ReadByMe: true, ReadByAll: true}, ana.Status(id))
}

func TestScenario_PeerCrashesBeforeReading(t *testing.T) {
	db, clk := newTestDB(t, 1000)
	ana := join(t, db.Connect("ana"), "ana", true)

	id, err := ana.Send(context.Background(), "Hola")
	require.NoError(t, err)

	betoConn := db.Connect("beto")
	_ = join(t, betoConn, "beto", false)

	eventually(t, func() bool { return len(ana.Online()) == 2 })
	eventually(t, func() bool { return ana.Status(id).ReadByMe })
	assert.False(t, ana.Status(id).ReadByAll, "beto is online and has not read")

	// The connection drops without a clean leave: the fallback fires.
	clk.ms.Store(5000)
	require.NoError(t, betoConn.Close())

	eventually(t, func() bool { return len(ana.Online()) == 1 })
	assert.Equal(t, []string{"ana"}, ana.Online())
	assert.Equal(t, ReadStatus{ReadByMe: true, ReadByAll: false}, ana.Status(id))
	assert.Equal(t, PresenceEntry{Online: false, LastSeen: 5000}, presenceOf(t, db, "beto"))
}

func TestScenario_OutOfOrderSnapshots(t *testing.T) {
	stream := NewMessageStream(nil, community, "ana", nil, false, nil)
	ctx := context.Background()

	late := map[string]any{"text": "second", "userName": "beto", "timestamp": int64(2000)}
	early := map[string]any{"text": "first", "userName": "ana", "timestamp": int64(1000)}

	stream.Apply(ctx, realtime.Snapshot{Value: map[string]any{"m2": late}})
	require.Len(t, stream.Messages(), 1)

	stream.Apply(ctx, realtime.Snapshot{Value: map[string]any{"m2": late, "m1": early}})
	msgs := stream.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "second", msgs[1].Text)
}

func TestMaterialize_Ordering(t *testing.T) {
	value := make(map[string]any)
	for i := 0; i < 100; i++ {
		// Keys deliberately unrelated to timestamps.
		value[fmt.Sprintf("k%03d", (i*37)%100)] = map[string]any{
			"text":      fmt.Sprintf("msg %d", i),
			"userName":  "ana",
			"timestamp": int64(1000 + (i*7)%50),
		}
	}

	for round := 0; round < 5; round++ {
		msgs := Materialize(realtime.Snapshot{Value: value})
		require.Len(t, msgs, 100)
		for i := 1; i < len(msgs); i++ {
			prev, cur := msgs[i-1], msgs[i]
			require.LessOrEqual(t, prev.Timestamp, cur.Timestamp)
			if prev.Timestamp == cur.Timestamp {
				require.Less(t, prev.ID, cur.ID, "ties are broken by id")
			}
		}
	}
}

func TestMaterialize_EmptyAndMalformed(t *testing.T) {
	assert.Empty(t, Materialize(realtime.Snapshot{}))
	assert.Empty(t, Materialize(realtime.Snapshot{Value: "not a log"}))

	msgs := Materialize(realtime.Snapshot{Value: map[string]any{
		"ok":  map[string]any{"text": "Hola", "userName": "ana", "timestamp": int64(1)},
		"bad": "garbage",
	}})
	require.Len(t, msgs, 1)
	assert.Equal(t, "ok", msgs[0].ID)
}

func TestDeriveStatus(t *testing.T) {
	set := func(users ...string) map[string]bool {
		m := make(map[string]bool)
		for _, u := range users {
			m[u] = true
		}
		return m
	}

	tests := []struct {
		name        string
		readers     map[string]bool
		author      string
		currentUser string
		online      []string
		want        ReadStatus
	}{
		{"Nobody at all", nil, "ana", "ana", nil, ReadStatus{}},
		{"Author alone", set("ana"), "ana", "ana", []string{"ana"}, ReadStatus{ReadByMe: true}},
		{"Peer online unread", set("ana"), "ana", "ana", []string{"ana", "beto"}, ReadStatus{ReadByMe: true}},
		{"Peer online read", set("ana", "beto"), "ana", "ana", []string{"ana", "beto"}, ReadStatus{ReadByMe: true, ReadByAll: true}},
		{"Peer read then left", set("ana", "beto"), "ana", "ana", []string{"ana"}, ReadStatus{ReadByMe: true, ReadByAll: true}},
		{"New peer online", set("ana", "beto"), "ana", "ana", []string{"ana", "carla"}, ReadStatus{ReadByMe: true}},
		{"Viewed by a reader", set("ana", "beto"), "ana", "beto", []string{"beto"}, ReadStatus{ReadByMe: true, ReadByAll: true}},
		{"Viewed by a non reader", set("ana"), "ana", "beto", []string{"beto"}, ReadStatus{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.readers, tt.author, tt.currentUser, tt.online))
		})
	}
}

func TestDeriveStatus_MonotonicUnderFixedCandidates(t *testing.T) {
	readers := map[string]bool{"beto": true, "carla": true}
	online := []string{"beto", "carla"}
	require.True(t, DeriveStatus(readers, "ana", "ana", online).ReadByAll)

	// More receipts from the same candidates, or the author, keep it true.
	readers["ana"] = true
	assert.True(t, DeriveStatus(readers, "ana", "ana", online).ReadByAll)

	// Candidates going offline keep it true: their receipts still count.
	assert.True(t, DeriveStatus(readers, "ana", "ana", nil).ReadByAll)

	// Only a growing candidate set can turn it false.
	assert.False(t, DeriveStatus(readers, "ana", "ana", append(online, "dani")).ReadByAll)
}

type countingStore struct {
	realtime.Store
	mu         sync.Mutex
	sets       map[string]int
	failPush   error
	failSetFor string

	failSubscribe error
}

func (c *countingStore) Set(ctx context.Context, path string, value any) error {
	c.mu.Lock()
	if c.sets == nil {
		c.sets = make(map[string]int)
	}
	c.sets[path]++
	fail := c.failSetFor != "" && path == c.failSetFor
	c.mu.Unlock()
	if fail {
		return errors.New("connection lost")
	}
	return c.Store.Set(ctx, path, value)
}

func (c *countingStore) Push(ctx context.Context, path string, value any) (string, error) {
	if c.failPush != nil {
		return "", c.failPush
	}
	return c.Store.Push(ctx, path, value)
}

func (c *countingStore) Subscribe(ctx context.Context, path string) (realtime.Subscription, error) {
	if c.failSubscribe != nil {
		return nil, c.failSubscribe
	}
	return c.Store.Subscribe(ctx, path)
}

func (c *countingStore) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets[path]
}

func TestReceipts_MarkReadIdempotent(t *testing.T) {
	db, _ := newTestDB(t, 1000)
	store := &countingStore{Store: db.Connect("ana")}
	ctx := context.Background()

	r := NewReceipts(store, community)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.MarkRead(ctx, "m1", "ana"))
	}
	assert.Equal(t, 1, store.count(receiptPath(community, "m1", "ana")))

	// Without local suppression the stored state is the same.
	for i := 0; i < 3; i++ {
		require.NoError(t, NewReceipts(store, community).MarkRead(ctx, "m1", "ana"))
	}
	snap, err := db.Get(receiptsPath(community))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"m1": map[string]any{"ana": true}}, snap.Value)
}

func TestReceipts_ApplyReplacesWholesale(t *testing.T) {
	r := NewReceipts(nil, community)
	r.Apply(realtime.Snapshot{Value: map[string]any{
		"m1": map[string]any{"ana": true, "beto": true},
		"m2": map[string]any{"ana": false},
		"m3": "garbage",
	}})
	assert.Equal(t, []string{"ana", "beto"}, r.Readers("m1"))
	assert.Empty(t, r.Readers("m2"))
	assert.Empty(t, r.Readers("m3"))

	r.Apply(realtime.Snapshot{})
	assert.Empty(t, r.Readers("m1"))
	assert.False(t, r.HasRead("m1", "ana"))
}

func TestPresence_EnterTwice(t *testing.T) {
	db, clk := newTestDB(t, 1000)
	ctx := context.Background()
	conn := db.Connect("ana")
	p := NewPresence(conn, community, "ana", nil)

	require.NoError(t, p.Enter(ctx))
	first := presenceOf(t, db, "ana")

	clk.ms.Store(2000)
	require.NoError(t, p.Enter(ctx))
	second := presenceOf(t, db, "ana")

	assert.Equal(t, first.Online, second.Online)
	assert.Equal(t, int64(1000), first.LastSeen)
	assert.Equal(t, int64(2000), second.LastSeen)

	snap, err := db.Get(presencePath(community))
	require.NoError(t, err)
	p.Apply(snap)
	assert.Equal(t, []string{"ana"}, p.Online())
}

func TestOnlineUsers(t *testing.T) {
	online := OnlineUsers(realtime.Snapshot{Value: map[string]any{
		"ana":   map[string]any{"online": true, "lastSeen": int64(1)},
		"beto":  map[string]any{"online": false, "lastSeen": int64(1)},
		"carla": "garbage",
		"dani":  map[string]any{"lastSeen": int64(1)},
	}})
	assert.Equal(t, map[string]bool{"ana": true}, online)
	assert.Empty(t, OnlineUsers(realtime.Snapshot{}))
}

func TestSession_SendBlankIsNoop(t *testing.T) {
	db, _ := newTestDB(t, 1000)
	ana := join(t, db.Connect("ana"), "ana", true)

	for _, text := range []string{"", "   ", "\n\t"} {
		id, err := ana.Send(context.Background(), text)
		require.NoError(t, err)
		assert.Empty(t, id)
	}

	snap, err := db.Get(messagesPath(community))
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestSession_SendFailureReported(t *testing.T) {
	db, _ := newTestDB(t, 1000)
	store := &countingStore{Store: db.Connect("ana"), failPush: errors.New("connection lost")}

	var mu sync.Mutex
	var reported []error
	s, err := Join(context.Background(), store, Config{
		Community: community,
		Username:  "ana",
		OnError: func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer func() { _ = s.Close(context.Background()) }()

	_, err = s.Send(context.Background(), "Hola")
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.ErrorContains(t, reported[0], "connection lost")
}

func TestSession_PresenceFailureDoesNotFailJoin(t *testing.T) {
	db, clk := newTestDB(t, 1000)
	conn := db.Connect("ana")
	store := &countingStore{
		Store:      conn,
		failSetFor: presenceEntryPath(community, "ana"),
	}

	errCh := make(chan error, 4)
	s, err := Join(context.Background(), store, Config{
		Community: community,
		Username:  "ana",
		OnError:   func(err error) { errCh <- err },
	})
	require.NoError(t, err)
	defer func() { _ = s.Close(context.Background()) }()

	select {
	case err := <-errCh:
		assert.ErrorContains(t, err, "failed to publish presence")
	case <-time.After(time.Second):
		t.Fatal("presence failure was not reported")
	}

	// No entry means offline.
	assert.Empty(t, s.Online())

	// The fallback was registered anyway.
	clk.ms.Store(2000)
	require.NoError(t, conn.Close())
	assert.Equal(t, PresenceEntry{Online: false, LastSeen: 2000}, presenceOf(t, db, "ana"))
}

func TestPresence_EnterReportsBothFailures(t *testing.T) {
	db, _ := newTestDB(t, 1000)
	conn := db.Connect("ana")
	require.NoError(t, conn.Close())

	err := NewPresence(conn, community, "ana", nil).Enter(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to publish presence")
	assert.ErrorContains(t, err, "failed to register disconnect fallback")
}

func TestSession_SubscribeFailureGoesOffline(t *testing.T) {
	db, clk := newTestDB(t, 1000)
	conn := db.Connect("ana")
	store := &countingStore{Store: conn, failSubscribe: errors.New("connection lost")}

	_, err := Join(context.Background(), store, Config{Community: community, Username: "ana"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to subscribe")
	assert.Equal(t, PresenceEntry{Online: false, LastSeen: 1000}, presenceOf(t, db, "ana"))

	// The fallback is gone too, so nothing is written when the connection ends.
	clk.ms.Store(2000)
	require.NoError(t, conn.Close())
	assert.Equal(t, PresenceEntry{Online: false, LastSeen: 1000}, presenceOf(t, db, "ana"))
}

func TestSession_SendKeepsTextVerbatim(t *testing.T) {
	db, _ := newTestDB(t, 1000)
	ana := join(t, db.Connect("ana"), "ana", false)

	texts := []string{"Tom & Jerry", "2 < 3", `she said "hi"`, "<b></b>"}
	ids := make([]string, len(texts))
	for i, text := range texts {
		id, err := ana.Send(context.Background(), "  "+text+" ")
		require.NoError(t, err)
		ids[i] = id
	}

	eventually(t, func() bool { return len(ana.Messages()) == len(texts) })
	for i, id := range ids {
		snap, err := db.Get(realtime.JoinPath(messagesPath(community), id, "text"))
		require.NoError(t, err)
		assert.Equal(t, texts[i], snap.Value)

		msg, ok := ana.messages.Lookup(id)
		require.True(t, ok)
		assert.Equal(t, texts[i], msg.Text)
	}
}

func TestSession_CloseGoesOfflineAndCancelsFallback(t *testing.T) {
	db, clk := newTestDB(t, 1000)
	conn := db.Connect("ana")
	s, err := Join(context.Background(), conn, Config{Community: community, Username: "ana"})
	require.NoError(t, err)

	eventually(t, func() bool { return len(s.Online()) == 1 })

	clk.ms.Store(2000)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, PresenceEntry{Online: false, LastSeen: 2000}, presenceOf(t, db, "ana"))

	for range s.Updates() {
	}

	// A cancelled fallback does not write again when the connection ends.
	clk.ms.Store(3000)
	require.NoError(t, conn.Close())
	assert.Equal(t, PresenceEntry{Online: false, LastSeen: 2000}, presenceOf(t, db, "ana"))
}

func TestSession_ReconnectReregistersFallback(t *testing.T) {
	db, clk := newTestDB(t, 1000)

	first := db.Connect("ana-1")
	_ = join(t, first, "ana", true)
	require.NoError(t, first.Close())
	assert.False(t, presenceOf(t, db, "ana").Online)

	clk.ms.Store(2000)
	second := db.Connect("ana-2")
	_ = join(t, second, "ana", true)
	assert.True(t, presenceOf(t, db, "ana").Online)

	clk.ms.Store(3000)
	require.NoError(t, second.Close())
	assert.Equal(t, PresenceEntry{Online: false, LastSeen: 3000}, presenceOf(t, db, "ana"))
}

func TestSession_Updates(t *testing.T) {
	db, _ := newTestDB(t, 1000)
	ana := join(t, db.Connect("ana"), "ana", true)

	id, err := ana.Send(context.Background(), "Hola")
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-ana.Updates():
		case <-deadline:
			t.Fatal("message never showed up")
		}
		view := ana.View()
		if len(view) == 1 && view[0].ID == id && view[0].ReadByMe {
			return
		}
	}
}

func TestJoin_Validation(t *testing.T) {
	db, _ := newTestDB(t, 1000)
	_, err := Join(context.Background(), db.Connect(""), Config{Community: "", Username: "ana"})
	assert.Error(t, err)
	_, err = Join(context.Background(), db.Connect(""), Config{Community: community, Username: "ana/beto"})
	assert.Error(t, err)
}
