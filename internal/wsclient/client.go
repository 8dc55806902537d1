// Package wsclient is a realtime.Store that talks to a fitchat server over a
// websocket.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"fitchat/internal/models"
	"fitchat/internal/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrRejected wraps errors reported by the server for a single request.
var ErrRejected = errors.New("request rejected")

const unsubscribeTimeout = 5 * time.Second

type Options struct {
	// SubscriptionBuffer bounds the snapshots queued per subscription.
	SubscriptionBuffer int
	Logger             *slog.Logger
	Dialer             *websocket.Dialer
}

type Client struct {
	conn   *websocket.Conn
	opts   Options
	logger *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan models.ServerFrame
	subs    map[string]*subscription
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the realtime endpoint at url, authenticating with token.
func Dial(ctx context.Context, url, token string, opts Options) (*Client, error) {
	if opts.SubscriptionBuffer <= 0 {
		opts.SubscriptionBuffer = realtime.DefaultSubscriptionBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s (status %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		opts:    opts,
		logger:  opts.Logger,
		pending: make(map[uint64]chan models.ServerFrame),
		subs:    make(map[string]*subscription),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readLoop() {
	var err error
	defer func() { c.shutdown(err) }()

	for {
		var data []byte
		_, data, err = c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame models.ServerFrame
		if err = models.DecodeFrame(data, &frame); err != nil {
			return
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame models.ServerFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch frame.Type {
	case models.ServerFrameSnapshot:
		sub, ok := c.subs[frame.SubID]
		if !ok {
			return
		}
		sub.box.Put(realtime.Snapshot{Path: frame.Path, Value: realtime.Plain(frame.Value)})
	case models.ServerFrameAck, models.ServerFrameError:
		ch, ok := c.pending[frame.ID]
		if !ok {
			return
		}
		delete(c.pending, frame.ID)
		ch <- frame
	default:
		c.logger.Warn("unknown frame type", "type", frame.Type)
	}
}

// shutdown fails pending requests and ends all subscriptions.
func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	for id, sub := range c.subs {
		sub.box.Close()
		delete(c.subs, id)
	}
	c.mu.Unlock()

	_ = c.conn.Close()
	close(c.done)

	if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure) && !errors.Is(cause, errClientClosed) {
		c.logger.Warn("realtime connection lost", "error", cause)
	}
}

var errClientClosed = errors.New("client closed")

// Close ends the connection. The server then applies this client's
// disconnect writes.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.shutdown(errClientClosed)
	})
	return nil
}

func (c *Client) request(ctx context.Context, frame models.ClientFrame) (models.ServerFrame, error) {
	if err := ctx.Err(); err != nil {
		return models.ServerFrame{}, err
	}
	frame.ID = c.nextID.Add(1)
	reply := make(chan models.ServerFrame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.ServerFrame{}, realtime.ErrClosed
	}
	c.pending[frame.ID] = reply
	c.mu.Unlock()

	if err := c.write(frame); err != nil {
		c.forget(frame.ID)
		return models.ServerFrame{}, err
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return models.ServerFrame{}, realtime.ErrClosed
		}
		if resp.Type == models.ServerFrameError {
			return resp, fmt.Errorf("%w: %s", ErrRejected, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(frame.ID)
		return models.ServerFrame{}, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Client) write(frame models.ClientFrame) error {
	data, err := models.EncodeFrame(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %v", realtime.ErrClosed, err)
	}
	return nil
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	_, err := c.request(ctx, models.ClientFrame{Op: models.FrameOpSet, Path: path, Value: value})
	return err
}

func (c *Client) Push(ctx context.Context, path string, value any) (string, error) {
	resp, err := c.request(ctx, models.ClientFrame{Op: models.FrameOpPush, Path: path, Value: value})
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

// Subscribe registers the subscription locally before asking the server, so a
// snapshot that overtakes the ack is not lost.
func (c *Client) Subscribe(ctx context.Context, path string) (realtime.Subscription, error) {
	sub := &subscription{
		client: c,
		id:     uuid.NewString(),
		box:    realtime.NewMailbox(c.opts.SubscriptionBuffer),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, realtime.ErrClosed
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	if _, err := c.request(ctx, models.ClientFrame{Op: models.FrameOpSubscribe, Path: path, SubID: sub.id}); err != nil {
		sub.drop()
		return nil, err
	}
	return sub, nil
}

func (c *Client) OnDisconnect(ctx context.Context, path string, value any) error {
	_, err := c.request(ctx, models.ClientFrame{Op: models.FrameOpOnDisconnect, Path: path, Value: value})
	return err
}

func (c *Client) CancelOnDisconnect(ctx context.Context, path string) error {
	_, err := c.request(ctx, models.ClientFrame{Op: models.FrameOpCancelOnDisconnect, Path: path})
	return err
}

type subscription struct {
	client *Client
	id     string
	box    *realtime.Mailbox
}

func (s *subscription) Updates() <-chan realtime.Snapshot {
	return s.box.C()
}

// drop removes the subscription locally and reports whether it was still open.
func (s *subscription) drop() bool {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	if _, ok := s.client.subs[s.id]; !ok {
		return false
	}
	delete(s.client.subs, s.id)
	s.box.Close()
	return true
}

func (s *subscription) Close() error {
	if !s.drop() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	_, err := s.client.request(ctx, models.ClientFrame{Op: models.FrameOpUnsubscribe, SubID: s.id})
	if errors.Is(err, realtime.ErrClosed) {
		return nil
	}
	return err
}
