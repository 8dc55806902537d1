package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"fitchat/internal/models"
	"fitchat/internal/realtime"

	"github.com/gorilla/websocket"
)

type wsConnection interface {
	Close() error
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// realtimeSession is the server side of one client connection.
type realtimeSession interface {
	realtime.Store
	ID() string
	Close() error
}

// Connection relays frames between one websocket and one realtime session.
// When the websocket goes away the session is closed, which applies the
// client's disconnect writes.
type Connection struct {
	ws         wsConnection
	session    realtimeSession
	username   string
	logger     *slog.Logger
	fromClient chan models.ClientFrame
	fromServer chan models.ServerFrame
	errorCh    chan error

	// subs is owned by mainLoop.
	subs       map[string]realtime.Subscription
	forwarders sync.WaitGroup
}

func NewConnection(
	session realtimeSession,
	ws wsConnection,
	username string,
	logger *slog.Logger,
) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		ws:         ws,
		session:    session,
		username:   username,
		logger:     logger.With("session", session.ID(), "username", username),
		fromClient: make(chan models.ClientFrame),
		fromServer: make(chan models.ServerFrame),
		errorCh:    make(chan error, 2),
		subs:       make(map[string]realtime.Subscription),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		_ = c.session.Close()
		c.forwarders.Wait()
		close(c.errorCh)
		c.logger.Info("realtime connection closed")
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		var frame models.ClientFrame
		if err := models.DecodeFrame(data, &frame); err != nil {
			return err
		}
		select {
		case c.fromClient <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case frame := <-c.fromClient:
			if err := c.write(c.processClientFrame(ctx, frame)); err != nil {
				return err
			}
		case frame := <-c.fromServer:
			if err := c.write(frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) write(frame models.ServerFrame) error {
	data, err := models.EncodeFrame(frame)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// processClientFrame applies one request and returns its reply. Writes into
// the chat trees must be made as the connection's user.
func (c *Connection) processClientFrame(ctx context.Context, frame models.ClientFrame) models.ServerFrame {
	var (
		key string
		err error
	)

	switch frame.Op {
	case models.FrameOpSet, models.FrameOpPush, models.FrameOpOnDisconnect:
		err = checkWrite(c.username, frame.Op, frame.Path, frame.Value)
	}
	if err != nil {
		c.logger.Warn("write refused", "op", frame.Op, "path", frame.Path, "error", err)
		return models.ServerFrame{Type: models.ServerFrameError, ID: frame.ID, Error: err.Error()}
	}

	switch frame.Op {
	case models.FrameOpSet:
		err = c.session.Set(ctx, frame.Path, frame.Value)
	case models.FrameOpPush:
		key, err = c.session.Push(ctx, frame.Path, frame.Value)
	case models.FrameOpSubscribe:
		err = c.subscribe(ctx, frame.SubID, frame.Path)
	case models.FrameOpUnsubscribe:
		c.unsubscribe(frame.SubID)
	case models.FrameOpOnDisconnect:
		err = c.session.OnDisconnect(ctx, frame.Path, frame.Value)
	case models.FrameOpCancelOnDisconnect:
		err = c.session.CancelOnDisconnect(ctx, frame.Path)
	default:
		err = fmt.Errorf("unknown op %q", frame.Op)
	}

	if err != nil {
		c.logger.Debug("request rejected", "op", frame.Op, "path", frame.Path, "error", err)
		return models.ServerFrame{Type: models.ServerFrameError, ID: frame.ID, Error: err.Error()}
	}
	return models.ServerFrame{Type: models.ServerFrameAck, ID: frame.ID, Key: key}
}

func (c *Connection) subscribe(ctx context.Context, subID, path string) error {
	if subID == "" {
		return errors.New("subscription id is required")
	}
	if _, ok := c.subs[subID]; ok {
		return fmt.Errorf("subscription %s already exists", subID)
	}

	sub, err := c.session.Subscribe(ctx, path)
	if err != nil {
		return err
	}
	c.subs[subID] = sub

	c.forwarders.Go(func() {
		for snap := range sub.Updates() {
			frame := models.ServerFrame{
				Type:  models.ServerFrameSnapshot,
				SubID: subID,
				Path:  snap.Path,
				Value: snap.Value,
			}
			select {
			case c.fromServer <- frame:
			case <-ctx.Done():
				return
			}
		}
	})
	return nil
}

func (c *Connection) unsubscribe(subID string) {
	sub, ok := c.subs[subID]
	if !ok {
		return
	}
	delete(c.subs, subID)
	_ = sub.Close()
}
