package models

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

type FrameOp string

const (
	FrameOpSet                FrameOp = "set"
	FrameOpPush               FrameOp = "push"
	FrameOpSubscribe          FrameOp = "subscribe"
	FrameOpUnsubscribe        FrameOp = "unsubscribe"
	FrameOpOnDisconnect       FrameOp = "onDisconnect"
	FrameOpCancelOnDisconnect FrameOp = "cancelOnDisconnect"
)

// ClientFrame is a request from a realtime client. Every frame carries an ID
// that the server echoes in exactly one ack or error frame.
type ClientFrame struct {
	ID    uint64  `msgpack:"id"`
	Op    FrameOp `msgpack:"op"`
	Path  string  `msgpack:"path,omitempty"`
	Value any     `msgpack:"value"`
	// SubID is chosen by the client for subscribe and unsubscribe frames.
	SubID string `msgpack:"subId,omitempty"`
}

type ServerFrameType string

const (
	ServerFrameAck      ServerFrameType = "ack"
	ServerFrameError    ServerFrameType = "error"
	ServerFrameSnapshot ServerFrameType = "snapshot"
)

// ServerFrame is either a reply to a ClientFrame (ack, error) or a snapshot
// delivered to subscription SubID.
type ServerFrame struct {
	Type  ServerFrameType `msgpack:"type"`
	ID    uint64          `msgpack:"id,omitempty"`
	Key   string          `msgpack:"key,omitempty"`
	Error string          `msgpack:"error,omitempty"`
	SubID string          `msgpack:"subId,omitempty"`
	Path  string          `msgpack:"path,omitempty"`
	Value any             `msgpack:"value"`
}

// Me describes the holder of a bearer token.
type Me struct {
	Username string `json:"username"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
