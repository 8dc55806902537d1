package chat

import (
	"fitchat/internal/realtime"
)

// Message is one entry of a community log. ID is the store assigned key.
type Message struct {
	ID         string `msgpack:"-" json:"id"`
	Text       string `msgpack:"text" json:"text"`
	AuthorName string `msgpack:"userName" json:"userName"`
	Timestamp  int64  `msgpack:"timestamp" json:"timestamp"` // Unix milliseconds, server assigned
}

// PresenceEntry is the value stored for one user under a community presence map.
type PresenceEntry struct {
	Online   bool  `msgpack:"online" json:"online"`
	LastSeen int64 `msgpack:"lastSeen" json:"lastSeen"`
}

// ReadStatus is derived from presence and receipts; it is never stored.
type ReadStatus struct {
	ReadByMe  bool `json:"readByMe"`
	ReadByAll bool `json:"readByAll"`
}

// MessageView is a message together with its read status for the current user.
type MessageView struct {
	Message
	ReadStatus
}

func presencePath(community string) string {
	return realtime.JoinPath("communities", community, "presence")
}

func presenceEntryPath(community, username string) string {
	return realtime.JoinPath("communities", community, "presence", username)
}

func messagesPath(community string) string {
	return realtime.JoinPath("chats", community, "messages")
}

func receiptsPath(community string) string {
	return realtime.JoinPath("chats", community, "readStatus")
}

func receiptPath(community, messageID, username string) string {
	return realtime.JoinPath("chats", community, "readStatus", messageID, username)
}

func onlineEntry() map[string]any {
	return map[string]any{"online": true, "lastSeen": realtime.ServerTimestamp()}
}

func offlineEntry() map[string]any {
	return map[string]any{"online": false, "lastSeen": realtime.ServerTimestamp()}
}
