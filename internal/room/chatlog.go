package room

import (
	"time"

	"liveclass/pkg/types"
)

// DefaultChatHistoryLimit bounds chatHistory for every room
const DefaultChatHistoryLimit = 100

// ChatMessageTypeText is the only chat message type currently emitted
const ChatMessageTypeText = "text"

// ChatMessage is one entry of a room's chat history
type ChatMessage struct {
	ID        string     `json:"id"`
	Message   string     `json:"message"`
	From      types.User `json:"from"`
	Timestamp time.Time  `json:"timestamp"`
	Type      string     `json:"type"`
}

// chatLog keeps the most recent limit messages in insertion order
type chatLog struct {
	limit   int
	entries []ChatMessage
}

func newChatLog(limit int) *chatLog {
	if limit <= 0 {
		limit = DefaultChatHistoryLimit
	}
	return &chatLog{
		limit:   limit,
		entries: make([]ChatMessage, 0, limit),
	}
}

// append evicts from the front first so the log never holds more than limit
func (c *chatLog) append(msg ChatMessage) {
	if len(c.entries) >= c.limit {
		drop := len(c.entries) - c.limit + 1
		n := copy(c.entries, c.entries[drop:])
		c.entries = c.entries[:n]
	}
	c.entries = append(c.entries, msg)
}

func (c *chatLog) snapshot() []ChatMessage {
	out := make([]ChatMessage, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *chatLog) len() int {
	return len(c.entries)
}
