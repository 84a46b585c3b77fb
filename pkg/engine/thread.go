package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Thread is an append-only message log shared by every stage of one
// subject's pipeline. Messages are never reordered or deleted; Seq grows
// monotonically from zero.
type Thread struct {
	id string

	mu       sync.RWMutex
	messages []Message
}

// NewThread creates an empty thread.
func NewThread(id string) *Thread {
	return &Thread{id: id}
}

// ID returns the thread identifier.
func (t *Thread) ID() string {
	return t.id
}

// Append adds a message at the end of the log and returns it.
func (t *Thread) Append(role Role, content string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := Message{
		ID:        fmt.Sprintf("msg_%s", uuid.New().String()),
		Role:      role,
		Content:   content,
		Seq:       len(t.messages),
		CreatedAt: time.Now(),
	}
	t.messages = append(t.messages, msg)

	return msg
}

// Messages returns a copy of the full log in insertion order.
func (t *Thread) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Latest returns the newest message, or false for an empty thread.
func (t *Thread) Latest() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Len returns the number of messages in the thread.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.messages)
}
