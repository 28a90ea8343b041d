// Package broadcast fans enriched board events out to connected
// listeners.
//
// A separate poll loop reads events not yet consumed by the broadcaster
// cursor, replaces bare entity ids with full rows (task, comment,
// project), and pushes each message to every registered listener. A
// listener whose send fails is dropped silently; the loop never blocks
// the trigger processor and vice versa because the two consumers use
// independent cursors on the same log.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dshills/taskrelay/board/event"
)

// Message is one enriched event pushed to listeners.
type Message struct {
	Type    event.Type `json:"type"`
	Payload any        `json:"payload"`
}

// Listener receives broadcast messages. Implementations must tolerate
// concurrent construction but Send is only ever called from the
// broadcaster loop.
type Listener interface {
	Send(ctx context.Context, msg Message) error
}

// LogListener writes each message to a writer, either as single-line JSON
// or as a readable "[type] payload" line.
type LogListener struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogListener builds a LogListener. A nil writer defaults to stdout.
func NewLogListener(writer io.Writer, jsonMode bool) *LogListener {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogListener{writer: writer, jsonMode: jsonMode}
}

// Send writes the message to the configured writer.
func (l *LogListener) Send(_ context.Context, msg Message) error {
	if l.jsonMode {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal broadcast message: %w", err)
		}
		_, err = fmt.Fprintf(l.writer, "%s\n", data)
		return err
	}
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", msg.Payload))
	}
	_, err = fmt.Fprintf(l.writer, "[%s] %s\n", msg.Type, payload)
	return err
}

// BufferListener retains every message in memory. Used in tests and for
// the debug history endpoint.
type BufferListener struct {
	mu       sync.RWMutex
	messages []Message
}

// NewBufferListener builds an empty BufferListener.
func NewBufferListener() *BufferListener {
	return &BufferListener{}
}

// Send appends the message to the buffer.
func (b *BufferListener) Send(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	return nil
}

// Messages returns a copy of everything received so far.
func (b *BufferListener) Messages() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Clear discards the buffered messages.
func (b *BufferListener) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
}

// NullListener discards every message. Useful as a placeholder when
// broadcasting is configured off.
type NullListener struct{}

// Send discards the message.
func (NullListener) Send(context.Context, Message) error { return nil }

var _ Listener = (*LogListener)(nil)
var _ Listener = (*BufferListener)(nil)
var _ Listener = NullListener{}
