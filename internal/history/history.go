// Package history holds the running, append-only message log of a chat view.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"backroom/internal/domain"
)

// ErrUnassignedChannel is returned when a message without a valid channel
// is appended.
var ErrUnassignedChannel = errors.New("message has no channel")

// Listener is called with each batch after it has been appended.
type Listener func(batch []domain.Message)

type namedListener struct {
	name string
	fn   Listener
}

// Log is an insertion-ordered, append-only message history.
//
// AppendBatch is atomic: a batch is either appended whole or not at all, and
// two batches never interleave. Listeners observe batches in append order.
// Listeners must not append to the same Log.
type Log struct {
	appendMu  sync.Mutex // serializes append + notify
	mu        sync.RWMutex
	msgs      []domain.Message
	listeners []namedListener
	now       func() time.Time
	logger    *slog.Logger
}

// New creates an empty Log.
func New(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Log{now: time.Now, logger: logger}
}

// OnAppend registers fn under name, replacing any listener with that name.
func (l *Log) OnAppend(name string, fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, nl := range l.listeners {
		if nl.name == name {
			l.listeners[i].fn = fn
			return
		}
	}
	l.listeners = append(l.listeners, namedListener{name: name, fn: fn})
}

// Off removes the listener registered under name.
func (l *Log) Off(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, nl := range l.listeners {
		if nl.name == name {
			l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
			return
		}
	}
}

// Append adds a single message.
func (l *Log) Append(msg domain.Message) error {
	return l.AppendBatch([]domain.Message{msg})
}

// AppendBatch adds msgs in order. Messages with a zero CreatedAt are stamped
// with the current time. An empty batch is a no-op.
func (l *Log) AppendBatch(msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for i, m := range msgs {
		if !m.Channel.Valid() {
			return fmt.Errorf("batch element %d: %w", i, ErrUnassignedChannel)
		}
	}

	batch := make([]domain.Message, len(msgs))
	now := l.now()
	for i, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if m.Attachments != nil {
			m.Attachments = append([]domain.Attachment(nil), m.Attachments...)
		}
		batch[i] = m
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	l.mu.Lock()
	l.msgs = append(l.msgs, batch...)
	total := len(l.msgs)
	listeners := append([]namedListener(nil), l.listeners...)
	l.mu.Unlock()

	l.logger.Debug("history appended", "batch", len(batch), "total", total)

	for _, nl := range listeners {
		nl.fn(cloneMessages(batch))
	}
	return nil
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}

// Snapshot returns a copy of the whole history.
func (l *Log) Snapshot() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneMessages(l.msgs)
}

// ByChannel returns the messages shown in the view for ch. The direct view
// also shows every user message regardless of its channel.
func (l *Log) ByChannel(ch domain.Channel) []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Message
	for _, m := range l.msgs {
		if InView(m, ch) {
			out = append(out, cloneMessage(m))
		}
	}
	return out
}

// InView reports whether m is displayed in the view for ch.
func InView(m domain.Message, ch domain.Channel) bool {
	if ch == domain.ChannelDirect {
		return m.Channel == domain.ChannelDirect || m.FromUser()
	}
	return m.Channel == ch
}

func cloneMessages(msgs []domain.Message) []domain.Message {
	if msgs == nil {
		return nil
	}
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(m)
	}
	return out
}

func cloneMessage(m domain.Message) domain.Message {
	if m.Attachments != nil {
		m.Attachments = append([]domain.Attachment(nil), m.Attachments...)
	}
	return m
}
