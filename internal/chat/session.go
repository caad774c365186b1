// Package chat implements the submit flow of a chat view: the optimistic
// user message, the pending attachment, and the single in-flight dispatch.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"backroom/internal/domain"
)

var (
	ErrEmptySubmission = errors.New("nothing to send: text is empty and no attachment is selected")
	ErrDispatchPending = errors.New("a message is already being sent")
	ErrNoAgent         = errors.New("no agent selected")
	ErrNotImage        = errors.New("only image attachments are supported")
)

// UserAuthor is the author name on locally submitted messages.
const UserAuthor = "user"

// Session is one chat view bound to one agent.
type Session struct {
	history    domain.History
	dispatcher domain.Dispatcher
	agentID    string
	logger     *slog.Logger

	pending atomic.Bool

	mu         sync.Mutex
	attachment *domain.File
}

type Config struct {
	History    domain.History
	Dispatcher domain.Dispatcher
	AgentID    string
	Logger     *slog.Logger
}

func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		history:    cfg.History,
		dispatcher: cfg.Dispatcher,
		agentID:    cfg.AgentID,
		logger:     cfg.Logger,
	}
}

// AgentID returns the agent this session talks to.
func (s *Session) AgentID() string { return s.agentID }

// Pending reports whether a dispatch is in flight.
func (s *Session) Pending() bool { return s.pending.Load() }

// Attachment returns the file selected for the next submission, or nil.
func (s *Session) Attachment() *domain.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachment
}

// SelectAttachment loads path and selects it for the next submission.
// Non-image files are rejected and leave the current selection unchanged.
func (s *Session) SelectAttachment(path string) error {
	f, err := LoadFile(path)
	if err != nil {
		return err
	}
	return s.SetAttachment(f)
}

// SetAttachment selects f for the next submission.
func (s *Session) SetAttachment(f *domain.File) error {
	if f == nil {
		s.ClearAttachment()
		return nil
	}
	if !strings.HasPrefix(f.ContentType, "image/") {
		return fmt.Errorf("%s (%s): %w", f.Name, f.ContentType, ErrNotImage)
	}
	s.mu.Lock()
	s.attachment = f
	s.mu.Unlock()
	s.logger.Debug("attachment selected", "name", f.Name, "type", f.ContentType, "size", len(f.Data))
	return nil
}

// ClearAttachment drops the pending selection.
func (s *Session) ClearAttachment() {
	s.mu.Lock()
	s.attachment = nil
	s.mu.Unlock()
}

// Submit appends the user's message to history, dispatches it, and on
// success appends the whole reply batch and clears the attachment.
//
// On failure the error is returned, no reply messages are appended and the
// attachment stays selected so the user can retry. The user message itself
// stays in history. If ctx ends before the reply is applied, the reply is
// discarded.
func (s *Session) Submit(ctx context.Context, text string) ([]domain.Message, error) {
	file := s.Attachment()
	if strings.TrimSpace(text) == "" && file == nil {
		return nil, ErrEmptySubmission
	}
	if s.agentID == "" {
		return nil, ErrNoAgent
	}
	if !s.pending.CompareAndSwap(false, true) {
		return nil, ErrDispatchPending
	}
	defer s.pending.Store(false)

	if err := s.history.Append(userMessage(text, file)); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	replies, err := s.dispatcher.Dispatch(ctx, text, s.agentID, file)
	if err != nil {
		s.logger.Error("send message failed", "agent", s.agentID, "err", err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.logger.Info("dispatch abandoned, reply discarded", "agent", s.agentID, "messages", len(replies))
		return nil, err
	}

	if err := s.history.AppendBatch(replies); err != nil {
		return nil, fmt.Errorf("append reply: %w", err)
	}

	s.mu.Lock()
	if s.attachment == file {
		s.attachment = nil
	}
	s.mu.Unlock()

	return replies, nil
}

func userMessage(text string, file *domain.File) domain.Message {
	m := domain.Message{
		Text:    text,
		Sender:  domain.SenderUser,
		Author:  UserAuthor,
		Channel: domain.ChannelDirect,
	}
	if file != nil {
		m.Attachments = []domain.Attachment{{
			URL:         localURL(file),
			ContentType: file.ContentType,
			Title:       file.Name,
		}}
	}
	return m
}

func localURL(f *domain.File) string {
	if f.Path == "" {
		return "attachment:" + url.PathEscape(f.Name)
	}
	abs, err := filepath.Abs(f.Path)
	if err != nil {
		abs = f.Path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// LoadFile reads path and determines its MIME type from the extension,
// falling back to content sniffing.
func LoadFile(path string) (*domain.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}
	return &domain.File{
		Name:        filepath.Base(path),
		Path:        path,
		ContentType: contentType,
		Data:        data,
	}, nil
}
