package chat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"backroom/internal/demux"
	"backroom/internal/dispatch"
	"backroom/internal/domain"
	"backroom/internal/history"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeDispatcher replays canned replies and records what it was asked to send.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []fakeCall
	reply   []domain.Message
	err     error
	release chan struct{} // when non-nil, Dispatch blocks until closed or ctx ends
	started chan struct{}
}

type fakeCall struct {
	text    string
	agentID string
	file    *domain.File
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, text, agentID string, file *domain.File) ([]domain.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{text: text, agentID: agentID, file: file})
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, &dispatch.NetworkError{URL: "fake", Err: ctx.Err()}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func newSession(d domain.Dispatcher) (*Session, *history.Log) {
	h := history.New(nil)
	return NewSession(Config{History: h, Dispatcher: d, AgentID: "twins"}), h
}

func pngFile() *domain.File {
	return &domain.File{Name: "pic.png", ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
}

func TestSubmit_AppendsUserThenReplies(t *testing.T) {
	d := &fakeDispatcher{reply: demux.Split("[DIRECT]A[/DIRECT][BACKROOM]B[/BACKROOM]")}
	s, h := newSession(d)

	replies, err := s.Submit(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}

	snap := h.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 messages in history, got %d", len(snap))
	}
	if !snap[0].FromUser() || snap[0].Channel != domain.ChannelDirect || snap[0].Text != "hello" {
		t.Errorf("first message should be the user's direct message: %+v", snap[0])
	}
	if snap[1].Channel != domain.ChannelDirect || snap[2].Channel != domain.ChannelBackroom {
		t.Errorf("reply order wrong: %v, %v", snap[1].Channel, snap[2].Channel)
	}
	if d.calls[0].agentID != "twins" || d.calls[0].text != "hello" {
		t.Errorf("unexpected dispatch call: %+v", d.calls[0])
	}
}

func TestSubmit_RejectsEmpty(t *testing.T) {
	d := &fakeDispatcher{}
	s, h := newSession(d)

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := s.Submit(context.Background(), text); !errors.Is(err, ErrEmptySubmission) {
			t.Errorf("Submit(%q) err = %v, want ErrEmptySubmission", text, err)
		}
	}
	if h.Len() != 0 || len(d.calls) != 0 {
		t.Errorf("empty submissions must not touch history or transport")
	}
}

func TestSubmit_AttachmentOnlyIsAllowed(t *testing.T) {
	d := &fakeDispatcher{}
	s, h := newSession(d)
	if err := s.SetAttachment(pngFile()); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Submit(context.Background(), ""); err != nil {
		t.Fatalf("Submit with attachment only: %v", err)
	}
	user := h.Snapshot()[0]
	if len(user.Attachments) != 1 {
		t.Fatalf("user message should carry the attachment: %+v", user)
	}
	att := user.Attachments[0]
	if att.Title != "pic.png" || att.ContentType != "image/png" || !strings.HasPrefix(att.URL, "attachment:") {
		t.Errorf("unexpected attachment %+v", att)
	}
	if d.calls[0].file == nil {
		t.Error("attachment should be sent with the dispatch")
	}
	if s.Attachment() != nil {
		t.Error("attachment should be cleared after a successful dispatch")
	}
}

func TestSubmit_NoAgent(t *testing.T) {
	s := NewSession(Config{History: history.New(nil), Dispatcher: &fakeDispatcher{}})
	if _, err := s.Submit(context.Background(), "hi"); !errors.Is(err, ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent, got %v", err)
	}
}

func TestSubmit_FailureKeepsAttachmentAndAppendsNoReplies(t *testing.T) {
	d := &fakeDispatcher{err: &dispatch.NetworkError{URL: "http://agent", Err: errors.New("connection refused")}}
	s, h := newSession(d)
	file := pngFile()
	_ = s.SetAttachment(file)

	replies, err := s.Submit(context.Background(), "hello")
	var nerr *dispatch.NetworkError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if replies != nil {
		t.Errorf("expected no replies, got %v", replies)
	}
	if h.Len() != 1 {
		t.Errorf("only the user message should be in history, got %d", h.Len())
	}
	if s.Attachment() != file {
		t.Error("attachment must be preserved after a failed dispatch")
	}
	if s.Pending() {
		t.Error("pending flag should be released after failure")
	}
}

func TestSubmit_DecodeFailure(t *testing.T) {
	d := &fakeDispatcher{err: &dispatch.DecodeError{Body: "<html>", Err: errors.New("invalid character")}}
	s, h := newSession(d)

	_, err := s.Submit(context.Background(), "hello")
	var derr *dispatch.DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if h.Len() != 1 {
		t.Errorf("expected only the user message, got %d", h.Len())
	}
}

func TestSubmit_OneDispatchAtATime(t *testing.T) {
	d := &fakeDispatcher{
		reply:   demux.Split("[DIRECT]done[/DIRECT]"),
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	s, h := newSession(d)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "first")
		errCh <- err
	}()

	<-d.started
	if !s.Pending() {
		t.Error("expected Pending while dispatch is in flight")
	}
	if _, err := s.Submit(context.Background(), "second"); !errors.Is(err, ErrDispatchPending) {
		t.Errorf("second submit err = %v, want ErrDispatchPending", err)
	}

	close(d.release)
	if err := <-errCh; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if s.Pending() {
		t.Error("Pending should be false after completion")
	}
	if h.Len() != 2 {
		t.Errorf("expected user + reply, got %d", h.Len())
	}
}

func TestSubmit_AbandonedDispatchLeaksNothing(t *testing.T) {
	d := &fakeDispatcher{
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	s, h := newSession(d)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, "hello")
		errCh <- err
	}()

	<-d.started
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Submit did not return after cancel")
	}
	if h.Len() != 1 {
		t.Errorf("no reply messages may leak after abandonment, history len = %d", h.Len())
	}
}

// lateDispatcher succeeds even though the caller has already given up.
type lateDispatcher struct{ cancel context.CancelFunc }

func (l *lateDispatcher) Dispatch(ctx context.Context, text, agentID string, file *domain.File) ([]domain.Message, error) {
	l.cancel()
	return demux.Split("late reply"), nil
}

func TestSubmit_ReplyAfterCancelIsDiscarded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, h := newSession(&lateDispatcher{cancel: cancel})

	if _, err := s.Submit(ctx, "hello"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.Len() != 1 {
		t.Errorf("late reply must not be appended, history len = %d", h.Len())
	}
}

func TestSetAttachment_RejectsNonImage(t *testing.T) {
	s, _ := newSession(&fakeDispatcher{})
	_ = s.SetAttachment(pngFile())

	err := s.SetAttachment(&domain.File{Name: "notes.txt", ContentType: "text/plain"})
	if !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}
	if s.Attachment() == nil || s.Attachment().Name != "pic.png" {
		t.Error("a rejected file must not replace the current selection")
	}
}

func TestSelectAttachment_FromDisk(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "face.png")
	if err := os.WriteFile(img, []byte("\x89PNG\r\n\x1a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := &fakeDispatcher{}
	s, h := newSession(d)
	if err := s.SelectAttachment(txt); !errors.Is(err, ErrNotImage) {
		t.Errorf("text file err = %v, want ErrNotImage", err)
	}
	if err := s.SelectAttachment(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("expected error for missing file")
	}
	if err := s.SelectAttachment(img); err != nil {
		t.Fatalf("SelectAttachment: %v", err)
	}
	if got := s.Attachment().ContentType; got != "image/png" {
		t.Errorf("content type = %q", got)
	}

	if _, err := s.Submit(context.Background(), "look"); err != nil {
		t.Fatal(err)
	}
	url := h.Snapshot()[0].Attachments[0].URL
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "/face.png") {
		t.Errorf("unexpected local URL %q", url)
	}
}

func TestLoadFile_SniffsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload")
	if err := os.WriteFile(path, []byte("GIF89a......"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.ContentType != "image/gif" {
		t.Errorf("content type = %q, want image/gif", f.ContentType)
	}
}
