package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"backroom/internal/demux"
	"backroom/internal/domain"

	"github.com/google/go-cmp/cmp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestAdapter(t *testing.T, h http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	tr := NewHTTPTransport(HTTPTransportConfig{BaseURL: srv.URL, Client: srv.Client(), Logger: testLogger()})
	return New(Config{Transport: tr, Logger: testLogger()}), srv
}

func TestDispatch_FormFields(t *testing.T) {
	var gotPath string
	var fields map[string]string
	var fileName, fileType, fileBody string

	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		fields = map[string]string{
			"text":   r.FormValue("text"),
			"userId": r.FormValue("userId"),
			"roomId": r.FormValue("roomId"),
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			defer f.Close()
			data, _ := io.ReadAll(f)
			fileName, fileType, fileBody = hdr.Filename, hdr.Header.Get("Content-Type"), string(data)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"text":"ok"}]`)
	})

	file := &domain.File{Name: "cat.png", ContentType: "image/png", Data: []byte("PNGDATA")}
	if _, err := a.Dispatch(context.Background(), "hello", "agent-7", file); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if gotPath != "/agent-7/message" {
		t.Errorf("path = %q, want /agent-7/message", gotPath)
	}
	want := map[string]string{"text": "hello", "userId": "user", "roomId": "default-room-agent-7"}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("form fields (-want +got):\n%s", diff)
	}
	if fileName != "cat.png" || fileType != "image/png" || fileBody != "PNGDATA" {
		t.Errorf("file part = %q %q %q", fileName, fileType, fileBody)
	}
}

func TestDispatch_NoFilePart(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if _, _, err := r.FormFile("file"); err == nil {
			t.Error("did not expect a file part")
		}
		_, _ = io.WriteString(w, `[]`)
	})

	msgs, err := a.Dispatch(context.Background(), "hi", "a", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages for empty reply, got %d", len(msgs))
	}
}

func TestDispatch_TwoPayloadsInOrder(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"text":"[DIRECT]A[/DIRECT]"} , {"text":"[BACKROOM]B[/BACKROOM]"}]`)
	})

	msgs, err := a.Dispatch(context.Background(), "x", "a", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	want := []domain.Message{
		{Text: "A", Sender: domain.SenderAgent, Author: demux.DefaultAuthor, Channel: domain.ChannelDirect},
		{Text: "B", Sender: domain.SenderAgent, Author: demux.DefaultAuthor, Channel: domain.ChannelBackroom},
	}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
}

func TestDispatch_FlattensPerPayloadOrder(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"text":"one\n*two*","user":"Twins","action":"NONE"},{"text":"three"}]`)
	})

	msgs, err := a.Dispatch(context.Background(), "x", "a", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	var got [][2]string
	for _, m := range msgs {
		got = append(got, [2]string{string(m.Channel), m.Text})
	}
	want := [][2]string{{"direct", "one"}, {"backroom", "*two*"}, {"direct", "three"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if msgs[0].Author != "Twins" {
		t.Errorf("expected payload user as author, got %q", msgs[0].Author)
	}
	if msgs[2].Author != demux.DefaultAuthor {
		t.Errorf("expected default author, got %q", msgs[2].Author)
	}
}

func TestDispatch_ConfiguredAuthorOverridesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"text":"hi","user":"someone"}]`)
	}))
	defer srv.Close()

	a := New(Config{
		Transport: NewHTTPTransport(HTTPTransportConfig{BaseURL: srv.URL + "/"}),
		Author:    "Bogdanoff-Twins",
	})
	msgs, err := a.Dispatch(context.Background(), "x", "a", nil)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].Author != "Bogdanoff-Twins" {
		t.Errorf("author = %q", msgs[0].Author)
	}
}

func TestDispatch_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	a := New(Config{Transport: NewHTTPTransport(HTTPTransportConfig{BaseURL: url}), Logger: testLogger()})
	msgs, err := a.Dispatch(context.Background(), "x", "a", nil)
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if msgs != nil {
		t.Errorf("expected no messages on failure, got %v", msgs)
	}
	var nerr *NetworkError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected *NetworkError, got %T: %v", err, err)
	}
	if nerr.StatusCode != 0 {
		t.Errorf("status = %d, want 0", nerr.StatusCode)
	}
	if !IsRetryable(err) {
		t.Error("connection failures should be retryable")
	}
}

func TestDispatch_StatusError(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent not found", http.StatusNotFound)
	})

	_, err := a.Dispatch(context.Background(), "x", "missing", nil)
	var nerr *NetworkError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected *NetworkError, got %T: %v", err, err)
	}
	if nerr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", nerr.StatusCode)
	}
	if IsRetryable(err) {
		t.Error("404 should not be retryable")
	}
}

func TestDispatch_DecodeErrors(t *testing.T) {
	bodies := map[string]string{
		"not json":         `<html>oops</html>`,
		"object not array": `{"text":"hi"}`,
		"null":             `null`,
		"array of strings": `["hi"]`,
		"missing text":     `[{"user":"x"}]`,
		"text not string":  `[{"text":5}]`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			})
			msgs, err := a.Dispatch(context.Background(), "x", "a", nil)
			var derr *DecodeError
			if !errors.As(err, &derr) {
				t.Fatalf("expected *DecodeError, got %T: %v", err, err)
			}
			if msgs != nil {
				t.Errorf("expected no messages, got %v", msgs)
			}
			if IsRetryable(err) {
				t.Error("decode errors should not be retryable")
			}
		})
	}
}

func TestDispatch_ContextCancelled(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Dispatch(ctx, "x", "a", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("cancelled dispatch should not be retryable")
	}
}

func TestFlatten_AgentAttachments(t *testing.T) {
	att := domain.Attachment{URL: "/media/generated/x.png", ContentType: "image/png", Title: "x"}
	msgs := Flatten([]Payload{{Text: "*grins*\nhere you go", Attachments: []domain.Attachment{att}}}, "")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Channel != domain.ChannelDirect || len(msgs[0].Attachments) != 1 {
		t.Errorf("attachment should ride on the direct message: %+v", msgs[0])
	}
	if len(msgs[1].Attachments) != 0 {
		t.Errorf("backroom message should carry no attachments: %+v", msgs[1])
	}
}

func TestRoomID(t *testing.T) {
	a := New(Config{})
	if got := a.RoomID("abc"); got != "default-room-abc" {
		t.Errorf("RoomID = %q", got)
	}
}

func TestMessageURL_EscapesAgentID(t *testing.T) {
	tr := NewHTTPTransport(HTTPTransportConfig{BaseURL: "http://localhost:3000/"})
	if got := tr.MessageURL("a b/c"); got != "http://localhost:3000/a%20b%2Fc/message" {
		t.Errorf("MessageURL = %q", got)
	}
}
