package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"backroom/internal/domain"

	"github.com/google/uuid"
)

const (
	maxReplyBytes = 8 << 20 // 8MB
	maxErrorBody  = 512
)

// Submission is the multipart form sent for one user message.
type Submission struct {
	Text   string
	UserID string
	RoomID string
	File   *domain.File
}

// Payload is one element of the agent's JSON reply array. Only Text is
// required; other fields are optional and unknown fields are ignored.
type Payload struct {
	Text        string              `json:"text"`
	User        string              `json:"user,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

// Transport performs the single network round trip of a dispatch.
type Transport interface {
	Send(ctx context.Context, agentID string, sub Submission) ([]Payload, error)
}

// HTTPTransport posts multipart forms to <BaseURL>/<agentID>/message.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type HTTPTransportConfig struct {
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewHTTPTransport(cfg HTTPTransportConfig) *HTTPTransport {
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

// MessageURL returns the endpoint for agentID.
func (t *HTTPTransport) MessageURL(agentID string) string {
	return t.baseURL + "/" + url.PathEscape(agentID) + "/message"
}

func (t *HTTPTransport) Send(ctx context.Context, agentID string, sub Submission) ([]Payload, error) {
	endpoint := t.MessageURL(agentID)

	body, contentType, err := encodeForm(sub)
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	t.logger.Debug("sending message", "url", endpoint, "request_id", requestID,
		"text_len", len(sub.Text), "has_file", sub.File != nil)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, &NetworkError{URL: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data), maxErrorBody),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	payloads, err := DecodePayloads(data)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("reply received", "request_id", requestID, "payloads", len(payloads))
	return payloads, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeForm writes the fields in a fixed order: text, userId, roomId, file.
func encodeForm(sub Submission) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range [][2]string{
		{"text", sub.Text},
		{"userId", sub.UserID},
		{"roomId", sub.RoomID},
	} {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if sub.File != nil {
		contentType := sub.File.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(sub.File.Name)))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(sub.File.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// DecodePayloads parses a reply body. The body must be a JSON array whose
// elements are objects with a string "text" field.
func DecodePayloads(data []byte) ([]Payload, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Body: truncate(string(data), maxErrorBody), Err: err}
	}
	if raw == nil {
		return nil, &DecodeError{Body: truncate(string(data), maxErrorBody), Err: errors.New("reply is not a JSON array")}
	}

	payloads := make([]Payload, 0, len(raw))
	for i, item := range raw {
		var p struct {
			Text        *string             `json:"text"`
			User        string              `json:"user"`
			Attachments []domain.Attachment `json:"attachments"`
		}
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, &DecodeError{Body: truncate(string(data), maxErrorBody), Err: fmt.Errorf("element %d: %w", i, err)}
		}
		if p.Text == nil {
			return nil, &DecodeError{Body: truncate(string(data), maxErrorBody), Err: fmt.Errorf("element %d: missing text field", i)}
		}
		payloads = append(payloads, Payload{Text: *p.Text, User: p.User, Attachments: p.Attachments})
	}
	return payloads, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
