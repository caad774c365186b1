package channel

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	htmltemplate "html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"backroom/internal/chat"
	"backroom/internal/domain"
	"backroom/internal/history"
	"backroom/internal/render"
)

const (
	maxUploadSize = 10 << 20 // 10MB
	uploadsPrefix = "/uploads/"
)

//go:embed web_templates/*.html
var templateFS embed.FS

// Web implements domain.View as a plain request/response web page with the
// direct panel beside the backroom panel. Each submission is one form POST
// answered by a redirect; the page is never pushed to.
type Web struct {
	addr    string
	session *chat.Session
	history *history.Log
	theme   render.Theme
	html    *render.HTML
	logger  *slog.Logger
	server  *http.Server
	tmpl    *htmltemplate.Template
	timeout time.Duration
	version string

	// Uploaded images by name, served back under /uploads/.
	uploads   map[string]*domain.File
	uploadsMu sync.RWMutex

	// Last submission error, shown once on the next page load.
	flash   string
	flashMu sync.Mutex
}

type WebConfig struct {
	Addr    string
	Session *chat.Session
	History *history.Log
	Theme   render.Theme
	Logger  *slog.Logger
	Timeout time.Duration // per submission; zero means only the request context applies
	Version string
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	return &Web{
		addr:    cfg.Addr,
		session: cfg.Session,
		history: cfg.History,
		theme:   cfg.Theme,
		html:    render.NewHTML(cfg.Theme),
		logger:  cfg.Logger,
		tmpl:    htmltemplate.Must(htmltemplate.ParseFS(templateFS, "web_templates/*.html")),
		timeout: cfg.Timeout,
		version: cfg.Version,
		uploads: make(map[string]*domain.File),
	}
}

func (w *Web) Name() string { return "web" }

// Handler returns the routes of the web view.
func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", w.handleChat)
	mux.HandleFunc("POST /send", w.handleSend)
	mux.HandleFunc("POST /detach", w.handleDetach)
	mux.HandleFunc("GET "+uploadsPrefix+"{name}", w.handleUpload)
	mux.HandleFunc("GET /api/messages", w.handleMessages)
	mux.HandleFunc("GET /status", w.handleStatus)
	return mux
}

// Start serves the web view and blocks until ctx is cancelled.
func (w *Web) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              w.addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.logger.Info("web UI started", "addr", "http://"+w.addr, "agent", w.session.AgentID())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

type webMessage struct {
	FromUser bool
	Author   string
	HTML     htmltemplate.HTML
}

type webPanel struct {
	Title    string
	Channel  domain.Channel
	Messages []webMessage
}

func (w *Web) panel(ch domain.Channel) webPanel {
	p := webPanel{Title: w.theme.Panel(ch).Title, Channel: ch}
	for _, m := range w.history.ByChannel(ch) {
		p.Messages = append(p.Messages, webMessage{
			FromUser: m.FromUser(),
			Author:   m.Author,
			// render.HTML escapes all message text.
			HTML: htmltemplate.HTML(w.html.Message(w.localize(m))),
		})
	}
	return p
}

// localize points user attachments uploaded through this view at the
// upload handler.
func (w *Web) localize(m domain.Message) domain.Message {
	if !m.FromUser() || len(m.Attachments) == 0 {
		return m
	}
	atts := make([]domain.Attachment, len(m.Attachments))
	for i, a := range m.Attachments {
		if name, ok := strings.CutPrefix(a.URL, "attachment:"); ok {
			a.URL = uploadsPrefix + name
		}
		atts[i] = a
	}
	m.Attachments = atts
	return m
}

func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	var attachment string
	if f := w.session.Attachment(); f != nil {
		attachment = f.Name
	}
	data := map[string]any{
		"Title":      "Backroom",
		"Version":    w.version,
		"Agent":      w.session.AgentID(),
		"Direct":     w.panel(domain.ChannelDirect),
		"Backroom":   w.panel(domain.ChannelBackroom),
		"Pending":    w.session.Pending(),
		"Attachment": attachment,
		"Error":      w.takeFlash(),
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := w.tmpl.ExecuteTemplate(rw, "chat.html", data); err != nil {
		w.logger.Error("template error", "template", "chat", "err", err)
	}
}

func (w *Web) handleSend(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		w.fail(rw, r, http.StatusBadRequest, "cannot read form: "+err.Error())
		return
	}
	text := r.FormValue("text")

	file, err := readUpload(r)
	if err != nil {
		w.fail(rw, r, http.StatusBadRequest, err.Error())
		return
	}
	if file != nil {
		if err := w.session.SetAttachment(file); err != nil {
			w.fail(rw, r, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		w.uploadsMu.Lock()
		w.uploads[file.Name] = file
		w.uploadsMu.Unlock()
	}

	ctx := r.Context()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	_, err = w.session.Submit(ctx, text)
	switch {
	case err == nil:
		http.Redirect(rw, r, "/", http.StatusSeeOther)
	case errors.Is(err, chat.ErrDispatchPending):
		w.fail(rw, r, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrEmptySubmission), errors.Is(err, chat.ErrNoAgent):
		w.fail(rw, r, http.StatusBadRequest, err.Error())
	default:
		w.logger.Warn("web submit failed", "agent", w.session.AgentID(), "err", err)
		w.fail(rw, r, http.StatusBadGateway, err.Error())
	}
}

// readUpload returns the "file" form part, or nil when none was sent.
func readUpload(r *http.Request) (*domain.File, error) {
	f, hdr, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if hdr.Filename == "" && len(data) == 0 {
		return nil, nil
	}
	contentType := hdr.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return &domain.File{
		Name:        hdr.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

// fail answers JSON clients with the error and browsers with a redirect
// that shows it once.
func (w *Web) fail(rw http.ResponseWriter, r *http.Request, status int, msg string) {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(rw, status, map[string]string{"error": msg})
		return
	}
	w.flashMu.Lock()
	w.flash = msg
	w.flashMu.Unlock()
	http.Redirect(rw, r, "/", http.StatusSeeOther)
}

func (w *Web) takeFlash() string {
	w.flashMu.Lock()
	defer w.flashMu.Unlock()
	msg := w.flash
	w.flash = ""
	return msg
}

func (w *Web) handleDetach(rw http.ResponseWriter, r *http.Request) {
	w.session.ClearAttachment()
	http.Redirect(rw, r, "/", http.StatusSeeOther)
}

func (w *Web) handleUpload(rw http.ResponseWriter, r *http.Request) {
	w.uploadsMu.RLock()
	f, ok := w.uploads[r.PathValue("name")]
	w.uploadsMu.RUnlock()
	if !ok {
		http.NotFound(rw, r)
		return
	}
	rw.Header().Set("Content-Type", f.ContentType)
	rw.Header().Set("Cache-Control", "private, max-age=86400")
	_, _ = rw.Write(f.Data)
}

// handleMessages returns the history as JSON, optionally limited to the
// view of one channel.
func (w *Web) handleMessages(rw http.ResponseWriter, r *http.Request) {
	ch := domain.Channel(r.URL.Query().Get("channel"))
	if ch == "" {
		writeJSON(rw, http.StatusOK, w.history.Snapshot())
		return
	}
	if !ch.Valid() {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "channel must be direct or backroom"})
		return
	}
	msgs := w.history.ByChannel(ch)
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(rw, http.StatusOK, msgs)
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  w.version,
		"agent":    w.session.AgentID(),
		"pending":  w.session.Pending(),
		"messages": w.history.Len(),
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

var _ domain.View = (*Web)(nil)
