// Package dispatch sends one user submission to the remote agent and turns
// the raw reply payloads into channel-tagged messages.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"backroom/internal/demux"
	"backroom/internal/domain"
	"backroom/internal/metrics"
)

const (
	DefaultUserID     = "user"
	DefaultRoomPrefix = "default-room-"
)

// Adapter implements domain.Dispatcher on top of a Transport.
//
// It performs exactly one Transport.Send per call and never retries or
// applies its own timeout; both are up to the caller's context.
type Adapter struct {
	transport  Transport
	userID     string
	roomPrefix string
	author     string
	logger     *slog.Logger
}

type Config struct {
	Transport  Transport
	UserID     string // defaults to "user"
	RoomPrefix string // defaults to "default-room-"
	Author     string // display name stamped on agent messages; empty uses the payload's user field
	Logger     *slog.Logger
}

func New(cfg Config) *Adapter {
	if cfg.UserID == "" {
		cfg.UserID = DefaultUserID
	}
	if cfg.RoomPrefix == "" {
		cfg.RoomPrefix = DefaultRoomPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		transport:  cfg.Transport,
		userID:     cfg.UserID,
		roomPrefix: cfg.RoomPrefix,
		author:     cfg.Author,
		logger:     cfg.Logger,
	}
}

// RoomID derives the room for agentID.
func (a *Adapter) RoomID(agentID string) string {
	return a.roomPrefix + agentID
}

// Dispatch sends text (and file, if non-nil) to agentID and returns every
// message demultiplexed from the reply, in payload order and Direct before
// Backroom within a payload. On error no messages are returned.
func (a *Adapter) Dispatch(ctx context.Context, text, agentID string, file *domain.File) ([]domain.Message, error) {
	metrics.DispatchTotal.Inc()
	start := time.Now()

	payloads, err := a.transport.Send(ctx, agentID, Submission{
		Text:   text,
		UserID: a.userID,
		RoomID: a.RoomID(agentID),
		File:   file,
	})
	metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DispatchFailures.Inc()
		a.logger.Warn("dispatch failed", "agent", agentID, "err", err)
		return nil, err
	}

	msgs := Flatten(payloads, a.author)
	a.logger.Info("dispatch complete",
		"agent", agentID,
		"payloads", len(payloads),
		"messages", len(msgs),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return msgs, nil
}

// Flatten demultiplexes each payload and concatenates the results. Agent
// attachments ride on the first message produced from their payload.
func Flatten(payloads []Payload, author string) []domain.Message {
	var out []domain.Message
	for _, p := range payloads {
		metrics.PayloadsTotal.Inc()

		name := author
		if name == "" {
			name = p.User
		}
		res := demux.Parse(p.Text)
		if res.Mode() == demux.ModeMarker {
			metrics.MarkerPayloads.Inc()
		} else {
			metrics.HeuristicPayloads.Inc()
		}

		msgs := res.Messages(nonEmpty(name, demux.DefaultAuthor))
		if len(p.Attachments) > 0 && len(msgs) > 0 {
			msgs[0].Attachments = append([]domain.Attachment(nil), p.Attachments...)
		}
		for _, m := range msgs {
			if m.Channel == domain.ChannelDirect {
				metrics.DirectMessages.Inc()
			} else {
				metrics.BackroomMessages.Inc()
			}
		}
		out = append(out, msgs...)
	}
	return out
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
