// Package audit records the upload grants the service hands out.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Entry describes one issued grant.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	RequestID string    `json:"request_id"`
	Account   string    `json:"account"`
	Signer    string    `json:"signer"`
	Path      string    `json:"path"`
	ObjectKey string    `json:"object_key"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sink stores audit entries.
type Sink interface {
	Record(ctx context.Context, entries []Entry) error
}

// LogSink writes entries to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Record(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		s.Logger.InfoContext(ctx, "Upload grant issued",
			"id", e.ID.String(),
			"request_id", e.RequestID,
			"account", e.Account,
			"signer", e.Signer,
			"path", e.Path,
			"object_key", e.ObjectKey,
			"expires_at", e.ExpiresAt,
		)
	}
	return nil
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Record(context.Context, []Entry) error { return nil }
