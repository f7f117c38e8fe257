// Package notify delivers session updates to users. Delivery is fire and
// forget: callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Kind names the type of a pushed update.
type Kind string

const (
	KindSessionStarted Kind = "SESSION_STARTED"
	KindSessionUpdate  Kind = "SESSION_UPDATE"
	KindBestTrade      Kind = "BEST_TRADE"
	KindSessionResult  Kind = "SESSION_RESULT"
)

// Update is a structured message for one user.
type Update struct {
	Kind    Kind      `json:"kind"`
	UserID  int64     `json:"user_id"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Sink receives updates.
type Sink interface {
	Push(ctx context.Context, userID int64, u Update) error
}

// LogSink writes updates to the log. Useful when no frontend is attached.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink writing at debug level.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("notify")}
}

func (s *LogSink) Push(_ context.Context, userID int64, u Update) error {
	s.logger.Debug("Push update",
		zap.Int64("user_id", userID),
		zap.String("kind", string(u.Kind)),
		zap.Any("payload", u.Payload),
	)
	return nil
}

// Multi fans an update out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Push(ctx context.Context, userID int64, u Update) error {
	var errs []error
	for _, s := range m {
		if err := s.Push(ctx, userID, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every update.
type Nop struct{}

func (Nop) Push(context.Context, int64, Update) error { return nil }
