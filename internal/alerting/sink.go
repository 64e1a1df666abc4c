package alerting

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"marketwatch/internal/apperr"
)

// NotificationSink accepts notifications without reporting delivery outcome.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification)
}

// Sink fans a notification out to every configured channel. Delivery failures are
// logged and never returned; a channel refusing permission is logged at debug.
type Sink struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewSink builds a sink over notifiers. Nil entries are ignored.
func NewSink(logger zerolog.Logger, notifiers ...Notifier) *Sink {
	active := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &Sink{notifiers: active, logger: logger.With().Str("component", "notification_sink").Logger()}
}

// Channels lists the names of the configured notifiers.
func (s *Sink) Channels() []string {
	names := make([]string, 0, len(s.notifiers))
	for _, n := range s.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// Notify delivers n on each channel, best effort.
func (s *Sink) Notify(ctx context.Context, n Notification) {
	for _, notifier := range s.notifiers {
		err := notifier.Notify(ctx, n)
		if err == nil {
			continue
		}
		var perm *apperr.PermissionError
		if errors.As(err, &perm) {
			s.logger.Debug().Str("channel", notifier.Name()).Str("reason", perm.Reason).Msg("notification suppressed")
			continue
		}
		s.logger.Warn().Err(err).Str("channel", notifier.Name()).Str("alert_id", n.AlertID).Msg("notification failed")
	}
}

var _ NotificationSink = (*Sink)(nil)
