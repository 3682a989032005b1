// Package notify delivers operator alerts (stuck positions, leg risk) to
// Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/basisbot/internal/metrics"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans an alert out to every sender. When events is non-empty only
// those event names are delivered.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	tag     string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. tag (for example the run mode) prefixes
// every title so dryrun alerts are not mistaken for live ones.
func NewNotifier(senders []Sender, events []string, tag string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		tag:     tag,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify delivers to all senders. One sender failing does not stop the
// others; the failures are joined into the returned error.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "alert filtered", slog.String("event", event))
		return nil
	}
	if n.tag != "" {
		title = fmt.Sprintf("[%s] %s", n.tag, title)
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			metrics.AlertsSent.WithLabelValues(s.Name(), "error").Inc()
			n.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.AlertsSent.WithLabelValues(s.Name(), "ok").Inc()
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
