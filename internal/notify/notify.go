// Package notify delivers run reports.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/amikeeper/internal/telemetry"
)

// Message is one email-style notification.
type Message struct {
	Subject string
	Sender  string
	To      []string
	Cc      []string
	Body    string
}

// Notifier sends a message to one backend.
type Notifier interface {
	// Name identifies the backend in logs.
	Name() string

	// Send delivers msg once. Implementations do not retry.
	Send(ctx context.Context, msg Message) error
}

// MultiNotifier fans out to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to multiple backends.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Name returns "multi".
func (m *MultiNotifier) Name() string {
	return "multi"
}

// Send delivers to every backend and joins the errors.
func (m *MultiNotifier) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct {
	logger *telemetry.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: telemetry.NewLogger("notify")}
}

// Name returns "log".
func (l *LogNotifier) Name() string {
	return "log"
}

// Send logs msg.
func (l *LogNotifier) Send(ctx context.Context, msg Message) error {
	l.logger.WithContext(ctx).Info().
		Str("subject", msg.Subject).
		Strs("to", msg.To).
		Str("body", msg.Body).
		Msg("report")
	return nil
}
