// Package notification alerts operators about carrier connectivity and
// undeliverable messages.
package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// LogNotifier writes notifications to the log at warning level.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.WarnContext(ctx, "Notification",
		slog.String("recipient", recipient),
		slog.String("subject", subject),
		slog.String("body", body))
	return nil
}

// Limiter forwards at most one notification per recipient and subject
// within each interval. A flapping carrier link would otherwise alert on
// every reconnect attempt.
type Limiter struct {
	next     Notifier
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

func NewLimiter(next Notifier, interval time.Duration) *Limiter {
	return &Limiter{next: next, interval: interval, now: time.Now, sent: make(map[string]time.Time)}
}

func (l *Limiter) Send(ctx context.Context, recipient, subject, body string) error {
	key := recipient + "\x00" + subject
	now := l.now()

	l.mu.Lock()
	if last, ok := l.sent[key]; ok && now.Sub(last) < l.interval {
		l.mu.Unlock()
		slog.DebugContext(ctx, "Notification suppressed", slog.String("subject", subject))
		return nil
	}
	l.sent[key] = now
	l.mu.Unlock()

	return l.next.Send(ctx, recipient, subject, body)
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Limiter)(nil)
)
