package notify

import (
	"context"
	"log/slog"
	"sync"
)

// DevNotifier logs notifications instead of delivering them. Used in local
// development and as the fallback when Postmark is not configured.
type DevNotifier struct {
	log *slog.Logger
}

func NewDevNotifier(log *slog.Logger) *DevNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &DevNotifier{log: log}
}

func (d *DevNotifier) Send(ctx context.Context, n Notification) error {
	d.log.InfoContext(ctx, "notification (dev mode, not delivered)",
		slog.String("account_id", n.AccountID.String()),
		slog.String("type", string(n.Type)),
		slog.Any("data", n.Data))
	return nil
}

// Recorder captures sent notifications for tests.
type Recorder struct {
	mu   sync.Mutex
	Sent []Notification
	Err  error // returned from Send when set
}

func (r *Recorder) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Sent = append(r.Sent, n)
	return nil
}
