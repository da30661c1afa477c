// Package notify re-fetches a user's unread notifications on a fixed
// interval. There is no backoff and no push channel: each tick is a full
// read, and failures are logged and retried on the next tick.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
)

const DefaultInterval = 30 * time.Second

type UnreadSource interface {
	Unread(ctx context.Context, userID string) ([]model.Notification, error)
}

type Poller struct {
	source   UnreadSource
	interval time.Duration
	logger   *slog.Logger
}

func NewPoller(source UnreadSource, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{source: source, interval: interval, logger: logger}
}

func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Run fetches once immediately, then on every tick, passing each
// successful result to deliver. It returns when ctx is done.
func (p *Poller) Run(ctx context.Context, userID string, deliver func([]model.Notification)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx, userID, deliver)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, userID, deliver)
		}
	}
}

func (p *Poller) poll(ctx context.Context, userID string, deliver func([]model.Notification)) {
	list, err := p.source.Unread(ctx, userID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("notification poll failed",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	deliver(list)
}
