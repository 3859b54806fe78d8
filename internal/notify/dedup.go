package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduplicating claims each DedupKey in Redis with SET NX before delivering,
// so a redelivered job does not message the owner twice.
type Deduplicating struct {
	next   Notifier
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewDeduplicating wraps next. A nil client disables deduplication.
func NewDeduplicating(next Notifier, client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *Deduplicating {
	if prefix == "" {
		prefix = "helpdesk:notify"
	}
	return &Deduplicating{next: next, client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (d *Deduplicating) Notify(ctx context.Context, n Notification) error {
	if d.client == nil || n.DedupKey == "" {
		return d.next.Notify(ctx, n)
	}
	key := fmt.Sprintf("%s:%s", d.prefix, n.DedupKey)
	claimed, err := d.client.SetNX(ctx, key, string(n.Kind), d.ttl).Result()
	if err != nil {
		// Redis down: prefer a possible duplicate over a lost message.
		d.logger.Warn("notification dedup unavailable", zap.String("ticket_id", n.TicketID), zap.Error(err))
		return d.next.Notify(ctx, n)
	}
	if !claimed {
		d.logger.Debug("notification already sent",
			zap.String("ticket_id", n.TicketID),
			zap.String("kind", string(n.Kind)))
		return nil
	}
	if err := d.next.Notify(ctx, n); err != nil {
		// release so a retry may deliver
		if delErr := d.client.Del(ctx, key).Err(); delErr != nil {
			d.logger.Warn("release dedup key failed", zap.String("key", key), zap.Error(delErr))
		}
		return err
	}
	return nil
}
