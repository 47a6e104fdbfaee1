package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/database"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/domain"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

// Guard admits each provider event exactly once. Redis is a fast path only;
// the unique index on webhook_events is what actually decides. With redis
// down the guard degrades to sqlite alone.
type Guard struct {
	store domain.Store
	redis *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

func NewGuard(store domain.Store, redisClient *redis.Client, logger *zerolog.Logger) *Guard {
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "idempotency_guard").Logger()
	}
	return &Guard{
		store: store,
		redis: redisClient,
		ttl:   time.Duration(models.DefaultRedisTTL) * time.Second,
		log:   log,
	}
}

// Admit records the event and returns database.ErrDuplicateEvent when it has
// been seen before.
func (g *Guard) Admit(ctx context.Context, event *models.WebhookEvent) error {
	if g.redis != nil {
		key := fmt.Sprintf("webhook_seen:%s:%s", event.Provider, event.EventID)
		fresh, err := g.redis.SetNX(ctx, key, 1, g.ttl).Result()
		if err != nil {
			g.log.Warn().Err(err).Msg("redis dedup check failed, falling back to database")
		} else if !fresh {
			// the key may be a leftover from an Admit whose insert failed,
			// so a hit only short-circuits when sqlite has the row too
			seen, serr := g.store.HasProcessedEvent(ctx, event.Provider, event.EventID)
			if serr != nil {
				g.log.Warn().Err(serr).Msg("dedup lookup failed, falling back to insert")
			} else if seen {
				return database.ErrDuplicateEvent
			}
		}
	}

	if err := g.store.InsertWebhookEvent(ctx, event); err != nil {
		return err
	}
	return nil
}

// Completed reports whether an admitted event already finished processing
// without error. Redeliveries of events that never completed must be run
// again rather than acknowledged as duplicates.
func (g *Guard) Completed(ctx context.Context, provider, eventID string) (bool, error) {
	event, err := g.store.GetWebhookEvent(ctx, provider, eventID)
	if err != nil {
		return false, err
	}
	return event.ProcessedAt != nil && event.ProcessingErr == "", nil
}

// MarkProcessed stamps the admitted event with its processing result.
func (g *Guard) MarkProcessed(ctx context.Context, provider, eventID string, procErr error) {
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if err := g.store.MarkWebhookProcessed(ctx, provider, eventID, msg); err != nil {
		g.log.Error().Err(err).
			Str("provider", provider).
			Str("event_id", eventID).
			Msg("failed to mark webhook processed")
	}
}
