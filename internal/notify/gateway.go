// Package notify fans notifications out to staff over their delivery channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"villaops/internal/domain"
	"villaops/internal/models"

	"github.com/rs/zerolog"
)

// Enqueuer hands a persisted delivery to the delivery worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, d models.Delivery) error
}

// Gateway persists each notification once, with one outbox delivery per channel, and
// leaves sending to the delivery worker. Dispatching an id twice is a no-op.
type Gateway struct {
	store  domain.NotificationStore
	dedupe domain.DedupeStore
	queue  Enqueuer
	ttl    time.Duration
	logger zerolog.Logger
}

func NewGateway(store domain.NotificationStore, dedupe domain.DedupeStore, queue Enqueuer, ttl time.Duration, logger *zerolog.Logger) *Gateway {
	if ttl <= 0 {
		ttl = models.DedupeTTL
	}
	return &Gateway{
		store:  store,
		dedupe: dedupe,
		queue:  queue,
		ttl:    ttl,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

func (g *Gateway) Dispatch(ctx context.Context, n *models.Notification) error {
	if err := validate(n); err != nil {
		return err
	}

	key := "notification:" + n.ID
	if g.dedupe != nil {
		claimed, err := g.dedupe.Claim(ctx, key, g.ttl)
		switch {
		case err != nil:
			// The outbox primary key still rejects duplicates.
			g.logger.Warn().Err(err).Str("notification_id", n.ID).Msg("dedupe store unavailable")
		case !claimed:
			g.logger.Debug().Str("notification_id", n.ID).Msg("duplicate notification dropped")
			return nil
		}
	}

	if err := g.store.CreateNotification(ctx, n); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil
		}
		if g.dedupe != nil {
			_ = g.dedupe.Release(ctx, key)
		}
		return fmt.Errorf("persist notification %s: %w", n.ID, err)
	}

	var errs []error
	for _, ch := range n.Channels {
		d := &models.Delivery{NotificationID: n.ID, Channel: ch}
		if err := g.store.CreateDelivery(ctx, d); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				continue
			}
			errs = append(errs, &domain.DeliveryError{NotificationID: n.ID, Channel: string(ch), Err: err})
			continue
		}
		if g.queue != nil {
			if err := g.queue.Enqueue(ctx, *d); err != nil {
				g.logger.Warn().Err(err).Int64("delivery_id", d.ID).Msg("enqueue delivery")
			}
		}
	}

	g.logger.Info().
		Str("notification_id", n.ID).
		Str("recipient_id", n.RecipientID).
		Int("channels", len(n.Channels)).
		Msg("notification dispatched")
	return errors.Join(errs...)
}

func validate(n *models.Notification) error {
	switch {
	case n == nil:
		return domain.Invalid("notification", "is required")
	case n.ID == "":
		return domain.Invalid("id", "is required")
	case n.RecipientID == "":
		return domain.Invalid("recipientId", "is required")
	case len(n.Channels) == 0:
		return domain.Invalid("channels", "at least one channel is required")
	}
	for _, ch := range n.Channels {
		switch ch {
		case models.ChannelInApp, models.ChannelPush, models.ChannelEmail:
		default:
			return domain.Invalid("channels", fmt.Sprintf("unknown channel %q", ch))
		}
	}
	return nil
}
