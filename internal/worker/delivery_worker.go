package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"villaops/internal/database"
	"villaops/internal/domain"
	"villaops/internal/metrics"
	"villaops/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Sender delivers a notification over one channel.
type Sender interface {
	Channel() models.Channel
	Send(ctx context.Context, n *models.Notification) error
}

// DeliveryWorker drains the notification outbox. Deliveries arrive through Redis when it
// is configured, through an in-memory queue otherwise, and are always recoverable by
// polling the outbox table.
type DeliveryWorker struct {
	store         domain.NotificationStore
	senders       map[models.Channel]Sender
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.Delivery
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        zerolog.Logger
}

// NewDeliveryWorker builds a worker with sane defaults.
func NewDeliveryWorker(store domain.NotificationStore, senders []Sender, redisClient *redis.Client, retry RetryPolicy, queueSize int, logger *zerolog.Logger) *DeliveryWorker {
	if queueSize <= 0 {
		queueSize = models.DeliveryQueueSize
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	bySender := make(map[models.Channel]Sender, len(senders))
	for _, s := range senders {
		bySender[s.Channel()] = s
	}

	return &DeliveryWorker{
		store:         store,
		senders:       bySender,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan models.Delivery, queueSize),
		redisQueueKey: "notifications:queue",
		deadLetterKey: "notifications:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger.With().Str("component", "delivery_worker").Logger(),
	}
}

// Enqueue schedules an already persisted delivery. It never fails the caller: a delivery
// that cannot be queued is still picked up by polling.
func (w *DeliveryWorker) Enqueue(ctx context.Context, d models.Delivery) error {
	if d.ID == 0 {
		return errors.New("delivery id is required")
	}

	// Try redis first for durability.
	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, d); err != nil {
			w.logger.Warn().Err(err).Int64("delivery_id", d.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- d:
	default:
		w.logger.Warn().Int64("delivery_id", d.ID).Msg("in-memory queue full, delivery left to polling")
	}
	return nil
}

// Start runs the main loop until ctx is done.
func (w *DeliveryWorker) Start(ctx context.Context) {
	w.logger.Info().Int("channels", len(w.senders)).Msg("delivery worker started")
	defer w.logger.Info().Msg("delivery worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if d, ok := w.tryLocalQueue(); ok {
			w.processDelivery(ctx, &d)
			continue
		}

		if d, ok := w.tryRedis(ctx); ok {
			w.processDelivery(ctx, &d)
			continue
		}

		deliveries, err := w.store.GetPendingDeliveries(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending deliveries")
			w.sleep(ctx)
			continue
		}
		if len(deliveries) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range deliveries {
			w.processDelivery(ctx, &deliveries[i])
		}
	}
}

func (w *DeliveryWorker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

func (w *DeliveryWorker) tryLocalQueue() (models.Delivery, bool) {
	select {
	case d := <-w.queue:
		return d, true
	default:
		return models.Delivery{}, false
	}
}

func (w *DeliveryWorker) tryRedis(ctx context.Context) (models.Delivery, bool) {
	if w.redis == nil {
		return models.Delivery{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.Delivery{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP failed")
		return models.Delivery{}, false
	}
	if len(res) != 2 {
		return models.Delivery{}, false
	}
	var d models.Delivery
	if err := json.Unmarshal([]byte(res[1]), &d); err != nil {
		w.logger.Error().Err(err).Msg("decode redis delivery")
		return models.Delivery{}, false
	}
	return d, true
}

// processDelivery sends one delivery. The claim makes a delivery that reached the worker
// through both the queue and polling go out once.
func (w *DeliveryWorker) processDelivery(ctx context.Context, d *models.Delivery) {
	claimed, err := w.store.ClaimDelivery(ctx, d.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("delivery_id", d.ID).Msg("claim delivery")
		return
	}
	if !claimed {
		return
	}

	sender, ok := w.senders[d.Channel]
	if !ok {
		w.failDelivery(ctx, d, fmt.Errorf("no sender for channel %q", d.Channel))
		return
	}

	n, err := w.store.GetNotification(ctx, d.NotificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.failDelivery(ctx, d, err)
			return
		}
		w.retryOrFail(ctx, d, err)
		return
	}

	if err := sender.Send(ctx, n); err != nil {
		derr := &domain.DeliveryError{NotificationID: n.ID, Channel: string(d.Channel), Err: err}
		if errors.Is(err, domain.ErrUnreachable) {
			w.failDelivery(ctx, d, derr)
			return
		}
		w.retryOrFail(ctx, d, derr)
		return
	}

	if err := w.store.UpdateDeliveryStatus(ctx, d.ID, database.DeliveryCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("delivery_id", d.ID).Msg("mark completed")
	}
	metrics.IncDelivery(string(d.Channel), database.DeliveryCompleted)
}

func (w *DeliveryWorker) retryOrFail(ctx context.Context, d *models.Delivery, cause error) {
	attempt := d.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failDelivery(ctx, d, cause)
		return
	}

	nextTime := w.retryPolicy.NextRetryAt(time.Now(), attempt)
	if err := w.store.UpdateDeliveryStatus(ctx, d.ID, database.DeliveryRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("delivery_id", d.ID).Msg("mark retry")
	}
	metrics.IncDelivery(string(d.Channel), database.DeliveryRetry)
	w.logger.Warn().Err(cause).
		Int64("delivery_id", d.ID).
		Int("attempt", attempt).
		Time("next_retry_at", nextTime).
		Msg("delivery failed, will retry")
}

func (w *DeliveryWorker) failDelivery(ctx context.Context, d *models.Delivery, cause error) {
	if err := w.store.UpdateDeliveryStatus(ctx, d.ID, database.DeliveryFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("delivery_id", d.ID).Msg("mark failed")
	}
	metrics.IncDelivery(string(d.Channel), database.DeliveryFailed)
	w.logger.Error().Err(cause).Int64("delivery_id", d.ID).Str("channel", string(d.Channel)).Msg("delivery failed permanently")

	msg := cause.Error()
	d.LastError = &msg
	w.pushDeadLetter(ctx, d)
}

func (w *DeliveryWorker) pushRedis(ctx context.Context, key string, d models.Delivery) error {
	if w.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *DeliveryWorker) pushDeadLetter(ctx context.Context, d *models.Delivery) {
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, w.deadLetterKey, *d); err != nil {
		w.logger.Error().Err(err).Int64("delivery_id", d.ID).Msg("deadletter push failed")
	}
}
