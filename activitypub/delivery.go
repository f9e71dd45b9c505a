package activitypub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/deemkeen/ivory/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	deliveryBatch       = 50
	maxDeliveryAttempts = 10
)

// deliveryBackoff is the wait after the n-th failed attempt, capped at the last step.
var deliveryBackoff = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
	24 * time.Hour,
}

// DeliveryStore is the queue the worker drains.
type DeliveryStore interface {
	ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error)
	ReadDueDeliveries(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryQueueItem, error)
	UpdateDeliveryAttempt(ctx context.Context, id uuid.UUID, attempts int, nextRetry time.Time) error
	DeleteDelivery(ctx context.Context, id uuid.UUID) error
}

// DeliveryWorker posts queued activities, signed as their local actor, and
// reschedules failures with increasing backoff.
type DeliveryWorker struct {
	store    DeliveryStore
	client   *http.Client
	signer   Signer
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewDeliveryWorker(store DeliveryStore, client *http.Client, interval time.Duration, log *zap.Logger) *DeliveryWorker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &DeliveryWorker{store: store, client: client, interval: interval, log: log, now: time.Now}
}

// Start drains the queue every interval until ctx is done.
func (d *DeliveryWorker) Start(ctx context.Context) {
	d.log.Info("Starting ActivityPub delivery worker", zap.Duration("interval", d.interval))
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Delivery worker stopped")
			return
		case <-ticker.C:
			d.ProcessQueue(ctx)
		}
	}
}

// ProcessQueue attempts every due delivery once.
func (d *DeliveryWorker) ProcessQueue(ctx context.Context) {
	items, err := d.store.ReadDueDeliveries(ctx, d.now().UTC(), deliveryBatch)
	if err != nil {
		d.log.Error("DeliveryWorker: failed to read queue", zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}
	d.log.Debug("DeliveryWorker: processing deliveries", zap.Int("count", len(items)))

	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		err := d.deliver(ctx, &item)
		if err == nil {
			d.log.Debug("DeliveryWorker: delivered", zap.String("inbox", item.InboxURI))
			if err := d.store.DeleteDelivery(ctx, item.Id); err != nil {
				d.log.Warn("DeliveryWorker: failed to dequeue", zap.Error(err))
			}
			continue
		}

		item.Attempts++
		if item.Attempts >= maxDeliveryAttempts {
			d.log.Warn("DeliveryWorker: giving up",
				zap.String("inbox", item.InboxURI),
				zap.Int("attempts", item.Attempts),
				zap.Error(err))
			if err := d.store.DeleteDelivery(ctx, item.Id); err != nil {
				d.log.Warn("DeliveryWorker: failed to dequeue", zap.Error(err))
			}
			continue
		}

		backoff := deliveryBackoff[min(item.Attempts-1, len(deliveryBackoff)-1)]
		d.log.Info("DeliveryWorker: delivery failed, will retry",
			zap.String("inbox", item.InboxURI),
			zap.Int("attempt", item.Attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if err := d.store.UpdateDeliveryAttempt(ctx, item.Id, item.Attempts, d.now().UTC().Add(backoff)); err != nil {
			d.log.Warn("DeliveryWorker: failed to reschedule", zap.Error(err))
		}
	}
}

// deliver POSTs one queued activity.
func (d *DeliveryWorker) deliver(ctx context.Context, item *domain.DeliveryQueueItem) error {
	actor, err := d.store.ReadActorById(ctx, item.ActorId)
	if err != nil {
		return fmt.Errorf("failed to get local actor: %w", err)
	}
	key, err := ParsePrivateKey(actor.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	body := []byte(item.ActivityJSON)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", activityJSON)
	req.Header.Set("Accept", activityJSON)
	req.Header.Set("User-Agent", util.UserAgent())

	if err := d.signer.SignRequest(req, body, key, actor.URI); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{URL: item.InboxURI, StatusCode: resp.StatusCode}
	}
	return nil
}
