// Package events delivers the domain-event outbox. State-mutating
// operations insert pending rows in the record store; the dispatcher claims
// them, produces a canonical envelope to the broker, and records the result
// so the store stays the source of truth for retries.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/apitize/version-service/internal/canonical"
	"github.com/apitize/version-service/internal/models"
)

// Outbox is the subset of store behavior the dispatcher needs.
type Outbox interface {
	ClaimPendingEvents(ctx context.Context, limit int) ([]models.DomainEvent, error)
	MarkEventResult(ctx context.Context, id uuid.UUID, status models.EventStatus, lastError string) error
}

type DispatcherConfig struct {
	// BatchSize is how many events to claim per poll; defaults to 10.
	BatchSize int

	// PollInterval applies when there is no work; defaults to 3s.
	PollInterval time.Duration

	// MaxAttempts is how many deliveries are tried before an event is
	// marked failed for good; defaults to 5. Claiming bumps the attempt
	// counter, so a produce error below the bound leaves the row pending
	// for the next poll.
	MaxAttempts int
}

type Dispatcher struct {
	outbox   Outbox
	producer Producer
	cfg      DispatcherConfig
}

func NewDispatcher(outbox Outbox, producer Producer, cfg DispatcherConfig) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Dispatcher{outbox: outbox, producer: producer, cfg: cfg}
}

// Run polls for pending events and blocks until ctx is cancelled. Safe to
// run in a goroutine.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Printf("[events.dispatcher] starting (batch=%d)", d.cfg.BatchSize)
	defer log.Printf("[events.dispatcher] stopped")

	for {
		select {
		case <-ctx.Done():
			_ = d.producer.Close()
			return ctx.Err()
		default:
		}

		claimed, err := d.outbox.ClaimPendingEvents(ctx, d.cfg.BatchSize)
		if err != nil {
			log.Printf("[events.dispatcher] claim pending: %v", err)
			sleepCtx(ctx, d.cfg.PollInterval)
			continue
		}
		if len(claimed) == 0 {
			sleepCtx(ctx, d.cfg.PollInterval)
			continue
		}

		for _, ev := range claimed {
			if err := d.dispatch(ctx, ev); err != nil {
				log.Printf("[events.dispatcher] event %s: %v", ev.ID, err)
			}
		}
	}
}

func (d *Dispatcher) dispatch(parentCtx context.Context, ev models.DomainEvent) error {
	ctx, cancel := context.WithTimeout(parentCtx, 30*time.Second)
	defer cancel()

	envelope, err := Envelope(ev)
	if err != nil {
		// A malformed payload never gets better; no point retrying.
		_ = d.outbox.MarkEventResult(parentCtx, ev.ID, models.EventFailed, err.Error())
		return err
	}
	if err := d.producer.Produce(ctx, []byte(ev.ID.String()), envelope); err != nil {
		status := models.EventPending
		if ev.Attempts >= d.cfg.MaxAttempts {
			status = models.EventFailed
		}
		_ = d.outbox.MarkEventResult(parentCtx, ev.ID, status, err.Error())
		return err
	}
	return d.outbox.MarkEventResult(parentCtx, ev.ID, models.EventSent, "")
}

// Envelope renders the canonical JSON published for an event.
func Envelope(ev models.DomainEvent) ([]byte, error) {
	payload := map[string]interface{}{}
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return nil, err
		}
	}
	return canonical.Marshal(map[string]interface{}{
		"id":        ev.ID.String(),
		"eventType": ev.Type,
		"tenantId":  ev.TenantID,
		"apiId":     ev.APIID,
		"version":   ev.Version,
		"payload":   payload,
		"ts":        ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
