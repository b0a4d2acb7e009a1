package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"strings"

	"gorm.io/gorm"

	"github.com/VisageAI/visage/app/models"
	"github.com/VisageAI/visage/app/repository"
	"github.com/VisageAI/visage/internal/pkg/events"
	"github.com/VisageAI/visage/internal/pkg/generation"
)

// Result classifies what a webhook delivery did. Everything except
// ResultApplied is a success-shaped no-op for the provider: retrying a
// duplicate or stale delivery must not produce new side effects.
type Result string

const (
	ResultApplied           = Result("applied")
	ResultDuplicate         = Result("duplicate")
	ResultStale             = Result("stale")
	ResultUnknownGeneration = Result("unknown_generation")
)

// ApplyInput carries one provider delivery into the reconciler.
type ApplyInput struct {
	Provider       string
	EventID        string
	EventType      string
	RawBody        []byte
	SignatureValid bool
}

// Reconciler validates, deduplicates and applies provider callbacks to the
// generation lifecycle. Deliveries are at-least-once and possibly out of
// order; the lifecycle's transition-validity check provides the dedup.
type Reconciler struct {
	webhooks    repository.WebhookEventRepository
	generations repository.GenerationRepository
	tracker     *generation.Tracker
	sink        events.Sink
}

// NewReconciler creates a reconciler from injected dependencies.
func NewReconciler(webhooks repository.WebhookEventRepository, generations repository.GenerationRepository, tracker *generation.Tracker, sink events.Sink) *Reconciler {
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Reconciler{
		webhooks:    webhooks,
		generations: generations,
		tracker:     tracker,
		sink:        sink,
	}
}

// NewReconcilerFromDB creates a reconciler wired to GORM-backed repositories.
func NewReconcilerFromDB(db *gorm.DB, sink events.Sink) *Reconciler {
	return NewReconciler(
		repository.NewWebhookEventRepository(db),
		repository.NewGenerationRepository(db),
		generation.NewTrackerFromDB(db, sink),
		sink,
	)
}

// Apply records the delivery and advances the referenced generation.
// Malformed payloads are rejected before anything is stored, so every
// retry of a bad body gets the same rejection. A generation the payload
// references but we do not know is reported, not fatal: the provider may
// retry or the callback may be misrouted.
func (r *Reconciler) Apply(ctx context.Context, in ApplyInput) (Result, error) {
	payload, err := ParsePayload(in.RawBody)
	if err != nil {
		return "", err
	}

	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		provider = models.GenerationProviderFlux
	}
	eventID := strings.TrimSpace(in.EventID)
	if eventID == "" {
		if payload.EventID != "" {
			eventID = payload.EventID
		} else {
			sum := sha256.Sum256(in.RawBody)
			eventID = "hash:" + hex.EncodeToString(sum[:])
		}
	}

	event := &models.ProviderWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		ProviderJobID:   payload.Job.ID,
		PayloadJSON:     string(in.RawBody),
		SignatureValid:  in.SignatureValid,
	}
	created, stored, err := r.webhooks.CreateEventIfNotExists(event)
	if err != nil {
		return "", err
	}
	if !created {
		return ResultDuplicate, nil
	}

	gen, err := r.generations.GetByProviderJobID(payload.Job.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[Webhook] no generation for provider job %s (event=%s)", payload.Job.ID, eventID)
			_ = r.webhooks.MarkProcessed(stored.ID, "no generation for provider job id")
			return ResultUnknownGeneration, nil
		}
		_ = r.webhooks.MarkProcessed(stored.ID, err.Error())
		return "", err
	}

	applied, applyErr := r.applyStatus(ctx, gen, payload)
	if applyErr != nil {
		_ = r.webhooks.MarkProcessed(stored.ID, applyErr.Error())
		return "", applyErr
	}
	_ = r.webhooks.MarkProcessed(stored.ID, "")

	if !applied {
		r.sink.Track(ctx, gen.UserID, events.EventWebhookIgnored, map[string]interface{}{
			"generation": gen.UUID,
			"status":     payload.Job.Status,
		})
		return ResultStale, nil
	}
	return ResultApplied, nil
}

func (r *Reconciler) applyStatus(ctx context.Context, gen *models.Generation, payload *Payload) (bool, error) {
	switch payload.Job.Status {
	case JobStatusProcessing:
		return r.tracker.MarkProcessing(ctx, gen)
	case JobStatusSucceeded:
		return r.tracker.MarkSucceeded(ctx, gen, payload.Job.OutputURLs)
	case JobStatusFailed:
		message := payload.Job.Error
		if message == "" {
			message = "provider reported failure without detail"
		}
		return r.tracker.MarkFailed(ctx, gen, message)
	case JobStatusCanceled:
		return r.tracker.MarkCanceled(ctx, gen)
	default:
		// ParsePayload already rejected unknown statuses.
		return false, ErrInvalidPayload
	}
}
