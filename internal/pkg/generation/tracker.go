package generation

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/VisageAI/visage/app/models"
	"github.com/VisageAI/visage/app/repository"
	"github.com/VisageAI/visage/internal/pkg/events"
	metrics "github.com/VisageAI/visage/internal/pkg/metrics/counter"
	"github.com/VisageAI/visage/internal/pkg/objectstore"
	"github.com/VisageAI/visage/internal/pkg/quota"
)

// OutputMirror copies a provider output URL into owned storage and returns
// the mirror location. Mirroring is best-effort; a failed mirror never
// fails the generation.
type OutputMirror interface {
	MirrorOutput(ctx context.Context, gen *models.Generation, sourceURL string) (string, error)
}

// Tracker advances the per-generation state machine. Every transition is a
// conditional update on the generation row, so duplicate and out-of-order
// webhook deliveries collapse into logged no-ops instead of double side
// effects.
type Tracker struct {
	generations repository.GenerationRepository
	assets      repository.AssetRepository
	ledger      *quota.Ledger
	sink        events.Sink
	mirror      OutputMirror
}

// NewTracker creates a lifecycle tracker from injected dependencies.
func NewTracker(generations repository.GenerationRepository, assets repository.AssetRepository, ledger *quota.Ledger, sink events.Sink) *Tracker {
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Tracker{
		generations: generations,
		assets:      assets,
		ledger:      ledger,
		sink:        sink,
	}
}

// NewTrackerFromDB creates a tracker wired to GORM-backed repositories.
// The S3 output mirror is attached when mirroring is configured.
func NewTrackerFromDB(db *gorm.DB, sink events.Sink) *Tracker {
	t := NewTracker(
		repository.NewGenerationRepository(db),
		repository.NewAssetRepository(db),
		quota.NewLedgerFromDB(db),
		sink,
	)
	if m := objectstore.GetMirror(); m != nil {
		t = t.WithMirror(m)
	}
	return t
}

// WithMirror attaches an optional output mirror.
func (t *Tracker) WithMirror(m OutputMirror) *Tracker {
	t.mirror = m
	return t
}

// MarkProcessing moves a generation from starting to processing. Called
// once dispatch succeeds or on the provider's first progress callback.
func (t *Tracker) MarkProcessing(ctx context.Context, gen *models.Generation) (bool, error) {
	_ = ctx
	ok, err := t.generations.AdvanceStatus(gen.ID, models.GenerationStatusProcessing,
		[]string{models.GenerationStatusStarting}, nil)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Printf("[Lifecycle] generation %s: ignoring stale transition to processing (status=%s)", gen.UUID, gen.Status)
		return false, nil
	}
	gen.Status = models.GenerationStatusProcessing
	if err := SetStatusCache(gen.UUID, gen.UserID, gen.Status); err != nil {
		log.Printf("[Lifecycle] generation %s: status cache update failed: %v", gen.UUID, err)
	}
	return true, nil
}

// MarkSucceeded finalizes a generation: the provider reported completion
// with output references. Output asset rows are materialized from the
// provider URLs; credits stay spent.
func (t *Tracker) MarkSucceeded(ctx context.Context, gen *models.Generation, outputURLs []string) (bool, error) {
	now := time.Now()
	ok, err := t.generations.AdvanceStatus(gen.ID, models.GenerationStatusSucceeded,
		[]string{models.GenerationStatusStarting, models.GenerationStatusProcessing},
		map[string]interface{}{"completed_at": &now})
	if err != nil {
		return false, err
	}
	if !ok {
		log.Printf("[Lifecycle] generation %s: ignoring stale transition to succeeded (status=%s)", gen.UUID, gen.Status)
		return false, nil
	}
	gen.Status = models.GenerationStatusSucceeded
	gen.CompletedAt = &now

	assets := make([]models.Asset, 0, len(outputURLs))
	for _, url := range outputURLs {
		genID := gen.ID
		asset := models.Asset{
			UUID:         uuid.NewString(),
			UserID:       gen.UserID,
			ProjectID:    gen.ProjectID,
			GenerationID: &genID,
			Kind:         models.AssetKindOutput,
			SourceURL:    url,
		}
		if t.mirror != nil {
			if mirrorURL, err := t.mirror.MirrorOutput(ctx, gen, url); err != nil {
				log.Printf("[Lifecycle] generation %s: output mirror failed for %s: %v", gen.UUID, url, err)
			} else {
				asset.MirrorURL = mirrorURL
			}
		}
		assets = append(assets, asset)
	}
	if err := t.assets.CreateBatch(assets); err != nil {
		// The generation is already terminal; surface the asset loss loudly.
		log.Printf("[Lifecycle] generation %s: asset materialization failed: %v", gen.UUID, err)
		return true, err
	}

	if err := SetStatusCache(gen.UUID, gen.UserID, gen.Status); err != nil {
		log.Printf("[Lifecycle] generation %s: status cache update failed: %v", gen.UUID, err)
	}
	t.sink.Track(ctx, gen.UserID, events.EventGenerationSucceeded, map[string]interface{}{
		"generation": gen.UUID,
		"engine":     gen.EngineID,
		"outputs":    len(outputURLs),
	})
	if err := metrics.AddEngineSucceeded(gen.EngineID); err != nil {
		log.Printf("[Lifecycle] generation %s: engine counter update failed: %v", gen.UUID, err)
	}
	return true, nil
}

// MarkFailed records an unrecoverable provider error or a local dispatch
// failure and triggers the refund for exactly what this generation debited.
// A refund that cannot be applied leaves the generation failed anyway: a
// stuck debit is recoverable later through the refund token, a lost record
// is not.
func (t *Tracker) MarkFailed(ctx context.Context, gen *models.Generation, message string) (bool, error) {
	return t.finishWithRefund(ctx, gen, models.GenerationStatusFailed, message, events.EventGenerationFailed)
}

// MarkCanceled handles explicit cancellation; it follows the same refund
// rule as failure.
func (t *Tracker) MarkCanceled(ctx context.Context, gen *models.Generation) (bool, error) {
	return t.finishWithRefund(ctx, gen, models.GenerationStatusCanceled, "", events.EventGenerationCanceled)
}

func (t *Tracker) finishWithRefund(ctx context.Context, gen *models.Generation, status, message, event string) (bool, error) {
	now := time.Now()
	extra := map[string]interface{}{"completed_at": &now}
	if message != "" {
		extra["error_message"] = message
	}
	ok, err := t.generations.AdvanceStatus(gen.ID, status,
		[]string{models.GenerationStatusStarting, models.GenerationStatusProcessing}, extra)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Printf("[Lifecycle] generation %s: ignoring stale transition to %s (status=%s)", gen.UUID, status, gen.Status)
		return false, nil
	}
	gen.Status = status
	gen.CompletedAt = &now
	gen.ErrorMessage = message

	if applied, err := t.ledger.Refund(ctx, RefundTokenFor(gen)); err != nil {
		log.Printf("[Lifecycle] OPERATOR: refund failed for generation %s (user=%d period=%s pool=%s count=%d): %v",
			gen.UUID, gen.UserID, gen.PeriodKey, gen.DebitPool, gen.DebitCount, err)
	} else if !applied {
		log.Printf("[Lifecycle] generation %s: refund already applied, skipping", gen.UUID)
	}

	if err := SetStatusCache(gen.UUID, gen.UserID, gen.Status); err != nil {
		log.Printf("[Lifecycle] generation %s: status cache update failed: %v", gen.UUID, err)
	}
	t.sink.Track(ctx, gen.UserID, event, map[string]interface{}{
		"generation": gen.UUID,
		"engine":     gen.EngineID,
		"error":      message,
	})
	if status == models.GenerationStatusFailed {
		if err := metrics.AddEngineFailed(gen.EngineID); err != nil {
			log.Printf("[Lifecycle] generation %s: engine counter update failed: %v", gen.UUID, err)
		}
	}
	return true, nil
}

// RefundTokenFor rebuilds the refund token a generation's debit produced.
func RefundTokenFor(gen *models.Generation) quota.RefundToken {
	return quota.RefundToken{
		GenerationID: gen.ID,
		UserID:       gen.UserID,
		PeriodKey:    gen.PeriodKey,
		Pool:         gen.DebitPool,
		Count:        gen.DebitCount,
	}
}
