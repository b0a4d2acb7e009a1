package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/VisageAI/visage/app/models"
	"github.com/VisageAI/visage/internal/pkg/objectstore"
	"github.com/VisageAI/visage/internal/pkg/quota"
)

type fakeGenerationRepo struct {
	mu   sync.Mutex
	rows map[uint]*models.Generation
}

func newFakeGenerationRepo() *fakeGenerationRepo {
	return &fakeGenerationRepo{rows: make(map[uint]*models.Generation)}
}

func (f *fakeGenerationRepo) Create(gen *models.Generation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[gen.ID] = gen
	return nil
}

func (f *fakeGenerationRepo) GetByID(id uint) (*models.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGenerationRepo) GetByUUID(uuid string) (*models.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.rows {
		if g.UUID == uuid {
			cp := *g
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeGenerationRepo) GetByProviderJobID(jobID string) (*models.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.rows {
		if g.ProviderJobID == jobID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeGenerationRepo) GetByUserID(userID uint, offset, limit int) ([]models.Generation, error) {
	return nil, nil
}

func (f *fakeGenerationRepo) ListStuck(statuses []string, olderThan time.Time, limit int) ([]models.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Generation
	for _, g := range f.rows {
		for _, s := range statuses {
			if g.Status == s && g.RequestedAt.Before(olderThan) {
				out = append(out, *g)
				break
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeGenerationRepo) SetProviderJobID(id uint, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.rows[id]; ok {
		g.ProviderJobID = jobID
	}
	return nil
}

func (f *fakeGenerationRepo) AdvanceStatus(id uint, to string, from []string, extra map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.rows[id]
	if !ok {
		return false, nil
	}
	valid := false
	for _, s := range from {
		if g.Status == s {
			valid = true
			break
		}
	}
	if !valid {
		return false, nil
	}
	g.Status = to
	if msg, ok := extra["error_message"].(string); ok {
		g.ErrorMessage = msg
	}
	return true, nil
}

type fakeAssetRepo struct {
	mu      sync.Mutex
	created []models.Asset
}

func (f *fakeAssetRepo) Create(asset *models.Asset) error { return nil }

func (f *fakeAssetRepo) CreateBatch(assets []models.Asset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, assets...)
	return nil
}

func (f *fakeAssetRepo) GetByUUID(uuid string) (*models.Asset, error) { return nil, gorm.ErrRecordNotFound }
func (f *fakeAssetRepo) GetByProjectID(projectID uint, offset, limit int) ([]models.Asset, error) {
	return nil, nil
}
func (f *fakeAssetRepo) GetByGenerationID(generationID uint) ([]models.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Asset
	for _, a := range f.created {
		if a.GenerationID != nil && *a.GenerationID == generationID {
			out = append(out, a)
		}
	}
	return out, nil
}
func (f *fakeAssetRepo) Update(asset *models.Asset) error { return nil }
func (f *fakeAssetRepo) Delete(id uint) error             { return nil }

// fakeUsageRepo tracks refunds with the same guard semantics the real
// repository enforces through the generation's refunded_at column.
type fakeUsageRepo struct {
	mu          sync.Mutex
	premiumUsed int
	refunded    map[uint]bool
	refundErr   error
}

func newFakeUsageRepo() *fakeUsageRepo {
	return &fakeUsageRepo{refunded: make(map[uint]bool)}
}

func (f *fakeUsageRepo) EnsurePeriod(userID uint, periodKey string, plan string, standardLimit, premiumLimit int) error {
	return nil
}

func (f *fakeUsageRepo) GetPeriod(userID uint, periodKey string) (*models.UsagePeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.UsagePeriod{UserID: userID, PeriodKey: periodKey, PremiumUsed: f.premiumUsed, PremiumLimit: 10}, nil
}

func (f *fakeUsageRepo) TryDebit(userID uint, periodKey string, pool string, count int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.premiumUsed += count
	return true, nil
}

func (f *fakeUsageRepo) RefundDebit(generationID uint, userID uint, periodKey string, pool string, count int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return false, f.refundErr
	}
	if f.refunded[generationID] {
		return false, nil
	}
	f.refunded[generationID] = true
	f.premiumUsed -= count
	return true, nil
}

func (f *fakeUsageRepo) ReverseDebit(userID uint, periodKey string, pool string, count int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.premiumUsed -= count
	return true, nil
}

func (f *fakeUsageRepo) GrantPremiumAddon(userID uint, periodKey string, credits int) error {
	return nil
}

func newTestTracker(gens *fakeGenerationRepo, assets *fakeAssetRepo, usage *fakeUsageRepo) *Tracker {
	return NewTracker(gens, assets, quota.NewLedger(usage), nil)
}

func premiumGeneration(id uint) *models.Generation {
	return &models.Generation{
		ID:         id,
		UUID:       "gen-uuid",
		UserID:     1,
		ProjectID:  1,
		EngineID:   "premium",
		Status:     models.GenerationStatusStarting,
		PeriodKey:  "2026-03",
		DebitPool:  models.CreditPoolPremium,
		DebitCount: 1,
	}
}

func TestMarkProcessingOnlyFromStarting(t *testing.T) {
	gens := newFakeGenerationRepo()
	tracker := newTestTracker(gens, &fakeAssetRepo{}, newFakeUsageRepo())

	gen := premiumGeneration(1)
	require.NoError(t, gens.Create(gen))

	ok, err := tracker.MarkProcessing(context.Background(), gen)
	require.NoError(t, err)
	assert.True(t, ok)

	// A duplicate "started" delivery is a logged no-op.
	again, err := tracker.MarkProcessing(context.Background(), gen)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestMarkSucceededMaterializesAssetsWithoutRefund(t *testing.T) {
	gens := newFakeGenerationRepo()
	assets := &fakeAssetRepo{}
	usage := newFakeUsageRepo()
	tracker := newTestTracker(gens, assets, usage)

	gen := premiumGeneration(2)
	require.NoError(t, gens.Create(gen))
	usage.premiumUsed = 1 // the debit taken at admission

	ok, err := tracker.MarkSucceeded(context.Background(), gen, []string{
		"https://cdn.provider.example/out/1.png",
		"https://cdn.provider.example/out/2.png",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	outputs, err := assets.GetByGenerationID(gen.ID)
	require.NoError(t, err)
	assert.Len(t, outputs, 2)
	assert.Equal(t, models.AssetKindOutput, outputs[0].Kind)

	// Credits were correctly spent: no refund on success.
	assert.Equal(t, 1, usage.premiumUsed)
	assert.False(t, usage.refunded[gen.ID])
}

func TestSucceededAbsorbsLateFailure(t *testing.T) {
	gens := newFakeGenerationRepo()
	usage := newFakeUsageRepo()
	tracker := newTestTracker(gens, &fakeAssetRepo{}, usage)

	gen := premiumGeneration(3)
	require.NoError(t, gens.Create(gen))
	usage.premiumUsed = 1

	ok, err := tracker.MarkSucceeded(context.Background(), gen, []string{"https://cdn.provider.example/out.png"})
	require.NoError(t, err)
	require.True(t, ok)

	// A stale "failed" webhook after success neither transitions nor refunds.
	stale, err := tracker.MarkFailed(context.Background(), gen, "provider error")
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, 1, usage.premiumUsed)
}

func TestMarkFailedRefundsExactlyOnce(t *testing.T) {
	gens := newFakeGenerationRepo()
	usage := newFakeUsageRepo()
	tracker := newTestTracker(gens, &fakeAssetRepo{}, usage)

	gen := premiumGeneration(4)
	require.NoError(t, gens.Create(gen))
	usage.premiumUsed = 1

	ok, err := tracker.MarkFailed(context.Background(), gen, "NSFW filter rejected input")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, usage.premiumUsed)

	// A second failed delivery for the same job changes nothing.
	again, err := tracker.MarkFailed(context.Background(), gen, "NSFW filter rejected input")
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, 0, usage.premiumUsed)
}

func TestMarkFailedSurvivesRefundFailure(t *testing.T) {
	gens := newFakeGenerationRepo()
	usage := newFakeUsageRepo()
	usage.refundErr = errors.New("storage unavailable")
	tracker := newTestTracker(gens, &fakeAssetRepo{}, usage)

	gen := premiumGeneration(5)
	require.NoError(t, gens.Create(gen))

	// The generation must still reach failed even when the refund cannot be
	// applied; the stuck debit stays reconcilable via the refund token.
	ok, err := tracker.MarkFailed(context.Background(), gen, "provider timeout")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := gens.GetByID(gen.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusFailed, stored.Status)
}

func TestMarkCanceledRefunds(t *testing.T) {
	gens := newFakeGenerationRepo()
	usage := newFakeUsageRepo()
	tracker := newTestTracker(gens, &fakeAssetRepo{}, usage)

	gen := premiumGeneration(6)
	gen.Status = models.GenerationStatusProcessing
	require.NoError(t, gens.Create(gen))
	usage.premiumUsed = 1

	ok, err := tracker.MarkCanceled(context.Background(), gen)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, usage.premiumUsed)
}

type fakeMirror struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeMirror) MirrorOutput(ctx context.Context, gen *models.Generation, sourceURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return "", errors.New("bucket unreachable")
	}
	return "https://cdn.visage.example/mirror/" + gen.UUID, nil
}

// The S3 client must keep satisfying the mirror seam NewTrackerFromDB
// attaches it through.
var _ OutputMirror = (*objectstore.Client)(nil)

func TestMarkSucceededMirrorsOutputs(t *testing.T) {
	gens := newFakeGenerationRepo()
	assets := &fakeAssetRepo{}
	mirror := &fakeMirror{}
	tracker := newTestTracker(gens, assets, newFakeUsageRepo()).WithMirror(mirror)

	gen := premiumGeneration(7)
	require.NoError(t, gens.Create(gen))

	ok, err := tracker.MarkSucceeded(context.Background(), gen, []string{
		"https://cdn.provider.example/out/1.png",
		"https://cdn.provider.example/out/2.png",
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, mirror.calls)

	outputs, err := assets.GetByGenerationID(gen.ID)
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	for _, out := range outputs {
		assert.Equal(t, "https://cdn.visage.example/mirror/"+gen.UUID, out.MirrorURL)
	}
}

func TestMirrorFailureKeepsProviderURL(t *testing.T) {
	gens := newFakeGenerationRepo()
	assets := &fakeAssetRepo{}
	mirror := &fakeMirror{fail: true}
	tracker := newTestTracker(gens, assets, newFakeUsageRepo()).WithMirror(mirror)

	gen := premiumGeneration(8)
	require.NoError(t, gens.Create(gen))

	ok, err := tracker.MarkSucceeded(context.Background(), gen, []string{"https://cdn.provider.example/out/1.png"})
	require.NoError(t, err)
	assert.True(t, ok)

	outputs, err := assets.GetByGenerationID(gen.ID)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Empty(t, outputs[0].MirrorURL)
	assert.Equal(t, "https://cdn.provider.example/out/1.png", outputs[0].SourceURL)
}
