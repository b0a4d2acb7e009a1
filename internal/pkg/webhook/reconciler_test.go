package webhook

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
	"github.com/VisageAI/visage/internal/pkg/generation"
	"github.com/VisageAI/visage/internal/pkg/quota"
)

type memWebhookRepo struct {
	mu     sync.Mutex
	events map[string]*models.ProviderWebhookEvent
	nextID uint
}

func newMemWebhookRepo() *memWebhookRepo {
	return &memWebhookRepo{events: make(map[string]*models.ProviderWebhookEvent)}
}

func (m *memWebhookRepo) CreateEventIfNotExists(event *models.ProviderWebhookEvent) (bool, *models.ProviderWebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := event.Provider + "/" + event.ProviderEventID
	if existing, ok := m.events[k]; ok {
		return false, existing, nil
	}
	m.nextID++
	event.ID = m.nextID
	m.events[k] = event
	return true, event, nil
}

func (m *memWebhookRepo) MarkProcessed(id uint, processingError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			e.ProcessingError = processingError
		}
	}
	return nil
}

type memGenerationRepo struct {
	mu   sync.Mutex
	rows map[uint]*models.Generation
}

func newMemGenerationRepo() *memGenerationRepo {
	return &memGenerationRepo{rows: make(map[uint]*models.Generation)}
}

func (m *memGenerationRepo) Create(gen *models.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[gen.ID] = gen
	return nil
}

func (m *memGenerationRepo) GetByID(id uint) (*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memGenerationRepo) GetByUUID(uuid string) (*models.Generation, error) {
	return nil, gorm.ErrRecordNotFound
}

func (m *memGenerationRepo) GetByProviderJobID(jobID string) (*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.rows {
		if g.ProviderJobID == jobID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memGenerationRepo) GetByUserID(userID uint, offset, limit int) ([]models.Generation, error) {
	return nil, nil
}

func (m *memGenerationRepo) ListStuck(statuses []string, olderThan time.Time, limit int) ([]models.Generation, error) {
	return nil, nil
}

func (m *memGenerationRepo) SetProviderJobID(id uint, jobID string) error {
	return nil
}

func (m *memGenerationRepo) AdvanceStatus(id uint, to string, from []string, extra map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if g.Status == s {
			g.Status = to
			return true, nil
		}
	}
	return false, nil
}

type memAssetRepo struct {
	mu      sync.Mutex
	created []models.Asset
}

func (m *memAssetRepo) Create(asset *models.Asset) error { return nil }
func (m *memAssetRepo) CreateBatch(assets []models.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, assets...)
	return nil
}
func (m *memAssetRepo) GetByUUID(uuid string) (*models.Asset, error) { return nil, gorm.ErrRecordNotFound }
func (m *memAssetRepo) GetByProjectID(projectID uint, offset, limit int) ([]models.Asset, error) {
	return nil, nil
}
func (m *memAssetRepo) GetByGenerationID(generationID uint) ([]models.Asset, error) { return nil, nil }
func (m *memAssetRepo) Update(asset *models.Asset) error                           { return nil }
func (m *memAssetRepo) Delete(id uint) error                                       { return nil }

type memUsageRepo struct {
	mu          sync.Mutex
	premiumUsed int
	refunded    map[uint]bool
}

func newMemUsageRepo() *memUsageRepo { return &memUsageRepo{refunded: make(map[uint]bool)} }

func (m *memUsageRepo) EnsurePeriod(userID uint, periodKey string, plan string, standardLimit, premiumLimit int) error {
	return nil
}
func (m *memUsageRepo) GetPeriod(userID uint, periodKey string) (*models.UsagePeriod, error) {
	return &models.UsagePeriod{UserID: userID, PeriodKey: periodKey}, nil
}
func (m *memUsageRepo) TryDebit(userID uint, periodKey string, pool string, count int) (bool, error) {
	return true, nil
}
func (m *memUsageRepo) RefundDebit(generationID uint, userID uint, periodKey string, pool string, count int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refunded[generationID] {
		return false, nil
	}
	m.refunded[generationID] = true
	m.premiumUsed -= count
	return true, nil
}
func (m *memUsageRepo) ReverseDebit(userID uint, periodKey string, pool string, count int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.premiumUsed -= count
	return true, nil
}
func (m *memUsageRepo) GrantPremiumAddon(userID uint, periodKey string, credits int) error {
	return nil
}

type testEnv struct {
	reconciler *Reconciler
	webhooks   *memWebhookRepo
	gens       *memGenerationRepo
	usage      *memUsageRepo
}

func newTestEnv() *testEnv {
	webhooks := newMemWebhookRepo()
	gens := newMemGenerationRepo()
	usage := newMemUsageRepo()
	tracker := generation.NewTracker(gens, &memAssetRepo{}, quota.NewLedger(usage), nil)
	return &testEnv{
		reconciler: NewReconciler(webhooks, gens, tracker, nil),
		webhooks:   webhooks,
		gens:       gens,
		usage:      usage,
	}
}

func seedGeneration(env *testEnv, id uint, jobID, status string) *models.Generation {
	gen := &models.Generation{
		ID:            id,
		UUID:          "uuid-gen",
		UserID:        1,
		ProjectID:     1,
		EngineID:      "premium",
		Status:        status,
		ProviderJobID: jobID,
		PeriodKey:     "2026-03",
		DebitPool:     models.CreditPoolPremium,
		DebitCount:    1,
	}
	_ = env.gens.Create(gen)
	return gen
}

func TestApplySucceededCallback(t *testing.T) {
	env := newTestEnv()
	seedGeneration(env, 1, "job_1", models.GenerationStatusProcessing)

	res, err := env.reconciler.Apply(context.Background(), ApplyInput{
		EventID:        "evt_1",
		EventType:      "job.completed",
		RawBody:        []byte(`{"type":"job.completed","job":{"id":"job_1","status":"succeeded","output_urls":["https://cdn.provider.example/a.png"]}}`),
		SignatureValid: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)

	stored, err := env.gens.GetByID(1)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusSucceeded, stored.Status)
}

func TestApplyDuplicateEventID(t *testing.T) {
	env := newTestEnv()
	seedGeneration(env, 1, "job_1", models.GenerationStatusProcessing)
	body := []byte(`{"type":"job.completed","job":{"id":"job_1","status":"succeeded","output_urls":["https://cdn.provider.example/a.png"]}}`)

	res, err := env.reconciler.Apply(context.Background(), ApplyInput{EventID: "evt_dup", RawBody: body, SignatureValid: true})
	require.NoError(t, err)
	require.Equal(t, ResultApplied, res)

	res, err = env.reconciler.Apply(context.Background(), ApplyInput{EventID: "evt_dup", RawBody: body, SignatureValid: true})
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, res)
}

func TestApplyStaleFailureAfterSuccess(t *testing.T) {
	env := newTestEnv()
	seedGeneration(env, 1, "job_1", models.GenerationStatusSucceeded)

	res, err := env.reconciler.Apply(context.Background(), ApplyInput{
		EventID:        "evt_late",
		RawBody:        []byte(`{"type":"job.failed","job":{"id":"job_1","status":"failed","error":"gpu preempted"}}`),
		SignatureValid: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultStale, res)

	// The stale failure must not have refunded anything.
	assert.False(t, env.usage.refunded[1])

	stored, err := env.gens.GetByID(1)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusSucceeded, stored.Status)
}

func TestApplyFailureRefundsOnce(t *testing.T) {
	env := newTestEnv()
	seedGeneration(env, 1, "job_1", models.GenerationStatusProcessing)
	env.usage.premiumUsed = 1

	body := []byte(`{"type":"job.failed","job":{"id":"job_1","status":"failed","error":"upstream error"}}`)

	res, err := env.reconciler.Apply(context.Background(), ApplyInput{EventID: "evt_f1", RawBody: body, SignatureValid: true})
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)
	assert.Equal(t, 0, env.usage.premiumUsed)

	// A redelivery with a different event id is stale, not a second refund.
	res, err = env.reconciler.Apply(context.Background(), ApplyInput{EventID: "evt_f2", RawBody: body, SignatureValid: true})
	require.NoError(t, err)
	assert.Equal(t, ResultStale, res)
	assert.Equal(t, 0, env.usage.premiumUsed)
}

func TestApplyUnknownJob(t *testing.T) {
	env := newTestEnv()

	res, err := env.reconciler.Apply(context.Background(), ApplyInput{
		EventID:        "evt_x",
		RawBody:        []byte(`{"type":"job.completed","job":{"id":"job_missing","status":"succeeded","output_urls":["https://cdn.provider.example/a.png"]}}`),
		SignatureValid: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultUnknownGeneration, res)
}

func TestApplyMalformedPayloadMutatesNothing(t *testing.T) {
	env := newTestEnv()
	gen := seedGeneration(env, 1, "job_1", models.GenerationStatusProcessing)

	_, err := env.reconciler.Apply(context.Background(), ApplyInput{
		EventID:        "evt_bad",
		RawBody:        []byte(`{"type":"job.completed","job":{"status":"succeeded"}}`),
		SignatureValid: true,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPayload))
	assert.Empty(t, env.webhooks.events, "rejected delivery must not persist an event row")

	// A retry of the same bad body gets the same rejection, never a
	// duplicate acknowledgment.
	_, err = env.reconciler.Apply(context.Background(), ApplyInput{
		EventID:        "evt_bad",
		RawBody:        []byte(`{"type":"job.completed","job":{"status":"succeeded"}}`),
		SignatureValid: true,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPayload))

	stored, err := env.gens.GetByID(gen.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusProcessing, stored.Status)
}
