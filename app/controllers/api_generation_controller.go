package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/VisageAI/visage/app/models"
	"github.com/VisageAI/visage/app/repository"
	"github.com/VisageAI/visage/internal/pkg/database"
	"github.com/VisageAI/visage/internal/pkg/events"
	"github.com/VisageAI/visage/internal/pkg/generation"
	metrics "github.com/VisageAI/visage/internal/pkg/metrics/counter"
	"github.com/VisageAI/visage/internal/pkg/pricing"
	"github.com/VisageAI/visage/internal/pkg/provider"
	"github.com/VisageAI/visage/internal/pkg/quota"
	"github.com/VisageAI/visage/internal/pkg/usercontext"
)

// CreateGenerationRequest is the JSON body for a generation dispatch.
type CreateGenerationRequest struct {
	ProjectUUID string `json:"project_uuid"`
	Mode        string `json:"mode"`
	Quality     string `json:"quality"`
	UseKontext  bool   `json:"use_kontext"`
	InputURL    string `json:"input_url"`
	Count       int    `json:"count"`
}

// generationDispatcher is the provider call the create handler depends on.
// Tests substitute a fake; production uses the HTTP client.
type generationDispatcher interface {
	CreateJob(ctx context.Context, in provider.CreateJobInput) (*provider.Job, error)
}

var newDispatcher = func() generationDispatcher {
	return provider.NewClientFromEnv()
}

// HandleCreateGeneration admits a generation against the user's credits,
// persists it and dispatches the job to the provider.
// Security: API Key required via router middleware
func HandleCreateGeneration(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)
	if !user.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req CreateGenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.Count > 10 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "count must be between 1 and 10"})
	}

	engineID, err := pricing.SelectEngine(pricing.GenerationRequest{
		Mode:       req.Mode,
		Quality:    req.Quality,
		UseKontext: req.UseKontext,
	})
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidRequestShape) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_request_shape", "message": "unsupported mode/quality combination"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "engine selection failed"})
	}

	engine, err := pricing.GetEngine(engineID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "unknown engine"})
	}
	if strings.EqualFold(req.Mode, pricing.ModeEdit) || strings.EqualFold(req.Mode, pricing.ModeUpscale) {
		if strings.TrimSpace(req.InputURL) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "input_url is required for edits and upscales"})
		}
	}

	plan, err := pricing.GetPlan(user.Plan)
	if err != nil {
		// A plan id outside the catalog is a configuration error, never a
		// silent downgrade.
		log.Printf("[Generation] unknown plan %q for user %d", user.Plan, user.UserID)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "plan_not_found", "message": "account plan is not configured, contact support"})
	}

	projectRepo := repository.GetGlobalFactory().GetProjectRepository()
	project, err := projectRepo.GetByUUID(strings.TrimSpace(req.ProjectUUID))
	if err != nil || project == nil || project.UserID != user.UserID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "project not found"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ledger := quota.NewLedgerFromDB(database.GetDB())
	debit, err := ledger.CheckAndDebit(ctx, user.UserID, plan, engine.Class, req.Count)
	if err != nil {
		log.Printf("[Generation] debit failed for user %d: %v", user.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "credit check failed"})
	}
	if !debit.Admitted {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":              debit.Reason,
			"message":            "not enough credits for this request",
			"remaining_standard": debit.RemainingStandard,
			"remaining_premium":  debit.RemainingPremium,
		})
	}

	genRepo := repository.GetGlobalFactory().GetGenerationRepository()
	gen := &models.Generation{
		UUID:        uuid.New().String(),
		UserID:      user.UserID,
		ProjectID:   project.ID,
		EngineID:    engine.ID,
		Status:      models.GenerationStatusStarting,
		InputURL:    strings.TrimSpace(req.InputURL),
		PeriodKey:   debit.Token.PeriodKey,
		DebitPool:   debit.Token.Pool,
		DebitCount:  debit.Token.Count,
		RequestedAt: time.Now().UTC(),
	}
	tracker := generation.NewTrackerFromDB(database.GetDB(), events.LogSink{})

	if err := genRepo.Create(gen); err != nil {
		// The debit went through but the row did not; reverse it so the
		// user's credits are not silently burned.
		debit.Token.GenerationID = 0
		if _, refundErr := ledger.RefundDirect(ctx, debit.Token); refundErr != nil {
			log.Printf("[Generation] OPERATOR: orphaned debit for user %d period %s pool %s count %d: %v",
				user.UserID, debit.Token.PeriodKey, debit.Token.Pool, debit.Token.Count, refundErr)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not create generation"})
	}

	job, err := newDispatcher().CreateJob(ctx, provider.CreateJobInput{
		EngineID: engine.ID,
		InputURL: gen.InputURL,
		Count:    req.Count,
	})
	if err != nil {
		log.Printf("[Generation] dispatch failed for generation %s: %v", gen.UUID, err)
		if _, failErr := tracker.MarkFailed(ctx, gen, "provider dispatch failed"); failErr != nil {
			log.Printf("[Generation] OPERATOR: could not fail generation %s after dispatch error: %v", gen.UUID, failErr)
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable", "message": "generation could not be dispatched"})
	}

	if err := metrics.AddEngineDispatch(engine.ID); err != nil {
		log.Printf("[Generation] engine dispatch counter failed: %v", err)
	}
	if err := genRepo.SetProviderJobID(gen.ID, job.ID); err != nil {
		log.Printf("[Generation] OPERATOR: generation %s dispatched as job %s but job id not stored: %v", gen.UUID, job.ID, err)
	}
	gen.ProviderJobID = job.ID
	if _, err := tracker.MarkProcessing(ctx, gen); err != nil {
		log.Printf("[Generation] could not mark generation %s processing: %v", gen.UUID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"uuid":               gen.UUID,
		"status":             gen.Status,
		"engine":             engine.ID,
		"debited_pool":       debit.Token.Pool,
		"debited_count":      debit.Token.Count,
		"remaining_standard": debit.RemainingStandard,
		"remaining_premium":  debit.RemainingPremium,
	})
}

// HandleGetGeneration returns one generation with its output assets.
// Security: API Key required via router middleware
func HandleGetGeneration(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)
	if !user.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	genUUID := c.Params("uuid")
	if genUUID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "uuid missing"})
	}

	genRepo := repository.GetGlobalFactory().GetGenerationRepository()
	gen, err := genRepo.GetByUUID(genUUID)
	if err != nil || gen == nil || gen.UserID != user.UserID {
		// Do not leak existence
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "generation not found"})
	}

	assets := []models.Asset{}
	if gen.Status == models.GenerationStatusSucceeded {
		assetRepo := repository.GetGlobalFactory().GetAssetRepository()
		if list, err := assetRepo.GetByGenerationID(gen.ID); err == nil {
			assets = list
		}
	}

	outputs := make([]fiber.Map, 0, len(assets))
	for _, a := range assets {
		url := a.SourceURL
		if a.MirrorURL != "" {
			url = a.MirrorURL
		}
		outputs = append(outputs, fiber.Map{"uuid": a.UUID, "url": url})
	}

	return c.JSON(fiber.Map{
		"uuid":          gen.UUID,
		"status":        gen.Status,
		"engine":        gen.EngineID,
		"error_message": gen.ErrorMessage,
		"requested_at":  gen.RequestedAt,
		"completed_at":  gen.CompletedAt,
		"outputs":       outputs,
	})
}

// HandleGetGenerationStatus is the cheap polling endpoint. It serves from
// the redis status mirror when warm and falls back to the database.
// Security: API Key required via router middleware
func HandleGetGenerationStatus(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)
	if !user.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	genUUID := c.Params("uuid")
	if genUUID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "uuid missing"})
	}

	if ownerID, status, err := generation.GetStatusCache(genUUID); err == nil && status != "" {
		if ownerID != user.UserID {
			// Same shape as the database path: no existence leak.
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "generation not found"})
		}
		return c.JSON(fiber.Map{"uuid": genUUID, "status": status})
	}

	genRepo := repository.GetGlobalFactory().GetGenerationRepository()
	gen, err := genRepo.GetByUUID(genUUID)
	if err != nil || gen == nil || gen.UserID != user.UserID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "generation not found"})
	}

	return c.JSON(fiber.Map{"uuid": gen.UUID, "status": gen.Status})
}

// HandleListGenerations returns the user's generations, newest first.
// Security: API Key required via router middleware
func HandleListGenerations(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)
	if !user.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	genRepo := repository.GetGlobalFactory().GetGenerationRepository()
	gens, err := genRepo.GetByUserID(user.UserID, offset, limit)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not list generations"})
	}

	items := make([]fiber.Map, 0, len(gens))
	for i := range gens {
		items = append(items, fiber.Map{
			"uuid":         gens[i].UUID,
			"status":       gens[i].Status,
			"engine":       gens[i].EngineID,
			"requested_at": gens[i].RequestedAt,
		})
	}

	return c.JSON(fiber.Map{"generations": items, "offset": offset, "limit": limit})
}

// HandleCancelGeneration asks the provider to abort a running job and marks
// the generation canceled, which refunds its debit.
// Security: API Key required via router middleware
func HandleCancelGeneration(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)
	if !user.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	genUUID := c.Params("uuid")
	genRepo := repository.GetGlobalFactory().GetGenerationRepository()
	gen, err := genRepo.GetByUUID(genUUID)
	if err != nil || gen == nil || gen.UserID != user.UserID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "generation not found"})
	}
	if gen.IsTerminal() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_finished", "message": "generation already reached a final state", "status": gen.Status})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if gen.ProviderJobID != "" {
		if err := provider.NewClientFromEnv().CancelJob(ctx, gen.ProviderJobID); err != nil {
			log.Printf("[Generation] provider cancel for job %s failed: %v", gen.ProviderJobID, err)
		}
	}

	tracker := generation.NewTrackerFromDB(database.GetDB(), events.LogSink{})
	applied, err := tracker.MarkCanceled(ctx, gen)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not cancel generation"})
	}
	if !applied {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_finished", "message": "generation already reached a final state"})
	}

	return c.JSON(fiber.Map{"uuid": gen.UUID, "status": models.GenerationStatusCanceled})
}
