package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/VisageAI/visage/internal/pkg/cache"
	"github.com/VisageAI/visage/internal/pkg/database"
	"github.com/VisageAI/visage/internal/pkg/pricing"
	"github.com/VisageAI/visage/internal/pkg/quota"
	"github.com/VisageAI/visage/internal/pkg/usercontext"
)

const (
	creditsCacheKeyFormat = "credits:balance:%d"
	creditsCacheTTL       = 10 * time.Second
)

// creditsResponse is the JSON shape of a balance read. The redis cache
// stores the marshaled form under a short TTL; debits do not invalidate it,
// so a poll may lag by the TTL.
type creditsResponse struct {
	PeriodKey         string `json:"period_key"`
	Plan              string `json:"plan"`
	RemainingStandard int    `json:"remaining_standard"`
	RemainingPremium  int    `json:"remaining_premium"`
	StandardLimit     int    `json:"standard_limit"`
	PremiumAllowance  int    `json:"premium_allowance"`
	UpscaleUsed       int    `json:"upscale_used"`
}

// HandleGetCredits returns the user's remaining credits for the current
// billing period.
// Security: API Key required via router middleware
func HandleGetCredits(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)
	if !user.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	cacheKey := fmt.Sprintf(creditsCacheKeyFormat, user.UserID)
	if raw, err := cache.Get(cacheKey); err == nil && raw != "" {
		var cached creditsResponse
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return c.JSON(cached)
		}
	}

	plan, err := pricing.GetPlan(user.Plan)
	if err != nil {
		log.Printf("[Credits] unknown plan %q for user %d", user.Plan, user.UserID)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "plan_not_found", "message": "account plan is not configured, contact support"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ledger := quota.NewLedgerFromDB(database.GetDB())
	balance, err := ledger.Remaining(ctx, user.UserID, plan)
	if err != nil {
		log.Printf("[Credits] balance read failed for user %d: %v", user.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not read credit balance"})
	}

	resp := creditsResponse{
		PeriodKey:         balance.PeriodKey,
		Plan:              balance.Plan,
		RemainingStandard: balance.RemainingStandard,
		RemainingPremium:  balance.RemainingPremium,
		StandardLimit:     balance.StandardLimit,
		PremiumAllowance:  balance.PremiumAllowance,
		UpscaleUsed:       balance.UpscaleUsed,
	}
	if raw, err := json.Marshal(resp); err == nil {
		if err := cache.Set(cacheKey, string(raw), creditsCacheTTL); err != nil {
			log.Printf("[Credits] cache write failed for user %d: %v", user.UserID, err)
		}
	}

	return c.JSON(resp)
}

// PurchaseAddonRequest is the JSON body for an add-on credit purchase.
type PurchaseAddonRequest struct {
	Credits int `json:"credits"`
}

// HandlePurchasePremiumAddon books purchased premium add-on credits onto
// the current billing period. Payment itself happens upstream; this
// endpoint is called by the billing flow after a successful charge.
// Security: API Key required via router middleware
func HandlePurchasePremiumAddon(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)
	if !user.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req PurchaseAddonRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if req.Credits <= 0 || req.Credits > 1000 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "credits must be between 1 and 1000"})
	}

	plan, err := pricing.GetPlan(user.Plan)
	if err != nil {
		log.Printf("[Credits] unknown plan %q for user %d", user.Plan, user.UserID)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "plan_not_found", "message": "account plan is not configured, contact support"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ledger := quota.NewLedgerFromDB(database.GetDB())
	if err := ledger.GrantPremiumAddon(ctx, user.UserID, plan, req.Credits); err != nil {
		log.Printf("[Credits] addon grant failed for user %d: %v", user.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not grant add-on credits"})
	}

	// Drop the cached balance so the purchase is visible immediately.
	if err := cache.Delete(fmt.Sprintf(creditsCacheKeyFormat, user.UserID)); err != nil {
		log.Printf("[Credits] cache invalidation failed for user %d: %v", user.UserID, err)
	}

	return c.JSON(fiber.Map{"ok": true, "credits": req.Credits})
}

// HandleListPlans returns the plan catalog. Unauthenticated; it backs the
// public pricing page.
func HandleListPlans(c *fiber.Ctx) error {
	plans := pricing.ListPlans()
	items := make([]fiber.Map, 0, len(plans))
	for _, p := range plans {
		items = append(items, fiber.Map{
			"id":               p.ID,
			"name":             p.Name,
			"price_cents":      p.PriceCents,
			"currency":         p.Currency,
			"standard_credits": p.StandardCredits,
			"premium_included": p.PremiumIncluded,
		})
	}
	return c.JSON(fiber.Map{"plans": items})
}
