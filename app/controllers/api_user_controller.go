package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/VisageAI/visage/app/models"
	"github.com/VisageAI/visage/app/repository"
	"github.com/VisageAI/visage/internal/pkg/database"
	"github.com/VisageAI/visage/internal/pkg/pricing"
	"github.com/VisageAI/visage/internal/pkg/usercontext"
)

// HandleGetUserAccount returns account information for the authenticated user.
// Security: API Key required via router middleware
func HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}
	settings, err := models.GetOrCreateUserSettings(db, userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user settings"})
	}

	plan, err := pricing.GetPlan(settings.Plan)
	if err != nil {
		log.Printf("[User] unknown plan %q for user %d", settings.Plan, userCtx.UserID)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "plan_not_found", "message": "account plan is not configured, contact support"})
	}

	projectRepo := repository.GetGlobalFactory().GetProjectRepository()
	projectCount, _ := projectRepo.CountByUserID(userCtx.UserID)

	return c.JSON(fiber.Map{
		"name":             account.Name,
		"email":            account.Email,
		"plan":             plan.ID,
		"standard_credits": plan.StandardCredits,
		"premium_included": plan.PremiumIncluded,
		"project_count":    projectCount,
		"member_since":     account.CreatedAt,
	})
}
