package controllers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VisageAI/visage/internal/pkg/usercontext"
)

func creditsTestApp(plan string) *fiber.App {
	app := fiber.New()
	inject := func(c *fiber.Ctx) error {
		c.Locals("USER_CONTEXT", usercontext.UserContext{
			UserID:     7,
			Username:   "mira",
			IsLoggedIn: true,
			Plan:       plan,
		})
		return c.Next()
	}
	app.Get("/api/v1/credits", inject, HandleGetCredits)
	app.Post("/api/v1/credits/addon", inject, HandlePurchasePremiumAddon)
	return app
}

func TestGetCreditsRejectsUnknownPlan(t *testing.T) {
	// A plan id outside the catalog is a configuration error; it must
	// surface to the caller, never silently downgrade to the free plan.
	app := creditsTestApp("legacy-gold")

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/credits", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "plan_not_found", body["error"])
}

func TestPurchaseAddonRejectsUnknownPlan(t *testing.T) {
	app := creditsTestApp("legacy-gold")

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/credits/addon", strings.NewReader(`{"credits":10}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "plan_not_found", body["error"])
}
