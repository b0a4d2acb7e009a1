package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/VisageAI/visage/app/controllers"
	"github.com/VisageAI/visage/internal/pkg/constants"
	"github.com/VisageAI/visage/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{
		Max: 120,
		KeyGenerator: func(c *fiber.Ctx) string {
			if key := c.Get("X-API-Key"); key != "" {
				return key
			}
			return c.IP()
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Provider callbacks authenticate with an HMAC signature, not an API key
	v1.Post(constants.WebhookPath, controllers.HandleGenerationWebhook)

	// Public catalog and counters
	v1.Get("/plans", controllers.HandleListPlans)
	v1.Get("/stats", controllers.HandleGetStats)

	// Everything below requires a user API key
	authed := v1.Group("", middleware.APIKeyAuthMiddleware())

	authed.Get("/user/account", controllers.HandleGetUserAccount)

	authed.Get("/credits", controllers.HandleGetCredits)
	authed.Post("/credits/addon", controllers.HandlePurchasePremiumAddon)

	authed.Post("/projects", controllers.HandleCreateProject)
	authed.Get("/projects", controllers.HandleListProjects)
	authed.Get("/projects/:uuid", controllers.HandleGetProject)
	authed.Put("/projects/:uuid", controllers.HandleUpdateProject)
	authed.Delete("/projects/:uuid", controllers.HandleDeleteProject)

	authed.Post("/generations", controllers.HandleCreateGeneration)
	authed.Get("/generations", controllers.HandleListGenerations)
	authed.Get("/generations/:uuid", controllers.HandleGetGeneration)
	authed.Get("/generations/:uuid/status", controllers.HandleGetGenerationStatus)
	authed.Post("/generations/:uuid/cancel", controllers.HandleCancelGeneration)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
