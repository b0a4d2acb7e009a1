package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/VisageAI/visage/internal/pkg/cache"
	"github.com/VisageAI/visage/internal/pkg/database"
	"github.com/VisageAI/visage/internal/pkg/env"
	"github.com/VisageAI/visage/internal/pkg/jobqueue"
	"github.com/VisageAI/visage/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	manager := jobqueue.GetManager()
	manager.SetWatchdog(jobqueue.NewWatchdogFromDB(database.GetDB()))
	manager.Start()

	app := fiber.New(fiber.Config{
		BodyLimit: 10485760, // 10 MiB, JSON only
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
