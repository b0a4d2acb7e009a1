package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/VisageAI/visage/internal/pkg/statistics"
)

// HandleGetStats returns public service counters. No authentication required.
func HandleGetStats(c *fiber.Ctx) error {
	stats := statistics.GetStatisticsData()

	return c.JSON(fiber.Map{
		"total_users":       stats.TotalUsers,
		"total_generations": stats.TotalGenerations,
		"today_generations": stats.TodayGenerations,
	})
}
