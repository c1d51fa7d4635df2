// handlers/signal_routes.go
package handlers

import (
	"invest-settlement-system/middleware"
	"invest-settlement-system/models"
	"invest-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupSignalRoutes(app *fiber.App, signal *services.SignalService) {
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Get("/signals/active", signal.GetActiveSignal)
	securedGroup.Post("/signals/:id/join", signal.JoinSignal)
	securedGroup.Post("/orders/:id/close", signal.CloseOrder)

	securedGroup.Get("/orders", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var orders []models.TimedOrder
		if err := signal.DB.Where("user_id = ?", userID).
			Order("created_at DESC").Limit(100).
			Find(&orders).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load orders"})
		}
		return c.JSON(orders)
	})

	securedGroup.Get("/participations", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var parts []models.SignalParticipation
		if err := signal.DB.Where("user_id = ?", userID).
			Order("created_at DESC").Limit(100).
			Find(&parts).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load participations"})
		}
		return c.JSON(parts)
	})
}
