// handlers/admin_routes.go
package handlers

import (
	"invest-settlement-system/middleware"
	"invest-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAdminRoutes(app *fiber.App, admin *services.AdminService) {
	adminGroup := app.Group("/admin", middleware.UserContextMiddleware(), middleware.RequireAdmin())

	adminGroup.Get("/tiers", admin.ListTiers)
	adminGroup.Post("/activations", admin.ForceActivate)
	adminGroup.Put("/users/:id/rank", admin.SetRank)

	adminGroup.Post("/signals", admin.PublishSignal)
	adminGroup.Post("/signals/:id/close", admin.CloseSignal)
	adminGroup.Post("/orders/:id/resolve", admin.ResolveOrder)

	adminGroup.Post("/ledger", admin.AdjustLedger)
}
