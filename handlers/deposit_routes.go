// handlers/deposit_routes.go
package handlers

import (
	"strconv"

	"invest-settlement-system/middleware"
	"invest-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupDepositRoutes(app *fiber.App, activation *services.ActivationService, ledger *services.LedgerService, admin *services.AdminService) {
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Get("/tiers", admin.ListTiers)

	securedGroup.Post("/deposits", activation.SubmitDeposit)
	securedGroup.Post("/deposits/upgrade", activation.SubmitUpgrade)
	securedGroup.Get("/deposits/:id", activation.GetDeposit)

	securedGroup.Get("/balance", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		balance, err := ledger.Balance(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to compute balance"})
		}
		byKind, err := ledger.BalanceByKind(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to compute balance breakdown"})
		}
		return c.JSON(fiber.Map{
			"balance": balance,
			"by_kind": byKind,
		})
	})

	securedGroup.Get("/ledger", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		offset, _ := strconv.Atoi(c.Query("offset", "0"))

		entries, err := ledger.Entries(userID, limit, offset)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load ledger"})
		}
		return c.JSON(entries)
	})
}
