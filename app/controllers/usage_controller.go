package controllers

import (
	"github.com/gofiber/fiber/v2"
)

type incrementUsageRequest struct {
	UserID       string `json:"user_id" validate:"required"`
	AppID        string `json:"app_id" validate:"required"`
	ResourceType string `json:"resource_type" validate:"required"`
	Count        int64  `json:"count" validate:"required,gt=0"`
}

// HandleGetUsageStats returns the metered counters of the caller's current
// billing period, zeroed when nothing is active.
func HandleGetUsageStats(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	appID := c.Query("app_id")

	usage, err := paymentService().GetResourceUsage(userID, appID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"usage": usage})
}

func HandleIncrementUsage(c *fiber.Ctx) error {
	var req incrementUsageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	tracked, err := paymentService().IncrementResourceUsage(req.UserID, req.AppID, req.ResourceType, req.Count)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"tracked": tracked})
}

func HandleGetBillingHistory(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	appID := c.Query("app_id")

	invoices, err := paymentService().GetBillingHistory(userID, appID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"invoices": invoices})
}
