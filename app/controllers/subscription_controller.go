package controllers

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/marketfit/paygate/internal/pkg/cache"
)

const plansCacheTTL = 5 * time.Minute

type createSubscriptionRequest struct {
	UserID string `json:"user_id" validate:"required"`
	PlanID string `json:"plan_id" validate:"required"`
	AppID  string `json:"app_id" validate:"required"`
}

type cancelSubscriptionRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type recordPayPalRequest struct {
	UserID               string `json:"user_id" validate:"required"`
	PlanID               string `json:"plan_id" validate:"required"`
	AppID                string `json:"app_id" validate:"required"`
	PaypalSubscriptionID string `json:"paypal_subscription_id" validate:"required"`
}

// HandleGetPlans lists the active plans of one app. The response is cached
// for a few minutes since plans change rarely and this endpoint is hit on
// every pricing page view.
func HandleGetPlans(c *fiber.Ctx) error {
	appID := c.Query("app_id")
	if appID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "app_id is required"})
	}

	cacheKey := "plans:" + appID
	if cached, err := cache.Get(cacheKey); err == nil && cached != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	}

	plans, err := paymentService().GetAvailablePlans(appID)
	if err != nil {
		return respondError(c, err)
	}

	payload := fiber.Map{"plans": plans}
	if encoded, err := json.Marshal(payload); err == nil {
		if err := cache.Set(cacheKey, string(encoded), plansCacheTTL); err != nil {
			log.Printf("[controllers] plan cache write failed for %s: %v", appID, err)
		}
	}
	return c.JSON(payload)
}

// HandleGetUserSubscription resolves the caller's subscription, provisioning
// the app's free plan when the user has none.
func HandleGetUserSubscription(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	appID := c.Query("app_id")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sub, err := paymentService().GetUserSubscription(ctx, userID, appID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub})
}

func HandleCreateSubscription(c *fiber.Ctx) error {
	var req createSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sub, err := paymentService().CreateSubscription(ctx, req.UserID, req.PlanID, req.AppID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"subscription": sub})
}

func HandleCancelSubscription(c *fiber.Ctx) error {
	subscriptionID := c.Params("subscription_id")

	var req cancelSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := paymentService().CancelSubscription(ctx, req.UserID, subscriptionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"result": result})
}

// HandleRecordPayPalSubscription stores a subscription the client approved
// directly with PayPal.
func HandleRecordPayPalSubscription(c *fiber.Ctx) error {
	var req recordPayPalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	sub, err := paymentService().RecordPayPalSubscription(req.UserID, req.PlanID, req.AppID, req.PaypalSubscriptionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"subscription": sub})
}
