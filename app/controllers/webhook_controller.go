package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/marketfit/paygate/internal/pkg/payments"
)

type verifyPaymentRequest struct {
	RazorpayPaymentID      string `json:"razorpay_payment_id" validate:"required"`
	RazorpaySubscriptionID string `json:"razorpay_subscription_id" validate:"required"`
	RazorpaySignature      string `json:"razorpay_signature" validate:"required"`
	UserID                 string `json:"user_id" validate:"required"`
}

// HandleRazorpayWebhook ingests provider notifications. The signature header
// is verified against the raw body when present; a bad signature or an
// unparseable payload is a 400, everything handled or ignored is a 200, and
// engine failures come back as 500 with a structured body so the provider's
// retry logic only fires on genuine transient errors.
func HandleRazorpayWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	if signature := strings.TrimSpace(c.Get("X-Razorpay-Signature")); signature != "" {
		if !payments.VerifyWebhookSignature(rawBody, signature, paymentService().WebhookSecret()) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"status":  "error",
				"message": "invalid webhook signature",
			})
		}
	}

	result := paymentService().HandleWebhook(rawBody)

	status := fiber.StatusOK
	if result.Status == payments.WebhookStatusError {
		if result.Message == "invalid webhook payload" || result.Message == "missing event type" {
			status = fiber.StatusBadRequest
		} else {
			status = fiber.StatusInternalServerError
		}
	}
	return c.Status(status).JSON(result)
}

// HandlePayPalWebhook accepts PayPal notifications. Signature verification
// is not wired for PayPal; events are recorded through the same engine path
// which ignores the unfamiliar event types.
func HandlePayPalWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	result := paymentService().HandleWebhook(rawBody)

	status := fiber.StatusOK
	if result.Status == payments.WebhookStatusError {
		if result.Message == "invalid webhook payload" || result.Message == "missing event type" {
			status = fiber.StatusBadRequest
		} else {
			status = fiber.StatusInternalServerError
		}
	}
	return c.Status(status).JSON(result)
}

// HandleVerifyPayment is the manual activation fallback for clients that
// complete checkout in the browser. The signature covers
// "payment_id|subscription_id" with the webhook secret.
func HandleVerifyPayment(c *fiber.Ctx) error {
	var req verifyPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	svc := paymentService()
	if !payments.VerifyPaymentSignature(req.RazorpayPaymentID, req.RazorpaySubscriptionID, req.RazorpaySignature, svc.WebhookSecret()) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payment signature"})
	}

	sub, err := svc.ActivateSubscriptionByProviderID(req.UserID, req.RazorpaySubscriptionID, req.RazorpayPaymentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub})
}
