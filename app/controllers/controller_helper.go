package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/marketfit/paygate/internal/pkg/database"
	"github.com/marketfit/paygate/internal/pkg/payments"
	"gorm.io/gorm"
)

var validate = validator.New()

var paymentSvc *payments.Service

// InitializePaymentControllers injects the subscription engine used by the
// payment handlers. Tests pass an engine wired against a fake provider and
// an in-memory database.
func InitializePaymentControllers(svc *payments.Service) {
	paymentSvc = svc
}

func paymentService() *payments.Service {
	if paymentSvc == nil {
		paymentSvc = payments.NewServiceFromEnv(database.GetDB())
	}
	return paymentSvc
}

// statusForError maps engine errors onto HTTP statuses. Anything not
// recognized as a caller mistake is a 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, payments.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, payments.ErrPlanNotFound),
		errors.Is(err, payments.ErrSubscriptionNotFound),
		errors.Is(err, payments.ErrUserNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error) error {
	return c.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
}
