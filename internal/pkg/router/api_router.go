package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/marketfit/paygate/app/controllers"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "paygate api",
		})
	})

	subscriptions := api.Group("/subscriptions")
	subscriptions.Get("/plans", controllers.HandleGetPlans)
	subscriptions.Get("/user/:user_id", controllers.HandleGetUserSubscription)
	subscriptions.Post("/create", controllers.HandleCreateSubscription)
	subscriptions.Post("/cancel/:subscription_id", controllers.HandleCancelSubscription)
	subscriptions.Post("/record-paypal", controllers.HandleRecordPayPalSubscription)

	// Webhooks are exempt from the limiter group so provider retries are
	// never throttled into delivery failures.
	app.Post("/api/subscriptions/razorpay-webhook", controllers.HandleRazorpayWebhook)
	app.Post("/api/subscriptions/paypal-webhook", controllers.HandlePayPalWebhook)

	subscriptions.Post("/verify-payment", controllers.HandleVerifyPayment)

	subscriptions.Get("/usage-stats", controllers.HandleGetUsageStats)
	subscriptions.Post("/increment-usage", controllers.HandleIncrementUsage)
	subscriptions.Get("/billing-history", controllers.HandleGetBillingHistory)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
