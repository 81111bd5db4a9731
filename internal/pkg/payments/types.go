package payments

import (
	"time"

	"github.com/marketfit/paygate/app/models"
)

// SubscriptionView is the API-facing shape of a subscription, enriched with
// the plan details clients need to render billing state without a second call.
type SubscriptionView struct {
	models.Subscription

	PlanName string                 `json:"plan_name"`
	Features map[string]interface{} `json:"features"`
	Amount   int64                  `json:"amount"`
	Currency string                 `json:"currency"`
	Interval string                 `json:"interval"`
	Gateway  string                 `json:"gateway,omitempty"`
	ShortURL string                 `json:"short_url,omitempty"`
}

// CancelResult reports the outcome of a cancel request. Status stays "active"
// while the subscription rides out its paid period.
type CancelResult struct {
	SubscriptionID        string `json:"subscription_id"`
	Status                string `json:"status"`
	CancellationScheduled bool   `json:"cancellation_scheduled"`
}

const (
	WebhookStatusSuccess = "success"
	WebhookStatusIgnored = "ignored"
	WebhookStatusError   = "error"
)

// WebhookResult is the definitive outcome handed back to the webhook
// endpoint. It is always well formed, even when handling failed, so the
// provider's delivery gets a proper response instead of a retry loop.
type WebhookResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message"`
	Result  map[string]interface{} `json:"result,omitempty"`
}

func webhookSuccess(message string, result map[string]interface{}) *WebhookResult {
	return &WebhookResult{Status: WebhookStatusSuccess, Message: message, Result: result}
}

func webhookIgnored(message string) *WebhookResult {
	return &WebhookResult{Status: WebhookStatusIgnored, Message: message}
}

func webhookError(message string) *WebhookResult {
	return &WebhookResult{Status: WebhookStatusError, Message: message}
}

func periodResult(sub *models.Subscription) map[string]interface{} {
	result := map[string]interface{}{
		"subscription_id": sub.ID,
		"status":          sub.Status,
	}
	if sub.CurrentPeriodStart != nil {
		result["current_period_start"] = sub.CurrentPeriodStart.Format(time.RFC3339)
	}
	if sub.CurrentPeriodEnd != nil {
		result["current_period_end"] = sub.CurrentPeriodEnd.Format(time.RFC3339)
	}
	return result
}
