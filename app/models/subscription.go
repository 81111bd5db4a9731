package models

import "time"

const (
	SubscriptionStatusCreated       = "created"
	SubscriptionStatusAuthenticated = "authenticated"
	SubscriptionStatusActive        = "active"
	SubscriptionStatusHalted        = "halted"
	SubscriptionStatusCompleted     = "completed"
	SubscriptionStatusCancelled     = "cancelled"
)

// Subscription tracks one user's subscription to a plan within an app.
// Rows are never hard-deleted; lifecycle transitions only change Status.
// The billing window is undefined until the subscription first activates.
type Subscription struct {
	ID                     string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	UserID                 string     `gorm:"type:varchar(255);not null;index" json:"user_id"`
	PlanID                 string     `gorm:"type:varchar(64);not null;index" json:"plan_id"`
	RazorpaySubscriptionID string     `gorm:"type:varchar(255);index" json:"razorpay_subscription_id,omitempty"`
	PaypalSubscriptionID   string     `gorm:"type:varchar(255);index" json:"paypal_subscription_id,omitempty"`
	Status                 string     `gorm:"type:varchar(50);not null;index:idx_user_subscriptions_user_app_status,priority:3" json:"status"`
	CurrentPeriodStart     *time.Time `gorm:"type:datetime;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:datetime;default:null" json:"current_period_end,omitempty"`
	AppID                  string     `gorm:"type:varchar(50);not null;index:idx_user_subscriptions_user_app_status,priority:2" json:"app_id"`
	Metadata               string     `gorm:"type:longtext" json:"metadata,omitempty"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "user_subscriptions"
}

// IsActive reports whether the current billing period is in effect.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// MetadataMap parses the metadata JSON column into a map. Missing or broken
// payloads yield an empty map so merge patches always have a base.
func (s *Subscription) MetadataMap() map[string]interface{} {
	return parseJSONMap(s.Metadata)
}

// CancellationScheduled reports whether a cancel-at-cycle-end has been
// recorded in metadata while the subscription rides out its period.
func (s *Subscription) CancellationScheduled() bool {
	v, ok := s.MetadataMap()["cancellation_scheduled"].(bool)
	return ok && v
}

// ExternalID returns the provider-side subscription ID for whichever gateway
// this subscription was created on.
func (s *Subscription) ExternalID() (gateway, id string) {
	if s.RazorpaySubscriptionID != "" {
		return GatewayRazorpay, s.RazorpaySubscriptionID
	}
	if s.PaypalSubscriptionID != "" {
		return GatewayPayPal, s.PaypalSubscriptionID
	}
	return "", ""
}
