package models

import "time"

// SubscriptionEvent is an append-only audit row for every inbound or outbound
// provider event. Each webhook produces two rows: one on receipt with
// Processed=false and one after handling with the "_processed" suffix, so the
// trail reflects attempted processing even when handling failed. The engine
// never reads these rows back for decisions.
type SubscriptionEvent struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	EventType        string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	RazorpayEntityID string    `gorm:"type:varchar(255);index" json:"razorpay_entity_id,omitempty"`
	PaypalEntityID   string    `gorm:"type:varchar(255)" json:"paypal_entity_id,omitempty"`
	UserID           string    `gorm:"type:varchar(255)" json:"user_id,omitempty"`
	Data             string    `gorm:"type:longtext" json:"data,omitempty"`
	Processed        bool      `gorm:"not null;default:false" json:"processed"`
	Error            string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (SubscriptionEvent) TableName() string {
	return "subscription_events_log"
}
