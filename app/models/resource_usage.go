package models

import "time"

const (
	ResourceDocumentPages      = "document_pages"
	ResourcePerplexityRequests = "perplexity_requests"
)

// ResourceUsage holds the metered counters for one subscription billing
// period. A fresh row with zeroed counters is created whenever a period
// starts or renews; rows for elapsed periods are never updated again.
type ResourceUsage struct {
	ID                      uint      `gorm:"primaryKey" json:"id"`
	UserID                  string    `gorm:"type:varchar(255);not null;index" json:"user_id"`
	SubscriptionID          string    `gorm:"type:varchar(64);not null;index" json:"subscription_id"`
	AppID                   string    `gorm:"type:varchar(50);not null;index" json:"app_id"`
	BillingPeriodStart      time.Time `gorm:"type:datetime;not null" json:"billing_period_start"`
	BillingPeriodEnd        time.Time `gorm:"type:datetime;not null" json:"billing_period_end"`
	DocumentPagesCount      int64     `gorm:"not null;default:0" json:"document_pages_count"`
	PerplexityRequestsCount int64     `gorm:"not null;default:0" json:"perplexity_requests_count"`
	CreatedAt               time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ResourceUsage) TableName() string {
	return "resource_usage"
}

// UsageCounterColumn maps a metered resource type to its counter column.
// Resource types outside the whitelist return "" and must be rejected.
func UsageCounterColumn(resourceType string) string {
	switch resourceType {
	case ResourceDocumentPages:
		return "document_pages_count"
	case ResourcePerplexityRequests:
		return "perplexity_requests_count"
	default:
		return ""
	}
}

// Counters returns all metered counters, defaulting to zero values, so API
// responses never carry missing fields.
func (u *ResourceUsage) Counters() map[string]int64 {
	counters := map[string]int64{
		ResourceDocumentPages:      0,
		ResourcePerplexityRequests: 0,
	}
	if u != nil {
		counters[ResourceDocumentPages] = u.DocumentPagesCount
		counters[ResourcePerplexityRequests] = u.PerplexityRequestsCount
	}
	return counters
}
