package models

import (
	"encoding/json"
	"time"
)

const (
	PlanIntervalMonth = "month"
	PlanIntervalYear  = "year"
)

const (
	GatewayRazorpay = "razorpay"
	GatewayPayPal   = "paypal"
)

// Plan describes a purchasable subscription tier for one client application.
// Amount is in the smallest currency unit; 0 marks a free tier.
type Plan struct {
	ID              string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name            string    `gorm:"type:varchar(255);not null" json:"name"`
	Description     string    `gorm:"type:text" json:"description"`
	Amount          int64     `gorm:"not null" json:"amount"`
	Currency        string    `gorm:"type:varchar(10);not null;default:'INR'" json:"currency"`
	Interval        string    `gorm:"type:varchar(20);not null" json:"interval"`
	IntervalCount   int       `gorm:"not null;default:1" json:"interval_count"`
	Features        string    `gorm:"type:longtext" json:"features"`
	AppID           string    `gorm:"type:varchar(50);not null;index" json:"app_id"`
	PlanType        string    `gorm:"type:varchar(50);not null;default:'domestic'" json:"plan_type"`
	PaymentGateways string    `gorm:"type:longtext" json:"payment_gateways"`
	PaypalPlanID    string    `gorm:"type:varchar(255)" json:"paypal_plan_id,omitempty"`
	RazorpayPlanID  string    `gorm:"type:varchar(255)" json:"razorpay_plan_id,omitempty"`
	IsActive        bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Plan) TableName() string {
	return "subscription_plans"
}

// IsFree reports whether the plan has no charge attached.
func (p *Plan) IsFree() bool {
	return p.Amount == 0
}

// FeatureMap parses the features JSON column, returning an empty map on
// missing or malformed data.
func (p *Plan) FeatureMap() map[string]interface{} {
	return parseJSONMap(p.Features)
}

// Gateways parses the ordered payment_gateways JSON column. The first entry is
// the default dispatch target; razorpay is assumed when the column is empty.
func (p *Plan) Gateways() []string {
	if p.PaymentGateways == "" {
		return []string{GatewayRazorpay}
	}
	var gateways []string
	if err := json.Unmarshal([]byte(p.PaymentGateways), &gateways); err != nil || len(gateways) == 0 {
		return []string{GatewayRazorpay}
	}
	return gateways
}

// GatewayPlanRef returns the external plan identifier for the given gateway,
// falling back to the local plan ID when no mapping is stored.
func (p *Plan) GatewayPlanRef(gateway string) string {
	switch gateway {
	case GatewayRazorpay:
		if p.RazorpayPlanID != "" {
			return p.RazorpayPlanID
		}
	case GatewayPayPal:
		if p.PaypalPlanID != "" {
			return p.PaypalPlanID
		}
	}
	return p.ID
}

func parseJSONMap(raw string) map[string]interface{} {
	if raw == "" {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}
