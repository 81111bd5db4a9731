package models

import "time"

const (
	InvoiceStatusPending = "pending"
	InvoiceStatusPaid    = "Paid"
)

// ManualActivationInvoiceRef is the sentinel provider-invoice-id written when
// a subscription is activated through the manual verification path instead of
// a provider charge webhook.
const ManualActivationInvoiceRef = "manual_activation"

// Invoice is an append-only record of a charge against a subscription. The
// (subscription_id, razorpay_invoice_id) pair is unique so a redelivered
// charge webhook cannot insert the same invoice twice.
type Invoice struct {
	ID                string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	SubscriptionID    string     `gorm:"type:varchar(64);not null;index:ux_subscription_invoices_sub_rzp,unique,priority:1" json:"subscription_id"`
	UserID            string     `gorm:"type:varchar(255);not null;index" json:"user_id"`
	RazorpayInvoiceID string     `gorm:"type:varchar(255);index:ux_subscription_invoices_sub_rzp,unique,priority:2" json:"razorpay_invoice_id,omitempty"`
	PaypalInvoiceID   string     `gorm:"type:varchar(255)" json:"paypal_invoice_id,omitempty"`
	Amount            int64      `gorm:"not null" json:"amount"`
	Currency          string     `gorm:"type:varchar(10);not null;default:'INR'" json:"currency"`
	Status            string     `gorm:"type:varchar(50);not null" json:"status"`
	PaymentID         string     `gorm:"type:varchar(255)" json:"payment_id,omitempty"`
	InvoiceDate       *time.Time `gorm:"type:datetime" json:"invoice_date,omitempty"`
	PaidAt            *time.Time `gorm:"type:datetime" json:"paid_at,omitempty"`
	AppID             string     `gorm:"type:varchar(50)" json:"app_id"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Invoice) TableName() string {
	return "subscription_invoices"
}

// NormalizeInvoiceStatus maps provider payment states onto local invoice
// states. Razorpay reports settled payments as "captured".
func NormalizeInvoiceStatus(status string) string {
	if status == "captured" {
		return InvoiceStatusPaid
	}
	if status == "" {
		return InvoiceStatusPending
	}
	return status
}
