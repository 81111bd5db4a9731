package models

import "time"

// User is the contact read-model shared with the client applications. The
// gateway only ever reads it: paid-plan checkout needs an email and display
// name to hand to the payment provider. Account management lives elsewhere.
type User struct {
	ID          string    `gorm:"type:varchar(255);primaryKey" json:"id"`
	GoogleUID   string    `gorm:"type:varchar(255);index" json:"google_uid,omitempty"`
	Email       string    `gorm:"type:varchar(255)" json:"email"`
	DisplayName string    `gorm:"type:varchar(255)" json:"display_name"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}
