package payments

import (
	"time"

	"github.com/marketfit/paygate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the subscription engine.
type Repository interface {
	GetPlan(id string) (*models.Plan, error)
	GetPlanForApp(id, appID string) (*models.Plan, error)
	ListActivePlans(appID string) ([]models.Plan, error)

	GetUser(id string) (*models.User, error)

	CreateSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error
	GetSubscriptionForUser(id, userID string) (*models.Subscription, error)
	FindSubscriptionWithStatus(userID, appID, status string) (*models.Subscription, error)
	FindByRazorpaySubscriptionID(razorpaySubscriptionID string) (*models.Subscription, error)
	ListSyncableSubscriptions(appID string) ([]models.Subscription, error)

	CreateInvoiceIfNotExists(inv *models.Invoice) (bool, error)
	ListInvoicesForUser(userID, appID string) ([]models.Invoice, error)

	LogEvent(event *models.SubscriptionEvent) error

	CreateResourceUsage(row *models.ResourceUsage) error
	FindUsageInPeriod(userID, subscriptionID, appID string, at time.Time) (*models.ResourceUsage, error)
	AddUsage(id uint, column string, count int64) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetPlan(id string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) GetPlanForApp(id, appID string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.Where("id = ? AND app_id = ?", id, appID).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) ListActivePlans(appID string) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.
		Where("app_id = ? AND is_active = ?", appID, true).
		Order("amount ASC").
		Find(&plans).Error
	return plans, err
}

func (r *gormRepository) GetUser(id string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("id = ? OR google_uid = ?", id, id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) GetSubscriptionForUser(id, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindSubscriptionWithStatus(userID, appID, status string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND app_id = ? AND status = ?", userID, appID, status).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindByRazorpaySubscriptionID(razorpaySubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("razorpay_subscription_id = ?", razorpaySubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListSyncableSubscriptions(appID string) ([]models.Subscription, error) {
	statuses := []string{
		models.SubscriptionStatusActive,
		models.SubscriptionStatusCreated,
		models.SubscriptionStatusAuthenticated,
		models.SubscriptionStatusHalted,
	}
	q := r.db.Where("status IN ?", statuses)
	if appID != "" {
		q = q.Where("app_id = ?", appID)
	}
	var subs []models.Subscription
	err := q.Find(&subs).Error
	return subs, err
}

// CreateInvoiceIfNotExists inserts an invoice unless one with the same
// (subscription_id, razorpay_invoice_id) already exists, so redelivered
// charge events cannot double-bill.
func (r *gormRepository) CreateInvoiceIfNotExists(inv *models.Invoice) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "subscription_id"},
			{Name: "razorpay_invoice_id"},
		},
		DoNothing: true,
	}).Create(inv)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListInvoicesForUser(userID, appID string) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.
		Joins("JOIN user_subscriptions ON user_subscriptions.id = subscription_invoices.subscription_id").
		Where("subscription_invoices.user_id = ? AND user_subscriptions.app_id = ?", userID, appID).
		Order("subscription_invoices.invoice_date DESC").
		Find(&invoices).Error
	return invoices, err
}

func (r *gormRepository) LogEvent(event *models.SubscriptionEvent) error {
	return r.db.Create(event).Error
}

func (r *gormRepository) CreateResourceUsage(row *models.ResourceUsage) error {
	return r.db.Create(row).Error
}

func (r *gormRepository) FindUsageInPeriod(userID, subscriptionID, appID string, at time.Time) (*models.ResourceUsage, error) {
	var row models.ResourceUsage
	err := r.db.
		Where("user_id = ? AND subscription_id = ? AND app_id = ?", userID, subscriptionID, appID).
		Where("billing_period_start <= ? AND billing_period_end >= ?", at, at).
		Order("billing_period_start DESC").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// AddUsage atomically increments one counter column. The column name must
// come from models.UsageCounterColumn, never from request input.
func (r *gormRepository) AddUsage(id uint, column string, count int64) error {
	return r.db.Model(&models.ResourceUsage{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + ?", count)).Error
}
