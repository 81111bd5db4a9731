package payments

import (
	"errors"
	"time"

	"github.com/marketfit/paygate/app/models"
	"gorm.io/gorm"
)

// IncrementResourceUsage adds count to one metered counter inside the current
// billing period. Users without an active subscription get a false return
// instead of an error; metering silently passes through for them.
func (s *Service) IncrementResourceUsage(userID, appID, resourceType string, count int64) (bool, error) {
	if userID == "" || appID == "" {
		return false, validationf("user_id and app_id are required")
	}
	if count <= 0 {
		return false, validationf("count must be positive")
	}
	column := models.UsageCounterColumn(resourceType)
	if column == "" {
		return false, validationf("unknown resource type: %s", resourceType)
	}

	sub, err := s.repo.FindSubscriptionWithStatus(userID, appID, models.SubscriptionStatusActive)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	row, err := s.currentUsageRow(sub)
	if err != nil {
		return false, err
	}
	if err := s.repo.AddUsage(row.ID, column, count); err != nil {
		return false, err
	}
	return true, nil
}

// GetResourceUsage returns the counters for the user's current billing
// period. Every known counter is present, zeroed when nothing was recorded
// or no active subscription exists.
func (s *Service) GetResourceUsage(userID, appID string) (map[string]int64, error) {
	if userID == "" || appID == "" {
		return nil, validationf("user_id and app_id are required")
	}

	sub, err := s.repo.FindSubscriptionWithStatus(userID, appID, models.SubscriptionStatusActive)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return (*models.ResourceUsage)(nil).Counters(), nil
		}
		return nil, err
	}

	row, err := s.repo.FindUsageInPeriod(userID, sub.ID, appID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return (*models.ResourceUsage)(nil).Counters(), nil
		}
		return nil, err
	}
	return row.Counters(), nil
}

// GetBillingHistory lists a user's invoices for one app, newest first.
func (s *Service) GetBillingHistory(userID, appID string) ([]models.Invoice, error) {
	if userID == "" || appID == "" {
		return nil, validationf("user_id and app_id are required")
	}
	return s.repo.ListInvoicesForUser(userID, appID)
}

// currentUsageRow finds the usage row covering now, creating one from the
// subscription's billing window when the period started without a row.
func (s *Service) currentUsageRow(sub *models.Subscription) (*models.ResourceUsage, error) {
	now := time.Now().UTC()
	row, err := s.repo.FindUsageInPeriod(sub.UserID, sub.ID, sub.AppID, now)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	start := now
	end := PeriodEnd(now, "", 1)
	if sub.CurrentPeriodStart != nil && sub.CurrentPeriodEnd != nil {
		start = *sub.CurrentPeriodStart
		end = *sub.CurrentPeriodEnd
	}
	fresh := &models.ResourceUsage{
		UserID:             sub.UserID,
		SubscriptionID:     sub.ID,
		AppID:              sub.AppID,
		BillingPeriodStart: start,
		BillingPeriodEnd:   end,
	}
	if err := s.repo.CreateResourceUsage(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}
