package payments

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/marketfit/paygate/app/models"
)

// SyncReport summarizes one reconciliation run.
type SyncReport struct {
	Checked int
	Updated int
	Failed  int
}

var syncableProviderStatuses = map[string]string{
	"created":       models.SubscriptionStatusCreated,
	"authenticated": models.SubscriptionStatusAuthenticated,
	"active":        models.SubscriptionStatusActive,
	"halted":        models.SubscriptionStatusHalted,
	"completed":     models.SubscriptionStatusCompleted,
	"cancelled":     models.SubscriptionStatusCancelled,
	"expired":       models.SubscriptionStatusCancelled,
}

// SyncAll reconciles every non-terminal subscription against the provider's
// current view. Webhooks can be dropped; this is the catch-up path. With
// dryRun set, differences are logged but nothing is written.
func (s *Service) SyncAll(ctx context.Context, appID string, dryRun bool) (*SyncReport, error) {
	subs, err := s.repo.ListSyncableSubscriptions(appID)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{}
	for i := range subs {
		report.Checked++
		changed, err := s.SyncSubscription(ctx, &subs[i], dryRun)
		if err != nil {
			report.Failed++
			log.Printf("[payments] sync failed for subscription %s: %v", subs[i].ID, err)
			continue
		}
		if changed {
			report.Updated++
		}
	}
	return report, nil
}

// SyncSubscription pulls the provider's status for one subscription and
// applies it locally when it differs. Reports whether a change was written.
func (s *Service) SyncSubscription(ctx context.Context, sub *models.Subscription, dryRun bool) (bool, error) {
	gateway, externalID := sub.ExternalID()
	if externalID == "" {
		return false, nil
	}
	provider, ok := s.providers[gateway]
	if !ok {
		return false, errors.New("no provider for gateway " + gateway)
	}

	psub, err := provider.FetchSubscription(ctx, externalID)
	if err != nil {
		return false, err
	}

	mapped, known := syncableProviderStatuses[psub.Status]
	if !known || mapped == sub.Status {
		return false, nil
	}

	log.Printf("[payments] sync: subscription %s status %s -> %s", sub.ID, sub.Status, mapped)
	if dryRun {
		return true, nil
	}

	previous := sub.Status
	sub.Status = mapped
	if mapped == models.SubscriptionStatusActive && previous != models.SubscriptionStatusActive {
		start := time.Now().UTC()
		if epoch := entityEpoch(psub.Raw, "current_start"); epoch > 0 {
			start = time.Unix(epoch, 0).UTC()
		}
		plan, _ := s.repo.GetPlan(sub.PlanID)
		end := s.periodEndFor(plan, start)
		sub.CurrentPeriodStart = &start
		sub.CurrentPeriodEnd = &end
	}
	mergeMetadata(sub, map[string]interface{}{
		"synced_at":       time.Now().UTC().Format(time.RFC3339),
		"provider_status": psub.Status,
	})
	if err := s.repo.SaveSubscription(sub); err != nil {
		return false, err
	}
	if sub.Status == models.SubscriptionStatusActive && previous != models.SubscriptionStatusActive {
		if err := s.seedUsage(sub); err != nil {
			return false, err
		}
	}

	s.logEvent("subscription_status_synced", externalID, sub.UserID, map[string]interface{}{
		"subscription_id": sub.ID,
		"from":            previous,
		"to":              sub.Status,
	}, true, nil)

	return true, nil
}
