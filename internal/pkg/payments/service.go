package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marketfit/paygate/app/models"
	"github.com/marketfit/paygate/internal/pkg/env"
	"gorm.io/gorm"
)

// Config carries the engine settings that do not belong to any one provider.
// FreePlans maps an app ID to the plan auto-provisioned for users without a
// subscription; apps missing from the map fall back to "plan_free_<app_id>".
type Config struct {
	WebhookSecret string
	FreePlans     map[string]string
}

func (c Config) FreePlanID(appID string) string {
	if id, ok := c.FreePlans[appID]; ok && id != "" {
		return id
	}
	return "plan_free_" + appID
}

// Service is the subscription engine. It is stateless between calls; every
// operation reconstructs its context from the repository.
type Service struct {
	repo      Repository
	providers map[string]Provider
	cfg       Config
}

func NewService(repo Repository, providers map[string]Provider, cfg Config) *Service {
	if providers == nil {
		providers = map[string]Provider{}
	}
	return &Service{repo: repo, providers: providers, cfg: cfg}
}

// NewServiceFromEnv wires the engine with the real providers and settings
// from the process environment.
func NewServiceFromEnv(db *gorm.DB) *Service {
	return NewService(
		NewRepository(db),
		map[string]Provider{
			models.GatewayRazorpay: NewRazorpayProviderFromEnv(),
			models.GatewayPayPal:   NewPayPalProviderFromEnv(),
		},
		Config{
			WebhookSecret: env.GetEnv("RAZORPAY_WEBHOOK_SECRET", ""),
			FreePlans:     parseFreePlanEnv(env.GetEnv("FREE_PLAN_IDS", "")),
		},
	)
}

// parseFreePlanEnv reads "app:plan,app:plan" pairs.
func parseFreePlanEnv(raw string) map[string]string {
	plans := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			plans[parts[0]] = parts[1]
		}
	}
	return plans
}

// WebhookSecret exposes the shared secret for the HTTP layer's signature
// check.
func (s *Service) WebhookSecret() string {
	return s.cfg.WebhookSecret
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetAvailablePlans lists the purchasable plans of one app, cheapest first.
func (s *Service) GetAvailablePlans(appID string) ([]models.Plan, error) {
	if appID == "" {
		return nil, validationf("app_id is required")
	}
	return s.repo.ListActivePlans(appID)
}

// CreateSubscription assigns a plan to a user. Free plans activate locally
// with no provider round-trip; paid plans are dispatched to the plan's first
// configured gateway and stay in "created" until webhooks confirm them. An
// existing active subscription for the (user, app) pair is updated in place
// so the pair never holds two live rows.
func (s *Service) CreateSubscription(ctx context.Context, userID, planID, appID string) (*SubscriptionView, error) {
	if userID == "" || planID == "" || appID == "" {
		return nil, validationf("user_id, plan_id and app_id are required")
	}

	plan, err := s.repo.GetPlanForApp(planID, appID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("plan %s for app %s: %w", planID, appID, ErrPlanNotFound)
		}
		return nil, err
	}

	existing, err := s.repo.FindSubscriptionWithStatus(userID, appID, models.SubscriptionStatusActive)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if plan.IsFree() {
		return s.createFreeSubscription(existing, plan, userID, appID)
	}
	return s.createPaidSubscription(ctx, existing, plan, userID, appID)
}

func (s *Service) createFreeSubscription(existing *models.Subscription, plan *models.Plan, userID, appID string) (*SubscriptionView, error) {
	if existing != nil && existing.PlanID == plan.ID {
		return s.viewFor(existing, plan), nil
	}

	now := time.Now().UTC()
	end := PeriodEnd(now, plan.Interval, plan.IntervalCount)

	sub := existing
	isNew := sub == nil
	if isNew {
		sub = &models.Subscription{
			ID:     newID("sub_"),
			UserID: userID,
			AppID:  appID,
		}
	}
	sub.PlanID = plan.ID
	sub.Status = models.SubscriptionStatusActive
	sub.CurrentPeriodStart = &now
	sub.CurrentPeriodEnd = &end

	var err error
	if isNew {
		err = s.repo.CreateSubscription(sub)
	} else {
		err = s.repo.SaveSubscription(sub)
	}
	if err != nil {
		return nil, err
	}
	if err := s.seedUsage(sub); err != nil {
		return nil, err
	}

	s.logEvent("subscription_created", sub.ID, userID, map[string]interface{}{
		"plan_id": plan.ID,
		"app_id":  appID,
		"free":    true,
	}, true, nil)

	return s.viewFor(sub, plan), nil
}

func (s *Service) createPaidSubscription(ctx context.Context, existing *models.Subscription, plan *models.Plan, userID, appID string) (*SubscriptionView, error) {
	user, err := s.repo.GetUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrUserNotFound)
		}
		return nil, err
	}

	gateway := plan.Gateways()[0]
	provider, ok := s.providers[gateway]
	if !ok {
		return nil, fmt.Errorf("gateway %s: %w", gateway, ErrUnsupportedGateway)
	}

	psub, err := provider.CreateSubscription(ctx, plan.GatewayPlanRef(gateway), CustomerInfo{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.DisplayName,
	}, appID)
	if err != nil {
		s.logEvent("subscription_create_failed", "", userID, map[string]interface{}{
			"plan_id": plan.ID,
			"app_id":  appID,
			"gateway": gateway,
		}, true, err)
		return nil, err
	}

	sub := existing
	isNew := sub == nil
	if isNew {
		sub = &models.Subscription{
			ID:     newID("sub_"),
			UserID: user.ID,
			AppID:  appID,
		}
	}
	sub.PlanID = plan.ID
	sub.Status = models.SubscriptionStatusCreated
	switch gateway {
	case models.GatewayRazorpay:
		sub.RazorpaySubscriptionID = psub.ID
	case models.GatewayPayPal:
		sub.PaypalSubscriptionID = psub.ID
	}
	mergeMetadata(sub, map[string]interface{}{
		"gateway":         gateway,
		"provider_status": psub.Status,
		"short_url":       psub.ShortURL,
	})

	if isNew {
		err = s.repo.CreateSubscription(sub)
	} else {
		err = s.repo.SaveSubscription(sub)
	}
	if err != nil {
		return nil, err
	}

	s.logEvent("subscription_created", psub.ID, user.ID, map[string]interface{}{
		"plan_id":         plan.ID,
		"app_id":          appID,
		"gateway":         gateway,
		"subscription_id": sub.ID,
	}, true, nil)

	view := s.viewFor(sub, plan)
	view.Gateway = gateway
	view.ShortURL = psub.ShortURL
	return view, nil
}

// RecordPayPalSubscription stores a subscription that was approved on the
// PayPal side by the client application. The local row goes straight to
// active because PayPal webhooks are not wired in.
func (s *Service) RecordPayPalSubscription(userID, planID, appID, paypalSubscriptionID string) (*SubscriptionView, error) {
	if userID == "" || planID == "" || appID == "" || paypalSubscriptionID == "" {
		return nil, validationf("user_id, plan_id, app_id and paypal_subscription_id are required")
	}

	plan, err := s.repo.GetPlanForApp(planID, appID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("plan %s for app %s: %w", planID, appID, ErrPlanNotFound)
		}
		return nil, err
	}

	existing, err := s.repo.FindSubscriptionWithStatus(userID, appID, models.SubscriptionStatusActive)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	end := PeriodEnd(now, plan.Interval, plan.IntervalCount)

	sub := existing
	isNew := sub == nil
	if isNew {
		sub = &models.Subscription{
			ID:     newID("sub_"),
			UserID: userID,
			AppID:  appID,
		}
	}
	sub.PlanID = plan.ID
	sub.PaypalSubscriptionID = paypalSubscriptionID
	sub.Status = models.SubscriptionStatusActive
	sub.CurrentPeriodStart = &now
	sub.CurrentPeriodEnd = &end
	mergeMetadata(sub, map[string]interface{}{
		"gateway":     models.GatewayPayPal,
		"recorded_at": now.Format(time.RFC3339),
	})

	if isNew {
		err = s.repo.CreateSubscription(sub)
	} else {
		err = s.repo.SaveSubscription(sub)
	}
	if err != nil {
		return nil, err
	}
	if err := s.seedUsage(sub); err != nil {
		return nil, err
	}

	s.logEvent("paypal_subscription_recorded", paypalSubscriptionID, userID, map[string]interface{}{
		"plan_id":         plan.ID,
		"app_id":          appID,
		"subscription_id": sub.ID,
	}, true, nil)

	return s.viewFor(sub, plan), nil
}

// CancelSubscription schedules a cancel-at-cycle-end. The provider call is
// best effort: a failure there is logged and the local record is still marked
// as scheduled for cancellation, with status left active until the period
// elapses through a later webhook.
func (s *Service) CancelSubscription(ctx context.Context, userID, subscriptionID string) (*CancelResult, error) {
	if userID == "" || subscriptionID == "" {
		return nil, validationf("user_id and subscription_id are required")
	}

	sub, err := s.repo.GetSubscriptionForUser(subscriptionID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("subscription %s: %w", subscriptionID, ErrSubscriptionNotFound)
		}
		return nil, err
	}

	gateway, externalID := sub.ExternalID()
	if externalID != "" {
		if provider, ok := s.providers[gateway]; ok {
			if _, perr := provider.CancelSubscription(ctx, externalID, true); perr != nil {
				log.Printf("[payments] provider cancel failed for subscription %s (%s): %v", sub.ID, externalID, perr)
			}
		}
	}

	now := time.Now().UTC()
	mergeMetadata(sub, map[string]interface{}{
		"cancellation_scheduled":    true,
		"cancellation_requested_at": now.Format(time.RFC3339),
	})
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}

	s.logEvent("subscription_cancel_requested", externalID, userID, map[string]interface{}{
		"subscription_id": sub.ID,
	}, true, nil)

	return &CancelResult{
		SubscriptionID:        sub.ID,
		Status:                models.SubscriptionStatusActive,
		CancellationScheduled: true,
	}, nil
}

// ActivateSubscription is the manual fallback used after client-side payment
// verification. It recomputes the period from now, forces the subscription
// active and, when a payment ID is supplied, records a paid invoice with the
// manual activation marker.
func (s *Service) ActivateSubscription(userID, subscriptionID, paymentID string) (*SubscriptionView, error) {
	if userID == "" || subscriptionID == "" {
		return nil, validationf("user_id and subscription_id are required")
	}

	sub, err := s.repo.GetSubscriptionForUser(subscriptionID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("subscription %s: %w", subscriptionID, ErrSubscriptionNotFound)
		}
		return nil, err
	}

	plan, _ := s.repo.GetPlan(sub.PlanID)

	now := time.Now().UTC()
	end := s.periodEndFor(plan, now)
	sub.Status = models.SubscriptionStatusActive
	sub.CurrentPeriodStart = &now
	sub.CurrentPeriodEnd = &end
	mergeMetadata(sub, map[string]interface{}{
		"manually_activated_at": now.Format(time.RFC3339),
	})
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}
	if err := s.seedUsage(sub); err != nil {
		return nil, err
	}

	if paymentID != "" {
		amount := int64(0)
		currency := "INR"
		if plan != nil {
			amount = plan.Amount
			currency = plan.Currency
		}
		inv := &models.Invoice{
			ID:                newID("inv_"),
			SubscriptionID:    sub.ID,
			UserID:            sub.UserID,
			RazorpayInvoiceID: models.ManualActivationInvoiceRef,
			Amount:            amount,
			Currency:          currency,
			Status:            "paid",
			PaymentID:         paymentID,
			InvoiceDate:       &now,
			PaidAt:            &now,
			AppID:             sub.AppID,
		}
		if _, err := s.repo.CreateInvoiceIfNotExists(inv); err != nil {
			return nil, err
		}
	}

	s.logEvent("subscription_manually_activated", sub.RazorpaySubscriptionID, userID, map[string]interface{}{
		"subscription_id": sub.ID,
		"payment_id":      paymentID,
	}, true, nil)

	return s.viewFor(sub, plan), nil
}

// ActivateSubscriptionByProviderID resolves the local row behind a provider
// subscription ID and runs the manual activation path on it. Used by the
// payment verification endpoint, which only knows provider identifiers.
func (s *Service) ActivateSubscriptionByProviderID(userID, razorpaySubscriptionID, paymentID string) (*SubscriptionView, error) {
	if userID == "" || razorpaySubscriptionID == "" {
		return nil, validationf("user_id and razorpay_subscription_id are required")
	}

	sub, err := s.repo.FindByRazorpaySubscriptionID(razorpaySubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("subscription %s: %w", razorpaySubscriptionID, ErrSubscriptionNotFound)
		}
		return nil, err
	}
	if sub.UserID != userID {
		return nil, fmt.Errorf("subscription %s: %w", razorpaySubscriptionID, ErrSubscriptionNotFound)
	}
	return s.ActivateSubscription(userID, sub.ID, paymentID)
}

// GetUserSubscription resolves the subscription for a user, preferring an
// active one, then a pending created one. Users with neither get the app's
// free plan provisioned on the spot, so every lookup resolves to a row.
func (s *Service) GetUserSubscription(ctx context.Context, userID, appID string) (*SubscriptionView, error) {
	if userID == "" || appID == "" {
		return nil, validationf("user_id and app_id are required")
	}

	for _, status := range []string{models.SubscriptionStatusActive, models.SubscriptionStatusCreated} {
		sub, err := s.repo.FindSubscriptionWithStatus(userID, appID, status)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		plan, _ := s.repo.GetPlan(sub.PlanID)
		return s.viewFor(sub, plan), nil
	}

	return s.CreateSubscription(ctx, userID, s.cfg.FreePlanID(appID), appID)
}

// HandleWebhook applies one provider notification to local state. The raw
// body must already be signature-verified. Every event is logged twice: on
// receipt and after handling, whatever the handling outcome, so the audit
// trail shows each attempt.
func (s *Service) HandleWebhook(body []byte) *WebhookResult {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return webhookError("invalid webhook payload")
	}

	eventName := envelope.eventName()
	if eventName == "" {
		return webhookError("missing event type")
	}

	entity := envelope.subscriptionEntity()
	entityID := entityString(entity, "id")
	userID := entityString(subscriptionNotes(entity), "user_id")

	s.logEvent(eventName, entityID, userID, json.RawMessage(body), false, nil)

	result, handleErr := s.applyWebhookEvent(eventName, &envelope, entity, entityID)

	s.logEvent(eventName+"_processed", entityID, userID, map[string]interface{}{
		"status":  result.Status,
		"message": result.Message,
	}, true, handleErr)

	return result
}

func (s *Service) applyWebhookEvent(eventName string, envelope *webhookEnvelope, entity map[string]interface{}, entityID string) (*WebhookResult, error) {
	switch eventName {
	case "subscription.authenticated",
		"subscription.activated",
		"subscription.charged",
		"subscription.completed",
		"subscription.cancelled":
	default:
		return webhookIgnored("unhandled event type: " + eventName), nil
	}

	if entityID == "" {
		err := validationf("webhook %s carries no subscription id", eventName)
		return webhookError(err.Error()), err
	}

	sub, err := s.repo.FindByRazorpaySubscriptionID(entityID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			nfErr := fmt.Errorf("subscription %s: %w", entityID, ErrSubscriptionNotFound)
			return webhookError(nfErr.Error()), nfErr
		}
		return webhookError(err.Error()), err
	}

	switch eventName {
	case "subscription.authenticated":
		return s.handleAuthenticated(sub, entity)
	case "subscription.activated":
		return s.handleActivated(sub, entity)
	case "subscription.charged":
		return s.handleCharged(sub, envelope, entity)
	case "subscription.completed":
		return s.handleTerminal(sub, entity, models.SubscriptionStatusCompleted)
	default:
		return s.handleTerminal(sub, entity, models.SubscriptionStatusCancelled)
	}
}

func (s *Service) handleAuthenticated(sub *models.Subscription, entity map[string]interface{}) (*WebhookResult, error) {
	if !sub.IsActive() {
		sub.Status = models.SubscriptionStatusAuthenticated
	}
	mergeMetadata(sub, map[string]interface{}{"provider_snapshot": entity})
	if err := s.repo.SaveSubscription(sub); err != nil {
		return webhookError(err.Error()), err
	}
	return webhookSuccess("subscription authenticated", periodResult(sub)), nil
}

func (s *Service) handleActivated(sub *models.Subscription, entity map[string]interface{}) (*WebhookResult, error) {
	start := time.Now().UTC()
	if epoch := entityEpoch(entity, "start_at"); epoch > 0 {
		start = time.Unix(epoch, 0).UTC()
	}

	plan, _ := s.repo.GetPlan(sub.PlanID)
	end := s.periodEndFor(plan, start)

	sub.Status = models.SubscriptionStatusActive
	sub.CurrentPeriodStart = &start
	sub.CurrentPeriodEnd = &end
	mergeMetadata(sub, map[string]interface{}{"provider_snapshot": entity})
	if err := s.repo.SaveSubscription(sub); err != nil {
		return webhookError(err.Error()), err
	}
	if err := s.seedUsage(sub); err != nil {
		return webhookError(err.Error()), err
	}
	return webhookSuccess("subscription activated", periodResult(sub)), nil
}

func (s *Service) handleCharged(sub *models.Subscription, envelope *webhookEnvelope, entity map[string]interface{}) (*WebhookResult, error) {
	now := time.Now().UTC()
	plan, _ := s.repo.GetPlan(sub.PlanID)
	end := s.periodEndFor(plan, now)

	sub.Status = models.SubscriptionStatusActive
	sub.CurrentPeriodStart = &now
	sub.CurrentPeriodEnd = &end
	mergeMetadata(sub, map[string]interface{}{"provider_snapshot": entity})
	if err := s.repo.SaveSubscription(sub); err != nil {
		return webhookError(err.Error()), err
	}
	if err := s.seedUsage(sub); err != nil {
		return webhookError(err.Error()), err
	}

	result := periodResult(sub)

	payment := envelope.paymentEntity()
	invoiceEntity := decodeEntity(envelope.Payload.Invoice)
	if payment != nil || invoiceEntity != nil {
		invoiceRef := entityString(invoiceEntity, "id")
		if invoiceRef == "" {
			invoiceRef = entityString(payment, "invoice_id")
		}
		if invoiceRef == "" {
			invoiceRef = entityString(payment, "id")
		}

		amount := entityAmount(payment, "amount")
		currency := entityString(payment, "currency")
		if plan != nil {
			if amount == 0 {
				amount = plan.Amount
			}
			if currency == "" {
				currency = plan.Currency
			}
		}

		status := models.NormalizeInvoiceStatus(entityString(payment, "status"))
		inv := &models.Invoice{
			ID:                newID("inv_"),
			SubscriptionID:    sub.ID,
			UserID:            sub.UserID,
			RazorpayInvoiceID: invoiceRef,
			Amount:            amount,
			Currency:          currency,
			Status:            status,
			PaymentID:         entityString(payment, "id"),
			InvoiceDate:       &now,
			AppID:             sub.AppID,
		}
		if status == models.InvoiceStatusPaid {
			inv.PaidAt = &now
		}
		created, err := s.repo.CreateInvoiceIfNotExists(inv)
		if err != nil {
			return webhookError(err.Error()), err
		}
		result["invoice_recorded"] = created
	}

	return webhookSuccess("subscription charged", result), nil
}

func (s *Service) handleTerminal(sub *models.Subscription, entity map[string]interface{}, status string) (*WebhookResult, error) {
	sub.Status = status
	mergeMetadata(sub, map[string]interface{}{"provider_snapshot": entity})
	if err := s.repo.SaveSubscription(sub); err != nil {
		return webhookError(err.Error()), err
	}
	return webhookSuccess("subscription "+status, periodResult(sub)), nil
}

// periodEndFor falls back to the default 30-day window when the plan could
// not be loaded.
func (s *Service) periodEndFor(plan *models.Plan, start time.Time) time.Time {
	if plan == nil {
		return PeriodEnd(start, "", 1)
	}
	return PeriodEnd(start, plan.Interval, plan.IntervalCount)
}

// seedUsage opens a zeroed usage row for the subscription's current period.
func (s *Service) seedUsage(sub *models.Subscription) error {
	if sub.CurrentPeriodStart == nil || sub.CurrentPeriodEnd == nil {
		return nil
	}
	return s.repo.CreateResourceUsage(&models.ResourceUsage{
		UserID:             sub.UserID,
		SubscriptionID:     sub.ID,
		AppID:              sub.AppID,
		BillingPeriodStart: *sub.CurrentPeriodStart,
		BillingPeriodEnd:   *sub.CurrentPeriodEnd,
	})
}

// mergeMetadata applies a shallow patch onto the metadata column: top-level
// keys from the patch win, everything else is preserved.
func mergeMetadata(sub *models.Subscription, patch map[string]interface{}) {
	merged := sub.MetadataMap()
	for k, v := range patch {
		merged[k] = v
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		log.Printf("[payments] metadata encode failed for subscription %s: %v", sub.ID, err)
		return
	}
	sub.Metadata = string(encoded)
}

func (s *Service) viewFor(sub *models.Subscription, plan *models.Plan) *SubscriptionView {
	view := &SubscriptionView{Subscription: *sub}
	if plan != nil {
		view.PlanName = plan.Name
		view.Features = plan.FeatureMap()
		view.Amount = plan.Amount
		view.Currency = plan.Currency
		view.Interval = plan.Interval
	}
	if gateway, _ := sub.ExternalID(); gateway != "" {
		view.Gateway = gateway
	}
	if shortURL, ok := sub.MetadataMap()["short_url"].(string); ok {
		view.ShortURL = shortURL
	}
	return view
}

// logEvent writes one audit row. Logging failures are reported to the
// process log and never bubble into the business operation.
func (s *Service) logEvent(eventType, entityID, userID string, data interface{}, processed bool, procErr error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		encoded = []byte("{}")
	}
	event := &models.SubscriptionEvent{
		EventType:        eventType,
		RazorpayEntityID: entityID,
		UserID:           userID,
		Data:             string(encoded),
		Processed:        processed,
	}
	if procErr != nil {
		event.Error = procErr.Error()
	}
	if err := s.repo.LogEvent(event); err != nil {
		log.Printf("[payments] event log write failed for %s (%s): %v", eventType, entityID, err)
	}
}
