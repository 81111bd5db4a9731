package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/marketfit/paygate/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Plan{},
		&models.Subscription{},
		&models.Invoice{},
		&models.SubscriptionEvent{},
		&models.ResourceUsage{},
		&models.User{},
	))
	return db
}

type fakeProvider struct {
	name      string
	createErr error
	cancelErr error
	fetchSub  *ProviderSubscription

	createdPlanRefs []string
	cancelledIDs    []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) CreateSubscription(_ context.Context, planRef string, _ CustomerInfo, _ string) (*ProviderSubscription, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createdPlanRefs = append(f.createdPlanRefs, planRef)
	return &ProviderSubscription{
		ID:       "rzp_sub_" + planRef,
		Status:   "created",
		ShortURL: "https://rzp.io/i/checkout",
		Raw:      map[string]interface{}{"id": "rzp_sub_" + planRef},
	}, nil
}

func (f *fakeProvider) CancelSubscription(_ context.Context, subscriptionID string, _ bool) (*ProviderSubscription, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.cancelledIDs = append(f.cancelledIDs, subscriptionID)
	return &ProviderSubscription{ID: subscriptionID, Status: "cancelled"}, nil
}

func (f *fakeProvider) FetchSubscription(_ context.Context, subscriptionID string) (*ProviderSubscription, error) {
	if f.fetchSub != nil {
		return f.fetchSub, nil
	}
	return &ProviderSubscription{ID: subscriptionID, Status: "active"}, nil
}

func newTestService(t *testing.T, db *gorm.DB, provider *fakeProvider) *Service {
	t.Helper()
	providers := map[string]Provider{}
	if provider != nil {
		providers[provider.name] = provider
	}
	return NewService(NewRepository(db), providers, Config{WebhookSecret: "whsec_test"})
}

func seedFreePlan(t *testing.T, db *gorm.DB, appID string) *models.Plan {
	t.Helper()
	plan := &models.Plan{
		ID:            "plan_free_" + appID,
		Name:          "Free",
		Amount:        0,
		Currency:      "INR",
		Interval:      "month",
		IntervalCount: 1,
		AppID:         appID,
		IsActive:      true,
	}
	require.NoError(t, db.Create(plan).Error)
	return plan
}

func seedPaidPlan(t *testing.T, db *gorm.DB, appID string) *models.Plan {
	t.Helper()
	plan := &models.Plan{
		ID:             "plan_pro_" + appID,
		Name:           "Pro",
		Amount:         49900,
		Currency:       "INR",
		Interval:       "month",
		IntervalCount:  1,
		AppID:          appID,
		RazorpayPlanID: "rzp_plan_pro",
		IsActive:       true,
	}
	require.NoError(t, db.Create(plan).Error)
	return plan
}

func seedUser(t *testing.T, db *gorm.DB, id string) *models.User {
	t.Helper()
	user := &models.User{ID: id, Email: id + "@example.com", DisplayName: "Test User"}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestCreateSubscriptionFreePlanIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	seedFreePlan(t, db, "marketfit")

	first, err := svc.CreateSubscription(context.Background(), "u1", "plan_free_marketfit", "marketfit")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, first.Status)
	require.NotNil(t, first.CurrentPeriodEnd)

	second, err := svc.CreateSubscription(context.Background(), "u1", "plan_free_marketfit", "marketfit")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Where("user_id = ?", "u1").Count(&count).Error)
	assert.EqualValues(t, 1, count)

	usage, err := svc.GetResourceUsage("u1", "marketfit")
	require.NoError(t, err)
	assert.EqualValues(t, 0, usage[models.ResourceDocumentPages])
	assert.EqualValues(t, 0, usage[models.ResourcePerplexityRequests])
}

func TestCreateSubscriptionPaidDispatchesToProvider(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{name: models.GatewayRazorpay}
	svc := newTestService(t, db, provider)
	seedPaidPlan(t, db, "marketfit")
	seedUser(t, db, "u1")

	sub, err := svc.CreateSubscription(context.Background(), "u1", "plan_pro_marketfit", "marketfit")
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusCreated, sub.Status)
	assert.Equal(t, "rzp_sub_rzp_plan_pro", sub.RazorpaySubscriptionID)
	assert.Equal(t, models.GatewayRazorpay, sub.Gateway)
	assert.Equal(t, "https://rzp.io/i/checkout", sub.ShortURL)
	assert.Equal(t, []string{"rzp_plan_pro"}, provider.createdPlanRefs)
	assert.Nil(t, sub.CurrentPeriodStart)
}

func TestCreateSubscriptionProviderFailureAborts(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{name: models.GatewayRazorpay, createErr: errors.New("gateway down")}
	svc := newTestService(t, db, provider)
	seedPaidPlan(t, db, "marketfit")
	seedUser(t, db, "u1")

	_, err := svc.CreateSubscription(context.Background(), "u1", "plan_pro_marketfit", "marketfit")
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestCreateSubscriptionValidation(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)

	_, err := svc.CreateSubscription(context.Background(), "", "p", "a")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateSubscription(context.Background(), "u1", "missing_plan", "marketfit")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestCreateSubscriptionMissingUser(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, &fakeProvider{name: models.GatewayRazorpay})
	seedPaidPlan(t, db, "marketfit")

	_, err := svc.CreateSubscription(context.Background(), "ghost", "plan_pro_marketfit", "marketfit")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAtMostOneActiveSubscriptionPerUserApp(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{name: models.GatewayRazorpay}
	svc := newTestService(t, db, provider)
	seedFreePlan(t, db, "marketfit")
	seedPaidPlan(t, db, "marketfit")
	seedUser(t, db, "u1")

	free, err := svc.CreateSubscription(context.Background(), "u1", "plan_free_marketfit", "marketfit")
	require.NoError(t, err)

	// Upgrading reuses the existing row instead of inserting a second one.
	paid, err := svc.CreateSubscription(context.Background(), "u1", "plan_pro_marketfit", "marketfit")
	require.NoError(t, err)
	assert.Equal(t, free.ID, paid.ID)

	body := fmt.Sprintf(`{"event":"subscription.activated","payload":{"subscription":{"entity":{"id":%q}}}}`, paid.RazorpaySubscriptionID)
	result := svc.HandleWebhook([]byte(body))
	require.Equal(t, WebhookStatusSuccess, result.Status)

	var active int64
	require.NoError(t, db.Model(&models.Subscription{}).
		Where("user_id = ? AND app_id = ? AND status = ?", "u1", "marketfit", models.SubscriptionStatusActive).
		Count(&active).Error)
	assert.EqualValues(t, 1, active)
}

func webhookBody(event, subID string, extra string) []byte {
	payload := fmt.Sprintf(`{"subscription":{"entity":{"id":%q,"notes":{"user_id":"u1"}}}%s}`, subID, extra)
	return []byte(fmt.Sprintf(`{"event":%q,"payload":%s}`, event, payload))
}

func seedProviderSubscription(t *testing.T, db *gorm.DB, status string) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:                     "sub_local1",
		UserID:                 "u1",
		PlanID:                 "plan_pro_marketfit",
		RazorpaySubscriptionID: "rzp_sub_1",
		Status:                 status,
		AppID:                  "marketfit",
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func TestHandleWebhookAuthenticated(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	seedPaidPlan(t, db, "marketfit")
	seedProviderSubscription(t, db, models.SubscriptionStatusCreated)

	result := svc.HandleWebhook(webhookBody("subscription.authenticated", "rzp_sub_1", ""))
	require.Equal(t, WebhookStatusSuccess, result.Status)

	var sub models.Subscription
	require.NoError(t, db.First(&sub, "id = ?", "sub_local1").Error)
	assert.Equal(t, models.SubscriptionStatusAuthenticated, sub.Status)
}

func TestHandleWebhookAuthenticatedDoesNotDemoteActive(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	seedPaidPlan(t, db, "marketfit")
	seedProviderSubscription(t, db, models.SubscriptionStatusActive)

	result := svc.HandleWebhook(webhookBody("subscription.authenticated", "rzp_sub_1", ""))
	require.Equal(t, WebhookStatusSuccess, result.Status)

	var sub models.Subscription
	require.NoError(t, db.First(&sub, "id = ?", "sub_local1").Error)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestHandleWebhookActivatedUsesProviderStart(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	seedPaidPlan(t, db, "marketfit")
	seedProviderSubscription(t, db, models.SubscriptionStatusAuthenticated)

	startAt := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	body := []byte(fmt.Sprintf(
		`{"event":"subscription.activated","payload":{"subscription":{"entity":{"id":"rzp_sub_1","start_at":%d}}}}`,
		startAt.Unix(),
	))
	result := svc.HandleWebhook(body)
	require.Equal(t, WebhookStatusSuccess, result.Status)

	var sub models.Subscription
	require.NoError(t, db.First(&sub, "id = ?", "sub_local1").Error)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodStart)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, startAt, sub.CurrentPeriodStart.UTC())
	assert.Equal(t, startAt.AddDate(0, 0, 30), sub.CurrentPeriodEnd.UTC())

	var usageCount int64
	require.NoError(t, db.Model(&models.ResourceUsage{}).Where("subscription_id = ?", "sub_local1").Count(&usageCount).Error)
	assert.EqualValues(t, 1, usageCount)
}

func TestHandleWebhookChargedRecordsPaidInvoice(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	seedPaidPlan(t, db, "marketfit")
	seedProviderSubscription(t, db, models.SubscriptionStatusActive)

	body := []byte(`{"event":"subscription.charged","payload":{` +
		`"subscription":{"entity":{"id":"rzp_sub_1"}},` +
		`"payment":{"entity":{"id":"pay_1","invoice_id":"inv_rzp_1","amount":49900,"currency":"INR","status":"captured"}}}}`)
	result := svc.HandleWebhook(body)
	require.Equal(t, WebhookStatusSuccess, result.Status)

	var inv models.Invoice
	require.NoError(t, db.First(&inv, "subscription_id = ?", "sub_local1").Error)
	assert.Equal(t, models.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, "pay_1", inv.PaymentID)
	assert.Equal(t, "inv_rzp_1", inv.RazorpayInvoiceID)
	assert.EqualValues(t, 49900, inv.Amount)
	assert.NotNil(t, inv.PaidAt)

	// Redelivery must not double-bill.
	result = svc.HandleWebhook(body)
	require.Equal(t, WebhookStatusSuccess, result.Status)

	var invoices int64
	require.NoError(t, db.Model(&models.Invoice{}).Where("subscription_id = ?", "sub_local1").Count(&invoices).Error)
	assert.EqualValues(t, 1, invoices)
}

func TestHandleWebhookChargedPeriodMonotonic(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	plan := seedPaidPlan(t, db, "marketfit")
	seedProviderSubscription(t, db, models.SubscriptionStatusActive)

	result := svc.HandleWebhook(webhookBody("subscription.charged", "rzp_sub_1", ""))
	require.Equal(t, WebhookStatusSuccess, result.Status)

	var sub models.Subscription
	require.NoError(t, db.First(&sub, "id = ?", "sub_local1").Error)
	require.NotNil(t, sub.CurrentPeriodStart)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t,
		sub.CurrentPeriodStart.UTC().AddDate(0, 0, 30*plan.IntervalCount),
		sub.CurrentPeriodEnd.UTC())
}

func TestHandleWebhookTerminalStates(t *testing.T) {
	tests := []struct {
		event string
		want  string
	}{
		{"subscription.completed", models.SubscriptionStatusCompleted},
		{"subscription.cancelled", models.SubscriptionStatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			db := newTestDB(t)
			svc := newTestService(t, db, nil)
			seedPaidPlan(t, db, "marketfit")
			seedProviderSubscription(t, db, models.SubscriptionStatusActive)

			result := svc.HandleWebhook(webhookBody(tt.event, "rzp_sub_1", ""))
			require.Equal(t, WebhookStatusSuccess, result.Status)

			var sub models.Subscription
			require.NoError(t, db.First(&sub, "id = ?", "sub_local1").Error)
			assert.Equal(t, tt.want, sub.Status)
		})
	}
}

func TestHandleWebhookUnknownEventIgnored(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)

	result := svc.HandleWebhook([]byte(`{"event":"payment.failed","payload":{}}`))
	assert.Equal(t, WebhookStatusIgnored, result.Status)
}

func TestHandleWebhookUnknownEntityReportsError(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)

	result := svc.HandleWebhook(webhookBody("subscription.activated", "rzp_sub_unknown", ""))
	assert.Equal(t, WebhookStatusError, result.Status)
	assert.Contains(t, result.Message, "rzp_sub_unknown")
}

func TestHandleWebhookBadPayload(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)

	result := svc.HandleWebhook([]byte("not json"))
	assert.Equal(t, WebhookStatusError, result.Status)

	result = svc.HandleWebhook([]byte(`{"payload":{}}`))
	assert.Equal(t, WebhookStatusError, result.Status)
	assert.Equal(t, "missing event type", result.Message)
}

func TestHandleWebhookLogsReceiptAndProcessed(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	seedPaidPlan(t, db, "marketfit")
	seedProviderSubscription(t, db, models.SubscriptionStatusCreated)

	svc.HandleWebhook(webhookBody("subscription.authenticated", "rzp_sub_1", ""))

	var events []models.SubscriptionEvent
	require.NoError(t, db.Order("id ASC").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, "subscription.authenticated", events[0].EventType)
	assert.False(t, events[0].Processed)
	assert.Equal(t, "subscription.authenticated_processed", events[1].EventType)
	assert.True(t, events[1].Processed)

	// Failed handling still writes the processed row, with the error recorded.
	svc.HandleWebhook(webhookBody("subscription.activated", "rzp_sub_missing", ""))
	require.NoError(t, db.Order("id ASC").Find(&events).Error)
	require.Len(t, events, 4)
	assert.True(t, events[3].Processed)
	assert.NotEmpty(t, events[3].Error)
}

func TestCancelSubscriptionBestEffort(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{name: models.GatewayRazorpay, cancelErr: errors.New("gateway down")}
	svc := newTestService(t, db, provider)
	seedPaidPlan(t, db, "marketfit")
	seedProviderSubscription(t, db, models.SubscriptionStatusActive)

	result, err := svc.CancelSubscription(context.Background(), "u1", "sub_local1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, result.Status)
	assert.True(t, result.CancellationScheduled)

	var sub models.Subscription
	require.NoError(t, db.First(&sub, "id = ?", "sub_local1").Error)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.CancellationScheduled())
}

func TestCancelSubscriptionCallsProvider(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{name: models.GatewayRazorpay}
	svc := newTestService(t, db, provider)
	seedPaidPlan(t, db, "marketfit")
	seedProviderSubscription(t, db, models.SubscriptionStatusActive)

	_, err := svc.CancelSubscription(context.Background(), "u1", "sub_local1")
	require.NoError(t, err)
	assert.Equal(t, []string{"rzp_sub_1"}, provider.cancelledIDs)
}

func TestCancelSubscriptionWrongUser(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	seedPaidPlan(t, db, "marketfit")
	seedProviderSubscription(t, db, models.SubscriptionStatusActive)

	_, err := svc.CancelSubscription(context.Background(), "intruder", "sub_local1")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestActivateSubscriptionManualWritesInvoice(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	plan := seedPaidPlan(t, db, "marketfit")
	seedProviderSubscription(t, db, models.SubscriptionStatusCreated)

	view, err := svc.ActivateSubscriptionByProviderID("u1", "rzp_sub_1", "pay_manual_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, view.Status)

	var inv models.Invoice
	require.NoError(t, db.First(&inv, "subscription_id = ?", "sub_local1").Error)
	assert.Equal(t, models.ManualActivationInvoiceRef, inv.RazorpayInvoiceID)
	assert.Equal(t, "paid", inv.Status)
	assert.Equal(t, "pay_manual_1", inv.PaymentID)
	assert.Equal(t, plan.Amount, inv.Amount)
}

func TestGetUserSubscriptionAutoProvisionsFreePlan(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	seedFreePlan(t, db, "marketfit")

	sub, err := svc.GetUserSubscription(context.Background(), "newcomer", "marketfit")
	require.NoError(t, err)
	assert.Equal(t, "plan_free_marketfit", sub.PlanID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)

	again, err := svc.GetUserSubscription(context.Background(), "newcomer", "marketfit")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)
}

func TestGetUserSubscriptionPrefersActiveOverCreated(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	seedPaidPlan(t, db, "marketfit")
	require.NoError(t, db.Create(&models.Subscription{
		ID: "sub_created", UserID: "u1", PlanID: "plan_pro_marketfit",
		Status: models.SubscriptionStatusCreated, AppID: "marketfit",
	}).Error)
	require.NoError(t, db.Create(&models.Subscription{
		ID: "sub_active", UserID: "u1", PlanID: "plan_pro_marketfit",
		RazorpaySubscriptionID: "rzp_sub_a",
		Status:                 models.SubscriptionStatusActive, AppID: "marketfit",
	}).Error)

	sub, err := svc.GetUserSubscription(context.Background(), "u1", "marketfit")
	require.NoError(t, err)
	assert.Equal(t, "sub_active", sub.ID)
}

func TestMergeMetadataShallow(t *testing.T) {
	sub := &models.Subscription{Metadata: `{"keep":"me","gateway":"razorpay","nested":{"a":1}}`}
	mergeMetadata(sub, map[string]interface{}{
		"gateway": "paypal",
		"nested":  map[string]interface{}{"b": 2},
	})

	var merged map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(sub.Metadata), &merged))
	assert.Equal(t, "me", merged["keep"])
	assert.Equal(t, "paypal", merged["gateway"])
	// Shallow merge: nested maps are replaced wholesale, not merged.
	assert.Equal(t, map[string]interface{}{"b": float64(2)}, merged["nested"])
}

func TestRecordPayPalSubscription(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	seedPaidPlan(t, db, "marketfit")

	sub, err := svc.RecordPayPalSubscription("u1", "plan_pro_marketfit", "marketfit", "I-PAYPAL1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "I-PAYPAL1", sub.PaypalSubscriptionID)
	assert.Equal(t, models.GatewayPayPal, sub.Gateway)
	require.NotNil(t, sub.CurrentPeriodEnd)
}
