package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marketfit/paygate/app/models"
	"github.com/marketfit/paygate/internal/pkg/env"
)

const defaultRazorpayAPIBaseURL = "https://api.razorpay.com/v1"

// razorpayTotalCount fixes every paid subscription at 12 billing cycles.
const razorpayTotalCount = 12

// RazorpayProvider talks to the Razorpay REST API with basic auth. Without
// key credentials every operation reports ErrProviderNotConfigured instead of
// attempting a call.
type RazorpayProvider struct {
	KeyID      string
	KeySecret  string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewRazorpayProviderFromEnv() *RazorpayProvider {
	return &RazorpayProvider{
		KeyID:      strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_ID", "")),
		KeySecret:  strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_SECRET", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("RAZORPAY_API_BASE_URL", defaultRazorpayAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (p *RazorpayProvider) Name() string {
	return models.GatewayRazorpay
}

func (p *RazorpayProvider) initialized() bool {
	return p.KeyID != "" && p.KeySecret != ""
}

func (p *RazorpayProvider) CreateSubscription(ctx context.Context, planRef string, customer CustomerInfo, appID string) (*ProviderSubscription, error) {
	if !p.initialized() {
		return nil, &ProviderError{Provider: p.Name(), Op: "create subscription", Err: ErrProviderNotConfigured}
	}

	body := map[string]interface{}{
		"plan_id":         planRef,
		"customer_notify": 1,
		"quantity":        1,
		"total_count":     razorpayTotalCount,
		"notes": map[string]string{
			"user_id": customer.UserID,
			"app_id":  appID,
		},
	}

	raw, err := p.doRequest(ctx, http.MethodPost, "/subscriptions", body)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Op: "create subscription", Err: err}
	}
	return providerSubscriptionFromRaw(raw), nil
}

func (p *RazorpayProvider) CancelSubscription(ctx context.Context, subscriptionID string, cancelAtCycleEnd bool) (*ProviderSubscription, error) {
	if !p.initialized() {
		return nil, &ProviderError{Provider: p.Name(), Op: "cancel subscription", Err: ErrProviderNotConfigured}
	}

	atCycleEnd := 0
	if cancelAtCycleEnd {
		atCycleEnd = 1
	}
	path := fmt.Sprintf("/subscriptions/%s/cancel", url.PathEscape(subscriptionID))
	raw, err := p.doRequest(ctx, http.MethodPost, path, map[string]interface{}{
		"cancel_at_cycle_end": atCycleEnd,
	})
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Op: "cancel subscription", Err: err}
	}
	return providerSubscriptionFromRaw(raw), nil
}

func (p *RazorpayProvider) FetchSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	if !p.initialized() {
		return nil, &ProviderError{Provider: p.Name(), Op: "fetch subscription", Err: ErrProviderNotConfigured}
	}

	path := fmt.Sprintf("/subscriptions/%s", url.PathEscape(subscriptionID))
	raw, err := p.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Op: "fetch subscription", Err: err}
	}
	return providerSubscriptionFromRaw(raw), nil
}

func (p *RazorpayProvider) doRequest(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(p.APIBaseURL, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.KeyID, p.KeySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("razorpay request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func providerSubscriptionFromRaw(raw map[string]interface{}) *ProviderSubscription {
	sub := &ProviderSubscription{Raw: raw}
	if id, ok := raw["id"].(string); ok {
		sub.ID = id
	}
	if status, ok := raw["status"].(string); ok {
		sub.Status = status
	}
	if shortURL, ok := raw["short_url"].(string); ok {
		sub.ShortURL = shortURL
	}
	return sub
}
