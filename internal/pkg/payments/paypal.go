package payments

import (
	"context"
	"strings"

	"github.com/marketfit/paygate/app/models"
	"github.com/marketfit/paygate/internal/pkg/env"
)

// PayPalProvider is a skeleton implementation that proves the capability
// boundary. Every operation reports not-implemented once credentials are
// present, and not-configured without them.
type PayPalProvider struct {
	ClientID     string
	ClientSecret string
}

func NewPayPalProviderFromEnv() *PayPalProvider {
	return &PayPalProvider{
		ClientID:     strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
	}
}

func (p *PayPalProvider) Name() string {
	return models.GatewayPayPal
}

func (p *PayPalProvider) initialized() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

func (p *PayPalProvider) CreateSubscription(ctx context.Context, planRef string, customer CustomerInfo, appID string) (*ProviderSubscription, error) {
	return nil, p.stubErr("create subscription")
}

func (p *PayPalProvider) CancelSubscription(ctx context.Context, subscriptionID string, cancelAtCycleEnd bool) (*ProviderSubscription, error) {
	return nil, p.stubErr("cancel subscription")
}

func (p *PayPalProvider) FetchSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	return nil, p.stubErr("fetch subscription")
}

func (p *PayPalProvider) stubErr(op string) error {
	if !p.initialized() {
		return &ProviderError{Provider: p.Name(), Op: op, Err: ErrProviderNotConfigured}
	}
	return &ProviderError{Provider: p.Name(), Op: op, Err: ErrNotImplemented}
}
