package payments

import "context"

// CustomerInfo carries the contact details handed to a provider at checkout.
type CustomerInfo struct {
	UserID string
	Email  string
	Name   string
}

// ProviderSubscription is the normalized result of a provider call. Raw keeps
// the undecoded response body for metadata snapshots and the audit trail.
type ProviderSubscription struct {
	ID       string
	Status   string
	ShortURL string
	Raw      map[string]interface{}
}

// Provider is the capability boundary to an external payment processor.
// Implementations report failures as errors instead of panicking through the
// engine; a variant without credentials returns ErrProviderNotConfigured for
// every operation.
type Provider interface {
	Name() string
	CreateSubscription(ctx context.Context, planRef string, customer CustomerInfo, appID string) (*ProviderSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, cancelAtCycleEnd bool) (*ProviderSubscription, error)
	FetchSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
}
