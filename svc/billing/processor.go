package billing

import (
	"context"
	"net/http"
	"time"
)

// Processor is the payment processor boundary. It is the source of truth for
// billing; every call must honor ctx cancellation.
type Processor interface {
	CreateCustomer(ctx context.Context, p CustomerParams) (string, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodRef string) error
	CreateTrialSubscription(ctx context.Context, p TrialSubscriptionParams) (SubscriptionRef, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (Session, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (Session, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
	// CancelImmediately is used to undo a subscription created for a signup
	// that lost the local uniqueness race.
	CancelImmediately(ctx context.Context, subscriptionID string) error
	// ParseEvent verifies the signature of an inbound delivery and decodes it.
	// Verification failures are reported as ErrSignatureInvalid.
	ParseEvent(ctx context.Context, payload []byte, header http.Header) (Event, error)
}

// CustomerParams describes a processor customer.
type CustomerParams struct {
	Email          string
	Name           string
	IdempotencyKey string
}

// TrialSubscriptionParams describes a subscription that starts with a trial.
type TrialSubscriptionParams struct {
	CustomerID       string
	PriceID          string
	PaymentMethodRef string
	TrialDays        int
	IdempotencyKey   string
	Metadata         map[string]string
}

// SubscriptionRef is the processor's view of a created subscription.
type SubscriptionRef struct {
	ID          string
	Status      Status
	TrialEndsAt *time.Time
}

// CheckoutParams describes a hosted checkout session.
type CheckoutParams struct {
	Email      string
	CustomerID string
	PriceID    string
	TrialDays  int
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// Session is a short-lived hosted page on the processor side.
type Session struct {
	ID        string
	URL       string
	ExpiresAt *time.Time
}

// PriceCatalog resolves tiers to processor price ids.
type PriceCatalog interface {
	PriceID(tier, interval string) (string, error)
	HasTier(tier string) bool
}
