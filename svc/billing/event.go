package billing

import "time"

// EventType is a processor-neutral lifecycle event type.
type EventType string

const (
	EventSubscriptionCreated     EventType = "subscription-created"
	EventSubscriptionUpdated     EventType = "subscription-updated"
	EventSubscriptionDeleted     EventType = "subscription-deleted"
	EventTrialWillEnd            EventType = "trial-will-end"
	EventInvoicePaymentSucceeded EventType = "invoice-payment-succeeded"
	EventInvoicePaymentFailed    EventType = "invoice-payment-failed"
	EventCheckoutCompleted       EventType = "checkout-completed"

	// EventGraceExpired is raised internally by the grace-period sweep.
	EventGraceExpired EventType = "grace-expired"
)

// Event is an authenticated lifecycle event, usually delivered by the
// payment processor. ID is the processor's unique event id.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time

	// SubscriberID is set by internal events. Processor events are matched
	// to a subscriber through CustomerID.
	SubscriberID   string
	CustomerID     string
	SubscriptionID string

	// Status is the processor-reported subscription status, already mapped
	// onto the local statuses. Empty when the event does not carry one.
	Status       Status
	RawStatus    string
	Email        string
	Name         string
	Tier         string
	Interval     Interval
	TrialEndsAt  *time.Time
	PeriodEndsAt *time.Time

	Payload []byte
}

// metadata returns the event attributes stored alongside its ledger row.
func (e Event) metadata() map[string]string {
	md := make(map[string]string)
	set := func(k, v string) {
		if v != "" {
			md[k] = v
		}
	}
	set("customer_id", e.CustomerID)
	set("subscription_id", e.SubscriptionID)
	set("reported_status", e.RawStatus)
	set("tier", e.Tier)
	set("interval", string(e.Interval))
	if !e.OccurredAt.IsZero() {
		md["occurred_at"] = e.OccurredAt.UTC().Format(time.RFC3339)
	}
	return md
}

// MapProcessorStatus maps a processor subscription status onto a local status.
// The second return value is false for statuses with no local meaning.
func MapProcessorStatus(raw string) (Status, bool) {
	switch raw {
	case "trialing":
		return StatusTrialing, true
	case "active":
		return StatusActive, true
	case "past_due", "incomplete", "paused":
		return StatusPastDue, true
	case "unpaid":
		return StatusUnpaid, true
	case "canceled", "cancelled", "incomplete_expired":
		return StatusCanceled, true
	default:
		return "", false
	}
}
