// Package stripe adapts the Stripe API to billing.Processor.
//
// Inbound webhook deliveries are verified with the endpoint signing secret
// and mapped onto processor-neutral billing events. Event types the
// lifecycle does not know are passed through with their Stripe name and end
// up ignored in the ledger.
package stripe
