// Package local provides an in-memory payment processor for development.
//
// It keeps customers and subscriptions in memory and accepts event
// deliveries signed with the Hearth-Signature scheme of pkg/webhook:
//
//	p, _ := local.New(local.Config{WebhookSecret: "dev"})
//	payload, sig, _ := p.Sign(local.Event{ID: "evt_1", Type: "invoice-payment-failed", CustomerID: cid})
//	// POST payload to /event-delivery with Hearth-Signature: sig
package local
