// Package billing implements the subscription lifecycle of a household
// subscriber: trial signup guarded by an abuse detector, idempotent ingestion
// of payment-processor events, the lifecycle state machine and the periodic
// sweeps that advance time-based transitions.
//
// The processor is the source of truth for billing. This package records its
// decisions in a ledger, applies them to the local Subscriber row and sends
// one-way notices. It never computes charges and never stores payment
// instruments.
//
// # Components
//
//   - AbuseDetector decides whether a new trial may be created.
//   - SignupService creates a trial end to end.
//   - Lifecycle holds the transition table and applies one event to a subscriber.
//   - Gate deduplicates inbound events and writes the ledger.
//   - Sweeper runs the grace-period and trial-reminder sweeps.
//   - AccountService serves cancel, status, checkout and portal requests.
//
// Storage, the payment processor and the notifier are interfaces (Store,
// Processor, Notifier) with implementations in sibling packages.
//
// # Concurrency
//
// No in-process lock protects a subscriber. Correctness rests on the unique
// external event id in the ledger, the unique canonical email of a
// subscriber, the unique (subscriber, notice) sent-marker and sweep
// predicates that are monotonic in time.
package billing
