// Package mailbox maps email addresses to the mailbox they actually deliver to.
//
// Canonicalize folds the formatting tricks mail providers ignore (case,
// sub-addressing, dots for providers that disregard them) so that equivalent
// addresses compare equal. Variations enumerates the small, fixed set of
// aliases that could point at an already known mailbox.
//
//	mailbox.Canonicalize("Jane.Doe+promo@GMail.com") // "janedoe@gmail.com"
//
// All functions are pure and safe for concurrent use.
package mailbox
