// Package registry owns the set of loaded detectors and the one that is
// active.
//
// Requests read the active model without locking and keep the descriptor
// they read for their whole lifetime, so switching models never affects work
// already in flight.
package registry
