package relay

import (
	"context"
	"errors"
)

// ErrNotFound is returned by store lookups when no row matches the key.
var ErrNotFound = errors.New("registration not found")

// RegistrationStore is the durable keyed collection of Registration rows.
// All operations are keyed; there are no scans.
type RegistrationStore interface {
	// Upsert atomically creates or replaces the row identified by the
	// primary key (InstanceURL, AppID, Tag). The find-or-create-then-update
	// sequence is serialized per key, so concurrent upserts for the same
	// triple never produce a duplicate. The changed result reports whether
	// the stored row differs from what was there before, ignoring
	// LastUpdate.
	Upsert(ctx context.Context, reg Registration) (stored Registration, changed bool, err error)

	// Update rewrites an existing row, keyed by its primary key.
	Update(ctx context.Context, reg Registration) error

	// FindByKey looks up a row by the primary key.
	FindByKey(ctx context.Context, instanceURL, appID, tag string) (Registration, error)

	// FindByUserKey looks up a row by the tenant-facing key
	// (InstanceURL, AppIDUser, Tag). The key is non-unique; the first
	// match is returned.
	FindByUserKey(ctx context.Context, instanceURL, appIDUser, tag string) (Registration, error)

	// Delete removes the row identified by the registration's primary key.
	// Deleting an absent row is not an error.
	Delete(ctx context.Context, reg Registration) error
}

// ListenerBridge hands registrations over to the streaming listener resolved
// for them. Both calls are best-effort: failures are logged by the
// implementation and never roll back the store mutation that triggered them.
// The returned Task lets tests await the outcome; production callers discard
// it.
type ListenerBridge interface {
	Register(ctx context.Context, route Route, reg Registration) *Task
	Unregister(ctx context.Context, route Route, reg Registration) *Task
}

// PushDispatcher sends one event notification to the push provider for one
// registration and applies the provider's per-message feedback (token
// rotation, permanent invalidation) to the store.
type PushDispatcher interface {
	Deliver(ctx context.Context, reg Registration, payload []byte) (DeliveryOutcome, error)
}
