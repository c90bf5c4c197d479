// Package relay contains the public interfaces and domain models for the
// push relay service.
package relay

import "time"

// Registration is the unit of relay state: one device subscribed to one
// stream of one instance on behalf of one app. Exactly one live row exists
// per (InstanceURL, AppID, Tag).
type Registration struct {
	// InstanceURL is the normalized (lower-cased) origin of the instance
	// the streaming listener watches.
	InstanceURL string

	// AppID is the canonical application identifier, used for push
	// credential lookup.
	AppID string

	// AppIDUser is the application identifier as the tenant's listener
	// knows it. Defaults to AppID when no custom configuration is used,
	// and serves as an alternate lookup key for inbound callbacks.
	AppIDUser string

	// Tag is the caller-chosen topic discriminator.
	Tag string

	// AccessToken is presented to the listener on the caller's behalf.
	AccessToken string

	// DeviceToken is the current FCM device identifier. The provider
	// rotates it via canonical-id feedback; it always holds the most
	// recent value the provider accepted.
	DeviceToken string

	// UserConfig is the raw custom-configuration blob supplied at
	// registration, empty when the process-wide tables apply. When set,
	// UserSecret and AppIDUser are set with it.
	UserConfig string

	// UserSecret is the shared secret accompanying UserConfig.
	UserSecret string

	// LastUpdate is the time of the last successful register or update.
	LastUpdate time.Time
}

// Route is the resolved set of listener endpoints and secret for one
// instance/app pair.
type Route struct {
	RegisterURL   string
	UnregisterURL string

	// AppSecret authenticates the relay to the listener.
	AppSecret string

	// AppID is the tenant-facing app identifier presented to the listener.
	AppID string
}

// DeliveryOutcome classifies the result of a single delivery attempt.
// Exactly one outcome applies per attempt.
type DeliveryOutcome int

const (
	// OutcomeDelivered means the provider accepted the message with no
	// token change.
	OutcomeDelivered DeliveryOutcome = iota

	// OutcomeTokenRotated means the provider returned a canonical id; the
	// new device token has been persisted.
	OutcomeTokenRotated

	// OutcomeUnregistered means the provider declared the token
	// permanently invalid; the registration has been torn down.
	OutcomeUnregistered

	// OutcomeMissingServerKey means the app no longer resolves to a push
	// credential; the registration has been torn down without a send.
	OutcomeMissingServerKey

	// OutcomeTransportError means the provider was unreachable or
	// rejected the request; no local state changed.
	OutcomeTransportError
)

func (o DeliveryOutcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeTokenRotated:
		return "token_rotated"
	case OutcomeUnregistered:
		return "unregistered"
	case OutcomeMissingServerKey:
		return "missing_server_key"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}
