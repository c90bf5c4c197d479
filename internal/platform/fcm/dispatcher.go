// Package fcm sends event notifications through the FCM legacy HTTP
// endpoint and applies the provider's per-message feedback.
package fcm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

const (
	// DefaultEndpoint is the public legacy send endpoint. The legacy API
	// is the one that authenticates with per-app server keys and reports
	// canonical-id rotation per message.
	DefaultEndpoint = "https://fcm.googleapis.com/fcm/send"

	defaultTimeout = 10 * time.Second

	// resultNotRegistered is the provider's signal that the device token
	// is permanently invalid.
	resultNotRegistered = "NotRegistered"
)

// HTTPClient is the subset of *http.Client the dispatcher uses, injectable
// for tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Routes is what the dispatcher needs from the config resolver: the push
// credential for an app, and the listener route of a registration being
// torn down.
type Routes interface {
	ServerKey(appID string) (string, bool)
	RouteFor(reg relay.Registration) (relay.Route, error)
}

// Config carries the endpoint and client overrides; zero values get
// production defaults.
type Config struct {
	Endpoint string
	Client   HTTPClient
}

// Dispatcher delivers one notification per call and classifies the single
// per-message result: delivered, canonical-id rotation (persisted), token
// permanently invalid (registration torn down), or a transient error (no
// state change).
type Dispatcher struct {
	routes   Routes
	store    relay.RegistrationStore
	bridge   relay.ListenerBridge
	endpoint string
	client   HTTPClient
	logger   *slog.Logger
}

func NewDispatcher(cfg Config, routes Routes, store relay.RegistrationStore, bridge relay.ListenerBridge, logger *slog.Logger) *Dispatcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: defaultTimeout}
	}
	return &Dispatcher{
		routes:   routes,
		store:    store,
		bridge:   bridge,
		endpoint: cfg.Endpoint,
		client:   cfg.Client,
		logger:   logger.With("component", "FCMDispatcher"),
	}
}

// message is the legacy send request. Only a reference to the event
// travels; message bodies are size-constrained and the client fetches full
// content itself.
type message struct {
	To       string            `json:"to"`
	Priority string            `json:"priority"`
	Data     map[string]string `json:"data"`
}

type sendResponse struct {
	Success      int          `json:"success"`
	Failure      int          `json:"failure"`
	CanonicalIDs int          `json:"canonical_ids"`
	Results      []sendResult `json:"results"`
}

type sendResult struct {
	MessageID      string `json:"message_id"`
	RegistrationID string `json:"registration_id"`
	Error          string `json:"error"`
}

func (d *Dispatcher) Deliver(ctx context.Context, reg relay.Registration, payload []byte) (relay.DeliveryOutcome, error) {
	log := d.logger.With("instance", reg.InstanceURL, "app", reg.AppID, "tag", reg.Tag)

	serverKey, ok := d.routes.ServerKey(reg.AppID)
	if !ok {
		// Without a credential the registration can never be delivered
		// to again; tear it down rather than keep a dead row.
		log.Error("Missing server key for app, tearing down registration")
		d.teardown(ctx, reg, log)
		return relay.OutcomeMissingServerKey, nil
	}

	msg := message{
		To:       reg.DeviceToken,
		Priority: "high",
		Data: map[string]string{
			"tag":      reg.Tag,
			"event_id": eventID(payload),
		},
	}

	res, err := d.send(ctx, serverKey, msg)
	if err != nil {
		log.Error("FCM send failed", "err", err)
		return relay.OutcomeTransportError, err
	}

	if res.Failure == 0 && res.CanonicalIDs == 0 {
		log.Info("Delivered", "outcome", relay.OutcomeDelivered)
		return relay.OutcomeDelivered, nil
	}

	for _, result := range res.Results {
		switch {
		case result.MessageID != "" && result.RegistrationID != "":
			// The provider rotated the device token; the canonical id
			// fully replaces it.
			reg.DeviceToken = result.RegistrationID
			if err := d.store.Update(ctx, reg); err != nil {
				log.Error("Failed to persist rotated device token", "err", err)
				return relay.OutcomeTransportError, err
			}
			log.Info("Device token rotated", "outcome", relay.OutcomeTokenRotated)
			return relay.OutcomeTokenRotated, nil

		case result.Error == resultNotRegistered:
			log.Info("Device token no longer registered, tearing down", "outcome", relay.OutcomeUnregistered)
			d.teardown(ctx, reg, log)
			return relay.OutcomeUnregistered, nil
		}
	}

	// Any other per-result error (sender mismatch, malformed token) is
	// treated as a transient provider error with no local state change.
	err = fmt.Errorf("fcm reported %d failures", res.Failure)
	log.Error("FCM rejected message", "err", err)
	return relay.OutcomeTransportError, err
}

func (d *Dispatcher) send(ctx context.Context, serverKey string, msg message) (*sendResponse, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "key="+serverKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fcm transport failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fcm returned status %d", resp.StatusCode)
	}

	var res sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode fcm response: %w", err)
	}
	return &res, nil
}

// teardown cascades a permanent invalidation: issue the listener unregister
// hand-off, then delete the row unconditionally. The hand-off only has to
// be issued, not acknowledged, before the delete.
func (d *Dispatcher) teardown(ctx context.Context, reg relay.Registration, log *slog.Logger) {
	route, err := d.routes.RouteFor(reg)
	if err != nil {
		log.Error("No route for listener unregister, deleting row anyway", "err", err)
	} else {
		d.bridge.Unregister(ctx, route, reg)
	}
	if err := d.store.Delete(ctx, reg); err != nil {
		log.Error("Failed to delete registration", "err", err)
	}
}

// eventID derives the reference the client uses to fetch full content: the
// payload's own id when it has one, else a digest of the payload. The id is
// kept as raw JSON text rather than decoded into a Go number: snowflake-style
// ids exceed float64 precision and must round-trip digit for digit.
func eventID(payload []byte) string {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && len(probe.ID) > 0 && string(probe.ID) != "null" {
		var s string
		if json.Unmarshal(probe.ID, &s) == nil {
			return s
		}
		return string(probe.ID)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
