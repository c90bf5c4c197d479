// Package listener hands registrations over to the streaming-listener
// service resolved for them.
package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

const defaultTimeout = 10 * time.Second

// HTTPClient is the subset of *http.Client the bridge uses, injectable for
// tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Bridge issues register/unregister hand-offs as JSON POSTs. Both are
// best-effort: a non-success response or transport failure is logged and
// never rolls back the store mutation that triggered it, and is not
// retried. The listener reconciles independently via callback silence.
type Bridge struct {
	callbackURL string
	client      HTTPClient
	logger      *slog.Logger
}

// NewBridge creates a bridge that advertises callbackURL on register
// hand-offs. A nil client gets a default with a bounded timeout.
func NewBridge(callbackURL string, client HTTPClient, logger *slog.Logger) *Bridge {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Bridge{
		callbackURL: callbackURL,
		client:      client,
		logger:      logger.With("component", "ListenerBridge"),
	}
}

// handoff is the wire shape of both listener calls. The app id presented is
// always the tenant-facing one.
type handoff struct {
	InstanceURL string `json:"instance_url"`
	Tag         string `json:"tag"`
	AppID       string `json:"app_id"`
	AppSecret   string `json:"app_secret"`
	AccessToken string `json:"access_token,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

func (b *Bridge) Register(ctx context.Context, route relay.Route, reg relay.Registration) *relay.Task {
	body := handoff{
		InstanceURL: reg.InstanceURL,
		Tag:         reg.Tag,
		AppID:       route.AppID,
		AppSecret:   route.AppSecret,
		AccessToken: reg.AccessToken,
		CallbackURL: b.callbackURL,
	}
	return relay.Go(func() error {
		return b.post(ctx, "register", route.RegisterURL, body, reg)
	})
}

func (b *Bridge) Unregister(ctx context.Context, route relay.Route, reg relay.Registration) *relay.Task {
	body := handoff{
		InstanceURL: reg.InstanceURL,
		Tag:         reg.Tag,
		AppID:       route.AppID,
		AppSecret:   route.AppSecret,
	}
	return relay.Go(func() error {
		return b.post(ctx, "unregister", route.UnregisterURL, body, reg)
	})
}

func (b *Bridge) post(ctx context.Context, op, url string, body handoff, reg relay.Registration) error {
	log := b.logger.With("op", op, "instance", reg.InstanceURL, "app", reg.AppID, "tag", reg.Tag)

	payload, err := json.Marshal(body)
	if err != nil {
		log.Error("Failed to encode hand-off", "err", err)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Error("Failed to build hand-off request", "err", err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		log.Error("Listener hand-off transport failed", "err", err)
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error("Listener rejected hand-off", "status", resp.StatusCode)
		return fmt.Errorf("listener %s returned status %d", op, resp.StatusCode)
	}

	log.Info("Listener hand-off accepted", "status", resp.StatusCode)
	return nil
}
