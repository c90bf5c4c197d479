// Package controller orchestrates the three relay flows: register,
// unregister, and deliver.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// Validation failures surfaced to the caller before any store mutation.
var (
	ErrMissingAppID       = errors.New("missing app_id")
	ErrMissingInstanceURL = errors.New("missing instance_url")
	ErrMissingTag         = errors.New("missing tag")
	ErrMissingUserSecret  = errors.New("missing user_app_secret")
	ErrMissingPayload     = errors.New("missing payload")
)

// State is the conceptual lifecycle of a registration. Only the presence of
// the row is persisted; the states exist to make the transitions explicit.
type State int

const (
	StateAbsent State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "absent"
}

// Routes is what the controller needs from the config resolver.
type Routes interface {
	ResolveDefault(instanceURL, appID string) (relay.Route, error)
	ResolveCustom(blob, instanceURL string) (relay.Route, error)
	RouteFor(reg relay.Registration) (relay.Route, error)
}

// Controller validates each request synchronously, then runs the store
// mutation and outbound calls as a Task the caller has already acknowledged.
// Remote-call failures never propagate past it.
type Controller struct {
	routes Routes
	store  relay.RegistrationStore
	bridge relay.ListenerBridge
	push   relay.PushDispatcher
	logger *slog.Logger
}

func New(routes Routes, store relay.RegistrationStore, bridge relay.ListenerBridge, push relay.PushDispatcher, logger *slog.Logger) *Controller {
	return &Controller{
		routes: routes,
		store:  store,
		bridge: bridge,
		push:   push,
		logger: logger.With("component", "Controller"),
	}
}

// RegisterRequest carries one inbound register call. UserConfig, when
// present, fully replaces default resolution and requires UserAppSecret.
type RegisterRequest struct {
	AppID         string
	InstanceURL   string
	AccessToken   string
	DeviceToken   string
	Tag           string
	UserConfig    string
	UserAppSecret string
}

// Register resolves configuration and validates synchronously; a validation
// or resolution error here reaches the caller and nothing is stored. The
// upsert and the listener hand-off run on the returned Task.
func (c *Controller) Register(ctx context.Context, req RegisterRequest) (*relay.Task, error) {
	if req.AppID == "" {
		return nil, ErrMissingAppID
	}
	if req.InstanceURL == "" {
		return nil, ErrMissingInstanceURL
	}
	if req.Tag == "" {
		return nil, ErrMissingTag
	}

	var route relay.Route
	if req.UserConfig != "" {
		// An unparsable override is a hard error, never a silent
		// fallback to the default tables.
		resolved, err := c.routes.ResolveCustom(req.UserConfig, req.InstanceURL)
		if err != nil {
			return nil, err
		}
		if req.UserAppSecret == "" {
			return nil, ErrMissingUserSecret
		}
		route = resolved
		route.AppSecret = req.UserAppSecret
	} else {
		resolved, err := c.routes.ResolveDefault(req.InstanceURL, req.AppID)
		if err != nil {
			return nil, err
		}
		route = resolved
	}

	log := c.requestLogger(req.InstanceURL, req.AppID, req.Tag)

	reg := relay.Registration{
		InstanceURL: req.InstanceURL,
		AppID:       req.AppID,
		AppIDUser:   route.AppID,
		Tag:         req.Tag,
		AccessToken: req.AccessToken,
		DeviceToken: req.DeviceToken,
		UserConfig:  req.UserConfig,
		UserSecret:  req.UserAppSecret,
		LastUpdate:  time.Now().UTC(),
	}

	return relay.Go(func() error {
		stored, changed, err := c.store.Upsert(ctx, reg)
		if err != nil {
			log.Error("Registration upsert failed", "err", err)
			return err
		}
		log.Info("Registration stored", "state", StateActive, "changed", changed)
		// Every successful register re-issues the hand-off, changed row or
		// not: re-registering is the client's only way to re-establish a
		// subscription the listener has dropped.
		c.bridge.Register(ctx, route, stored)
		return nil
	}), nil
}

// Unregister tears down the registration identified by the primary key.
// An unknown key is a no-op, not an error.
func (c *Controller) Unregister(ctx context.Context, instanceURL, appID, tag string) (*relay.Task, error) {
	if appID == "" {
		return nil, ErrMissingAppID
	}
	if instanceURL == "" {
		return nil, ErrMissingInstanceURL
	}
	if tag == "" {
		return nil, ErrMissingTag
	}

	log := c.requestLogger(instanceURL, appID, tag)

	return relay.Go(func() error {
		reg, err := c.store.FindByKey(ctx, instanceURL, appID, tag)
		if errors.Is(err, relay.ErrNotFound) {
			log.Info("Unregister for unknown registration, nothing to do")
			return nil
		}
		if err != nil {
			log.Error("Registration lookup failed", "err", err)
			return err
		}

		route, err := c.routes.RouteFor(reg)
		if err != nil {
			// The caller was already acknowledged; a resolution
			// failure here is logged and the request dropped.
			log.Error("No route for unregister hand-off, dropping", "err", err)
			return err
		}

		// The row goes away once the hand-off is issued, acknowledged
		// or not.
		c.bridge.Unregister(ctx, route, reg)
		if err := c.store.Delete(ctx, reg); err != nil {
			log.Error("Registration delete failed", "err", err)
			return err
		}
		log.Info("Registration destroyed", "state", StateAbsent)
		return nil
	}), nil
}

// Deliver relays one inbound event from the listener callback to the push
// provider. The primary key is tried first, then the tenant-facing key for
// listeners that only know the tenant's view of the app id. An unknown
// registration is dropped silently; the caller was already acknowledged.
func (c *Controller) Deliver(ctx context.Context, instanceURL, appID, tag string, payload []byte) (*relay.Task, error) {
	if len(payload) == 0 {
		return nil, ErrMissingPayload
	}
	if appID == "" {
		return nil, ErrMissingAppID
	}
	if instanceURL == "" {
		return nil, ErrMissingInstanceURL
	}
	if tag == "" {
		return nil, ErrMissingTag
	}

	log := c.requestLogger(instanceURL, appID, tag).With("delivery_id", uuid.NewString())

	return relay.Go(func() error {
		reg, err := c.store.FindByKey(ctx, instanceURL, appID, tag)
		if errors.Is(err, relay.ErrNotFound) {
			reg, err = c.store.FindByUserKey(ctx, instanceURL, appID, tag)
		}
		if errors.Is(err, relay.ErrNotFound) {
			log.Info("No registration for callback, dropping event")
			return nil
		}
		if err != nil {
			log.Error("Registration lookup failed", "err", err)
			return err
		}

		outcome, err := c.push.Deliver(ctx, reg, payload)
		if err != nil {
			log.Error("Delivery failed", "outcome", outcome, "err", err)
			return err
		}
		log.Info("Delivery processed", "outcome", outcome)
		return nil
	}), nil
}

func (c *Controller) requestLogger(instanceURL, appID, tag string) *slog.Logger {
	return c.logger.With("instance", instanceURL, "app", appID, "tag", tag)
}
