// Package routing resolves which listener endpoints and credentials apply to
// a given (instance, app) pair, from process-wide tables or a caller-supplied
// override.
package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// Resolution failures are sentinels so callers can distinguish them with
// errors.Is; the wrapped message carries the offending identifier.
var (
	ErrMissingAppConfig      = errors.New("missing app configuration")
	ErrMissingServerKey      = errors.New("missing server key in app configuration")
	ErrMissingInstanceConfig = errors.New("missing instance configuration")
	ErrMissingRegisterURL    = errors.New("missing register_url in instance configuration")
	ErrMissingUnregisterURL  = errors.New("missing unregister_url in instance configuration")
	ErrMissingAppSecret      = errors.New("missing app secret in instance configuration")
	ErrMissingCustomAppID    = errors.New("missing app_id in custom configuration")
	ErrBadCustomConfig       = errors.New("malformed custom configuration")
)

// Wildcard is the instance-table key matched when no entry exists for an
// instance URL.
const Wildcard = "*"

// AppEntry is one row of the app table.
type AppEntry struct {
	// ServerKey is the FCM server key presented for this app's sends.
	ServerKey string `yaml:"server_key"`
}

// InstanceEntry is one row of the instance table, or one entry of a
// caller-supplied custom-configuration blob.
type InstanceEntry struct {
	RegisterURL   string `yaml:"register_url" json:"register_url"`
	UnregisterURL string `yaml:"unregister_url" json:"unregister_url"`

	// Apps maps canonical app ids to the shared secret the listener
	// expects. Unused in custom blobs, where the secret travels separately.
	Apps map[string]string `yaml:"apps" json:"-"`

	// AppID is the tenant-facing app identifier. Only present in custom
	// blobs.
	AppID string `yaml:"-" json:"app_id"`
}

// Snapshot is one immutable, internally consistent view of both tables.
// Readers never see a partially reloaded configuration.
type Snapshot struct {
	Apps      map[string]AppEntry
	Instances map[string]InstanceEntry
}

// Resolver answers routing questions against the currently installed
// Snapshot. Resolution is read-only; a reload installs a whole new snapshot
// without blocking readers.
type Resolver struct {
	snap   atomic.Pointer[Snapshot]
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	r := &Resolver{logger: logger.With("component", "Resolver")}
	r.snap.Store(&Snapshot{})
	return r
}

// Install atomically swaps in a new snapshot.
func (r *Resolver) Install(s *Snapshot) {
	r.snap.Store(s)
	r.logger.Info("Routing tables installed", "apps", len(s.Apps), "instances", len(s.Instances))
}

// ServerKey returns the push credential for an app, if configured.
func (r *Resolver) ServerKey(appID string) (string, bool) {
	app, ok := r.snap.Load().Apps[appID]
	if !ok || app.ServerKey == "" {
		return "", false
	}
	return app.ServerKey, true
}

// ResolveDefault produces the route for (instanceURL, appID) from the
// process-wide tables, falling back to the wildcard instance entry.
func (r *Resolver) ResolveDefault(instanceURL, appID string) (relay.Route, error) {
	snap := r.snap.Load()

	app, ok := snap.Apps[appID]
	if !ok {
		return relay.Route{}, fmt.Errorf("%w: %s", ErrMissingAppConfig, appID)
	}
	if app.ServerKey == "" {
		return relay.Route{}, fmt.Errorf("%w: %s", ErrMissingServerKey, appID)
	}

	entry, ok := lookupInstance(snap.Instances, instanceURL)
	if !ok {
		return relay.Route{}, fmt.Errorf("%w: %s", ErrMissingInstanceConfig, instanceURL)
	}
	if err := checkEndpoints(entry, instanceURL); err != nil {
		return relay.Route{}, err
	}
	secret := entry.Apps[appID]
	if secret == "" {
		return relay.Route{}, fmt.Errorf("%w: app=%s instance=%s", ErrMissingAppSecret, appID, instanceURL)
	}

	return relay.Route{
		RegisterURL:   entry.RegisterURL,
		UnregisterURL: entry.UnregisterURL,
		AppSecret:     secret,
		AppID:         appID,
	}, nil
}

// ResolveCustom produces the route for instanceURL from a caller-supplied
// override blob. The process-wide tables are not consulted at all: a
// parseable override fully replaces default resolution. The returned route
// carries no AppSecret; the caller holds the secret that accompanied the
// blob.
func (r *Resolver) ResolveCustom(blob, instanceURL string) (relay.Route, error) {
	var entries map[string]InstanceEntry
	if err := json.Unmarshal([]byte(blob), &entries); err != nil {
		return relay.Route{}, fmt.Errorf("%w: %v", ErrBadCustomConfig, err)
	}

	entry, ok := lookupInstance(entries, instanceURL)
	if !ok {
		return relay.Route{}, fmt.Errorf("%w: %s", ErrMissingInstanceConfig, instanceURL)
	}
	if err := checkEndpoints(entry, instanceURL); err != nil {
		return relay.Route{}, err
	}
	if entry.AppID == "" {
		return relay.Route{}, fmt.Errorf("%w: %s", ErrMissingCustomAppID, instanceURL)
	}

	return relay.Route{
		RegisterURL:   entry.RegisterURL,
		UnregisterURL: entry.UnregisterURL,
		AppID:         entry.AppID,
	}, nil
}

// RouteFor resolves the route for an existing registration: the stored
// custom configuration when present, the default tables otherwise.
func (r *Resolver) RouteFor(reg relay.Registration) (relay.Route, error) {
	if reg.UserConfig != "" {
		route, err := r.ResolveCustom(reg.UserConfig, reg.InstanceURL)
		if err != nil {
			return relay.Route{}, err
		}
		route.AppSecret = reg.UserSecret
		return route, nil
	}
	return r.ResolveDefault(reg.InstanceURL, reg.AppID)
}

func lookupInstance(entries map[string]InstanceEntry, instanceURL string) (InstanceEntry, bool) {
	if entry, ok := entries[instanceURL]; ok {
		return entry, true
	}
	entry, ok := entries[Wildcard]
	return entry, ok
}

func checkEndpoints(entry InstanceEntry, instanceURL string) error {
	if entry.RegisterURL == "" {
		return fmt.Errorf("%w: %s", ErrMissingRegisterURL, instanceURL)
	}
	if entry.UnregisterURL == "" {
		return fmt.Errorf("%w: %s", ErrMissingUnregisterURL, instanceURL)
	}
	return nil
}
