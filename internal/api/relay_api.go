package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-relay/internal/controller"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// Relay is the slice of the controller the API needs.
type Relay interface {
	Register(ctx context.Context, req controller.RegisterRequest) (*relay.Task, error)
	Unregister(ctx context.Context, instanceURL, appID, tag string) (*relay.Task, error)
	Deliver(ctx context.Context, instanceURL, appID, tag string, payload []byte) (*relay.Task, error)
}

// RelayAPI exposes the three relay flows. Each handler validates
// synchronously and answers 202; the store mutation and outbound calls run
// after the acknowledgement.
type RelayAPI struct {
	Relay  Relay
	Logger *slog.Logger
}

func NewRelayAPI(r Relay, logger *slog.Logger) *RelayAPI {
	return &RelayAPI{
		Relay:  r,
		Logger: logger,
	}
}

// RegisterRequest is the wire shape clients send. UserConfig may arrive as
// a JSON object or as a pre-encoded JSON string.
type RegisterRequest struct {
	AppID         string          `json:"app_id"`
	InstanceURL   string          `json:"instance_url"`
	AccessToken   string          `json:"access_token"`
	DeviceToken   string          `json:"device_token"`
	Tag           string          `json:"tag"`
	UserConfig    json.RawMessage `json:"user_config,omitempty"`
	UserAppSecret string          `json:"user_app_secret,omitempty"`
}

func (api *RelayAPI) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	task, err := api.Relay.Register(asyncContext(r), controller.RegisterRequest{
		AppID:         req.AppID,
		InstanceURL:   normalizeInstanceURL(req.InstanceURL),
		AccessToken:   req.AccessToken,
		DeviceToken:   req.DeviceToken,
		Tag:           req.Tag,
		UserConfig:    rawConfigString(req.UserConfig),
		UserAppSecret: req.UserAppSecret,
	})
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	_ = task // production discards; the work is scheduled

	w.WriteHeader(http.StatusAccepted)
}

// UnregisterRequest is the wire shape of an unregister call.
type UnregisterRequest struct {
	AppID       string `json:"app_id"`
	InstanceURL string `json:"instance_url"`
	Tag         string `json:"tag"`
}

func (api *RelayAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	var req UnregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	_, err := api.Relay.Unregister(asyncContext(r), normalizeInstanceURL(req.InstanceURL), req.AppID, req.Tag)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// CallbackRequest is what the streaming listener posts back. The field
// names follow the listener's convention, not ours.
type CallbackRequest struct {
	AppID       string          `json:"appId"`
	InstanceURL string          `json:"instanceUrl"`
	Tag         string          `json:"tag"`
	Payload     json.RawMessage `json:"payload"`
}

func (api *RelayAPI) Callback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing payload")
		return
	}

	_, err := api.Relay.Deliver(asyncContext(r), normalizeInstanceURL(req.InstanceURL), req.AppID, req.Tag, req.Payload)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Health answers the original bare liveness probe.
func (api *RelayAPI) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// asyncContext outlives the request: the handler acknowledges before the
// flow's outbound calls complete.
func asyncContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// normalizeInstanceURL lower-cases the instance origin so every code path
// sees one spelling.
func normalizeInstanceURL(instanceURL string) string {
	return strings.ToLower(instanceURL)
}

// rawConfigString unwraps a user_config that arrived as a JSON-encoded
// string; objects pass through as-is.
func rawConfigString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
