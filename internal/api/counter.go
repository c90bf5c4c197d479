// Package api exposes the relay's HTTP surface.
package api

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// CounterAPI serves the standalone request counter: a file-backed count
// bumped on every GET, written via temp-file rename so a crash never leaves
// a torn file.
type CounterAPI struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

func NewCounterAPI(path string, logger *slog.Logger) *CounterAPI {
	return &CounterAPI{
		path:   path,
		logger: logger.With("component", "CounterAPI"),
	}
}

type counterFile struct {
	Count int `yaml:"count"`
}

func (api *CounterAPI) Count(w http.ResponseWriter, _ *http.Request) {
	api.mu.Lock()
	defer api.mu.Unlock()

	var state counterFile
	if raw, err := os.ReadFile(api.path); err == nil {
		if err := yaml.Unmarshal(raw, &state); err != nil {
			api.logger.Error("Counter file unreadable, resetting", "err", err)
			state = counterFile{}
		}
	}
	state.Count++

	if err := api.write(state); err != nil {
		api.logger.Error("Failed to persist counter", "err", err)
		http.Error(w, "counter unavailable", http.StatusInternalServerError)
		return
	}

	_, _ = w.Write([]byte(strconv.Itoa(state.Count)))
}

func (api *CounterAPI) write(state counterFile) error {
	raw, err := yaml.Marshal(state)
	if err != nil {
		return err
	}
	tmp := api.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, api.path)
}
