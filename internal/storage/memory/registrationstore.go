// Package memory provides an in-process RegistrationStore used by unit tests
// and brokerless local runs.
package memory

import (
	"context"
	"sync"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

type key struct {
	instanceURL string
	appID       string
	tag         string
}

// Store keeps Registration rows in a mutex-guarded map. The mutex makes
// every operation a single critical section, which serializes the
// find-or-create-then-update sequence per key.
type Store struct {
	mu   sync.Mutex
	rows map[key]relay.Registration
}

func NewStore() *Store {
	return &Store{rows: map[key]relay.Registration{}}
}

func primaryKey(reg relay.Registration) key {
	return key{instanceURL: reg.InstanceURL, appID: reg.AppID, tag: reg.Tag}
}

func (s *Store) Upsert(_ context.Context, reg relay.Registration) (relay.Registration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := primaryKey(reg)
	existing, ok := s.rows[k]
	changed := !ok || !sameFields(existing, reg)
	s.rows[k] = reg
	return reg, changed, nil
}

func (s *Store) Update(_ context.Context, reg relay.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[primaryKey(reg)] = reg
	return nil
}

func (s *Store) FindByKey(_ context.Context, instanceURL, appID, tag string) (relay.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.rows[key{instanceURL: instanceURL, appID: appID, tag: tag}]
	if !ok {
		return relay.Registration{}, relay.ErrNotFound
	}
	return reg, nil
}

// FindByUserKey scans the map; the in-process store carries no secondary
// index. The durable store answers this lookup with an indexed query.
func (s *Store) FindByUserKey(_ context.Context, instanceURL, appIDUser, tag string) (relay.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.rows {
		if reg.InstanceURL == instanceURL && reg.AppIDUser == appIDUser && reg.Tag == tag {
			return reg, nil
		}
	}
	return relay.Registration{}, relay.ErrNotFound
}

func (s *Store) Delete(_ context.Context, reg relay.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, primaryKey(reg))
	return nil
}

// Len reports the number of stored rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// sameFields compares everything a register call may mutate, ignoring
// LastUpdate so a pure refresh does not count as a change.
func sameFields(a, b relay.Registration) bool {
	a.LastUpdate = b.LastUpdate
	return a == b
}
