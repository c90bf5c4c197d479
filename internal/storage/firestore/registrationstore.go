// Package firestore implements the durable RegistrationStore on Google
// Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

const collection = "registrations"

// Store keys each row by a hash of the primary triple, so the primary-key
// uniqueness invariant holds structurally. The user-key lookup is an
// equality query over indexed fields.
type Store struct {
	client *firestore.Client
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

// registrationDoc is the persisted representation.
type registrationDoc struct {
	InstanceURL string    `firestore:"instance_url"`
	AppID       string    `firestore:"app_id"`
	AppIDUser   string    `firestore:"app_id_user"`
	Tag         string    `firestore:"tag"`
	AccessToken string    `firestore:"access_token"`
	DeviceToken string    `firestore:"device_token"`
	UserConfig  string    `firestore:"user_config,omitempty"`
	UserSecret  string    `firestore:"user_secret,omitempty"`
	LastUpdate  time.Time `firestore:"last_update"`
}

func toDoc(reg relay.Registration) registrationDoc {
	return registrationDoc{
		InstanceURL: reg.InstanceURL,
		AppID:       reg.AppID,
		AppIDUser:   reg.AppIDUser,
		Tag:         reg.Tag,
		AccessToken: reg.AccessToken,
		DeviceToken: reg.DeviceToken,
		UserConfig:  reg.UserConfig,
		UserSecret:  reg.UserSecret,
		LastUpdate:  reg.LastUpdate,
	}
}

func (d registrationDoc) toRegistration() relay.Registration {
	return relay.Registration{
		InstanceURL: d.InstanceURL,
		AppID:       d.AppID,
		AppIDUser:   d.AppIDUser,
		Tag:         d.Tag,
		AccessToken: d.AccessToken,
		DeviceToken: d.DeviceToken,
		UserConfig:  d.UserConfig,
		UserSecret:  d.UserSecret,
		LastUpdate:  d.LastUpdate,
	}
}

// Upsert runs the read-compare-write in one transaction, which serializes
// concurrent upserts for the same key on the provider side.
func (s *Store) Upsert(ctx context.Context, reg relay.Registration) (relay.Registration, bool, error) {
	ref := s.docRef(reg.InstanceURL, reg.AppID, reg.Tag)
	changed := false

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			changed = true
		case err != nil:
			return err
		default:
			var existing registrationDoc
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			changed = !sameFields(existing.toRegistration(), reg)
		}
		return tx.Set(ref, toDoc(reg))
	})
	if err != nil {
		return relay.Registration{}, false, fmt.Errorf("upsert failed: %w", err)
	}
	return reg, changed, nil
}

func (s *Store) Update(ctx context.Context, reg relay.Registration) error {
	_, err := s.docRef(reg.InstanceURL, reg.AppID, reg.Tag).Set(ctx, toDoc(reg))
	return err
}

func (s *Store) FindByKey(ctx context.Context, instanceURL, appID, tag string) (relay.Registration, error) {
	snap, err := s.docRef(instanceURL, appID, tag).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return relay.Registration{}, relay.ErrNotFound
	}
	if err != nil {
		return relay.Registration{}, err
	}
	var doc registrationDoc
	if err := snap.DataTo(&doc); err != nil {
		return relay.Registration{}, err
	}
	return doc.toRegistration(), nil
}

func (s *Store) FindByUserKey(ctx context.Context, instanceURL, appIDUser, tag string) (relay.Registration, error) {
	iter := s.client.Collection(collection).
		Where("instance_url", "==", instanceURL).
		Where("app_id_user", "==", appIDUser).
		Where("tag", "==", tag).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return relay.Registration{}, relay.ErrNotFound
	}
	if err != nil {
		return relay.Registration{}, fmt.Errorf("user-key query failed: %w", err)
	}
	var doc registrationDoc
	if err := snap.DataTo(&doc); err != nil {
		return relay.Registration{}, err
	}
	return doc.toRegistration(), nil
}

func (s *Store) Delete(ctx context.Context, reg relay.Registration) error {
	_, err := s.docRef(reg.InstanceURL, reg.AppID, reg.Tag).Delete(ctx)
	return err
}

func (s *Store) docRef(instanceURL, appID, tag string) *firestore.DocumentRef {
	return s.client.Collection(collection).Doc(hashKey(instanceURL, appID, tag))
}

// hashKey derives a stable doc ID from the primary triple, keeping raw URLs
// out of document paths.
func hashKey(instanceURL, appID, tag string) string {
	sum := sha256.Sum256([]byte(instanceURL + "\x00" + appID + "\x00" + tag))
	return hex.EncodeToString(sum[:])
}

func sameFields(a, b relay.Registration) bool {
	a.LastUpdate = b.LastUpdate
	return a == b
}
