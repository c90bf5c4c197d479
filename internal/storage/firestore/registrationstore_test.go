//go:build integration

package firestore_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-push-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

func setupSuite(t *testing.T) (context.Context, *fs.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-registration-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, fs.NewStore(client)
}

func TestRegistrationStore_Integration(t *testing.T) {
	ctx, store := setupSuite(t)

	reg := relay.Registration{
		InstanceURL: "mastodon.example.com",
		AppID:       "com.example.app",
		AppIDUser:   "tenant-app",
		Tag:         "tag-1",
		AccessToken: "access-1",
		DeviceToken: "device-1",
		LastUpdate:  time.Now().UTC(),
	}

	t.Run("Upsert creates then updates in place", func(t *testing.T) {
		_, changed, err := store.Upsert(ctx, reg)
		require.NoError(t, err)
		assert.True(t, changed)

		reg.DeviceToken = "device-2"
		_, changed, err = store.Upsert(ctx, reg)
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := store.FindByKey(ctx, reg.InstanceURL, reg.AppID, reg.Tag)
		require.NoError(t, err)
		assert.Equal(t, "device-2", got.DeviceToken)

		// Identical refresh reports no change.
		reg.LastUpdate = time.Now().UTC()
		_, changed, err = store.Upsert(ctx, reg)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("FindByUserKey resolves the tenant-facing key", func(t *testing.T) {
		got, err := store.FindByUserKey(ctx, reg.InstanceURL, "tenant-app", reg.Tag)
		require.NoError(t, err)
		assert.Equal(t, reg.AppID, got.AppID)

		_, err = store.FindByUserKey(ctx, reg.InstanceURL, "nobody", reg.Tag)
		assert.ErrorIs(t, err, relay.ErrNotFound)
	})

	t.Run("Update rewrites the row", func(t *testing.T) {
		got, err := store.FindByKey(ctx, reg.InstanceURL, reg.AppID, reg.Tag)
		require.NoError(t, err)
		got.DeviceToken = "device-3"
		require.NoError(t, store.Update(ctx, got))

		after, err := store.FindByKey(ctx, reg.InstanceURL, reg.AppID, reg.Tag)
		require.NoError(t, err)
		assert.Equal(t, "device-3", after.DeviceToken)
	})

	t.Run("Delete removes the row and is idempotent", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, reg))
		_, err := store.FindByKey(ctx, reg.InstanceURL, reg.AppID, reg.Tag)
		assert.ErrorIs(t, err, relay.ErrNotFound)
		require.NoError(t, store.Delete(ctx, reg))
	})
}
