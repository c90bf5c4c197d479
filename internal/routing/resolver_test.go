package routing_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/internal/routing"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const appTable = `
com.example.app:
  server_key: fcm-key-1
com.example.keyless:
  server_key: ""
`

const instanceTable = `
mastodon.example.com:
  register_url: https://listener.example.com/register
  unregister_url: https://listener.example.com/unregister
  apps:
    com.example.app: secret-1
"*":
  register_url: https://fallback.example.com/register
  unregister_url: https://fallback.example.com/unregister
  apps:
    com.example.app: fallback-secret
broken.example.com:
  register_url: https://listener.example.com/register
  unregister_url: ""
`

func newTestResolver(t *testing.T) *routing.Resolver {
	t.Helper()
	snap, err := routing.ParseSnapshot([]byte(appTable), []byte(instanceTable))
	require.NoError(t, err)
	r := routing.NewResolver(newTestLogger())
	r.Install(snap)
	return r
}

func TestResolveDefault(t *testing.T) {
	r := newTestResolver(t)

	t.Run("resolves a configured instance", func(t *testing.T) {
		route, err := r.ResolveDefault("mastodon.example.com", "com.example.app")
		require.NoError(t, err)
		assert.Equal(t, "https://listener.example.com/register", route.RegisterURL)
		assert.Equal(t, "https://listener.example.com/unregister", route.UnregisterURL)
		assert.Equal(t, "secret-1", route.AppSecret)
		assert.Equal(t, "com.example.app", route.AppID)
	})

	t.Run("falls back to the wildcard entry", func(t *testing.T) {
		route, err := r.ResolveDefault("other.example.com", "com.example.app")
		require.NoError(t, err)
		assert.Equal(t, "https://fallback.example.com/register", route.RegisterURL)
		assert.Equal(t, "fallback-secret", route.AppSecret)
	})

	t.Run("unknown app", func(t *testing.T) {
		_, err := r.ResolveDefault("mastodon.example.com", "com.example.unknown")
		assert.ErrorIs(t, err, routing.ErrMissingAppConfig)
	})

	t.Run("app without server key", func(t *testing.T) {
		_, err := r.ResolveDefault("mastodon.example.com", "com.example.keyless")
		assert.ErrorIs(t, err, routing.ErrMissingServerKey)
	})

	t.Run("missing unregister endpoint", func(t *testing.T) {
		_, err := r.ResolveDefault("broken.example.com", "com.example.app")
		assert.ErrorIs(t, err, routing.ErrMissingUnregisterURL)
	})

	t.Run("instance without a secret for the app", func(t *testing.T) {
		snap, err := routing.ParseSnapshot([]byte(appTable), []byte(`
mastodon.example.com:
  register_url: https://l.example.com/r
  unregister_url: https://l.example.com/u
`))
		require.NoError(t, err)
		r := routing.NewResolver(newTestLogger())
		r.Install(snap)
		_, err = r.ResolveDefault("mastodon.example.com", "com.example.app")
		assert.ErrorIs(t, err, routing.ErrMissingAppSecret)
	})

	t.Run("no wildcard and no entry", func(t *testing.T) {
		snap, err := routing.ParseSnapshot([]byte(appTable), []byte(`{}`))
		require.NoError(t, err)
		r := routing.NewResolver(newTestLogger())
		r.Install(snap)
		_, err = r.ResolveDefault("anything.example.com", "com.example.app")
		assert.ErrorIs(t, err, routing.ErrMissingInstanceConfig)
	})
}

func TestResolveCustom(t *testing.T) {
	// An empty resolver proves the custom path never consults the
	// process-wide tables.
	r := routing.NewResolver(newTestLogger())

	const blob = `{
		"mastodon.example.com": {
			"app_id": "tenant-app",
			"register_url": "https://tenant.example.com/register",
			"unregister_url": "https://tenant.example.com/unregister"
		},
		"*": {
			"app_id": "tenant-app",
			"register_url": "https://tenant-fallback.example.com/register",
			"unregister_url": "https://tenant-fallback.example.com/unregister"
		}
	}`

	t.Run("resolves without the default tables", func(t *testing.T) {
		route, err := r.ResolveCustom(blob, "mastodon.example.com")
		require.NoError(t, err)
		assert.Equal(t, "tenant-app", route.AppID)
		assert.Equal(t, "https://tenant.example.com/register", route.RegisterURL)
		assert.Empty(t, route.AppSecret, "the secret travels separately from the blob")
	})

	t.Run("wildcard fallback inside the blob", func(t *testing.T) {
		route, err := r.ResolveCustom(blob, "elsewhere.example.com")
		require.NoError(t, err)
		assert.Equal(t, "https://tenant-fallback.example.com/register", route.RegisterURL)
	})

	t.Run("unparsable blob is a hard error", func(t *testing.T) {
		_, err := r.ResolveCustom(`{not json`, "mastodon.example.com")
		assert.ErrorIs(t, err, routing.ErrBadCustomConfig)
	})

	t.Run("entry without a tenant app id", func(t *testing.T) {
		_, err := r.ResolveCustom(`{"mastodon.example.com": {
			"register_url": "https://t.example.com/r",
			"unregister_url": "https://t.example.com/u"
		}}`, "mastodon.example.com")
		assert.ErrorIs(t, err, routing.ErrMissingCustomAppID)
	})

	t.Run("no matching entry", func(t *testing.T) {
		_, err := r.ResolveCustom(`{"other.example.com": {
			"app_id": "a", "register_url": "r", "unregister_url": "u"
		}}`, "mastodon.example.com")
		assert.ErrorIs(t, err, routing.ErrMissingInstanceConfig)
	})
}

func TestRouteFor(t *testing.T) {
	r := newTestResolver(t)

	t.Run("default registration", func(t *testing.T) {
		route, err := r.RouteFor(relay.Registration{
			InstanceURL: "mastodon.example.com",
			AppID:       "com.example.app",
			Tag:         "tag-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "secret-1", route.AppSecret)
		assert.Equal(t, "com.example.app", route.AppID)
	})

	t.Run("custom registration carries its stored secret", func(t *testing.T) {
		route, err := r.RouteFor(relay.Registration{
			InstanceURL: "mastodon.example.com",
			AppID:       "com.example.app",
			Tag:         "tag-1",
			UserConfig: `{"*": {"app_id": "tenant-app",
				"register_url": "https://t.example.com/r",
				"unregister_url": "https://t.example.com/u"}}`,
			UserSecret: "tenant-secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "tenant-secret", route.AppSecret)
		assert.Equal(t, "tenant-app", route.AppID)
	})
}

func TestSnapshotReload(t *testing.T) {
	r := newTestResolver(t)

	_, ok := r.ServerKey("com.example.new")
	require.False(t, ok)

	snap, err := routing.ParseSnapshot([]byte("com.example.new:\n  server_key: new-key\n"), []byte(instanceTable))
	require.NoError(t, err)
	r.Install(snap)

	key, ok := r.ServerKey("com.example.new")
	require.True(t, ok)
	assert.Equal(t, "new-key", key)

	// The old table is gone as a whole; readers see one snapshot at a time.
	_, ok = r.ServerKey("com.example.app")
	assert.False(t, ok)
}
