package controller_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/internal/controller"
	"github.com/tinywideclouds/go-push-relay/internal/routing"
	"github.com/tinywideclouds/go-push-relay/internal/storage/memory"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingBridge remembers every hand-off it was asked to issue.
type recordingBridge struct {
	mu          sync.Mutex
	registers   []relay.Route
	unregisters []relay.Registration
}

func (b *recordingBridge) Register(_ context.Context, route relay.Route, _ relay.Registration) *relay.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registers = append(b.registers, route)
	return relay.Done(nil)
}

func (b *recordingBridge) Unregister(_ context.Context, _ relay.Route, reg relay.Registration) *relay.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unregisters = append(b.unregisters, reg)
	return relay.Done(nil)
}

func (b *recordingBridge) registerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.registers)
}

func (b *recordingBridge) unregisterCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.unregisters)
}

// scriptedPush returns a fixed outcome and remembers what it delivered to.
type scriptedPush struct {
	mu        sync.Mutex
	outcome   relay.DeliveryOutcome
	delivered []relay.Registration
}

func (p *scriptedPush) Deliver(_ context.Context, reg relay.Registration, _ []byte) (relay.DeliveryOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delivered = append(p.delivered, reg)
	return p.outcome, nil
}

func (p *scriptedPush) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.delivered)
}

const appTable = `
com.example.app:
  server_key: fcm-key-1
`

const instanceTable = `
mastodon.example.com:
  register_url: https://listener.example.com/register
  unregister_url: https://listener.example.com/unregister
  apps:
    com.example.app: secret-1
`

const customBlob = `{"*": {
	"app_id": "tenant-app",
	"register_url": "https://tenant.example.com/register",
	"unregister_url": "https://tenant.example.com/unregister"
}}`

type fixture struct {
	ctrl   *controller.Controller
	store  *memory.Store
	bridge *recordingBridge
	push   *scriptedPush
}

func newFixture(t *testing.T, appYAML, instanceYAML string) fixture {
	t.Helper()
	snap, err := routing.ParseSnapshot([]byte(appYAML), []byte(instanceYAML))
	require.NoError(t, err)
	resolver := routing.NewResolver(newTestLogger())
	resolver.Install(snap)

	store := memory.NewStore()
	bridge := &recordingBridge{}
	push := &scriptedPush{outcome: relay.OutcomeDelivered}
	ctrl := controller.New(resolver, store, bridge, push, newTestLogger())
	return fixture{ctrl: ctrl, store: store, bridge: bridge, push: push}
}

func registerRequest() controller.RegisterRequest {
	return controller.RegisterRequest{
		AppID:       "com.example.app",
		InstanceURL: "mastodon.example.com",
		AccessToken: "access-1",
		DeviceToken: "device-1",
		Tag:         "tag-1",
	}
}

func mustRegister(t *testing.T, fx fixture, req controller.RegisterRequest) {
	t.Helper()
	task, err := fx.ctrl.Register(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, task.Await(context.Background()))
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("is idempotent and keeps the latest device token", func(t *testing.T) {
		fx := newFixture(t, appTable, instanceTable)
		mustRegister(t, fx, registerRequest())

		second := registerRequest()
		second.DeviceToken = "device-2"
		mustRegister(t, fx, second)

		assert.Equal(t, 1, fx.store.Len(), "exactly one row per key")
		got, err := fx.store.FindByKey(ctx, "mastodon.example.com", "com.example.app", "tag-1")
		require.NoError(t, err)
		assert.Equal(t, "device-2", got.DeviceToken)
		assert.Equal(t, 2, fx.bridge.registerCount())
	})

	t.Run("identical refresh re-issues the hand-off", func(t *testing.T) {
		// Re-registering with unchanged fields is how a client revives a
		// listener subscription that was dropped server-side; the bridge
		// must hear about it every time.
		fx := newFixture(t, appTable, instanceTable)
		mustRegister(t, fx, registerRequest())
		mustRegister(t, fx, registerRequest())

		assert.Equal(t, 1, fx.store.Len())
		assert.Equal(t, 2, fx.bridge.registerCount())
	})

	t.Run("validates required fields", func(t *testing.T) {
		fx := newFixture(t, appTable, instanceTable)

		req := registerRequest()
		req.AppID = ""
		_, err := fx.ctrl.Register(ctx, req)
		assert.ErrorIs(t, err, controller.ErrMissingAppID)

		req = registerRequest()
		req.InstanceURL = ""
		_, err = fx.ctrl.Register(ctx, req)
		assert.ErrorIs(t, err, controller.ErrMissingInstanceURL)

		req = registerRequest()
		req.Tag = ""
		_, err = fx.ctrl.Register(ctx, req)
		assert.ErrorIs(t, err, controller.ErrMissingTag)

		assert.Equal(t, 0, fx.store.Len(), "validation rejects before any store mutation")
	})

	t.Run("surfaces resolution failures to the caller", func(t *testing.T) {
		fx := newFixture(t, appTable, instanceTable)
		req := registerRequest()
		req.AppID = "com.example.unknown"
		_, err := fx.ctrl.Register(ctx, req)
		assert.ErrorIs(t, err, routing.ErrMissingAppConfig)
	})
}

func TestRegister_CustomConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("never consults the default tables", func(t *testing.T) {
		// Empty default tables: only the override can make this work.
		fx := newFixture(t, `{}`, `{}`)
		req := registerRequest()
		req.UserConfig = customBlob
		req.UserAppSecret = "tenant-secret"
		mustRegister(t, fx, req)

		got, err := fx.store.FindByKey(ctx, "mastodon.example.com", "com.example.app", "tag-1")
		require.NoError(t, err)
		assert.Equal(t, "tenant-app", got.AppIDUser)
		assert.Equal(t, customBlob, got.UserConfig)
		assert.Equal(t, "tenant-secret", got.UserSecret)

		require.Equal(t, 1, fx.bridge.registerCount())
		assert.Equal(t, "tenant-app", fx.bridge.registers[0].AppID)
		assert.Equal(t, "tenant-secret", fx.bridge.registers[0].AppSecret)
	})

	t.Run("unparsable override is rejected, not ignored", func(t *testing.T) {
		fx := newFixture(t, appTable, instanceTable)
		req := registerRequest()
		req.UserConfig = `{broken`
		req.UserAppSecret = "tenant-secret"
		_, err := fx.ctrl.Register(ctx, req)
		assert.ErrorIs(t, err, routing.ErrBadCustomConfig)
		assert.Equal(t, 0, fx.store.Len())
	})

	t.Run("requires the accompanying secret", func(t *testing.T) {
		fx := newFixture(t, appTable, instanceTable)
		req := registerRequest()
		req.UserConfig = customBlob
		_, err := fx.ctrl.Register(ctx, req)
		assert.ErrorIs(t, err, controller.ErrMissingUserSecret)
	})
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()

	t.Run("tears down an active registration", func(t *testing.T) {
		fx := newFixture(t, appTable, instanceTable)
		mustRegister(t, fx, registerRequest())

		task, err := fx.ctrl.Unregister(ctx, "mastodon.example.com", "com.example.app", "tag-1")
		require.NoError(t, err)
		require.NoError(t, task.Await(ctx))

		assert.Equal(t, 0, fx.store.Len())
		assert.Equal(t, 1, fx.bridge.unregisterCount())
	})

	t.Run("unknown key is a no-op", func(t *testing.T) {
		fx := newFixture(t, appTable, instanceTable)
		task, err := fx.ctrl.Unregister(ctx, "mastodon.example.com", "com.example.app", "no-such-tag")
		require.NoError(t, err)
		require.NoError(t, task.Await(ctx))
		assert.Equal(t, 0, fx.bridge.unregisterCount())
	})
}

func TestDeliver(t *testing.T) {
	ctx := context.Background()
	payload := []byte(`{"id": 1}`)

	t.Run("resolves by primary and by tenant-facing key", func(t *testing.T) {
		fx := newFixture(t, `{}`, `{}`)
		req := registerRequest()
		req.UserConfig = customBlob
		req.UserAppSecret = "tenant-secret"
		mustRegister(t, fx, req)

		// Canonical app id.
		task, err := fx.ctrl.Deliver(ctx, "mastodon.example.com", "com.example.app", "tag-1", payload)
		require.NoError(t, err)
		require.NoError(t, task.Await(ctx))

		// Tenant-facing app id, as a listener that only knows the
		// tenant's view sends it.
		task, err = fx.ctrl.Deliver(ctx, "mastodon.example.com", "tenant-app", "tag-1", payload)
		require.NoError(t, err)
		require.NoError(t, task.Await(ctx))

		require.Equal(t, 2, fx.push.count())
		assert.Equal(t, "com.example.app", fx.push.delivered[0].AppID)
		assert.Equal(t, "com.example.app", fx.push.delivered[1].AppID)
	})

	t.Run("unknown registration is dropped without error", func(t *testing.T) {
		fx := newFixture(t, appTable, instanceTable)
		task, err := fx.ctrl.Deliver(ctx, "mastodon.example.com", "com.example.app", "tag-1", payload)
		require.NoError(t, err)
		require.NoError(t, task.Await(ctx))
		assert.Equal(t, 0, fx.push.count())
	})

	t.Run("requires a payload", func(t *testing.T) {
		fx := newFixture(t, appTable, instanceTable)
		_, err := fx.ctrl.Deliver(ctx, "mastodon.example.com", "com.example.app", "tag-1", nil)
		assert.ErrorIs(t, err, controller.ErrMissingPayload)
	})
}
