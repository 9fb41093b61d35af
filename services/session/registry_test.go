package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaconsole/internal/localstore"
	"mediaconsole/models"
	"mediaconsole/services/session"
)

func TestRegistryLifecycle(t *testing.T) {
	f := newFixture(t)
	root, err := localstore.New(f.fs, "/cache")
	require.NoError(t, err)
	reg := session.NewRegistry(root, f.deps)

	sess, err := reg.Create(context.Background(), "tab-1", "studio", models.Anonymous)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())
	assert.Equal(t, "studio", sess.Snapshot().Active.AreaID)

	got, err := reg.Get(sess.ID())
	require.NoError(t, err)
	assert.Same(t, sess, got)

	require.NoError(t, reg.Unload(sess.ID()))
	assert.True(t, sess.Closed())
	_, err = reg.Get(sess.ID())
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	require.ErrorIs(t, reg.Unload(sess.ID()), session.ErrSessionNotFound)
}

func TestRegistryReplacesSessionForSameDevice(t *testing.T) {
	f := newFixture(t)
	root, err := localstore.New(f.fs, "/cache")
	require.NoError(t, err)
	reg := session.NewRegistry(root, f.deps)

	first, err := reg.Create(context.Background(), "tab-1", "", models.Anonymous)
	require.NoError(t, err)
	require.NoError(t, first.OpenItem(item("a", "archive", epoch, 1)))

	second, err := reg.Create(context.Background(), "tab-1", "", models.Anonymous)
	require.NoError(t, err)

	assert.True(t, first.Closed())
	assert.Equal(t, 1, reg.Len())
	// The replacement restores what the first session persisted.
	assert.Equal(t, "a", second.Snapshot().Active.ContentID)
	assert.True(t, second.Snapshot().Restored)

	reg.CloseAll()
	assert.True(t, second.Closed())
	assert.Zero(t, reg.Len())
}

func TestRegistryRejectsBadDeviceID(t *testing.T) {
	f := newFixture(t)
	root, err := localstore.New(f.fs, "/cache")
	require.NoError(t, err)
	reg := session.NewRegistry(root, f.deps)

	_, err = reg.Create(context.Background(), "../escape", "", models.Anonymous)
	require.ErrorIs(t, err, session.ErrDeviceIDRequired)
}

func TestRegistryCreateReturnsBeforeCatalogLoads(t *testing.T) {
	f := newFixture(t)
	root, err := localstore.New(f.fs, "/cache")
	require.NoError(t, err)
	device, err := root.Namespace("tab-1")
	require.NoError(t, err)
	require.NoError(t, device.Save(localstore.KeyActiveVideo, models.ActiveVideoState{
		URL: "https://cdn/x.mp4", Title: "X", AreaID: "studio", ContentID: "x", SourceType: models.SourceContent,
	}))
	require.NoError(t, device.Save(localstore.KeyProgress, map[string]models.ProgressRecord{
		"x": {PositionSeconds: 42, DurationSeconds: 200, UpdatedAt: epoch},
	}))

	f.catalog.block = make(chan struct{})
	reg := session.NewRegistry(root, f.deps)
	t.Cleanup(reg.CloseAll)

	created := make(chan *session.Session, 1)
	go func() {
		sess, err := reg.Create(context.Background(), "tab-1", "", models.Anonymous)
		assert.NoError(t, err)
		created <- sess
	}()

	var sess *session.Session
	select {
	case sess = <-created:
	case <-time.After(time.Second):
		close(f.catalog.block)
		t.Fatal("Create waited for the catalog fetch")
	}
	require.NotNil(t, sess)
	assert.Equal(t, 1, reg.Len())

	snap := sess.Snapshot()
	assert.True(t, snap.Restored)
	assert.Equal(t, "x", snap.Active.ContentID)
	require.NotNil(t, snap.SeekTo)
	assert.Equal(t, 42.0, *snap.SeekTo)
	assert.Nil(t, snap.Catalog, "catalog is still loading")

	select {
	case <-sess.Loaded():
		t.Fatal("background load finished while the catalog was blocked")
	default:
	}

	close(f.catalog.block)
	select {
	case <-sess.Loaded():
	case <-time.After(time.Second):
		t.Fatal("background load never finished")
	}
	require.NotNil(t, sess.Snapshot().Catalog)
	assert.Equal(t, "x", sess.Snapshot().Active.ContentID)
}

func TestRegistryConcurrentCreateKeepsOneSessionPerDevice(t *testing.T) {
	f := newFixture(t)
	root, err := localstore.New(f.fs, "/cache")
	require.NoError(t, err)
	reg := session.NewRegistry(root, f.deps)
	t.Cleanup(reg.CloseAll)

	const creators = 8
	var wg sync.WaitGroup
	results := make(chan *session.Session, creators)
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := reg.Create(context.Background(), "tab-1", "", models.Anonymous)
			assert.NoError(t, err)
			results <- sess
		}()
	}
	wg.Wait()
	close(results)

	live := 0
	for sess := range results {
		if sess != nil && !sess.Closed() {
			live++
		}
	}
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryReapsIdleSessions(t *testing.T) {
	f := newFixture(t)
	root, err := localstore.New(f.fs, "/cache")
	require.NoError(t, err)
	reg := session.NewRegistry(root, f.deps)
	t.Cleanup(reg.CloseAll)

	stale, err := reg.Create(context.Background(), "tab-1", "", models.Anonymous)
	require.NoError(t, err)
	busy, err := reg.Create(context.Background(), "tab-2", "", models.Anonymous)
	require.NoError(t, err)
	require.NoError(t, stale.OpenItem(item("a", "archive", epoch, 1)))
	require.True(t, stale.Tick(17, 100))

	f.clock.Advance(20 * time.Minute)
	busy.Touch()
	assert.Zero(t, reg.ReapIdle(30*time.Minute))

	f.clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, reg.ReapIdle(30*time.Minute))
	assert.True(t, stale.Closed())
	assert.False(t, busy.Closed())
	assert.Equal(t, 1, reg.Len())
	_, err = reg.Get(stale.ID())
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	device, err := root.Namespace("tab-1")
	require.NoError(t, err)
	var stored map[string]models.ProgressRecord
	require.True(t, device.Load(localstore.KeyProgress, &stored))
	assert.Equal(t, 17.0, stored["a"].PositionSeconds)

	assert.Zero(t, reg.ReapIdle(0))
}
