package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaconsole/internal/autoplay"
	"mediaconsole/internal/clock"
	"mediaconsole/internal/localstore"
	"mediaconsole/models"
	"mediaconsole/services/areas"
	"mediaconsole/services/catalog"
	"mediaconsole/services/session"
)

var epoch = time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC)

type fakeCatalog struct {
	mu      sync.Mutex
	items   []models.ContentItem
	areaErr error
	block   chan struct{}
	loads   int
}

func (f *fakeCatalog) LoadArea(_ context.Context, areaID string) (catalog.View, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	view := catalog.View{AreaID: areaID, Items: []models.ContentItem{}, Cities: []string{}}
	if f.areaErr != nil {
		view.Stale = true
		return view, f.areaErr
	}
	for _, item := range f.items {
		if item.AreaID == areaID && item.IsPublished {
			view.Items = append(view.Items, item)
		}
	}
	return view, nil
}

func (f *fakeCatalog) LoadGlobal(context.Context) ([]models.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ContentItem(nil), f.items...), nil
}

func (f *fakeCatalog) Find(_ context.Context, id string) (models.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.ID == id {
			return item, nil
		}
	}
	return models.ContentItem{}, catalog.ErrContentNotFound
}

type fakeStates struct {
	mu     sync.Mutex
	docs   map[string]models.RemoteViewerState
	merges []models.ViewerStatePatch
}

func (f *fakeStates) Get(_ context.Context, viewerID string) (*models.RemoteViewerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[viewerID]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (f *fakeStates) Merge(_ context.Context, viewerID string, patch models.ViewerStatePatch) (models.RemoteViewerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges = append(f.merges, patch)
	if f.docs == nil {
		f.docs = make(map[string]models.RemoteViewerState)
	}
	next := f.docs[viewerID].Apply(patch, epoch)
	next.ViewerID = viewerID
	f.docs[viewerID] = next
	return next, nil
}

type fixture struct {
	fs      afero.Fs
	store   *localstore.Store
	clock   *clock.Manual
	catalog *fakeCatalog
	states  *fakeStates
	deps    session.Deps
}

func newFixture(t *testing.T, items ...models.ContentItem) *fixture {
	t.Helper()
	reg, err := areas.NewRegistry([]models.AreaDefinition{
		{ID: "archive", Title: "Archive", Ambient: models.AmbientVideo{VideoURL: "https://cdn/archive.mp4", Theme: "sepia"}},
		{ID: "studio", Title: "Studio", Ambient: models.AmbientVideo{VideoURL: "https://cdn/studio.mp4", Theme: "night"}},
	})
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	store, err := localstore.New(fs, "/cache/device-1")
	require.NoError(t, err)

	f := &fixture{
		fs:      fs,
		store:   store,
		clock:   clock.NewManual(epoch),
		catalog: &fakeCatalog{items: items},
		states:  &fakeStates{},
	}
	f.deps = session.Deps{
		Catalog: f.catalog,
		Areas:   reg,
		States:  f.states,
		Clock:   f.clock,
		Options: session.Options{RemoteTimeout: time.Second},
	}
	return f
}

func (f *fixture) newSession(t *testing.T, viewer models.Viewer) *session.Session {
	t.Helper()
	sess, err := session.New("s1", "device-1", viewer, f.store, f.deps, "archive")
	require.NoError(t, err)
	t.Cleanup(sess.Unload)
	return sess
}

func (f *fixture) storedProgress(t *testing.T) map[string]models.ProgressRecord {
	t.Helper()
	var out map[string]models.ProgressRecord
	f.store.Load(localstore.KeyProgress, &out)
	return out
}

func item(id, area string, updated time.Time, order int) models.ContentItem {
	it := models.ContentItem{
		ID:          id,
		AreaID:      area,
		SectionID:   "sessions",
		Title:       "Title " + id,
		VideoURL:    "https://cdn/" + id + ".mp4",
		IsPublished: true,
		SortOrder:   &order,
	}
	if !updated.IsZero() {
		it.UpdatedAt = &updated
	}
	return it
}

func TestNewSessionStartsAmbient(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)

	snap := sess.Snapshot()
	assert.Equal(t, session.StateAmbient, snap.State)
	assert.Equal(t, models.SourceAreaDefault, snap.Active.SourceType)
	assert.Equal(t, "https://cdn/archive.mp4", snap.Active.URL)
	assert.True(t, snap.OverlayVisible)
	assert.False(t, snap.Playing)
}

func TestRestoreAdoptsSnapshotWithoutNetwork(t *testing.T) {
	f := newFixture(t)
	f.catalog.block = make(chan struct{}) // any catalog call would hang
	defer close(f.catalog.block)

	require.NoError(t, f.store.Save(localstore.KeyActiveVideo, models.ActiveVideoState{
		URL: "https://cdn/x.mp4", Title: "X", AreaID: "studio", ContentID: "x", SourceType: models.SourceContent,
	}))
	require.NoError(t, f.store.Save(localstore.KeyProgress, map[string]models.ProgressRecord{
		"x": {PositionSeconds: 42, DurationSeconds: 200, UpdatedAt: epoch},
	}))

	sess := f.newSession(t, models.Anonymous)
	require.True(t, sess.Restore())

	snap := sess.Snapshot()
	assert.Equal(t, session.StateLoaded, snap.State)
	assert.Equal(t, "x", snap.Active.ContentID)
	assert.Equal(t, "studio", snap.Active.AreaID)
	require.NotNil(t, snap.SeekTo)
	assert.Equal(t, 42.0, *snap.SeekTo)
	assert.False(t, snap.OverlayVisible)
	assert.True(t, snap.Restored)
	assert.Zero(t, f.catalog.loads)
}

func TestRestoreIgnoresUnknownAreaAndCorruptSnapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Save(localstore.KeyActiveVideo, models.ActiveVideoState{
		URL: "https://cdn/x.mp4", AreaID: "gone", ContentID: "x", SourceType: models.SourceContent,
	}))
	sess := f.newSession(t, models.Anonymous)
	assert.False(t, sess.Restore())

	require.NoError(t, afero.WriteFile(f.fs, "/cache/device-1/active_video.json", []byte("[1,2"), 0o644))
	assert.False(t, sess.Restore())
	assert.Equal(t, session.StateAmbient, sess.Snapshot().State)
}

func TestMountSelectsFreshestAreaItem(t *testing.T) {
	f := newFixture(t,
		item("a", "archive", time.UnixMilli(100), 2),
		item("b", "archive", time.UnixMilli(50), 1),
	)
	sess := f.newSession(t, models.Anonymous)
	sess.Mount(context.Background())

	snap := sess.Snapshot()
	assert.Equal(t, session.StateLoaded, snap.State)
	assert.Equal(t, "a", snap.Active.ContentID)
	assert.Equal(t, autoplay.ReasonAreaFreshest, snap.AutoSelection)
	assert.Empty(t, snap.Recent, "automatic picks are not watch history")
	require.NotNil(t, snap.Catalog)
	assert.Equal(t, 2, snap.Catalog.Count)
}

func TestMountCuratedOrderWhenNoTimestamps(t *testing.T) {
	f := newFixture(t,
		item("a", "archive", time.Time{}, 2),
		item("b", "archive", time.Time{}, 1),
	)
	sess := f.newSession(t, models.Anonymous)
	sess.Mount(context.Background())

	snap := sess.Snapshot()
	assert.Equal(t, "b", snap.Active.ContentID)
	assert.Equal(t, autoplay.ReasonAreaCurated, snap.AutoSelection)
}

func TestMountFallsBackToGlobalCatalog(t *testing.T) {
	f := newFixture(t, item("s1", "studio", epoch, 1))
	sess := f.newSession(t, models.Anonymous)
	sess.Mount(context.Background())

	snap := sess.Snapshot()
	assert.Equal(t, "s1", snap.Active.ContentID)
	assert.Equal(t, "studio", snap.Active.AreaID)
	assert.Equal(t, autoplay.ReasonGlobalFreshest, snap.AutoSelection)
}

func TestMountLeavesAmbientWhenCatalogEmpty(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)
	sess.Mount(context.Background())

	snap := sess.Snapshot()
	assert.Equal(t, session.StateAmbient, snap.State)
	assert.Empty(t, snap.AutoSelection)
}

func TestMountKeepsRestoredItem(t *testing.T) {
	f := newFixture(t, item("fresh", "archive", epoch, 1))
	require.NoError(t, f.store.Save(localstore.KeyActiveVideo, models.ActiveVideoState{
		URL: "https://cdn/x.mp4", AreaID: "archive", ContentID: "x", SourceType: models.SourceContent,
	}))
	sess := f.newSession(t, models.Anonymous)
	sess.Mount(context.Background())

	snap := sess.Snapshot()
	assert.Equal(t, "x", snap.Active.ContentID)
	assert.Empty(t, snap.AutoSelection)
}

func TestMountCatalogFailureKeepsAmbient(t *testing.T) {
	f := newFixture(t)
	f.catalog.areaErr = fmt.Errorf("%w: offline", catalog.ErrCatalogUnavailable)
	sess := f.newSession(t, models.Anonymous)
	sess.Mount(context.Background())

	snap := sess.Snapshot()
	assert.Equal(t, session.StateAmbient, snap.State)
	require.NotNil(t, snap.Catalog)
	assert.True(t, snap.Catalog.Stale)
	assert.Contains(t, snap.Catalog.Error, "catalog unavailable")
}

func TestMountResumesFromRemoteState(t *testing.T) {
	f := newFixture(t,
		item("fresh", "archive", epoch, 1),
		item("c2", "studio", time.Time{}, 5),
	)
	f.states.docs = map[string]models.RemoteViewerState{
		"viewer-1": {ViewerID: "viewer-1", LastAreaID: "studio", LastContentID: "c2", PlayheadSeconds: 30},
	}
	sess := f.newSession(t, models.Viewer{ID: "viewer-1", HasAccess: true})
	sess.Mount(context.Background())

	snap := sess.Snapshot()
	assert.Equal(t, "c2", snap.Active.ContentID)
	assert.Equal(t, session.ReasonRemoteResume, snap.AutoSelection)
	require.NotNil(t, snap.SeekTo)
	assert.Equal(t, 30.0, *snap.SeekTo)
	assert.Empty(t, sess.History(0), "remote resume is not watch history")
}

func TestAutoSelectedItemStaysOutOfHistoryUntilOpened(t *testing.T) {
	f := newFixture(t, item("a", "archive", epoch, 1))
	sess := f.newSession(t, models.Anonymous)
	sess.Mount(context.Background())
	require.Equal(t, "a", sess.Snapshot().Active.ContentID)
	assert.Empty(t, sess.History(0))

	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))
	recent := sess.History(0)
	require.Len(t, recent, 1)
	assert.Equal(t, "a", recent[0].ContentID)
}

func TestMountAnonymousIgnoresRemoteState(t *testing.T) {
	f := newFixture(t, item("fresh", "archive", epoch, 1), item("c2", "studio", time.Time{}, 5))
	f.states.docs = map[string]models.RemoteViewerState{
		"viewer-1": {ViewerID: "viewer-1", LastContentID: "c2", PlayheadSeconds: 30},
	}
	sess := f.newSession(t, models.Anonymous)
	sess.Mount(context.Background())

	assert.Equal(t, "fresh", sess.Snapshot().Active.ContentID)
}

func TestOpenItemRecordsHistoryAndFlushesPrevious(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)

	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))
	require.True(t, sess.Tick(10, 100))
	require.NoError(t, sess.OpenItem(item("b", "studio", epoch, 1)))

	stored := f.storedProgress(t)
	require.Contains(t, stored, "a")
	assert.Equal(t, 10.0, stored["a"].PositionSeconds)

	snap := sess.Snapshot()
	assert.Equal(t, "b", snap.Active.ContentID)
	assert.Equal(t, "night", snap.Active.OverlayTheme)
	assert.True(t, snap.Playing)
	history := sess.History(0)
	require.Len(t, history, 2)
	assert.Equal(t, "b", history[0].ContentID)

	var persisted models.ActiveVideoState
	require.True(t, f.store.Load(localstore.KeyActiveVideo, &persisted))
	assert.Equal(t, "b", persisted.ContentID)
}

func TestOpenItemSeeksToResumePosition(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)

	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))
	require.True(t, sess.Tick(64, 100))
	sess.VisibilityHidden()
	require.NoError(t, sess.OpenItem(item("b", "archive", epoch, 1)))
	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))

	snap := sess.Snapshot()
	require.NotNil(t, snap.SeekTo)
	assert.Equal(t, 64.0, *snap.SeekTo)
}

func TestOpenItemUnknownArea(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)
	err := sess.OpenItem(item("z", "nowhere", epoch, 1))
	require.ErrorIs(t, err, session.ErrUnknownArea)
}

func TestOpenContentByID(t *testing.T) {
	f := newFixture(t, item("a", "archive", epoch, 1))
	sess := f.newSession(t, models.Anonymous)

	require.NoError(t, sess.OpenContent(context.Background(), "a"))
	assert.Equal(t, "a", sess.Snapshot().Active.ContentID)

	err := sess.OpenContent(context.Background(), "missing")
	require.ErrorIs(t, err, catalog.ErrContentNotFound)
}

func TestRoleOverviewIsNotHistory(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)

	require.NoError(t, sess.OpenRoleOverview("studio", "https://cdn/overview.mp4", "Roles"))
	snap := sess.Snapshot()
	assert.Equal(t, models.SourceRoleOverview, snap.Active.SourceType)
	assert.Equal(t, session.StateLoaded, snap.State)
	assert.Empty(t, sess.History(0))
	assert.False(t, sess.Tick(5, 60), "role overviews report no progress")

	require.ErrorIs(t, sess.OpenRoleOverview("studio", " ", "Roles"), session.ErrURLRequired)
}

func TestSelectAreaReturnsToAmbient(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)
	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))

	require.NoError(t, sess.SelectArea(context.Background(), "studio"))
	snap := sess.Snapshot()
	assert.Equal(t, session.StateAmbient, snap.State)
	assert.Equal(t, "https://cdn/studio.mp4", snap.Active.URL)
	assert.True(t, snap.OverlayVisible)
	require.NotNil(t, snap.Catalog)
	assert.Equal(t, "studio", snap.Catalog.AreaID)

	require.ErrorIs(t, sess.SelectArea(context.Background(), "nowhere"), session.ErrUnknownArea)
}

func TestTogglePlayPauseRequiresItem(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)

	_, err := sess.TogglePlayPause()
	require.ErrorIs(t, err, session.ErrNoItemLoaded)

	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))
	playing, err := sess.TogglePlayPause()
	require.NoError(t, err)
	assert.False(t, playing)
	playing, err = sess.TogglePlayPause()
	require.NoError(t, err)
	assert.True(t, playing)
}

func TestOverlayPinnedOnAmbient(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)

	sess.Interact()
	f.clock.Advance(10 * time.Second)
	assert.True(t, sess.Snapshot().OverlayVisible)
}

func TestOverlayAutoHidesAfterInteraction(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)
	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))
	assert.False(t, sess.Snapshot().OverlayVisible)

	sess.Interact()
	assert.True(t, sess.Snapshot().OverlayVisible)

	f.clock.Advance(time.Second)
	sess.Interact() // restarts the hide timer
	f.clock.Advance(time.Second)
	assert.True(t, sess.Snapshot().OverlayVisible)

	f.clock.Advance(600 * time.Millisecond)
	assert.False(t, sess.Snapshot().OverlayVisible)
}

func TestVolumeAndMute(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)

	require.NoError(t, sess.SetVolume(0.4))
	muted, err := sess.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)

	muted, err = sess.ToggleMute()
	require.NoError(t, err)
	assert.False(t, muted)
	assert.Equal(t, 0.4, sess.Snapshot().Volume)

	require.NoError(t, sess.SetVolume(0))
	assert.True(t, sess.Snapshot().Muted)

	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))
	snap := sess.Snapshot()
	assert.False(t, snap.Muted)
	assert.Equal(t, 0.4, snap.Volume)

	require.ErrorIs(t, sess.SetVolume(1.5), session.ErrInvalidVolume)
}

func TestScrubFeedsProgress(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)

	require.ErrorIs(t, sess.Scrub(10), session.ErrNoItemLoaded)

	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))
	require.True(t, sess.Tick(5, 100))
	require.NoError(t, sess.Scrub(250))
	sess.VisibilityHidden()

	assert.Equal(t, 100.0, f.storedProgress(t)["a"].PositionSeconds)
	require.ErrorIs(t, sess.Scrub(-1), session.ErrInvalidPosition)
}

func TestTickBeforeDurationIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)
	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))

	assert.False(t, sess.Tick(3, 0))
	sess.MediaFailed()
	sess.Unload()

	assert.NotContains(t, f.storedProgress(t), "a")
}

func TestVisibilityHiddenFlushesPendingTick(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)
	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))

	require.True(t, sess.Tick(7, 100))
	require.True(t, sess.Tick(8, 100))
	sess.VisibilityHidden()

	assert.Equal(t, 8.0, f.storedProgress(t)["a"].PositionSeconds)
}

func TestAuthenticatedFlushMergesRemote(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Viewer{ID: "viewer-1"})
	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))

	require.True(t, sess.Tick(12, 100))
	f.clock.Advance(1200 * time.Millisecond)
	unloadAndDrain(t, sess)

	doc := f.states.docs["viewer-1"]
	assert.Equal(t, "a", doc.LastContentID)
	assert.Equal(t, "archive", doc.LastAreaID)
	assert.Equal(t, "sessions", doc.LastSectionID)
	assert.Equal(t, 12.0, doc.PlayheadSeconds)
}

func unloadAndDrain(t *testing.T, sess *session.Session) {
	t.Helper()
	sess.Unload()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.True(t, sess.Drain(ctx), "remote progress was not delivered")
}

// heldStates holds every Merge until release is closed.
type heldStates struct {
	*fakeStates
	release chan struct{}
}

func (h heldStates) Merge(ctx context.Context, viewerID string, patch models.ViewerStatePatch) (models.RemoteViewerState, error) {
	<-h.release
	return h.fakeStates.Merge(ctx, viewerID, patch)
}

func TestSlowRemoteMergeDoesNotBlockNextItem(t *testing.T) {
	f := newFixture(t)
	held := heldStates{fakeStates: f.states, release: make(chan struct{})}
	f.deps.States = held
	sess := f.newSession(t, models.Viewer{ID: "viewer-1", HasAccess: true})

	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))
	require.True(t, sess.Tick(10, 100))

	done := make(chan bool)
	go func() {
		assert.NoError(t, sess.OpenItem(item("b", "archive", epoch, 2)))
		done <- sess.Tick(1, 100)
	}()
	select {
	case accepted := <-done:
		assert.True(t, accepted)
	case <-time.After(time.Second):
		t.Fatal("tick on the next item waited for the previous remote merge")
	}
	assert.Equal(t, 10.0, f.storedProgress(t)["a"].PositionSeconds)
	assert.Equal(t, "b", sess.Snapshot().Active.ContentID)

	close(held.release)
	unloadAndDrain(t, sess)
	assert.Equal(t, "b", f.states.docs["viewer-1"].LastContentID)
}

func TestTouchUpdatesLastActive(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)
	assert.Equal(t, epoch, sess.LastActive())

	f.clock.Advance(time.Minute)
	sess.Touch()
	assert.Equal(t, epoch.Add(time.Minute), sess.LastActive())
}

func TestMediaFailureKeepsPersistedState(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)
	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))

	sess.MediaFailed()
	snap := sess.Snapshot()
	assert.Equal(t, "https://cdn/a.mp4", snap.ExternalURL)

	var persisted models.ActiveVideoState
	require.True(t, f.store.Load(localstore.KeyActiveVideo, &persisted))
	assert.Equal(t, "a", persisted.ContentID)

	sess.MediaReady()
	assert.Empty(t, sess.Snapshot().ExternalURL)
}

func TestBrowserOverlay(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)
	sess.OpenBrowser()
	assert.True(t, sess.Snapshot().BrowseOpen)

	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))
	assert.False(t, sess.Snapshot().BrowseOpen, "opening an item closes the browser")
}

func TestUnloadRejectsFurtherChanges(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, models.Anonymous)
	require.NoError(t, sess.OpenItem(item("a", "archive", epoch, 1)))
	require.True(t, sess.Tick(9, 100))

	sess.Unload()
	assert.Equal(t, 9.0, f.storedProgress(t)["a"].PositionSeconds)
	assert.True(t, sess.Closed())
	assert.Zero(t, f.clock.Pending())

	err := sess.OpenItem(item("b", "archive", epoch, 1))
	assert.True(t, errors.Is(err, session.ErrSessionClosed))
}
