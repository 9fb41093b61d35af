package session

import (
	"context"
	"log"

	"github.com/sourcegraph/conc"

	"mediaconsole/internal/autoplay"
	"mediaconsole/internal/localstore"
	"mediaconsole/models"
	"mediaconsole/services/catalog"
)

// ReasonRemoteResume marks an item reopened from the viewer's remote record.
const ReasonRemoteResume = "remote-resume"

// Restore adopts the persisted active video without touching the network. It reports whether
// an explicit item (content or role overview) was restored. A persisted ambient default only
// moves the session to that area.
func (s *Session) Restore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap models.ActiveVideoState
	if !s.store.Load(localstore.KeyActiveVideo, &snap) || !snap.Valid() {
		return false
	}
	area, ok := s.areas.Area(snap.AreaID)
	if !ok {
		log.Printf("[session] device %s: ignoring snapshot for unknown area %q", s.deviceID, snap.AreaID)
		return false
	}

	s.area = area
	if snap.IsAmbient() {
		s.active = models.AmbientState(area)
		s.progress.Bind(area.ID, "")
		return false
	}

	s.active = snap
	s.state = StateLoaded
	s.playing = true
	s.overlayVisible = false
	s.restored = true
	s.progress.Bind(area.ID, snap.SectionID)
	if snap.SourceType == models.SourceContent {
		if pos, ok := s.progress.ResumePosition(snap.ContentID); ok {
			s.seekTo = &pos
			s.position = pos
		}
	}
	return true
}

// Mount restores local state and then runs Load in the caller's goroutine.
func (s *Session) Mount(ctx context.Context) {
	s.Restore()
	s.Load(ctx)
}

// Start runs Load in the background under the session's own context, so the caller only
// waits for the local restore. Unload cancels the load.
func (s *Session) Start() {
	go s.Load(s.ctx)
}

// Load fetches the area catalog and (for authenticated viewers) the remote viewer record
// concurrently. When nothing was restored and the ambient default is still showing, it
// resumes from the remote record or runs the initial-content selector. Loaded is closed
// when it returns.
func (s *Session) Load(ctx context.Context) {
	defer s.markLoaded()

	s.mu.Lock()
	areaID := s.area.ID
	s.mu.Unlock()

	var (
		view      catalog.View
		viewErr   error
		remote    *models.RemoteViewerState
		remoteErr error
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		view, viewErr = s.catalog.LoadArea(ctx, areaID)
	})
	if s.viewer.Authenticated() && s.states != nil {
		wg.Go(func() {
			remote, remoteErr = s.states.Get(ctx, s.viewer.ID)
		})
	}
	wg.Wait()

	s.applyCatalog(areaID, view, viewErr)
	if remoteErr != nil {
		log.Printf("[session] device %s: remote state unavailable for viewer %s: %v", s.deviceID, s.viewer.ID, remoteErr)
	}
	if remote != nil {
		s.seedFromRemote(*remote)
	}

	s.autoSelect(ctx, view.Items, remote)
}

func (s *Session) markLoaded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.loaded:
	default:
		close(s.loaded)
	}
}

func (s *Session) seedFromRemote(remote models.RemoteViewerState) {
	if remote.LastContentID == "" {
		return
	}
	if !s.progress.Seed(remote.LastContentID, remote.PlayheadSeconds) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateLoaded && s.active.ContentID == remote.LastContentID && s.seekTo == nil {
		if pos, ok := s.progress.ResumePosition(remote.LastContentID); ok {
			s.seekTo = &pos
			s.position = pos
		}
	}
}

// autoSelect runs at most once per session.
func (s *Session) autoSelect(ctx context.Context, areaItems []models.ContentItem, remote *models.RemoteViewerState) {
	s.mu.Lock()
	eligible := !s.selectorRan && !s.restored && !s.closed && s.active.IsAmbient()
	s.selectorRan = true
	s.mu.Unlock()
	if !eligible {
		return
	}

	if remote != nil && remote.LastContentID != "" {
		if item, err := s.catalog.Find(ctx, remote.LastContentID); err == nil {
			if s.adoptSelection(item, ReasonRemoteResume) {
				return
			}
		}
	}

	item, reason, ok, err := autoplay.Select(ctx, areaItems, s.catalog.LoadGlobal)
	if err != nil {
		log.Printf("[session] device %s: global catalog unavailable for auto-selection: %v", s.deviceID, err)
	}
	if !ok {
		return
	}
	s.adoptSelection(item, reason)
}

// adoptSelection loads an automatically chosen item if the viewer has not picked one in the
// meantime. Automatic picks are not written to watch history.
func (s *Session) adoptSelection(item models.ContentItem, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.active.IsAmbient() || item.PlaybackURL() == "" {
		return false
	}
	area, ok := s.areas.Area(item.AreaID)
	if !ok {
		return false
	}
	s.openItemLocked(item, area, false)
	s.autoSelection = reason
	log.Printf("[session] device %s: auto-selected %s (%s)", s.deviceID, item.ID, reason)
	return true
}

func (s *Session) refreshCatalog(ctx context.Context, areaID string) {
	view, err := s.catalog.LoadArea(ctx, areaID)
	s.applyCatalog(areaID, view, err)
}

func (s *Session) applyCatalog(areaID string, view catalog.View, err error) {
	status := &CatalogStatus{
		AreaID: areaID,
		Count:  len(view.Items),
		Cities: view.Cities,
		Stale:  view.Stale,
	}
	if status.Cities == nil {
		status.Cities = []string{}
	}
	if err != nil {
		status.Error = err.Error()
		log.Printf("[session] device %s: catalog for %s: %v", s.deviceID, areaID, err)
	}

	s.mu.Lock()
	s.catalogStatus = status
	s.mu.Unlock()
}
