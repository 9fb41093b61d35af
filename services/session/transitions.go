package session

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"mediaconsole/models"
)

// OpenItem makes item the active video. The previous item's progress is flushed first.
func (s *Session) OpenItem(item models.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	area, ok := s.areas.Area(item.AreaID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownArea, item.AreaID)
	}
	if item.PlaybackURL() == "" {
		return ErrURLRequired
	}
	s.openItemLocked(item, area, true)
	return nil
}

// OpenContent resolves contentID through the catalog and opens it.
func (s *Session) OpenContent(ctx context.Context, contentID string) error {
	item, err := s.catalog.Find(ctx, strings.TrimSpace(contentID))
	if err != nil {
		return err
	}
	return s.OpenItem(item)
}

func (s *Session) openItemLocked(item models.ContentItem, area models.AreaDefinition, recordHistory bool) {
	s.progress.FlushNow()

	s.area = area
	s.active = models.ContentState(item, area.Ambient.Theme)
	s.persistActiveLocked()
	s.enterLoadedLocked()

	if recordHistory {
		if _, err := s.history.RecordOpen(item); err != nil {
			log.Printf("[session] device %s: history not recorded for %q: %v", s.deviceID, item.ID, err)
		}
	}

	s.progress.Bind(area.ID, item.SectionID)
	if pos, ok := s.progress.ResumePosition(item.ID); ok {
		s.seekTo = &pos
		s.position = pos
	}
}

// OpenRoleOverview loads an area's role-overview video. It is not recorded in history and
// reports no progress.
func (s *Session) OpenRoleOverview(areaID, url, title string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return ErrURLRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	area, ok := s.areas.Area(areaID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownArea, areaID)
	}

	s.progress.FlushNow()
	s.area = area
	s.active = models.ActiveVideoState{
		URL:          url,
		Title:        title,
		AreaID:       area.ID,
		OverlayTheme: area.Ambient.Theme,
		SourceType:   models.SourceRoleOverview,
	}
	s.persistActiveLocked()
	s.enterLoadedLocked()
	s.progress.Bind(area.ID, "")
	return nil
}

// enterLoadedLocked resets transport state for a freshly opened video.
func (s *Session) enterLoadedLocked() {
	s.state = StateLoaded
	s.playing = true
	s.muted = false
	if s.lastVolume <= 0 {
		s.lastVolume = DefaultVolume
	}
	if s.volume <= 0 {
		s.volume = s.lastVolume
	}
	s.position = 0
	s.duration = 0
	s.seekTo = nil
	s.browseOpen = false
	s.mediaFailed = false
	s.hideOverlayLocked()
}

// SelectArea returns the player to areaID's ambient default and refreshes the area catalog.
func (s *Session) SelectArea(ctx context.Context, areaID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	area, ok := s.areas.Area(strings.TrimSpace(areaID))
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownArea, areaID)
	}

	s.progress.FlushNow()
	s.area = area
	s.active = models.AmbientState(area)
	s.persistActiveLocked()
	s.state = StateAmbient
	s.playing = false
	s.position = 0
	s.duration = 0
	s.seekTo = nil
	s.browseOpen = false
	s.mediaFailed = false
	s.stopOverlayTimerLocked()
	s.overlayVisible = true
	s.progress.Bind(area.ID, "")
	s.mu.Unlock()

	s.refreshCatalog(ctx, area.ID)
	return nil
}

// TogglePlayPause flips between playing and paused. It reports the new playing state.
func (s *Session) TogglePlayPause() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrSessionClosed
	}
	if s.state != StateLoaded {
		return false, ErrNoItemLoaded
	}
	s.playing = !s.playing
	return s.playing, nil
}

// Interact records a pointer or touch interaction. With an item loaded the overlay is shown
// and its hide timer restarted; on the ambient default the overlay stays pinned.
func (s *Session) Interact() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.overlayVisible = true
	if s.state != StateLoaded {
		s.stopOverlayTimerLocked()
		return
	}

	s.stopOverlayTimerLocked()
	s.overlayGen++
	gen := s.overlayGen
	s.overlayTimer = s.clock.AfterFunc(s.opts.OverlayHide, func() { s.autoHide(gen) })
}

func (s *Session) autoHide(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.overlayGen || s.state != StateLoaded {
		return
	}
	s.overlayTimer = nil
	s.overlayVisible = false
}

func (s *Session) hideOverlayLocked() {
	s.stopOverlayTimerLocked()
	s.overlayVisible = false
}

func (s *Session) stopOverlayTimerLocked() {
	if s.overlayTimer != nil {
		s.overlayTimer.Stop()
		s.overlayTimer = nil
	}
	s.overlayGen++
}

// SetVolume sets the volume in [0, 1]. Zero mutes; a positive value unmutes and becomes the
// value restored by the next unmute.
func (s *Session) SetVolume(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return ErrInvalidVolume
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.volume = v
	if v > 0 {
		s.lastVolume = v
		s.muted = false
	} else {
		s.muted = true
	}
	return nil
}

// ToggleMute flips mute. Unmuting at zero volume restores the last non-zero volume.
func (s *Session) ToggleMute() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrSessionClosed
	}
	if s.muted {
		s.muted = false
		if s.volume <= 0 {
			s.volume = s.lastVolume
		}
	} else {
		s.muted = true
	}
	return s.muted, nil
}

// Scrub seeks the loaded item. For content items the new position is fed to progress.
func (s *Session) Scrub(position float64) error {
	if math.IsNaN(position) || math.IsInf(position, 0) || position < 0 {
		return ErrInvalidPosition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state != StateLoaded {
		return ErrNoItemLoaded
	}
	if s.duration > 0 && position > s.duration {
		position = s.duration
	}
	s.position = position
	seek := position
	s.seekTo = &seek
	if s.active.SourceType == models.SourceContent {
		s.progress.RecordTick(s.active.ContentID, position, s.duration)
	}
	return nil
}

// Tick reports the player's time update. It returns whether progress accepted the sample.
func (s *Session) Tick(position, duration float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateLoaded {
		return false
	}
	if !math.IsNaN(position) && !math.IsInf(position, 0) && position >= 0 {
		s.position = position
	}
	if !math.IsNaN(duration) && !math.IsInf(duration, 0) && duration > 0 {
		s.duration = duration
		s.seekTo = nil
	}
	if s.active.SourceType != models.SourceContent {
		return false
	}
	return s.progress.RecordTick(s.active.ContentID, position, duration)
}

// MediaFailed exposes the active URL as an "open externally" affordance. Persisted state
// and resume position are left alone.
func (s *Session) MediaFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != StateLoaded {
		return
	}
	s.mediaFailed = true
	s.playing = false
	log.Printf("[session] device %s: media failed for %s", s.deviceID, s.active.URL)
}

// MediaReady clears a previous media failure.
func (s *Session) MediaReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mediaFailed = false
}

// VisibilityHidden flushes pending progress immediately.
func (s *Session) VisibilityHidden() {
	s.progress.FlushNow()
}

// Unload flushes progress, cancels the background load and stops every timer. The session
// rejects further changes.
func (s *Session) Unload() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopOverlayTimerLocked()
	s.playing = false
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.progress.Close()
}

// Drain waits for the last remote progress write queued by Unload.
func (s *Session) Drain(ctx context.Context) bool {
	return s.progress.Drain(ctx)
}

// Closed reports whether Unload has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// OpenBrowser shows the content-browsing overlay.
func (s *Session) OpenBrowser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.browseOpen = true
	s.overlayVisible = true
	s.stopOverlayTimerLocked()
}

// CloseBrowser hides the content-browsing overlay.
func (s *Session) CloseBrowser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.browseOpen = false
	if s.state == StateLoaded {
		s.overlayVisible = false
	}
}
