// Package session hosts the playback state machine of one device: the active item, the
// overlay with its auto-hide timer, volume and transport state, and the restore/mount flow
// that brings a reloaded device back to where it was before any fetch completes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"mediaconsole/internal/clock"
	"mediaconsole/internal/localstore"
	"mediaconsole/models"
	"mediaconsole/services/catalog"
	"mediaconsole/services/history"
	"mediaconsole/services/progress"
)

// State is the top-level player state.
type State string

const (
	StateAmbient State = "ambient"
	StateLoaded  State = "loaded"
)

const (
	DefaultOverlayHide = 1600 * time.Millisecond
	DefaultVolume      = 1.0
)

var (
	ErrNoItemLoaded     = errors.New("no item loaded")
	ErrUnknownArea      = errors.New("unknown area")
	ErrSessionClosed    = errors.New("session closed")
	ErrInvalidVolume    = errors.New("volume must be between 0 and 1")
	ErrInvalidPosition  = errors.New("invalid position")
	ErrURLRequired      = errors.New("video url is required")
	ErrDeviceIDRequired = errors.New("device id is required")
)

// Catalog is the subset of the catalog service a session reads.
type Catalog interface {
	LoadArea(ctx context.Context, areaID string) (catalog.View, error)
	LoadGlobal(ctx context.Context) ([]models.ContentItem, error)
	Find(ctx context.Context, contentID string) (models.ContentItem, error)
}

// Areas resolves area definitions.
type Areas interface {
	Area(id string) (models.AreaDefinition, bool)
	Default() (models.AreaDefinition, bool)
}

// ViewerStates reads and merges the authoritative per-viewer record.
type ViewerStates interface {
	Get(ctx context.Context, viewerID string) (*models.RemoteViewerState, error)
	progress.RemoteStore
}

// Options tunes timers and history windows.
type Options struct {
	ProgressInterval time.Duration
	OverlayHide      time.Duration
	RemoteTimeout    time.Duration
	HistoryCap       int
	HistoryDisplay   int
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Catalog Catalog
	Areas   Areas
	States  ViewerStates // nil disables remote persistence
	Clock   clock.Clock
	Options Options
}

// CatalogStatus summarises the area catalog a session last loaded.
type CatalogStatus struct {
	AreaID string   `json:"areaId"`
	Count  int      `json:"count"`
	Cities []string `json:"cities"`
	Stale  bool     `json:"stale,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID             string                     `json:"id"`
	DeviceID       string                     `json:"deviceId"`
	ViewerID       string                     `json:"viewerId,omitempty"`
	State          State                      `json:"state"`
	Active         models.ActiveVideoState    `json:"active"`
	Playing        bool                       `json:"playing"`
	Muted          bool                       `json:"muted"`
	Volume         float64                    `json:"volume"`
	Position       float64                    `json:"position"`
	Duration       float64                    `json:"duration"`
	SeekTo         *float64                   `json:"seekTo,omitempty"`
	OverlayVisible bool                       `json:"overlayVisible"`
	BrowseOpen     bool                       `json:"browseOpen"`
	ExternalURL    string                     `json:"externalUrl,omitempty"`
	Restored       bool                       `json:"restored"`
	AutoSelection  string                     `json:"autoSelection,omitempty"`
	Catalog        *CatalogStatus             `json:"catalog,omitempty"`
	Recent         []models.WatchHistoryEntry `json:"recent"`
}

// Session is one mounted console engine for one device. All methods are safe for
// concurrent use; state changes are serialised by the session mutex.
type Session struct {
	mu sync.Mutex

	id       string
	deviceID string
	viewer   models.Viewer

	store    *localstore.Store
	catalog  Catalog
	areas    Areas
	states   ViewerStates
	clock    clock.Clock
	opts     Options
	progress *progress.Manager
	history  *history.Recorder

	area       models.AreaDefinition
	active     models.ActiveVideoState
	state      State
	playing    bool
	muted      bool
	volume     float64
	lastVolume float64
	position   float64
	duration   float64
	seekTo     *float64

	overlayVisible bool
	overlayTimer   clock.Timer
	overlayGen     uint64

	browseOpen    bool
	mediaFailed   bool
	restored      bool
	selectorRan   bool
	autoSelection string
	catalogStatus *CatalogStatus
	closed        bool
	lastActive    time.Time

	// Scope of the background load; cancelled by Unload.
	ctx    context.Context
	cancel context.CancelFunc
	loaded chan struct{}
}

// New builds a session for deviceID on its own local store namespace. The session starts on
// the ambient default of areaID, or of the default area when areaID is empty or unknown.
func New(id, deviceID string, viewer models.Viewer, store *localstore.Store, deps Deps, areaID string) (*Session, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	opts := deps.Options
	if opts.OverlayHide <= 0 {
		opts.OverlayHide = DefaultOverlayHide
	}
	if opts.HistoryDisplay <= 0 {
		opts.HistoryDisplay = history.DefaultDisplay
	}

	area, ok := deps.Areas.Area(strings.TrimSpace(areaID))
	if !ok {
		area, ok = deps.Areas.Default()
		if !ok {
			return nil, fmt.Errorf("%w: no areas configured", ErrUnknownArea)
		}
	}

	rec, err := history.NewRecorder(store, opts.HistoryCap, deps.Clock)
	if err != nil {
		return nil, fmt.Errorf("create history recorder: %w", err)
	}

	var remote progress.RemoteStore
	if deps.States != nil {
		remote = deps.States
	}
	mgr, err := progress.NewManager(progress.Options{
		Store:         store,
		Remote:        remote,
		Viewer:        viewer,
		Clock:         deps.Clock,
		Interval:      opts.ProgressInterval,
		RemoteTimeout: opts.RemoteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create progress manager: %w", err)
	}

	s := &Session{
		id:             id,
		deviceID:       deviceID,
		viewer:         viewer,
		store:          store,
		catalog:        deps.Catalog,
		areas:          deps.Areas,
		states:         deps.States,
		clock:          deps.Clock,
		opts:           opts,
		progress:       mgr,
		history:        rec,
		area:           area,
		active:         models.AmbientState(area),
		state:          StateAmbient,
		volume:         DefaultVolume,
		lastVolume:     DefaultVolume,
		overlayVisible: true,
		lastActive:     deps.Clock.Now(),
		loaded:         make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	mgr.Bind(area.ID, "")
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) DeviceID() string { return s.deviceID }

func (s *Session) Viewer() models.Viewer { return s.viewer }

// Touch marks the session as in use by its device.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.clock.Now()
}

// LastActive returns when the device last touched the session.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Loaded is closed once the background catalog and remote-state load has finished.
func (s *Session) Loaded() <-chan struct{} { return s.loaded }

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// History returns up to limit recently opened items, newest first. A limit <= 0 uses the
// display window.
func (s *Session) History(limit int) []models.WatchHistoryEntry {
	if limit <= 0 {
		limit = s.opts.HistoryDisplay
	}
	return s.history.Recent(limit)
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:             s.id,
		DeviceID:       s.deviceID,
		ViewerID:       s.viewer.ID,
		State:          s.state,
		Active:         s.active,
		Playing:        s.playing,
		Muted:          s.muted,
		Volume:         s.volume,
		Position:       s.position,
		Duration:       s.duration,
		OverlayVisible: s.overlayVisible,
		BrowseOpen:     s.browseOpen,
		Restored:       s.restored,
		AutoSelection:  s.autoSelection,
		Recent:         s.history.Recent(s.opts.HistoryDisplay),
	}
	if s.seekTo != nil {
		seek := *s.seekTo
		snap.SeekTo = &seek
	}
	if s.mediaFailed {
		snap.ExternalURL = s.active.URL
	}
	if s.catalogStatus != nil {
		status := *s.catalogStatus
		snap.Catalog = &status
	}
	return snap
}

// persistActiveLocked writes the active video snapshot. Failures only cost the restore.
func (s *Session) persistActiveLocked() {
	if err := s.store.Save(localstore.KeyActiveVideo, s.active); err != nil {
		log.Printf("[session] device %s: failed to persist active video: %v", s.deviceID, err)
	}
}
