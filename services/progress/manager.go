package progress

//go:generate mockgen -source=manager.go -destination=mocks/mock_remote_store.go -package=mocks

import (
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"mediaconsole/internal/clock"
	"mediaconsole/internal/localstore"
	"mediaconsole/models"
)

const (
	DefaultInterval      = 1200 * time.Millisecond
	DefaultRemoteTimeout = 5 * time.Second
)

var ErrStoreRequired = errors.New("local store not provided")

// RemoteStore merges partial updates into the authoritative per-viewer record.
type RemoteStore interface {
	Merge(ctx context.Context, viewerID string, patch models.ViewerStatePatch) (models.RemoteViewerState, error)
}

// Options configures a Manager.
type Options struct {
	Store          *localstore.Store
	Remote         RemoteStore
	Viewer         models.Viewer
	Clock          clock.Clock
	Interval       time.Duration
	RemoteTimeout  time.Duration
	RemoteAttempts uint
}

type flushState int

const (
	stateIdle flushState = iota
	statePendingFlush
)

func (s flushState) String() string {
	if s == statePendingFlush {
		return "pending"
	}
	return "idle"
}

type tick struct {
	contentID string
	position  float64
	duration  float64
}

// Manager debounces playback ticks for one device and writes them to the local cache and,
// for authenticated viewers, to the remote viewer record. At most one timer is armed at a
// time and the last accepted tick is always the one written. Remote merges run on a
// background writer so a slow viewer-state backend never blocks a flush; when merges fall
// behind only the newest patch is sent.
type Manager struct {
	mu      sync.Mutex
	flushMu sync.Mutex

	store          *localstore.Store
	remote         RemoteStore
	viewer         models.Viewer
	clock          clock.Clock
	interval       time.Duration
	remoteTimeout  time.Duration
	remoteAttempts uint

	records map[string]models.ProgressRecord
	seeds   map[string]float64

	state      flushState
	pending    tick
	timer      clock.Timer
	generation uint64

	areaID    string
	sectionID string
	closed    bool

	remoteMu   sync.Mutex
	remoteNext *models.ViewerStatePatch
	remoteWake chan struct{}
	remoteStop chan struct{}
	remoteDone chan struct{}
	stopOnce   sync.Once
}

// NewManager loads existing progress records from the local store.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, ErrStoreRequired
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	if opts.RemoteAttempts == 0 {
		opts.RemoteAttempts = 2
	}

	m := &Manager{
		store:          opts.Store,
		remote:         opts.Remote,
		viewer:         opts.Viewer,
		clock:          opts.Clock,
		interval:       opts.Interval,
		remoteTimeout:  opts.RemoteTimeout,
		remoteAttempts: opts.RemoteAttempts,
		records:        make(map[string]models.ProgressRecord),
		seeds:          make(map[string]float64),
	}

	var stored map[string]models.ProgressRecord
	if m.store.Load(localstore.KeyProgress, &stored) {
		for id, rec := range stored {
			if strings.TrimSpace(id) == "" || !validNumber(rec.PositionSeconds) || !validNumber(rec.DurationSeconds) {
				continue
			}
			m.records[id] = rec
		}
	}

	if m.remote != nil && m.viewer.Authenticated() {
		m.remoteWake = make(chan struct{}, 1)
		m.remoteStop = make(chan struct{})
		m.remoteDone = make(chan struct{})
		go m.remoteLoop()
	}
	return m, nil
}

// Bind sets the area and section written alongside the playhead in remote merges.
func (m *Manager) Bind(areaID, sectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.areaID = areaID
	m.sectionID = sectionID
}

// RecordTick accepts a playback sample. Invalid samples are dropped and reported false.
// The first valid sample arms the flush timer; later samples only replace the pending value.
func (m *Manager) RecordTick(contentID string, position, duration float64) bool {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" || !validNumber(position) || !validNumber(duration) || duration <= 0 || position < 0 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	m.pending = tick{contentID: contentID, position: position, duration: duration}
	if m.state == statePendingFlush {
		return true
	}

	m.state = statePendingFlush
	m.generation++
	gen := m.generation
	m.timer = m.clock.AfterFunc(m.interval, func() { m.fire(gen) })
	return true
}

// FlushNow writes any pending sample immediately and disarms the timer.
func (m *Manager) FlushNow() {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	t, ok := m.takePendingLocked()
	m.mu.Unlock()

	if ok {
		m.write(t)
	}
}

// Close flushes pending progress locally and rejects further ticks. The last remote patch
// is still delivered in the background; use Drain to wait for it.
func (m *Manager) Close() {
	m.FlushNow()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if m.remoteStop != nil {
		m.stopOnce.Do(func() { close(m.remoteStop) })
	}
}

// Drain waits until the remote writer has delivered its last patch after Close. It reports
// false if ctx expires first.
func (m *Manager) Drain(ctx context.Context) bool {
	if m.remoteDone == nil {
		return true
	}
	select {
	case <-m.remoteDone:
		return true
	case <-ctx.Done():
		return false
	}
}

// Pending reports whether a flush is scheduled.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == statePendingFlush
}

// Record returns the last flushed record for contentID.
func (m *Manager) Record(contentID string) (models.ProgressRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[contentID]
	return rec, ok
}

// ResumePosition returns where playback of contentID should start.
func (m *Manager) ResumePosition(contentID string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[contentID]; ok {
		if rec.Resumable() {
			return rec.PositionSeconds, true
		}
		return 0, false
	}
	if seeded, ok := m.seeds[contentID]; ok && seeded > 0 {
		return seeded, true
	}
	return 0, false
}

// Seed offers a resume position learned from the remote record. It is ignored when the
// local cache already has a record for contentID.
func (m *Manager) Seed(contentID string, position float64) bool {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" || !validNumber(position) || position <= 0 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[contentID]; ok {
		return false
	}
	m.seeds[contentID] = position
	return true
}

func (m *Manager) fire(gen uint64) {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	t, ok := m.takePendingLocked()
	m.mu.Unlock()

	if ok {
		m.write(t)
	}
}

func (m *Manager) takePendingLocked() (tick, bool) {
	if m.state != statePendingFlush {
		return tick{}, false
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.generation++
	m.state = stateIdle
	t := m.pending
	m.pending = tick{}
	return t, true
}

// write persists one sample. The caller holds flushMu.
func (m *Manager) write(t tick) {
	now := m.clock.Now()

	m.mu.Lock()
	m.records[t.contentID] = models.ProgressRecord{
		PositionSeconds: t.position,
		DurationSeconds: t.duration,
		UpdatedAt:       now,
	}
	delete(m.seeds, t.contentID)
	snapshot := make(map[string]models.ProgressRecord, len(m.records))
	for id, rec := range m.records {
		snapshot[id] = rec
	}
	areaID, sectionID := m.areaID, m.sectionID
	m.mu.Unlock()

	if err := m.store.Save(localstore.KeyProgress, snapshot); err != nil {
		log.Printf("[progress] local save for %s failed: %v", t.contentID, err)
	}

	if m.remoteWake == nil {
		return
	}

	m.remoteMu.Lock()
	m.remoteNext = &models.ViewerStatePatch{
		LastAreaID:      &areaID,
		LastSectionID:   &sectionID,
		LastContentID:   &t.contentID,
		PlayheadSeconds: &t.position,
	}
	m.remoteMu.Unlock()

	select {
	case m.remoteWake <- struct{}{}:
	default:
	}
}

// remoteLoop sends queued patches until Close, then delivers whatever is still queued.
func (m *Manager) remoteLoop() {
	defer close(m.remoteDone)
	for {
		select {
		case <-m.remoteWake:
			m.sendRemote()
		case <-m.remoteStop:
			m.sendRemote()
			return
		}
	}
}

func (m *Manager) sendRemote() {
	m.remoteMu.Lock()
	patch := m.remoteNext
	m.remoteNext = nil
	m.remoteMu.Unlock()
	if patch == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.remoteTimeout)
	defer cancel()

	err := retry.Do(
		func() error {
			_, err := m.remote.Merge(ctx, m.viewer.ID, *patch)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(m.remoteAttempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Printf("[progress] remote merge for viewer %s failed: %v", m.viewer.ID, err)
	}
}

func validNumber(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
