package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaconsole/internal/clock"
	"mediaconsole/internal/localstore"
	"mediaconsole/models"
	"mediaconsole/services/progress"
)

var ErrSessionNotFound = errors.New("session not found")

// Registry tracks mounted sessions. A device has at most one live session; creating a new
// one unloads the previous session first so its final progress is flushed.
type Registry struct {
	mu       sync.RWMutex
	root     *localstore.Store
	deps     Deps
	clock    clock.Clock
	sessions map[string]*Session
	byDevice map[string]string

	// Serialises Create per device.
	deviceMu    sync.Mutex
	deviceLocks map[string]*sync.Mutex
}

// NewRegistry creates a registry whose sessions keep their local caches under root.
func NewRegistry(root *localstore.Store, deps Deps) *Registry {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Registry{
		root:        root,
		deps:        deps,
		clock:       deps.Clock,
		sessions:    make(map[string]*Session),
		byDevice:    make(map[string]string),
		deviceLocks: make(map[string]*sync.Mutex),
	}
}

func (r *Registry) lockDevice(deviceID string) func() {
	r.deviceMu.Lock()
	l, ok := r.deviceLocks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		r.deviceLocks[deviceID] = l
	}
	r.deviceMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Create mounts a new session for deviceID. It returns once the local snapshot is restored;
// the catalog and remote viewer state load in the background (see Session.Loaded).
func (r *Registry) Create(ctx context.Context, deviceID, areaID string, viewer models.Viewer) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	store, err := r.root.Namespace(deviceID)
	if err != nil {
		if errors.Is(err, localstore.ErrInvalidName) {
			return nil, fmt.Errorf("%w: %v", ErrDeviceIDRequired, err)
		}
		return nil, err
	}

	unlock := r.lockDevice(deviceID)
	defer unlock()

	r.mu.Lock()
	previousID, hadPrevious := r.byDevice[deviceID]
	var previous *Session
	if hadPrevious {
		previous = r.sessions[previousID]
		delete(r.sessions, previousID)
		delete(r.byDevice, deviceID)
	}
	r.mu.Unlock()

	if previous != nil {
		previous.Unload()
		log.Printf("[session] device %s: replaced session %s", deviceID, previousID)
	}

	sess, err := New(uuid.NewString(), deviceID, viewer, store, r.deps, areaID)
	if err != nil {
		return nil, err
	}
	sess.Restore()

	r.mu.Lock()
	r.sessions[sess.ID()] = sess
	r.byDevice[deviceID] = sess.ID()
	r.mu.Unlock()

	sess.Start()

	log.Printf("[session] mounted %s for device %s (viewer=%q)", sess.ID(), deviceID, viewer.ID)
	return sess, nil
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Unload flushes and removes a session.
func (r *Registry) Unload(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		if r.byDevice[sess.DeviceID()] == id {
			delete(r.byDevice, sess.DeviceID())
		}
	}
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	sess.Unload()
	return nil
}

// ReapIdle unloads every session whose device has not touched it for maxIdle. It returns
// how many sessions were unloaded.
func (r *Registry) ReapIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	now := r.clock.Now()

	r.mu.Lock()
	var idle []*Session
	for id, sess := range r.sessions {
		if now.Sub(sess.LastActive()) < maxIdle {
			continue
		}
		idle = append(idle, sess)
		delete(r.sessions, id)
		if r.byDevice[sess.DeviceID()] == id {
			delete(r.byDevice, sess.DeviceID())
		}
	}
	r.mu.Unlock()

	for _, sess := range idle {
		sess.Unload()
		log.Printf("[session] reaped idle session %s for device %s", sess.ID(), sess.DeviceID())
	}
	return len(idle)
}

// CloseAll unloads every session and waits, within the remote write timeout, for their last
// progress to reach the viewer-state backend. Called on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.byDevice = make(map[string]string)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Unload()
	}

	timeout := r.deps.Options.RemoteTimeout
	if timeout <= 0 {
		timeout = progress.DefaultRemoteTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, sess := range sessions {
		if !sess.Drain(ctx) {
			log.Printf("[session] gave up waiting for remote progress of %s", sess.ID())
		}
	}
	if len(sessions) > 0 {
		log.Printf("[session] unloaded %d session(s)", len(sessions))
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
