package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"mediaconsole/internal/clock"
)

var (
	ErrTaskNameRequired = errors.New("task name is required")
	ErrInvalidInterval  = errors.New("task interval must be positive")
	ErrAlreadyStarted   = errors.New("scheduler already started")
	ErrDuplicateTask    = errors.New("task already registered")
)

// Task is a recurring background job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// TaskStatus reports the last outcome of a task.
type TaskStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	LastRunAt time.Time `json:"lastRunAt,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	Runs      int       `json:"runs"`
}

// Service runs registered tasks on their own intervals. A task that is still running when
// its next tick fires is skipped rather than stacked.
type Service struct {
	clock clock.Clock

	// Runtime state
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	tasks   []Task
	timers  map[string]clock.Timer

	taskMu sync.RWMutex
	status map[string]*TaskStatus
}

// NewService creates a scheduler. A nil clock uses wall time.
func NewService(clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{clock: clk, timers: make(map[string]clock.Timer), status: make(map[string]*TaskStatus)}
}

// Register adds a task. Tasks must be registered before Start.
func (s *Service) Register(task Task) error {
	if task.Name == "" || task.Run == nil {
		return ErrTaskNameRequired
	}
	if task.Interval <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyStarted
	}

	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if _, exists := s.status[task.Name]; exists {
		return ErrDuplicateTask
	}
	s.status[task.Name] = &TaskStatus{Name: task.Name}
	s.tasks = append(s.tasks, task)
	return nil
}

// Start arms every registered task. The first run happens one interval after Start.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, task := range s.tasks {
		s.armLocked(task)
	}

	log.Printf("[scheduler] started with %d tasks", len(s.tasks))
	return nil
}

// Stop cancels pending runs and waits for in-flight tasks until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[scheduler] stopped gracefully")
	case <-ctx.Done():
		log.Println("[scheduler] stopped (timeout)")
	}
	return nil
}

// Status returns a copy of every task's status.
func (s *Service) Status() []TaskStatus {
	s.mu.RLock()
	tasks := append([]Task(nil), s.tasks...)
	s.mu.RUnlock()

	s.taskMu.RLock()
	defer s.taskMu.RUnlock()
	out := make([]TaskStatus, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, *s.status[task.Name])
	}
	return out
}

func (s *Service) armLocked(task Task) {
	s.timers[task.Name] = s.clock.AfterFunc(task.Interval, func() { s.tick(task) })
}

// tick runs task unless it is still busy, then re-arms it.
func (s *Service) tick(task Task) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.armLocked(task)

	s.taskMu.Lock()
	st := s.status[task.Name]
	if st.Running {
		s.taskMu.Unlock()
		s.mu.Unlock()
		log.Printf("[scheduler] %s still running, skipping", task.Name)
		return
	}
	st.Running = true
	s.taskMu.Unlock()
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.execute(ctx, task)
	}()
}

func (s *Service) execute(ctx context.Context, task Task) {
	start := s.clock.Now()
	err := task.Run(ctx)

	s.taskMu.Lock()
	st := s.status[task.Name]
	st.Running = false
	st.LastRunAt = start
	st.Runs++
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
	s.taskMu.Unlock()

	if err != nil {
		log.Printf("[scheduler] %s failed: %v", task.Name, err)
	}
}
