package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/studyhub/locsync/pkg/core"
)

// StatusFileName is written in Dependencies.Dir.
const StatusFileName = "status.json"

// DefaultInterval is used when Dependencies.Interval is zero.
const DefaultInterval = 5 * time.Second

// Status is a point-in-time snapshot of the running process.
type Status struct {
	Time          time.Time        `json:"time"`
	Session       core.SessionInfo `json:"session"`
	Subjects      int              `json:"subjects"`
	Peers         int              `json:"peers"`
	Markers       int              `json:"markers"`
	PushConnected bool             `json:"pushConnected"`
	PendingWrites int              `json:"pendingWrites"`
	Goroutines    int              `json:"goroutines"`
	HeapAllocMB   float64          `json:"heapAllocMb"`
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Logger   *slog.Logger
	Dir      string
	Interval time.Duration
	// Snapshot fills the application fields of a Status.
	Snapshot func() Status
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current status with runtime figures filled in.
func (s *Service) GetProgramStatus() Status {
	var st Status
	if s.deps.Snapshot != nil {
		st = s.deps.Snapshot()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st.Time = time.Now().UTC()
	st.Goroutines = runtime.NumGoroutine()
	st.HeapAllocMB = float64(mem.HeapAlloc) / (1 << 20)
	return st
}

// Path returns the status file location.
func (s *Service) Path() string {
	return filepath.Join(s.deps.Dir, StatusFileName)
}

// WriteStatus writes one snapshot to the status file.
func (s *Service) WriteStatus() (Status, error) {
	st := s.GetProgramStatus()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return st, fmt.Errorf("error encoding status: %w", err)
	}

	// atomic replace
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return st, fmt.Errorf("error writing status file: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		return st, fmt.Errorf("error writing status file: %w", err)
	}
	return st, nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(s.deps.Dir, 0755); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("error creating status directory: %w", err)
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "function", "startStatusMonitor")

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				st, err := s.WriteStatus()
				if err != nil {
					logger.Error("Error writing status file", "error", err)
					continue
				}
				logger.Debug("Status",
					"session", st.Session.State,
					"subjects", st.Subjects,
					"peers", st.Peers,
					"pushConnected", st.PushConnected,
					"pendingWrites", st.PendingWrites,
				)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
}
