package jobqueue

import (
	"log"
	"sync"
	"time"

	metrics "github.com/VisageAI/visage/internal/pkg/metrics/counter"
)

// Manager runs the background maintenance loops: the stuck-generation
// watchdog and the engine counter flush.
type Manager struct {
	watchdog           *Watchdog
	watchdogTicker     *time.Ticker
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global background task manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// SetWatchdog attaches the watchdog before Start.
func (m *Manager) SetWatchdog(w *Watchdog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchdog = w
}

// Start starts the background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Print("[JobQueue Manager] Starting background tasks")

	if m.watchdog != nil {
		m.watchdogTicker = time.NewTicker(m.watchdog.SweepInterval())
		m.wg.Add(1)
		go m.watchdogWorker()
	}

	// Flush engine counters (Redis -> DB) every 5 seconds
	m.counterFlushTicker = time.NewTicker(5 * time.Second)
	m.wg.Add(1)
	go m.counterFlushWorker()
}

// Stop stops the background tasks and waits for them to finish
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	log.Print("[JobQueue Manager] Stopping background tasks")

	close(m.stopCh)
	if m.watchdogTicker != nil {
		m.watchdogTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}
	m.wg.Wait()
}

func (m *Manager) watchdogWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.watchdogTicker.C:
			if swept, err := m.watchdog.Sweep(); err != nil {
				log.Printf("[JobQueue Manager] watchdog sweep failed: %v", err)
			} else if swept > 0 {
				log.Printf("[JobQueue Manager] watchdog failed %d stuck generations", swept)
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.counterFlushTicker.C:
			if err := metrics.FlushAll(); err != nil {
				log.Printf("[JobQueue Manager] counter flush failed: %v", err)
			}
		case <-m.stopCh:
			// Final flush so pending counters survive a shutdown
			if err := metrics.FlushAll(); err != nil {
				log.Printf("[JobQueue Manager] final counter flush failed: %v", err)
			}
			return
		}
	}
}
