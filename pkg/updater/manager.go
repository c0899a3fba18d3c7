package updater

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-updater-go/pkg/logging"
	"github.com/core-tools/hsu-updater-go/pkg/orchestrator"
)

// Orchestrator is the per-unit update capability the manager drives
type Orchestrator interface {
	UpdateUnit(ctx context.Context, processName string) error
	GetUpdateStatus(ctx context.Context) orchestrator.UpdateStatus
}

// ChangeDetector answers whether the tracked checkout is behind its remote
type ChangeDetector interface {
	IsUpdateNeeded(ctx context.Context) bool
}

const (
	defaultWakeInterval = 30 * time.Second
	defaultErrorBackoff = 60 * time.Second
	stopJoinTimeout     = 10 * time.Second
)

// UnitStatus is a read-only per-unit summary
type UnitStatus struct {
	Name                  string    `json:"name"`
	Role                  string    `json:"role"`
	SupervisorProcessName string    `json:"supervisor_process_name"`
	Enabled               bool      `json:"enabled"`
	LastUpdate            time.Time `json:"last_update"`
	UpdateCount           int       `json:"update_count"`
	LastError             string    `json:"last_error,omitempty"`
}

// Status is a read-only snapshot of the manager
type Status struct {
	Enabled              bool                      `json:"enabled"`
	Running              bool                      `json:"running"`
	CheckIntervalSeconds int                       `json:"check_interval_seconds"`
	LastCheck            time.Time                 `json:"last_check"`
	ConsecutiveFailures  int                       `json:"consecutive_failures"`
	InCooldown           bool                      `json:"in_cooldown"`
	Units                []UnitStatus              `json:"units"`
	UpdateStatus         orchestrator.UpdateStatus `json:"update_status"`
}

// Manager owns the managed-unit collection and the periodic scheduling loop.
// A single background worker drives scheduled checks; registration, status
// queries and ForceUpdateAll may be called from any goroutine.
type Manager struct {
	orchestrator Orchestrator
	detector     ChangeDetector
	logger       logging.Logger

	// mutex guards config, counters and callback registrations
	mutex               sync.Mutex
	config              Config
	running             bool
	stopCh              chan struct{}
	doneCh              chan struct{}
	lastCheckTime       time.Time
	consecutiveFailures int
	lastFailureTime     time.Time

	// cycleMutex serializes whole update passes, so a scheduled cycle and
	// ForceUpdateAll can never update the same unit concurrently
	cycleMutex sync.Mutex

	// One handler per event, fired synchronously from the updating goroutine
	updateStartedHandler   func(name string)
	updateCompletedHandler func(name string, success bool)
	updateFailedHandler    func(name string, errorText string)

	// Loop cadence, shortened in tests
	wakeInterval time.Duration
	errorBackoff time.Duration
}

func NewManager(config Config, orch Orchestrator, det ChangeDetector, logger logging.Logger) *Manager {
	// Own a copy of the unit collection; callers keep their slice
	units := make([]ManagedUnit, len(config.Units))
	copy(units, config.Units)
	config.Units = units

	return &Manager{
		orchestrator: orch,
		detector:     det,
		logger:       logger,
		config:       config,
		wakeInterval: defaultWakeInterval,
		errorBackoff: defaultErrorBackoff,
	}
}

// OnUpdateStarted registers the handler fired when a unit update begins
func (m *Manager) OnUpdateStarted(handler func(name string)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.updateStartedHandler = handler
}

// OnUpdateCompleted registers the handler fired after every attempt
func (m *Manager) OnUpdateCompleted(handler func(name string, success bool)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.updateCompletedHandler = handler
}

// OnUpdateFailed registers the handler fired when an attempt fails
func (m *Manager) OnUpdateFailed(handler func(name string, errorText string)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.updateFailedHandler = handler
}

// AddManagedUnit registers a unit. A unit with the same name replaces the
// existing entry atomically, keeping its position in the check order.
func (m *Manager) AddManagedUnit(unit ManagedUnit) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i := range m.config.Units {
		if m.config.Units[i].Name == unit.Name {
			m.config.Units[i] = unit
			m.logger.Infof("Replaced managed unit: %s (%s)", unit.Name, unit.Role)
			return
		}
	}

	m.config.Units = append(m.config.Units, unit)
	m.logger.Infof("Added managed unit: %s (%s)", unit.Name, unit.Role)
}

// RemoveManagedUnit de-registers a unit by name
func (m *Manager) RemoveManagedUnit(name string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i := range m.config.Units {
		if m.config.Units[i].Name == name {
			m.config.Units = append(m.config.Units[:i], m.config.Units[i+1:]...)
			m.logger.Infof("Removed managed unit: %s", name)
			return true
		}
	}
	return false
}

// GetManagedUnit returns a copy of the named unit, or nil if unknown
func (m *Manager) GetManagedUnit(name string) *ManagedUnit {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i := range m.config.Units {
		if m.config.Units[i].Name == name {
			unit := m.config.Units[i]
			return &unit
		}
	}
	return nil
}

// Start launches the background check loop. It is rejected if the manager is
// already running, globally disabled, or has no units configured.
func (m *Manager) Start() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.running {
		m.logger.Warnf("Auto-update manager is already running")
		return false
	}
	if !m.config.IsEnabled() {
		m.logger.Infof("Auto-update is disabled")
		return false
	}
	if len(m.config.Units) == 0 {
		m.logger.Warnf("No units configured for auto-update")
		return false
	}

	m.logger.Infof("Starting auto-update manager...")
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.updateLoop(m.stopCh, m.doneCh)

	m.logger.Infof("Auto-update manager started with %d managed units", len(m.config.Units))
	return true
}

// Stop signals the loop to exit and waits up to 10 seconds for it to
// terminate. In-flight external commands are not interrupted; cancellation
// takes effect at the next safe checkpoint.
func (m *Manager) Stop() {
	m.mutex.Lock()
	if !m.running {
		m.mutex.Unlock()
		return
	}
	m.logger.Infof("Stopping auto-update manager...")
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mutex.Unlock()

	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		m.logger.Warnf("Update loop did not terminate within %s", stopJoinTimeout)
	}

	m.logger.Infof("Auto-update manager stopped")
}

// IsRunning reports whether the background loop is active
func (m *Manager) IsRunning() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.running
}

func (m *Manager) updateLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	m.logger.Infof("Auto-update loop started")

	for {
		m.runLoopIteration(stopCh)

		select {
		case <-stopCh:
			m.logger.Infof("Auto-update loop stopped")
			return
		case <-time.After(m.wakeInterval):
		}
	}
}

// runLoopIteration performs one wake of the loop. A panic anywhere in the
// cycle is logged and followed by a longer sleep instead of terminating the
// loop.
func (m *Manager) runLoopIteration(stopCh <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorf("Error in update loop: %v", r)
			select {
			case <-stopCh:
			case <-time.After(m.errorBackoff):
			}
		}
	}()

	m.mutex.Lock()
	due := time.Since(m.lastCheckTime) >= time.Duration(m.config.CheckIntervalSeconds)*time.Second
	m.mutex.Unlock()

	if due {
		m.runCheckCycle(stopCh)
	}
}

// runCheckCycle runs one scheduled pass over all units. The last-check time
// is advanced even when the cycle is skipped by cooldown, so a cooldown skip
// does not turn into a tight re-skip loop.
func (m *Manager) runCheckCycle(stopCh <-chan struct{}) {
	m.cycleMutex.Lock()
	defer m.cycleMutex.Unlock()

	m.logger.Infof("Starting update check cycle")

	defer func() {
		m.mutex.Lock()
		m.lastCheckTime = time.Now()
		m.mutex.Unlock()
	}()

	m.mutex.Lock()
	inCooldown, remaining := m.cooldownStateLocked()
	unitNames := make([]string, 0, len(m.config.Units))
	for _, unit := range m.config.Units {
		unitNames = append(unitNames, unit.Name)
	}
	m.mutex.Unlock()

	if inCooldown {
		m.logger.Warnf("In failure cooldown, skipping update check. %.0fs remaining", remaining.Seconds())
		return
	}

	for _, name := range unitNames {
		select {
		case <-stopCh:
			return
		default:
		}

		m.checkAndUpdateUnit(name)
	}
}

// checkAndUpdateUnit checks one unit and runs the full workflow if an update
// is available
func (m *Manager) checkAndUpdateUnit(name string) {
	unit := m.GetManagedUnit(name)
	if unit == nil || !unit.IsEnabled() {
		return
	}

	m.logger.Infof("Checking unit: %s", name)

	ctx := context.Background()
	if !m.detector.IsUpdateNeeded(ctx) {
		m.logger.Infof("No update needed for %s", name)
		return
	}

	m.updateUnit(ctx, unit)
}

// updateUnit runs the orchestrator workflow for one unit and records the
// outcome
func (m *Manager) updateUnit(ctx context.Context, unit *ManagedUnit) bool {
	m.fireUpdateStarted(unit.Name)

	err := m.orchestrator.UpdateUnit(ctx, unit.SupervisorProcessName)
	if err == nil {
		m.recordUpdateSuccess(unit.Name)
		return true
	}

	m.recordUpdateFailure(unit.Name, err.Error())
	return false
}

// ForceUpdateAll bypasses the schedule and cooldown entirely, running the
// workflow immediately for every enabled unit. Disabled units report false.
func (m *Manager) ForceUpdateAll() map[string]bool {
	m.cycleMutex.Lock()
	defer m.cycleMutex.Unlock()

	m.logger.Infof("Forcing update for all managed units")

	m.mutex.Lock()
	unitNames := make([]string, 0, len(m.config.Units))
	for _, unit := range m.config.Units {
		unitNames = append(unitNames, unit.Name)
	}
	m.mutex.Unlock()

	results := make(map[string]bool)
	for _, name := range unitNames {
		unit := m.GetManagedUnit(name)
		if unit == nil {
			continue
		}
		if !unit.IsEnabled() {
			results[name] = false
			continue
		}

		results[name] = m.updateUnit(context.Background(), unit)
	}

	return results
}

// Status returns a read-only snapshot of the manager and its units
func (m *Manager) Status(ctx context.Context) Status {
	m.mutex.Lock()
	inCooldown, _ := m.cooldownStateLocked()
	status := Status{
		Enabled:              m.config.IsEnabled(),
		Running:              m.running,
		CheckIntervalSeconds: m.config.CheckIntervalSeconds,
		LastCheck:            m.lastCheckTime,
		ConsecutiveFailures:  m.consecutiveFailures,
		InCooldown:           inCooldown,
		Units:                make([]UnitStatus, 0, len(m.config.Units)),
	}
	for _, unit := range m.config.Units {
		status.Units = append(status.Units, UnitStatus{
			Name:                  unit.Name,
			Role:                  unit.Role,
			SupervisorProcessName: unit.SupervisorProcessName,
			Enabled:               unit.IsEnabled(),
			LastUpdate:            unit.LastUpdate,
			UpdateCount:           unit.UpdateCount,
			LastError:             unit.LastError,
		})
	}
	m.mutex.Unlock()

	// Composed outside the lock: the orchestrator shells out to git
	status.UpdateStatus = m.orchestrator.GetUpdateStatus(ctx)

	return status
}

// cooldownStateLocked reports whether scheduled checks are currently
// suppressed and how long the suppression lasts. Caller holds the mutex.
func (m *Manager) cooldownStateLocked() (bool, time.Duration) {
	if m.consecutiveFailures < m.config.MaxConsecutiveFailures {
		return false, 0
	}
	cooldown := time.Duration(m.config.FailureCooldownSeconds) * time.Second
	elapsed := time.Since(m.lastFailureTime)
	if elapsed >= cooldown {
		return false, 0
	}
	return true, cooldown - elapsed
}

func (m *Manager) recordUpdateSuccess(name string) {
	m.mutex.Lock()
	var updateCount int
	for i := range m.config.Units {
		if m.config.Units[i].Name == name {
			m.config.Units[i].LastUpdate = time.Now()
			m.config.Units[i].UpdateCount++
			m.config.Units[i].LastError = ""
			updateCount = m.config.Units[i].UpdateCount
			break
		}
	}
	m.consecutiveFailures = 0
	completedHandler := m.updateCompletedHandler
	m.mutex.Unlock()

	m.logger.Infof("Update successful for %s (total updates: %d)", name, updateCount)

	if completedHandler != nil {
		completedHandler(name, true)
	}
}

func (m *Manager) recordUpdateFailure(name string, errorText string) {
	m.mutex.Lock()
	for i := range m.config.Units {
		if m.config.Units[i].Name == name {
			m.config.Units[i].LastError = errorText
			break
		}
	}
	m.consecutiveFailures++
	m.lastFailureTime = time.Now()
	consecutiveFailures := m.consecutiveFailures
	maxFailures := m.config.MaxConsecutiveFailures
	failedHandler := m.updateFailedHandler
	completedHandler := m.updateCompletedHandler
	m.mutex.Unlock()

	m.logger.Errorf("Update failed for %s: %s", name, errorText)
	m.logger.Errorf("Consecutive failures: %d/%d", consecutiveFailures, maxFailures)

	if failedHandler != nil {
		failedHandler(name, errorText)
	}
	if completedHandler != nil {
		completedHandler(name, false)
	}
}

func (m *Manager) fireUpdateStarted(name string) {
	m.mutex.Lock()
	startedHandler := m.updateStartedHandler
	m.mutex.Unlock()

	if startedHandler != nil {
		startedHandler(name)
	}
}
