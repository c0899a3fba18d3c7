package supervisor

import (
	"context"
	"time"
)

// Status is the lifecycle state a supervisor reports for a named process
type Status string

const (
	StatusOnline  Status = "online"
	StatusStopped Status = "stopped"
	StatusErrored Status = "errored"
	StatusUnknown Status = "unknown"
)

// ProcessStatus is a supervisor-reported snapshot of one process. It is
// recomputed on every query and never cached.
type ProcessStatus struct {
	Name     string  `json:"name"`
	PID      int     `json:"pid"`
	Status   Status  `json:"status"`
	Uptime   int64   `json:"uptime"`
	Restarts int     `json:"restarts"`
	CPU      float64 `json:"cpu"`
	Memory   int64   `json:"memory"`
}

// Client is a capability interface to an external process supervisor.
//
// Failure semantics: a missing supervisor binary or a failed command is
// reported as a normal false/nil result plus a logged error. Callers must
// check return values; nothing here raises.
type Client interface {
	// ProcessInfo returns the status of the named process, or nil if the
	// supervisor does not know it.
	ProcessInfo(ctx context.Context, name string) *ProcessStatus

	// IsRunning reports whether the named process is currently online.
	IsRunning(ctx context.Context, name string) bool

	// Start, Stop and Restart issue supervisor lifecycle commands. The
	// boolean reflects command exit success, not eventual process health.
	Start(ctx context.Context, name string) bool
	Stop(ctx context.Context, name string) bool
	Restart(ctx context.Context, name string) bool

	// WaitForHealthy polls the process status until it observes a stable
	// online state or maxWait elapses. An online observation is only
	// trusted after it survives a stability grace period, which debounces
	// flapping restarts.
	WaitForHealthy(ctx context.Context, name string, maxWait time.Duration) bool

	// AllProcesses lists every process known to the supervisor.
	AllProcesses(ctx context.Context) []ProcessStatus

	// Logs returns up to lines of recent log output for the named process.
	// The boolean is false if the logs could not be retrieved.
	Logs(ctx context.Context, name string, lines int) (string, bool)
}
