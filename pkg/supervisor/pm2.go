package supervisor

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/core-tools/hsu-updater-go/pkg/command"
	"github.com/core-tools/hsu-updater-go/pkg/logging"
)

const (
	defaultPollInterval  = 2 * time.Second
	defaultStabilityWait = 5 * time.Second
	defaultWaitBudget    = 60 * time.Second
)

// pm2Process mirrors the relevant parts of a `pm2 jlist` entry
type pm2Process struct {
	Name   string `json:"name"`
	PID    int    `json:"pid"`
	PM2Env struct {
		Status      string `json:"status"`
		PMUptime    int64  `json:"pm_uptime"`
		RestartTime int    `json:"restart_time"`
	} `json:"pm2_env"`
	Monit struct {
		CPU    float64 `json:"cpu"`
		Memory int64   `json:"memory"`
	} `json:"monit"`
}

// PM2Client is a Client backed by the pm2 command line tool
type PM2Client struct {
	runner command.Runner
	logger logging.Logger

	// Polling cadence for WaitForHealthy, overridable in tests
	pollInterval  time.Duration
	stabilityWait time.Duration
}

var _ Client = (*PM2Client)(nil)

func NewPM2Client(runner command.Runner, logger logging.Logger) *PM2Client {
	return &PM2Client{
		runner:        runner,
		logger:        logger,
		pollInterval:  defaultPollInterval,
		stabilityWait: defaultStabilityWait,
	}
}

func (c *PM2Client) runPM2(ctx context.Context, args ...string) (string, bool) {
	output, err := c.runner.Run(ctx, "", "pm2", args...)
	if err != nil {
		c.logger.Errorf("PM2 command failed, args: %v, error: %v", args, err)
		return "", false
	}
	return output, true
}

func (c *PM2Client) listProcesses(ctx context.Context) ([]pm2Process, bool) {
	output, ok := c.runPM2(ctx, "jlist")
	if !ok {
		return nil, false
	}

	var processes []pm2Process
	if err := json.Unmarshal([]byte(output), &processes); err != nil {
		c.logger.Errorf("Failed to parse PM2 process list: %v", err)
		return nil, false
	}
	return processes, true
}

func toProcessStatus(p pm2Process) ProcessStatus {
	status := Status(p.PM2Env.Status)
	switch status {
	case StatusOnline, StatusStopped, StatusErrored:
	default:
		status = StatusUnknown
	}
	return ProcessStatus{
		Name:     p.Name,
		PID:      p.PID,
		Status:   status,
		Uptime:   p.PM2Env.PMUptime,
		Restarts: p.PM2Env.RestartTime,
		CPU:      p.Monit.CPU,
		Memory:   p.Monit.Memory,
	}
}

func (c *PM2Client) ProcessInfo(ctx context.Context, name string) *ProcessStatus {
	processes, ok := c.listProcesses(ctx)
	if !ok {
		return nil
	}

	for _, p := range processes {
		if p.Name == name {
			status := toProcessStatus(p)
			return &status
		}
	}
	return nil
}

func (c *PM2Client) IsRunning(ctx context.Context, name string) bool {
	info := c.ProcessInfo(ctx, name)
	return info != nil && info.Status == StatusOnline
}

func (c *PM2Client) lifecycleCommand(ctx context.Context, action string, name string) bool {
	c.logger.Infof("Issuing PM2 %s, process: %s", action, name)
	_, ok := c.runPM2(ctx, action, name)
	if ok {
		c.logger.Infof("Successfully issued %s for %s", action, name)
	} else {
		c.logger.Errorf("Failed to %s %s", action, name)
	}
	return ok
}

func (c *PM2Client) Start(ctx context.Context, name string) bool {
	return c.lifecycleCommand(ctx, "start", name)
}

func (c *PM2Client) Stop(ctx context.Context, name string) bool {
	return c.lifecycleCommand(ctx, "stop", name)
}

func (c *PM2Client) Restart(ctx context.Context, name string) bool {
	return c.lifecycleCommand(ctx, "restart", name)
}

func (c *PM2Client) WaitForHealthy(ctx context.Context, name string, maxWait time.Duration) bool {
	if maxWait <= 0 {
		maxWait = defaultWaitBudget
	}
	c.logger.Infof("Waiting for %s to become healthy...", name)

	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		info := c.ProcessInfo(ctx, name)
		if info != nil && info.Status == StatusOnline {
			// Only trust an online observation that survives the grace period
			if !sleepContext(ctx, c.stabilityWait) {
				return false
			}

			info = c.ProcessInfo(ctx, name)
			if info != nil && info.Status == StatusOnline {
				c.logger.Infof("%s is healthy and running", name)
				return true
			}
		}

		if !sleepContext(ctx, c.pollInterval) {
			return false
		}
	}

	c.logger.Errorf("%s failed to become healthy within %s", name, maxWait)
	return false
}

func (c *PM2Client) AllProcesses(ctx context.Context) []ProcessStatus {
	processes, ok := c.listProcesses(ctx)
	if !ok {
		return nil
	}

	result := make([]ProcessStatus, 0, len(processes))
	for _, p := range processes {
		result = append(result, toProcessStatus(p))
	}
	return result
}

func (c *PM2Client) Logs(ctx context.Context, name string, lines int) (string, bool) {
	return c.runPM2(ctx, "logs", name, "--lines", strconv.Itoa(lines), "--nostream")
}

// sleepContext sleeps for d, returning false if the context is cancelled first
func sleepContext(ctx context.Context, d time.Duration) bool {
	if ctx == nil {
		time.Sleep(d)
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
