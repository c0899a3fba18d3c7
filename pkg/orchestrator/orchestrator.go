package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-updater-go/pkg/command"
	"github.com/core-tools/hsu-updater-go/pkg/detector"
	"github.com/core-tools/hsu-updater-go/pkg/errors"
	"github.com/core-tools/hsu-updater-go/pkg/logging"
	"github.com/core-tools/hsu-updater-go/pkg/supervisor"
)

// Detector is the change-detection capability the orchestrator consumes
type Detector interface {
	CurrentBranch(ctx context.Context) (string, error)
	LocalRevision(ctx context.Context) (string, error)
	RemoteRevision(ctx context.Context, branch string) string
	CommitInfo(ctx context.Context) detector.CommitInfo
}

// Options configures a single-checkout update orchestrator
type Options struct {
	// WorkingDirectory is the repository checkout being updated
	WorkingDirectory string

	// ProvisionScript is the environment provisioning script, relative to
	// the working directory. Contract: exit code 0 = success, idempotent.
	ProvisionScript string

	// HealthyWait bounds the post-start health verification
	HealthyWait time.Duration
}

const (
	defaultProvisionScript = "scripts/setup_env.sh"
	defaultHealthyWait     = 120 * time.Second
)

// UpdateStatus is a read-only snapshot of the checkout's update position
type UpdateStatus struct {
	WorkingDirectory string    `json:"working_directory"`
	Branch           string    `json:"branch"`
	LocalCommit      string    `json:"local_commit"`
	RemoteCommit     string    `json:"remote_commit"`
	UpdateAvailable  bool      `json:"update_available"`
	Timestamp        time.Time `json:"timestamp"`
}

// UpdateOrchestrator performs one complete, all-or-nothing update of a
// managed unit: stop, source sync, provision, start, verify. Any failure
// restores the previous source state before returning. It is stateless
// between calls; all persistent bookkeeping lives in the manager.
type UpdateOrchestrator struct {
	options    Options
	detector   Detector
	supervisor supervisor.Client
	runner     command.Runner
	logger     logging.Logger
}

func NewUpdateOrchestrator(
	options Options,
	det Detector,
	sup supervisor.Client,
	runner command.Runner,
	logger logging.Logger,
) *UpdateOrchestrator {
	if options.ProvisionScript == "" {
		options.ProvisionScript = defaultProvisionScript
	}
	if options.HealthyWait <= 0 {
		options.HealthyWait = defaultHealthyWait
	}
	return &UpdateOrchestrator{
		options:    options,
		detector:   det,
		supervisor: sup,
		runner:     runner,
		logger:     logger,
	}
}

// PerformSourceSync hard-resets the working tree to targetCommit. An empty
// targetCommit resolves to the latest remote revision of the current branch.
// The commit value must pass ValidateCommitRef before any command runs.
func (o *UpdateOrchestrator) PerformSourceSync(ctx context.Context, targetCommit string) error {
	o.logger.Infof("Starting source sync...")

	if targetCommit == "" {
		currentBranch, err := o.detector.CurrentBranch(ctx)
		if err != nil {
			return errors.NewWorkflowError("could not determine current branch", err)
		}

		targetCommit = o.detector.RemoteRevision(ctx, currentBranch)
		if targetCommit == "" {
			return errors.NewWorkflowError("could not determine target commit", nil)
		}
	}

	if err := ValidateCommitRef(targetCommit); err != nil {
		o.logger.Errorf("Refusing source sync, invalid commit reference: %v", err)
		return err
	}

	if err := o.resetToCommit(ctx, targetCommit); err != nil {
		o.logger.Errorf("Failed to sync source tree: %v", err)
		return errors.NewWorkflowError("source sync failed", err).WithContext("target_commit", targetCommit)
	}

	o.logger.Infof("Successfully updated to commit: %s", shortCommit(targetCommit))
	return nil
}

// RollbackUpdate resets the working tree back to previousCommit. It applies
// the same commit validation contract as PerformSourceSync, is idempotent,
// and is safe to call even if no change was actually applied.
func (o *UpdateOrchestrator) RollbackUpdate(ctx context.Context, previousCommit string) error {
	o.logger.Warnf("Rolling back to previous commit: %s", shortCommit(previousCommit))

	if err := ValidateCommitRef(previousCommit); err != nil {
		o.logger.Errorf("Refusing rollback, invalid commit reference: %v", err)
		return err
	}

	if err := o.resetToCommit(ctx, previousCommit); err != nil {
		// The unit is now in an indeterminate state. This is the one
		// condition that should page a human.
		rollbackErr := errors.NewRollbackError("rollback failed", err).WithContext("previous_commit", previousCommit)
		o.logger.Errorf("ROLLBACK FAILED, unit left in indeterminate state: %v", rollbackErr)
		return rollbackErr
	}

	o.logger.Infof("Rollback completed successfully")
	return nil
}

// resetToCommit is the one place a commit value reaches the version-control
// tool. The commit is always a discrete argument, never part of a shell line.
func (o *UpdateOrchestrator) resetToCommit(ctx context.Context, commit string) error {
	_, err := o.runner.Run(ctx, o.options.WorkingDirectory, "git", "reset", "--hard", commit)
	return err
}

// RunProvisioning executes the environment provisioning script inside the
// working directory.
func (o *UpdateOrchestrator) RunProvisioning(ctx context.Context) error {
	o.logger.Infof("Running provisioning script...")

	scriptPath := filepath.Join(o.options.WorkingDirectory, o.options.ProvisionScript)
	if _, err := os.Stat(scriptPath); err != nil {
		return errors.NewWorkflowError("provisioning script not found", err).WithContext("script", scriptPath)
	}

	if _, err := o.runner.Run(ctx, o.options.WorkingDirectory, "bash", scriptPath); err != nil {
		o.logger.Errorf("Provisioning script failed: %v", err)
		return errors.NewWorkflowError("provisioning failed", err).WithContext("script", scriptPath)
	}

	o.logger.Infof("Provisioning completed successfully")
	return nil
}

// UpdateUnit performs the full update workflow for one managed unit:
//
//  1. capture the current commit for rollback
//  2. confirm the process is known to the supervisor
//  3. stop the process
//  4. sync the source tree to the latest remote revision
//  5. run provisioning (failure: rollback source, process stays stopped)
//  6. start the process (failure: rollback source, best-effort restart)
//  7. verify health (failure: stop, rollback source, best-effort restart)
//
// Any panic is caught at this boundary, triggers a best-effort rollback and
// restart, and is reported as an ordinary error.
func (o *UpdateOrchestrator) UpdateUnit(ctx context.Context, processName string) (err error) {
	o.logger.Infof("Starting update for process: %s", processName)

	previousCommit, revErr := o.detector.LocalRevision(ctx)
	if revErr != nil {
		return errors.NewWorkflowError("could not get current commit for rollback", revErr)
	}

	if o.supervisor.ProcessInfo(ctx, processName) == nil {
		return errors.NewSupervisorError(
			fmt.Sprintf("process %s not known to supervisor", processName), nil,
		).WithContext("process_name", processName)
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorf("Unexpected panic during update: %v", r)
			o.logger.Infof("Attempting rollback...")
			if rollbackErr := o.RollbackUpdate(ctx, previousCommit); rollbackErr != nil {
				o.logger.Errorf("Rollback after panic failed: %v", rollbackErr)
			}
			o.supervisor.Start(ctx, processName)
			err = errors.NewInternalError(fmt.Sprintf("unexpected panic during update: %v", r), nil)
		}
	}()

	// Step 1: stop the process. No source changes made yet, so a failure
	// here aborts without rollback.
	o.logger.Infof("Stopping %s...", processName)
	if !o.supervisor.Stop(ctx, processName) {
		return errors.NewWorkflowError(fmt.Sprintf("failed to stop %s", processName), nil)
	}

	// Step 2: sync the source tree
	if syncErr := o.PerformSourceSync(ctx, ""); syncErr != nil {
		return syncErr
	}

	// Step 3: provision. The process is deliberately left stopped on
	// failure: provisioning failed, so there is no guarantee any code is
	// runnable.
	if provErr := o.RunProvisioning(ctx); provErr != nil {
		o.logger.Errorf("Provisioning failed, rolling back...")
		if rollbackErr := o.RollbackUpdate(ctx, previousCommit); rollbackErr != nil {
			o.logger.Errorf("Rollback failed: %v", rollbackErr)
		}
		return provErr
	}

	// Step 4: start the process
	o.logger.Infof("Starting %s...", processName)
	if !o.supervisor.Start(ctx, processName) {
		o.logger.Errorf("Failed to start %s, rolling back...", processName)
		if rollbackErr := o.RollbackUpdate(ctx, previousCommit); rollbackErr != nil {
			o.logger.Errorf("Rollback failed: %v", rollbackErr)
		}
		o.supervisor.Start(ctx, processName)
		return errors.NewWorkflowError(fmt.Sprintf("failed to start %s", processName), nil)
	}

	// Step 5: verify health
	if !o.supervisor.WaitForHealthy(ctx, processName, o.options.HealthyWait) {
		o.logger.Errorf("%s failed to start healthy, rolling back...", processName)
		o.supervisor.Stop(ctx, processName)
		if rollbackErr := o.RollbackUpdate(ctx, previousCommit); rollbackErr != nil {
			o.logger.Errorf("Rollback failed: %v", rollbackErr)
		}
		o.supervisor.Start(ctx, processName)
		return errors.NewWorkflowError(fmt.Sprintf("%s failed health verification after update", processName), nil)
	}

	o.logger.Infof("Successfully updated %s", processName)
	return nil
}

// GetUpdateStatus returns a read-only snapshot composed from the detector
func (o *UpdateOrchestrator) GetUpdateStatus(ctx context.Context) UpdateStatus {
	commitInfo := o.detector.CommitInfo(ctx)

	updateAvailable := commitInfo.LocalCommit != "" &&
		commitInfo.RemoteCommit != "" &&
		commitInfo.LocalCommit != commitInfo.RemoteCommit

	return UpdateStatus{
		WorkingDirectory: o.options.WorkingDirectory,
		Branch:           commitInfo.Branch,
		LocalCommit:      commitInfo.LocalCommit,
		RemoteCommit:     commitInfo.RemoteCommit,
		UpdateAvailable:  updateAvailable,
		Timestamp:        time.Now(),
	}
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
