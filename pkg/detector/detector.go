package detector

import (
	"context"

	"github.com/core-tools/hsu-updater-go/pkg/command"
	"github.com/core-tools/hsu-updater-go/pkg/errors"
	"github.com/core-tools/hsu-updater-go/pkg/logging"
)

// CommitInfo is a read-only diagnostic snapshot of the checkout
type CommitInfo struct {
	Branch           string `yaml:"branch" json:"branch"`
	LocalCommit      string `yaml:"local_commit" json:"local_commit"`
	RemoteCommit     string `yaml:"remote_commit" json:"remote_commit"`
	WorkingDirectory string `yaml:"working_directory" json:"working_directory"`
}

// UpdateDetector answers whether the tracked branch has new commits upstream
// of the local checkout. It only refreshes remote-tracking references; the
// working tree contents are never touched.
type UpdateDetector struct {
	workDir string
	runner  command.Runner
	logger  logging.Logger
}

func NewUpdateDetector(workDir string, runner command.Runner, logger logging.Logger) *UpdateDetector {
	return &UpdateDetector{
		workDir: workDir,
		runner:  runner,
		logger:  logger,
	}
}

// WorkingDirectory returns the checkout the detector operates on
func (d *UpdateDetector) WorkingDirectory() string {
	return d.workDir
}

func (d *UpdateDetector) runGit(ctx context.Context, args ...string) (string, error) {
	output, err := d.runner.Run(ctx, d.workDir, "git", args...)
	if err != nil {
		d.logger.Errorf("Git command failed, args: %v, error: %v", args, err)
		return "", errors.NewDetectionError("git command failed", err).WithContext("args", args)
	}
	return output, nil
}

// CurrentBranch resolves the active branch name
func (d *UpdateDetector) CurrentBranch(ctx context.Context) (string, error) {
	return d.runGit(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// LocalRevision returns the commit the working tree is currently on
func (d *UpdateDetector) LocalRevision(ctx context.Context) (string, error) {
	return d.runGit(ctx, "rev-parse", "HEAD")
}

// FetchRemote refreshes remote-tracking references. A failure is non-fatal:
// the caller observes false and may still operate on stale data.
func (d *UpdateDetector) FetchRemote(ctx context.Context) bool {
	_, err := d.runGit(ctx, "fetch")
	if err == nil {
		d.logger.Infof("Successfully fetched remote changes")
	}
	return err == nil
}

// RemoteRevision returns the revision of the remote-tracking branch, or ""
// if it cannot be determined. An empty branch resolves to the current one.
func (d *UpdateDetector) RemoteRevision(ctx context.Context, branch string) string {
	if branch == "" {
		currentBranch, err := d.CurrentBranch(ctx)
		if err != nil {
			return ""
		}
		branch = currentBranch
	}

	output, err := d.runGit(ctx, "rev-parse", "origin/"+branch)
	if err != nil {
		return ""
	}
	return output
}

// IsUpdateNeeded fetches and compares local vs remote revisions. It fails
// closed: whenever either revision is unobtainable it reports no update,
// preferring missed updates over spurious ones.
func (d *UpdateDetector) IsUpdateNeeded(ctx context.Context) bool {
	d.logger.Infof("Checking for updates...")

	if !d.FetchRemote(ctx) {
		d.logger.Errorf("Failed to fetch remote changes")
		return false
	}

	localCommit, err := d.LocalRevision(ctx)
	if err != nil {
		d.logger.Errorf("Failed to get local commit: %v", err)
		return false
	}

	remoteCommit := d.RemoteRevision(ctx, "")
	if remoteCommit == "" {
		d.logger.Errorf("Failed to get remote commit")
		return false
	}

	if localCommit == remoteCommit {
		d.logger.Infof("Repository is up to date")
		return false
	}

	d.logger.Infof("Update available: %s -> %s", shortCommit(localCommit), shortCommit(remoteCommit))
	return true
}

// CommitInfo returns a diagnostic snapshot of branch and revisions. Fields
// that cannot be resolved are left empty.
func (d *UpdateDetector) CommitInfo(ctx context.Context) CommitInfo {
	branch, _ := d.CurrentBranch(ctx)
	localCommit, _ := d.LocalRevision(ctx)
	remoteCommit := d.RemoteRevision(ctx, branch)

	return CommitInfo{
		Branch:           branch,
		LocalCommit:      localCommit,
		RemoteCommit:     remoteCommit,
		WorkingDirectory: d.workDir,
	}
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
