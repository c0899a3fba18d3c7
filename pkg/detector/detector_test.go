package detector

import (
	"context"
	"strings"
	"testing"

	"github.com/core-tools/hsu-updater-go/pkg/errors"
	"github.com/core-tools/hsu-updater-go/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	localCommit  = "1111111111111111111111111111111111111111"
	remoteCommit = "2222222222222222222222222222222222222222"
)

func testLogger() logging.Logger {
	return logging.NewLogger("", logging.LogFuncs{})
}

// fakeRunner maps a joined command line to a canned response. Commands with
// no mapping fail, so tests only declare what git is expected to answer.
type fakeRunner struct {
	responses map[string]string
	calls     []string
	dirs      []string
}

func (r *fakeRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	call := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, call)
	r.dirs = append(r.dirs, dir)

	response, ok := r.responses[call]
	if !ok {
		return "", errors.NewIOError("command failed: unexpected command", nil)
	}
	return response, nil
}

func healthyRepoRunner() *fakeRunner {
	return &fakeRunner{responses: map[string]string{
		"git fetch":                       "",
		"git rev-parse --abbrev-ref HEAD": "main",
		"git rev-parse HEAD":              localCommit,
		"git rev-parse origin/main":       remoteCommit,
		"git rev-parse origin/feature/x":  remoteCommit,
	}}
}

func TestCurrentBranch(t *testing.T) {
	runner := healthyRepoRunner()
	d := NewUpdateDetector("/srv/checkout", runner, testLogger())

	branch, err := d.CurrentBranch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "main", branch)
	assert.Equal(t, []string{"/srv/checkout"}, runner.dirs, "git must run inside the checkout")
}

func TestLocalRevision_Failure(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{}}
	d := NewUpdateDetector("/srv/checkout", runner, testLogger())

	_, err := d.LocalRevision(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsDetectionError(err))
}

func TestFetchRemote(t *testing.T) {
	d := NewUpdateDetector("/srv/checkout", healthyRepoRunner(), testLogger())
	assert.True(t, d.FetchRemote(context.Background()))

	d = NewUpdateDetector("/srv/checkout", &fakeRunner{}, testLogger())
	assert.False(t, d.FetchRemote(context.Background()))
}

func TestRemoteRevision_ResolvesCurrentBranch(t *testing.T) {
	runner := healthyRepoRunner()
	d := NewUpdateDetector("/srv/checkout", runner, testLogger())

	assert.Equal(t, remoteCommit, d.RemoteRevision(context.Background(), ""))
	assert.Contains(t, runner.calls, "git rev-parse --abbrev-ref HEAD")
	assert.Contains(t, runner.calls, "git rev-parse origin/main")
}

func TestRemoteRevision_ExplicitBranch(t *testing.T) {
	runner := healthyRepoRunner()
	d := NewUpdateDetector("/srv/checkout", runner, testLogger())

	assert.Equal(t, remoteCommit, d.RemoteRevision(context.Background(), "feature/x"))
	assert.NotContains(t, runner.calls, "git rev-parse --abbrev-ref HEAD")
}

func TestRemoteRevision_UnknownBranch(t *testing.T) {
	d := NewUpdateDetector("/srv/checkout", healthyRepoRunner(), testLogger())
	assert.Equal(t, "", d.RemoteRevision(context.Background(), "does-not-exist"))
}

func TestIsUpdateNeeded_Behind(t *testing.T) {
	d := NewUpdateDetector("/srv/checkout", healthyRepoRunner(), testLogger())
	assert.True(t, d.IsUpdateNeeded(context.Background()))
}

func TestIsUpdateNeeded_UpToDate(t *testing.T) {
	runner := healthyRepoRunner()
	runner.responses["git rev-parse origin/main"] = localCommit
	d := NewUpdateDetector("/srv/checkout", runner, testLogger())

	assert.False(t, d.IsUpdateNeeded(context.Background()))
}

func TestIsUpdateNeeded_FailsClosedOnFetchFailure(t *testing.T) {
	runner := healthyRepoRunner()
	delete(runner.responses, "git fetch")
	d := NewUpdateDetector("/srv/checkout", runner, testLogger())

	assert.False(t, d.IsUpdateNeeded(context.Background()))
	assert.Equal(t, []string{"git fetch"}, runner.calls, "no revision lookups after a failed fetch")
}

func TestIsUpdateNeeded_FailsClosedOnMissingLocalRevision(t *testing.T) {
	runner := healthyRepoRunner()
	delete(runner.responses, "git rev-parse HEAD")
	d := NewUpdateDetector("/srv/checkout", runner, testLogger())

	assert.False(t, d.IsUpdateNeeded(context.Background()))
}

func TestIsUpdateNeeded_FailsClosedOnMissingRemoteRevision(t *testing.T) {
	runner := healthyRepoRunner()
	delete(runner.responses, "git rev-parse origin/main")
	d := NewUpdateDetector("/srv/checkout", runner, testLogger())

	assert.False(t, d.IsUpdateNeeded(context.Background()))
}

func TestCommitInfo(t *testing.T) {
	d := NewUpdateDetector("/srv/checkout", healthyRepoRunner(), testLogger())

	info := d.CommitInfo(context.Background())

	assert.Equal(t, CommitInfo{
		Branch:           "main",
		LocalCommit:      localCommit,
		RemoteCommit:     remoteCommit,
		WorkingDirectory: "/srv/checkout",
	}, info)
}

func TestCommitInfo_PartialFailure(t *testing.T) {
	runner := healthyRepoRunner()
	delete(runner.responses, "git rev-parse origin/main")
	d := NewUpdateDetector("/srv/checkout", runner, testLogger())

	info := d.CommitInfo(context.Background())

	assert.Equal(t, "main", info.Branch)
	assert.Equal(t, localCommit, info.LocalCommit)
	assert.Equal(t, "", info.RemoteCommit)
}
