package provision_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/provision"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/remote"
	"github.com/stretchr/testify/require"
)

// scriptedExec answers each Exec call from a queue of results and records
// the scripts it ran.
type scriptedExec struct {
	results []remote.Result
	errs    []error
	scripts []string
}

func (e *scriptedExec) Exec(_ context.Context, _ string, _ remote.Credentials, script string, _ time.Duration) (remote.Result, error) {
	e.scripts = append(e.scripts, script)
	idx := len(e.scripts) - 1
	var err error
	if idx < len(e.errs) {
		err = e.errs[idx]
	}
	result := remote.Result{}
	if idx < len(e.results) {
		result = e.results[idx]
	}
	return result, err
}

func (e *scriptedExec) Reachable(context.Context, string, remote.Credentials) bool {
	return true
}

func steps(names ...string) []provision.Step {
	out := make([]provision.Step, 0, len(names))
	for _, name := range names {
		out = append(out, provision.Step{Name: name, Script: "run " + name})
	}
	return out
}

func Test_Run_When_All_Steps_Succeed_Then_Each_Runs_Once_In_Order(t *testing.T) {
	exec := &scriptedExec{}
	var seen []string

	err := provision.NewRunner(exec).Run(context.Background(), "10.0.0.1", remote.Credentials{},
		steps("a", "b", "c"), "", func(name string) { seen = append(seen, name) })

	require.NoError(t, err)
	require.Equal(t, []string{"run a", "run b", "run c"}, exec.scripts)
	require.Equal(t, []string{"a", "b", "c"}, seen)
}

func Test_Run_When_Cursor_Set_Then_Resumes_After_That_Step(t *testing.T) {
	exec := &scriptedExec{}

	err := provision.NewRunner(exec).Run(context.Background(), "10.0.0.1", remote.Credentials{},
		steps("a", "b", "c"), "b", nil)

	require.NoError(t, err)
	require.Equal(t, []string{"run c"}, exec.scripts)
}

func Test_Run_When_Cursor_Names_Unknown_Step_Then_Error(t *testing.T) {
	exec := &scriptedExec{}

	err := provision.NewRunner(exec).Run(context.Background(), "10.0.0.1", remote.Credentials{},
		steps("a", "b"), "never-heard-of-it", nil)

	require.Error(t, err)
	require.Empty(t, exec.scripts)
}

func Test_Run_When_Step_Fails_With_Retries_Then_Retried_Before_Giving_Up(t *testing.T) {
	exec := &scriptedExec{
		results: []remote.Result{{ExitCode: 1, Stderr: "boom"}, {ExitCode: 1, Stderr: "boom"}, {ExitCode: 1, Stderr: "boom"}},
	}
	flaky := []provision.Step{{Name: "a", Script: "run a", Retries: 2, RetryDelay: time.Millisecond}}

	err := provision.NewRunner(exec).Run(context.Background(), "10.0.0.1", remote.Credentials{}, flaky, "", nil)

	require.Error(t, err)
	require.True(t, errs.IsPermanent(err))
	require.Len(t, exec.scripts, 3)
}

func Test_Run_When_Step_Recovers_On_Retry_Then_Sequence_Continues(t *testing.T) {
	exec := &scriptedExec{
		errs: []error{fmt.Errorf("connection reset")},
	}
	sequence := []provision.Step{
		{Name: "a", Script: "run a", Retries: 1, RetryDelay: time.Millisecond},
		{Name: "b", Script: "run b"},
	}

	err := provision.NewRunner(exec).Run(context.Background(), "10.0.0.1", remote.Credentials{}, sequence, "", nil)

	require.NoError(t, err)
	require.Equal(t, []string{"run a", "run a", "run b"}, exec.scripts)
}

func Test_Run_When_Failure_Mid_Sequence_Then_Cursor_Points_At_Last_Success(t *testing.T) {
	exec := &scriptedExec{
		results: []remote.Result{{}, {ExitCode: 1, Stderr: "apt broke"}},
	}
	var cursor string

	err := provision.NewRunner(exec).Run(context.Background(), "10.0.0.1", remote.Credentials{},
		steps("a", "b", "c"), "", func(name string) { cursor = name })

	require.Error(t, err)
	require.Equal(t, "a", cursor)
}

func Test_DirectoryLayoutScript_Is_Idempotent_By_Construction(t *testing.T) {
	script := provision.DirectoryLayoutScript("/var/www/html")

	// only -p creation and ownership fixes, nothing destructive to rerun
	require.Contains(t, script, "mkdir -p")
	require.NotContains(t, script, "rm -rf")
}

func Test_SeedSteps_Order_Is_Stable_Across_Calls(t *testing.T) {
	first := provision.SeedSteps("/var/www/html")
	second := provision.SeedSteps("/var/www/html")

	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, first[i].Name, second[i].Name)
	}
}

func Test_DeployScript_When_WrappedDir_Set_Then_Contents_Lifted_To_Webroot(t *testing.T) {
	script := provision.DeployScript("https://bundles.example.com/site.zip", "/var/www/html", "my-site")

	require.Contains(t, script, "mv /var/www/html/my-site/* /var/www/html/")
	require.Contains(t, script, "rmdir /var/www/html/my-site")
}

func Test_DeployScript_When_No_WrappedDir_Then_No_Flattening(t *testing.T) {
	script := provision.DeployScript("https://bundles.example.com/site.zip", "/var/www/html", "")

	require.False(t, strings.Contains(script, "rmdir"))
}
