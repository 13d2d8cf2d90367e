// Package provision holds the remote scripting for server bootstrap, golden
// image bakes and file deployment.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/remote"
)

// Step is one idempotent unit of a bootstrap sequence. Scripts must be safe
// to re-run: retries and resumed bakes execute them again.
type Step struct {
	Name       string
	Script     string
	Retries    int
	RetryDelay time.Duration
}

type Runner struct {
	exec        remote.Executor
	stepTimeout time.Duration
}

func NewRunner(exec remote.Executor) *Runner {
	return &Runner{exec: exec, stepTimeout: 10 * time.Minute}
}

// Run executes steps strictly in order, skipping everything up to and
// including cursor (the last step that already succeeded). After each success
// onStep is invoked with the step name so the caller can persist the cursor.
func (r *Runner) Run(ctx context.Context, host string, creds remote.Credentials, steps []Step, cursor string, onStep func(name string)) error {
	resume := cursor != ""
	for _, step := range steps {
		if resume {
			if step.Name == cursor {
				resume = false
			}
			continue
		}
		if err := r.runStep(ctx, host, creds, step); err != nil {
			return err
		}
		if onStep != nil {
			onStep(step.Name)
		}
	}
	if resume {
		return fmt.Errorf("cursor %q does not name a known step", cursor)
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, host string, creds remote.Credentials, step Step) error {
	var lastErr error
	for attempt := 0; attempt <= step.Retries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying step", "step", step.Name, "attempt", attempt, "err", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(step.RetryDelay):
			}
		}

		result, err := r.exec.Exec(ctx, host, creds, step.Script, r.stepTimeout)
		if err != nil {
			lastErr = fmt.Errorf("step %v: %w", step.Name, err)
			continue
		}
		if result.ExitCode != 0 {
			lastErr = fmt.Errorf("step %v exited %d: %v", step.Name, result.ExitCode, result.Stderr)
			continue
		}
		return nil
	}
	return errs.PermanentError{Err: lastErr}
}
