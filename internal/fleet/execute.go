package fleet

import (
	"context"
	"strings"
	"time"

	"github.com/Nordstrom/pssh/internal/model"
)

// Options configures ExecuteParallel. PTY and ApplySudo are both
// per-invocation toggles, independent of anything recorded on the
// target Host: the same host can be run against with or without sudo
// from one call to the next.
type Options struct {
	MaxConcurrent int
	Retries       int
	RetryDelay    time.Duration
	StopOnError   bool
	PTY           bool
	ApplySudo     bool
	Logger        HostLogger
	KnownHosts    *KnownHosts
	Progress      ProgressFunc[model.CommandResult]
}

// ExecuteParallel runs command on every target concurrently, bounded by
// opts.MaxConcurrent (default 50). Each host gets its own retry budget
// for transport-level failures; a command that runs to completion with
// a non-zero exit status is never retried.
func ExecuteParallel(ctx context.Context, targets []model.Host, command string, opts Options) Batch[model.CommandResult] {
	kh := opts.KnownHosts
	if kh == nil {
		kh = NewKnownHosts("")
	}

	work := func(taskCtx context.Context, h model.Host) model.CommandResult {
		return executeOnHost(taskCtx, h, command, opts, kh)
	}

	isFailure := func(r model.CommandResult) bool {
		return r.Status != model.StatusSuccess
	}

	return runParallel(ctx, targets, opts.MaxConcurrent, work, isFailure, opts.StopOnError, opts.Progress)
}

func executeOnHost(ctx context.Context, h model.Host, command string, opts Options, kh *KnownHosts) model.CommandResult {
	start := time.Now()
	result := model.CommandResult{Result: model.Result{Host: h.DisplayName(), Status: model.StatusRunning, StartTime: start}}

	if err := ctx.Err(); err != nil {
		result.Status = model.StatusCancelled
		result.Error = "cancelled before start"
		result.EndTime = time.Now()
		return result
	}

	maxAttempts := opts.Retries + 1
	var lastErr error
	lastStatus := model.StatusError

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if opts.Logger != nil {
				opts.Logger.Warn(h.DisplayName(), retryLogMessage(lastErr, attempt, maxAttempts-1))
			}
			select {
			case <-ctx.Done():
				result.Status = model.StatusCancelled
				result.Error = "cancelled during retry wait"
				result.EndTime = time.Now()
				return result
			case <-time.After(retryBackoff(opts.RetryDelay, attempt)):
			}
		}

		stdout, stderr, exitCode, status, err := runOnce(ctx, h, command, opts, kh)
		result.Stdout = stdout
		result.Stderr = stderr

		switch status {
		case model.StatusSuccess, model.StatusFailedNonZeroExit:
			code := exitCode
			result.ExitCode = &code
			result.Status = status
			result.EndTime = time.Now()
			return result
		case model.StatusCancelled:
			result.Status = status
			result.Error = "cancelled"
			result.EndTime = time.Now()
			return result
		default:
			lastErr = err
			lastStatus = status
			continue
		}
	}

	result.Status = lastStatus
	if lastErr != nil {
		result.Error = lastErr.Error()
	} else {
		result.Error = "exhausted retries"
	}
	result.EndTime = time.Now()
	return result
}

func retryBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 2 * time.Second
	}
	return base * time.Duration(attempt)
}

// runOnce dials, authenticates and executes command exactly once,
// classifying the outcome into the closed status taxonomy.
func runOnce(ctx context.Context, h model.Host, command string, opts Options, kh *KnownHosts) (stdout, stderr string, exitCode int, status model.Status, err error) {
	client, dialErr := dialHost(h, kh.Callback())
	if dialErr != nil {
		if isAuthError(dialErr) || isHostKeyMismatch(dialErr) {
			return "", "", -1, model.StatusAuthFailed, dialErr
		}
		return "", "", -1, model.StatusError, dialErr
	}
	defer client.Close()

	finalCommand := command
	sudoPassword := ""
	if opts.ApplySudo {
		finalCommand = sudoPrefix(command)
		sudoPassword = h.SudoPassword
	}

	timeout := time.Duration(h.EffectiveCommandTimeout() * float64(time.Second))
	return commandExec(ctx, client, h, finalCommand, opts.PTY, timeout, opts.Logger, sudoPassword)
}

// sudoPrefix prepends a plain "sudo " to command, the same
// final_command = f"sudo {command}" shape
// original_source/pypssh/commands/execute.py builds. commandExec
// watches the streamed output for a "[sudo]" prompt and injects
// sudoPassword in response; no password is piped into a "sudo -S"
// invocation, so a host that never prompts times out rather than
// failing fast with a bad-password exit code.
func sudoPrefix(command string) string {
	return "sudo " + command
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "no supported methods remain")
}

func isHostKeyMismatch(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "host key mismatch") || strings.Contains(err.Error(), "knownhosts:")
}
