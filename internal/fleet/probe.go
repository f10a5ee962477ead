package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/Nordstrom/pssh/internal/model"
)

// ProbeOptions configures ProbeParallel.
type ProbeOptions struct {
	MaxConcurrent int
	KnownHosts    *KnownHosts
	Progress      ProgressFunc[model.ProbeResult]
}

const probeCommandTimeout = 5 * time.Second

// ProbeParallel checks reachability of every target concurrently: a TCP
// connect followed by an SSH handshake and a trivial command, without
// mutating state on the remote host.
func ProbeParallel(ctx context.Context, targets []model.Host, opts ProbeOptions) Batch[model.ProbeResult] {
	kh := opts.KnownHosts
	if kh == nil {
		kh = NewKnownHosts("")
	}
	work := func(taskCtx context.Context, h model.Host) model.ProbeResult {
		return probeHost(taskCtx, h, kh)
	}
	isFailure := func(r model.ProbeResult) bool { return r.Status != model.StatusSuccess }
	return runParallel(ctx, targets, opts.MaxConcurrent, work, isFailure, false, opts.Progress)
}

func probeHost(ctx context.Context, h model.Host, kh *KnownHosts) model.ProbeResult {
	start := time.Now()
	result := model.ProbeResult{Result: model.Result{Host: h.DisplayName(), Status: model.StatusRunning, StartTime: start}}

	if err := ctx.Err(); err != nil {
		result.Status = model.StatusCancelled
		result.Error = "cancelled before start"
		result.EndTime = time.Now()
		return result
	}

	client, err := dialHost(h, kh.Callback())
	if err != nil {
		if isAuthError(err) || isHostKeyMismatch(err) {
			result.Status = model.StatusAuthFailed
		} else if isTimeoutError(err) {
			result.Status = model.StatusTimeout
		} else {
			result.Status = model.StatusUnreachable
		}
		result.Error = err.Error()
		result.ResponseTime = time.Since(start)
		result.EndTime = time.Now()
		return result
	}
	defer client.Close()

	_, _, exitCode, status, runErr := commandExec(ctx, client, h, `echo "connectivity_test"`, false, probeCommandTimeout, nil, "")
	result.ResponseTime = time.Since(start)
	result.EndTime = time.Now()

	switch status {
	case model.StatusSuccess:
		result.Status = model.StatusSuccess
		result.SSHAvailable = true
	case model.StatusFailedNonZeroExit:
		result.Status = model.StatusSuccess
		result.SSHAvailable = exitCode == 0
		result.Error = "ssh connection established but command execution failed"
	case model.StatusCancelled:
		result.Status = model.StatusCancelled
		result.Error = "cancelled"
	case model.StatusTimeout:
		result.Status = model.StatusTimeout
		result.Error = "connectivity test timed out"
	default:
		result.Status = model.StatusUnreachable
		if runErr != nil {
			result.Error = runErr.Error()
		}
	}

	return result
}

func isTimeoutError(err error) bool {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}
