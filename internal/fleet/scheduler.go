// Package fleet implements the parallel SSH fan-out engine: bounded
// concurrency execution, SFTP transfer, reachability probing and
// trust-on-first-use host key management, all built on the same
// semaphore-gated scheduler.
package fleet

import (
	"context"
	"sync"

	"github.com/Nordstrom/pssh/internal/model"
)

// Batch is the ordered set of per-host outcomes of one fan-out
// operation. Results are appended in completion order, not input order.
type Batch[T any] []T

// ProgressFunc is invoked once per completed host task, after the
// result has already been appended to the batch.
type ProgressFunc[T any] func(completed, total int, result T)

const defaultMaxConcurrent = 50

// runParallel is the scheduler every fleet operation funnels through:
// a buffered channel of size maxConcurrent gates how many of the
// per-host goroutines are doing network I/O at once, a mutex protects
// the completion-ordered result slice, and stopOnError cancels the
// shared context so in-flight and not-yet-started tasks unwind.
func runParallel[T any](
	ctx context.Context,
	targets []model.Host,
	maxConcurrent int,
	work func(ctx context.Context, h model.Host) T,
	isFailure func(T) bool,
	stopOnError bool,
	progress ProgressFunc[T],
) Batch[T] {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, maxConcurrent)
	var mu sync.Mutex
	var wg sync.WaitGroup

	total := len(targets)
	results := make(Batch[T], 0, total)
	completed := 0

	for _, h := range targets {
		select {
		case <-runCtx.Done():
		default:
		}

		wg.Add(1)
		go func(h model.Host) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				mu.Lock()
				defer mu.Unlock()
				completed++
				r := work(runCtx, h)
				results = append(results, r)
				if progress != nil {
					progress(completed, total, r)
				}
				return
			}
			defer func() { <-sem }()

			r := work(runCtx, h)

			mu.Lock()
			completed++
			results = append(results, r)
			n := completed
			if progress != nil {
				progress(n, total, r)
			}
			failed := isFailure != nil && isFailure(r)
			mu.Unlock()

			if stopOnError && failed {
				cancel()
			}
		}(h)
	}

	wg.Wait()
	return results
}
