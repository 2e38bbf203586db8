package storage

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/czbiohub/imagingdb/internal/logger"
)

const (
	// retryAttempts is the per-item transfer budget.
	retryAttempts = 3

	// retryBase and retryCap bound the exponential backoff between attempts.
	retryBase = 100 * time.Millisecond
	retryCap  = 2 * time.Second

	// itemTimeout bounds a single put or get.
	itemTimeout = 60 * time.Second
)

// UploadItem is one plane to upload: encoded bytes destined for a key.
type UploadItem struct {
	Key  string
	Data []byte
}

// DownloadItem is one object to download to a local path.
type DownloadItem struct {
	Key       string
	LocalPath string
}

// Pool runs parallel transfers against a backend with a fixed worker count.
// The zero value uses one worker per CPU.
type Pool struct {
	Workers int
}

// DefaultWorkers is the worker count used when none is configured.
func DefaultWorkers() int {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return n
}

func (p Pool) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return DefaultWorkers()
}

// UploadPlanes uploads every item, retrying each item independently. The call
// fails iff any single item fails after its retry budget; all workers drain
// before the error is returned. Completion order is not preserved.
func (p Pool) UploadPlanes(ctx context.Context, backend Backend, items []UploadItem) error {
	return p.run(ctx, len(items), func(i int) error {
		item := items[i]
		return transferWithRetry(ctx, "upload", item.Key, func(itemCtx context.Context) error {
			return backend.PutPlane(itemCtx, item.Key, item.Data)
		})
	})
}

// DownloadPlanes downloads every item in parallel with the same retry and
// failure semantics as UploadPlanes.
func (p Pool) DownloadPlanes(ctx context.Context, backend Backend, items []DownloadItem) error {
	return p.run(ctx, len(items), func(i int) error {
		item := items[i]
		return transferWithRetry(ctx, "download", item.Key, func(itemCtx context.Context) error {
			return backend.GetFile(itemCtx, item.Key, item.LocalPath)
		})
	})
}

// run feeds item indices to a fixed worker pool and collects all failures.
// Workers share nothing but the work channel and the error slice behind its
// mutex. An in-flight item finishes before cancellation is honored.
func (p Pool) run(ctx context.Context, n int, work func(i int) error) error {
	if n == 0 {
		return nil
	}

	workers := p.workers()
	if workers > n {
		workers = n
	}

	jobs := make(chan int, workers*2)

	var mu sync.Mutex
	var errs []error

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := work(i); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// transferWithRetry gives one item three attempts with exponential backoff
// (base 100 ms, cap 2 s) and a 60 s per-attempt timeout. Not-found errors on
// download are permanent; retrying cannot produce the object.
func transferWithRetry(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	attempts := 0

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = retryBase
	expo.MaxInterval = retryCap

	operation := func() error {
		attempts++
		itemCtx, cancel := context.WithTimeout(ctx, itemTimeout)
		defer cancel()

		err := fn(itemCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrObjectNotFound) {
			return backoff.Permanent(err)
		}
		logger.Warn("transfer attempt failed",
			"op", op, "key", key, "attempt", attempts, "error", err)
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(expo, retryAttempts-1), ctx))
	if err != nil {
		return &TransferError{Op: op, Key: key, Attempts: attempts, Err: err}
	}
	return nil
}
