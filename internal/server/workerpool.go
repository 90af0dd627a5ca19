package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/stashd/internal/logger"
	"github.com/marmos91/stashd/internal/queue"
	"github.com/marmos91/stashd/internal/task"
	"github.com/marmos91/stashd/pkg/metrics"
	"github.com/marmos91/stashd/pkg/registry"
	"github.com/marmos91/stashd/pkg/storage"
)

// workerPool is the fixed set of goroutines that execute file operations.
// Workers dequeue tasks, run them against the registry and file store, and
// publish each result through the task's rendezvous.
type workerPool struct {
	registry registry.UserRegistry
	store    storage.FileStore
	tasks    *queue.Queue[*task.Task]
	metrics  metrics.ServerMetrics

	wg sync.WaitGroup
}

func newWorkerPool(reg registry.UserRegistry, store storage.FileStore, tasks *queue.Queue[*task.Task], m metrics.ServerMetrics) *workerPool {
	return &workerPool{
		registry: reg,
		store:    store,
		tasks:    tasks,
		metrics:  m,
	}
}

// start launches count workers. Each runs until the task queue is closed
// and drained.
func (p *workerPool) start(ctx context.Context, count int) {
	for i := 0; i < count; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}

	logger.Info("Worker pool started with %d workers", count)
}

// wait blocks until every worker has exited. Callers close the task queue
// first; Dequeue keeps yielding buffered tasks until the queue is empty.
func (p *workerPool) wait() {
	p.wg.Wait()
}

func (p *workerPool) run(ctx context.Context, id int) {
	// Tasks already accepted into the queue run to completion even during
	// shutdown: a session goroutine is parked on each one.
	execCtx := context.WithoutCancel(ctx)

	for {
		t, err := p.tasks.Dequeue()
		if err != nil {
			logger.Debug("Worker %d exiting: %v", id, err)
			return
		}

		logger.Debug("Worker %d executing task %d: user=%s op=%s file=%q",
			id, t.ID, t.Username, t.Op, t.Filename)

		start := time.Now()
		success := p.execute(execCtx, t)
		p.metrics.RecordTask(t.Op.String(), time.Since(start), success)

		if !t.Completed() {
			// Every dispatch path must publish a result; a session is
			// blocked until one arrives.
			t.Complete(task.StatusError, "Operation failed.", nil)
		}
	}
}

// execute dispatches one task and reports whether it succeeded. Exactly
// one Complete call is made per task.
func (p *workerPool) execute(ctx context.Context, t *task.Task) bool {
	// Sessions only submit tasks after authentication, but the registry
	// is the source of truth: a user deleted mid-session must not pass.
	if _, err := p.registry.Lookup(ctx, t.Username); err != nil {
		logger.Warn("Task %d for unknown user %q: %v", t.ID, t.Username, err)
		t.Complete(task.StatusAuthFailed, "User not authenticated.", nil)
		return false
	}

	switch t.Op {
	case task.OpUpload:
		return p.executeUpload(ctx, t)
	case task.OpDownload:
		return p.executeDownload(ctx, t)
	case task.OpDelete:
		return p.executeDelete(ctx, t)
	case task.OpList:
		return p.executeList(ctx, t)
	default:
		t.Complete(task.StatusError, "Unknown operation.", nil)
		return false
	}
}

// executeUpload stores the file and records ownership. Ordering matters:
// the duplicate check runs before Save so a rejected re-upload cannot
// clobber the existing content, and a registry failure after Save rolls
// the stored bytes back.
func (p *workerPool) executeUpload(ctx context.Context, t *task.Task) bool {
	if len(t.Data) == 0 {
		t.Complete(task.StatusError, "Upload failed: no data.", nil)
		return false
	}

	size := int64(len(t.Data))

	owned, err := p.registry.HasFile(ctx, t.Username, t.Filename)
	if err != nil {
		logger.Error("Task %d ownership check failed: %v", t.ID, err)
		t.Complete(task.StatusError, "Upload failed.", nil)
		return false
	}
	if owned {
		t.Complete(task.StatusAlreadyExists, "Upload failed: file already exists.", nil)
		return false
	}

	if err := p.registry.CheckQuota(ctx, t.Username, size); err != nil {
		logger.Info("Task %d quota rejection for %q: %v", t.ID, t.Username, err)
		t.Complete(task.StatusQuotaExceeded, "Upload failed: quota exceeded.", nil)
		return false
	}

	if err := p.store.Save(ctx, t.Username, t.Filename, t.Data); err != nil {
		logger.Error("Task %d save failed: %v", t.ID, err)
		t.Complete(task.StatusError, "Upload failed.", nil)
		return false
	}

	if err := p.registry.RecordFile(ctx, t.Username, t.Filename, size); err != nil {
		// The bytes are on disk but unowned; remove them so storage and
		// registry stay consistent.
		if delErr := p.store.Delete(ctx, t.Username, t.Filename); delErr != nil {
			logger.Error("Task %d rollback delete failed: %v", t.ID, delErr)
		}

		switch {
		case errors.Is(err, registry.ErrQuotaExceeded):
			t.Complete(task.StatusQuotaExceeded, "Upload failed: quota exceeded.", nil)
		case errors.Is(err, registry.ErrFileExists):
			t.Complete(task.StatusAlreadyExists, "Upload failed: file already exists.", nil)
		default:
			logger.Error("Task %d record failed: %v", t.ID, err)
			t.Complete(task.StatusError, "Upload failed.", nil)
		}
		return false
	}

	logger.Info("User %q uploaded %q (%d bytes)", t.Username, t.Filename, size)
	p.metrics.RecordBytesTransferred("upload", size)
	t.Complete(task.StatusOK, "Upload successful.", nil)
	return true
}

// executeDownload serves a file the user owns. A registry entry with no
// backing bytes is stale state; it is dropped so the listing self-corrects.
func (p *workerPool) executeDownload(ctx context.Context, t *task.Task) bool {
	owned, err := p.registry.HasFile(ctx, t.Username, t.Filename)
	if err != nil {
		logger.Error("Task %d ownership check failed: %v", t.ID, err)
		t.Complete(task.StatusError, "Download failed.", nil)
		return false
	}
	if !owned {
		t.Complete(task.StatusNotFound, "Download failed.", nil)
		return false
	}

	data, err := p.store.Load(ctx, t.Username, t.Filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn("Stale ownership for %q/%q, dropping registry entry", t.Username, t.Filename)
			if _, forgetErr := p.registry.ForgetFile(ctx, t.Username, t.Filename); forgetErr != nil {
				logger.Error("Task %d stale-entry cleanup failed: %v", t.ID, forgetErr)
			}
			t.Complete(task.StatusNotFound, "Download failed.", nil)
			return false
		}

		logger.Error("Task %d load failed: %v", t.ID, err)
		t.Complete(task.StatusError, "Download failed.", nil)
		return false
	}

	logger.Info("User %q downloaded %q (%d bytes)", t.Username, t.Filename, len(data))
	p.metrics.RecordBytesTransferred("download", int64(len(data)))
	t.Complete(task.StatusOK, "", data)
	return true
}

// executeDelete removes the stored bytes and the registry entry. A file
// missing from storage still gets its entry forgotten, so delete also
// repairs stale state.
func (p *workerPool) executeDelete(ctx context.Context, t *task.Task) bool {
	owned, err := p.registry.HasFile(ctx, t.Username, t.Filename)
	if err != nil {
		logger.Error("Task %d ownership check failed: %v", t.ID, err)
		t.Complete(task.StatusError, "Delete failed: error occurred.", nil)
		return false
	}
	if !owned {
		t.Complete(task.StatusNotFound, "Delete failed: file not found.", nil)
		return false
	}

	if err := p.store.Delete(ctx, t.Username, t.Filename); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Error("Task %d storage delete failed: %v", t.ID, err)
		t.Complete(task.StatusError, "Delete failed: error occurred.", nil)
		return false
	}

	if _, err := p.registry.ForgetFile(ctx, t.Username, t.Filename); err != nil {
		logger.Error("Task %d registry forget failed: %v", t.ID, err)
		t.Complete(task.StatusError, "Delete failed: error occurred.", nil)
		return false
	}

	logger.Info("User %q deleted %q", t.Username, t.Filename)
	t.Complete(task.StatusOK, "Delete successful.", nil)
	return true
}

// executeList renders the user's file listing from the registry. Names
// come back sorted, so the listing is stable across calls.
func (p *workerPool) executeList(ctx context.Context, t *task.Task) bool {
	names, err := p.registry.ListFiles(ctx, t.Username)
	if err != nil {
		logger.Error("Task %d list failed: %v", t.ID, err)
		t.Complete(task.StatusError, "List failed.", nil)
		return false
	}

	if len(names) == 0 {
		t.Complete(task.StatusOK, "No files found.", nil)
		return true
	}

	var sb strings.Builder
	sb.WriteString("Files:\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "%s\n", name)
	}

	t.Complete(task.StatusOK, "", []byte(strings.TrimRight(sb.String(), "\n")))
	return true
}
