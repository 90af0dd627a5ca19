// Package task defines the unit of work exchanged between the
// client-handling pool and the worker pool, together with its result
// rendezvous.
//
// A Task is created by the session loop, enqueued by pointer onto the task
// queue, executed by exactly one worker, and destroyed by the session loop
// after the result is delivered. One instance is shared end-to-end, so the
// result a worker publishes is always the one the session is watching.
package task

import (
	"sync"
	"sync/atomic"
)

// Op identifies the operation a task performs.
type Op int

const (
	OpUpload Op = iota
	OpDownload
	OpDelete
	OpList
)

func (o Op) String() string {
	switch o {
	case OpUpload:
		return "UPLOAD"
	case OpDownload:
		return "DOWNLOAD"
	case OpDelete:
		return "DELETE"
	case OpList:
		return "LIST"
	default:
		return "UNKNOWN"
	}
}

// Status classifies the outcome of a task.
type Status int

const (
	StatusOK Status = iota
	StatusError
	StatusAuthFailed
	StatusQuotaExceeded
	StatusNotFound
	StatusAlreadyExists
)

// Success reports whether the status represents a completed operation.
func (s Status) Success() bool {
	return s == StatusOK
}

// Result is the outcome a worker publishes into a task. Message is a
// human-readable line for the protocol reply; Payload carries raw bytes
// for DOWNLOAD and the listing text for LIST.
type Result struct {
	Status  Status
	Message string
	Payload []byte
}

var nextID atomic.Uint64

// Task is one client-submitted operation. The identity fields are set at
// creation and never mutated; the result slot is write-once, guarded by
// the task's own lock, with a private rendezvous for the single waiter.
type Task struct {
	ID       uint64
	Username string
	Op       Op
	Filename string
	Data     []byte

	mu        sync.Mutex
	done      *sync.Cond
	completed bool
	result    Result
}

// New creates a task for the given user and operation. Filename is empty
// for OpList; data is non-nil only for OpUpload.
func New(username string, op Op, filename string, data []byte) *Task {
	t := &Task{
		ID:       nextID.Add(1),
		Username: username,
		Op:       op,
		Filename: filename,
		Data:     data,
	}
	t.done = sync.NewCond(&t.mu)

	return t
}

// Complete publishes the result and wakes the waiting session. Only the
// worker that dequeued the task may call it, exactly once; later calls are
// ignored and reported via the return value.
func (t *Task) Complete(status Status, message string, payload []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.completed {
		return false
	}

	t.result = Result{
		Status:  status,
		Message: message,
		Payload: payload,
	}
	t.completed = true

	// Exactly one session goroutine can be parked here.
	t.done.Signal()

	return true
}

// Wait blocks until the worker publishes a result, then returns it. The
// completed flag is re-checked in a loop to guard against spurious wakeups.
func (t *Task) Wait() Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	for !t.completed {
		t.done.Wait()
	}

	return t.result
}

// Completed reports whether a result has been published.
func (t *Task) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}
