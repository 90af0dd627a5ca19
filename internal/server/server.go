// Package server implements the TCP front end and the two-pool execution
// core: a fixed client-handling pool fed by a bounded connection queue,
// and a fixed worker pool fed by a bounded task queue. Sessions and
// workers meet on per-task rendezvous points, never on shared sockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/stashd/internal/logger"
	"github.com/marmos91/stashd/internal/queue"
	"github.com/marmos91/stashd/internal/ratelimiter"
	"github.com/marmos91/stashd/internal/task"
	"github.com/marmos91/stashd/pkg/metrics"
	"github.com/marmos91/stashd/pkg/registry"
	"github.com/marmos91/stashd/pkg/storage"
)

// Defaults applied by New when an Options field is zero.
const (
	DefaultClientThreads       = 4
	DefaultWorkerThreads       = 6
	DefaultClientQueueCapacity = 20
	DefaultTaskQueueCapacity   = 40
	DefaultShutdownTimeout     = 10 * time.Second
)

// Options configures a Server. Registry and Store are required; every
// other field falls back to a default.
type Options struct {
	// Address is the TCP listen address, e.g. ":9090".
	Address string

	// Registry tracks users, credentials, quotas and file ownership.
	Registry registry.UserRegistry

	// Store holds file content.
	Store storage.FileStore

	// ClientThreads is the client-handling pool size: the number of
	// sessions served concurrently.
	ClientThreads int

	// WorkerThreads is the worker pool size: the number of file
	// operations executed concurrently.
	WorkerThreads int

	// ClientQueueCapacity bounds connections accepted but not yet
	// assigned to a handler.
	ClientQueueCapacity int

	// TaskQueueCapacity bounds operations submitted but not yet executed.
	TaskQueueCapacity int

	// MaxUploadBytes caps a declared upload size. Zero applies the
	// built-in ceiling.
	MaxUploadBytes int64

	// RequestsPerSecond rate-limits command submission across all
	// sessions. Zero means unlimited.
	RequestsPerSecond uint

	// RateBurst is the rate limiter burst size.
	RateBurst uint

	// ShutdownTimeout bounds how long shutdown waits for in-flight
	// sessions before force-closing their connections.
	ShutdownTimeout time.Duration

	// Metrics collects pipeline observability. Nil means no-op.
	Metrics metrics.ServerMetrics
}

// Server accepts connections and runs them through the pools.
type Server struct {
	opts Options

	conns *queue.Queue[net.Conn]
	tasks *queue.Queue[*task.Task]

	clients *clientPool
	workers *workerPool

	mu     sync.Mutex
	active map[net.Conn]struct{}

	ready chan struct{}
	addr  net.Addr
}

// New validates the options, applies defaults and builds the server. No
// goroutines start until Serve.
func New(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("server: registry is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("server: file store is required")
	}

	if opts.Address == "" {
		opts.Address = ":8080"
	}
	if opts.ClientThreads <= 0 {
		opts.ClientThreads = DefaultClientThreads
	}
	if opts.WorkerThreads <= 0 {
		opts.WorkerThreads = DefaultWorkerThreads
	}
	if opts.ClientQueueCapacity <= 0 {
		opts.ClientQueueCapacity = DefaultClientQueueCapacity
	}
	if opts.TaskQueueCapacity <= 0 {
		opts.TaskQueueCapacity = DefaultTaskQueueCapacity
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewServerMetrics()
	}

	s := &Server{
		opts:   opts,
		conns:  queue.New[net.Conn](opts.ClientQueueCapacity),
		tasks:  queue.New[*task.Task](opts.TaskQueueCapacity),
		active: make(map[net.Conn]struct{}),
		ready:  make(chan struct{}),
	}

	var limiter *ratelimiter.RateLimiter
	if opts.RequestsPerSecond > 0 {
		limiter = ratelimiter.New(opts.RequestsPerSecond, opts.RateBurst)
	}

	s.clients = newClientPool(s.conns, s.tasks, opts.Registry, limiter, opts.MaxUploadBytes, opts.Metrics)
	s.workers = newWorkerPool(opts.Registry, opts.Store, s.tasks, opts.Metrics)

	return s, nil
}

// Serve listens on the configured address and blocks until ctx is
// cancelled and shutdown completes. The returned error is nil on a clean
// shutdown.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Address, err)
	}

	logger.Info("Listening on %s (clients=%d workers=%d)",
		listener.Addr(), s.opts.ClientThreads, s.opts.WorkerThreads)

	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()
	close(s.ready)

	s.workers.start(ctx, s.opts.WorkerThreads)
	s.clients.start(ctx, s.opts.ClientThreads)

	acceptDone := make(chan error, 1)
	go func() {
		acceptDone <- s.acceptLoop(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
		listener.Close()
		<-acceptDone
	case err := <-acceptDone:
		// Listener failed on its own; tear the pools down anyway.
		if err != nil {
			logger.Error("Accept loop failed: %v", err)
		}
		s.shutdown()
		return err
	}

	s.shutdown()
	return nil
}

// acceptLoop accepts connections and feeds the connection queue. A full
// queue turns the connection away immediately so the accept backlog never
// hides unbounded waiting clients.
func (s *Server) acceptLoop(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.opts.Metrics.RecordConnectionAccepted()
		tracked := s.track(conn)

		if err := s.conns.TryEnqueue(tracked); err != nil {
			logger.Warn("Connection from %s rejected: %v", conn.RemoteAddr(), err)
			s.opts.Metrics.RecordRejection("connection_queue_full")
			_ = sendLine(tracked, msgServerBusy)
			tracked.Close()
			continue
		}

		logger.Debug("Connection from %s queued (%d waiting)", conn.RemoteAddr(), s.conns.Len())
	}
}

// shutdown drains the pools in order: no new connections, finish queued
// sessions, then finish queued tasks. Sessions still alive after the
// timeout get their sockets closed, which unblocks their reads.
func (s *Server) shutdown() {
	s.conns.Close()

	clientsDone := make(chan struct{})
	go func() {
		s.clients.wait()
		close(clientsDone)
	}()

	select {
	case <-clientsDone:
	case <-time.After(s.opts.ShutdownTimeout):
		logger.Warn("Shutdown timeout reached, closing %d active connections", s.activeCount())
		s.closeActive()
		<-clientsDone
	}

	// Sessions are gone, so no new tasks can arrive. Workers drain what
	// remains and exit.
	s.tasks.Close()
	s.workers.wait()

	logger.Info("Shutdown complete")
}

// Ready is closed once the listener is bound; Addr is valid after that.
// Useful when listening on an ephemeral port.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// track wraps conn so its Close also removes it from the active set.
func (s *Server) track(conn net.Conn) net.Conn {
	s.mu.Lock()
	s.active[conn] = struct{}{}
	s.mu.Unlock()

	return &trackedConn{Conn: conn, server: s}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.active, conn)
	s.mu.Unlock()
}

func (s *Server) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Server) closeActive() {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.active))
	for conn := range s.active {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

type trackedConn struct {
	net.Conn
	server *Server

	closeOnce sync.Once
}

func (c *trackedConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.server.untrack(c.Conn)
		err = c.Conn.Close()
		c.server.opts.Metrics.RecordConnectionClosed()
	})

	return err
}
