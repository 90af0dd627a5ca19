package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"

	"github.com/marmos91/stashd/internal/logger"
	"github.com/marmos91/stashd/internal/queue"
	"github.com/marmos91/stashd/internal/ratelimiter"
	"github.com/marmos91/stashd/internal/task"
	"github.com/marmos91/stashd/pkg/metrics"
	"github.com/marmos91/stashd/pkg/registry"
)

// legacyUploadBuffer bounds the body of an un-sized UPLOAD: one receive
// call, matching clients that predate length-prefixed framing.
const legacyUploadBuffer = 4096

// uploadSizeCeiling caps a declared upload size when no explicit limit is
// configured. The body is buffered in full before dispatch, so the declared
// size is an allocation and must never be taken from the wire unbounded.
const uploadSizeCeiling = 128 << 20 // 128 MiB

// session drives the per-connection state machine:
// unauthenticated -> authenticated -> per-command dispatch -> terminated.
//
// A session runs entirely on one client-pool goroutine. It creates tasks,
// hands them to the worker pool by pointer, and parks on each task's
// rendezvous until the result arrives.
type session struct {
	conn      net.Conn
	reader    *bufio.Reader
	registry  registry.UserRegistry
	tasks     *queue.Queue[*task.Task]
	limiter   *ratelimiter.RateLimiter
	maxUpload int64
	metrics   metrics.ServerMetrics

	username string
}

func newSession(conn net.Conn, reg registry.UserRegistry, tasks *queue.Queue[*task.Task], limiter *ratelimiter.RateLimiter, maxUpload int64, m metrics.ServerMetrics) *session {
	return &session{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		registry:  reg,
		tasks:     tasks,
		limiter:   limiter,
		maxUpload: maxUpload,
		metrics:   m,
	}
}

// serve runs the session until QUIT, peer disconnect, socket failure or
// server shutdown. The connection is always closed on return.
func (s *session) serve(ctx context.Context) {
	defer s.conn.Close()

	remote := s.conn.RemoteAddr().String()
	logger.Debug("Session started for %s", remote)

	if !s.authenticate(ctx) {
		logger.Debug("Authentication did not complete for %s", remote)
		return
	}

	logger.Info("User %q authenticated from %s", s.username, remote)

	if err := sendLine(s.conn, msgWelcome); err != nil {
		return
	}

	s.commandLoop(ctx)
	logger.Info("Session ended for user %q (%s)", s.username, remote)
}

// authenticate runs the pre-auth sub-protocol: prompt, read one line,
// process SIGNUP or LOGIN. Failures re-prompt; only a successful auth or
// a dead connection ends the loop.
func (s *session) authenticate(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}

		if err := sendLine(s.conn, authPrompt); err != nil {
			return false
		}

		line, err := readLine(s.reader)
		if err != nil {
			// Zero-byte read or socket error: peer is gone.
			return false
		}

		req, errMsg := parseAuthLine(line)
		if errMsg != "" {
			if err := sendLine(s.conn, errMsg); err != nil {
				return false
			}
			continue
		}

		if req.signup {
			if !s.handleSignup(ctx, req) {
				return false
			}
		} else {
			if !s.handleLogin(ctx, req) {
				return false
			}
		}

		if s.username != "" {
			return true
		}
	}
}

// handleSignup reports SIGNUP: SUCCESS | USER_EXISTS | FAILED. On success
// the session becomes authenticated as the new user. Returns false only
// when the socket dies.
func (s *session) handleSignup(ctx context.Context, req authRequest) bool {
	err := s.registry.CreateUser(ctx, req.username, req.password)

	var reply string
	switch {
	case err == nil:
		reply = "SIGNUP: SUCCESS"
		s.username = req.username
	case errors.Is(err, registry.ErrUserExists):
		reply = "SIGNUP: USER_EXISTS"
	default:
		logger.Warn("Signup for %q failed: %v", req.username, err)
		reply = "SIGNUP: FAILED"
	}

	s.metrics.RecordAuthAttempt("signup", err == nil)

	return sendLine(s.conn, reply) == nil
}

// handleLogin reports LOGIN: SUCCESS | FAILED. Bad credentials re-prompt
// rather than closing the connection.
func (s *session) handleLogin(ctx context.Context, req authRequest) bool {
	err := s.registry.Authenticate(ctx, req.username, req.password)

	reply := "LOGIN: FAILED"
	if err == nil {
		reply = "LOGIN: SUCCESS"
		s.username = req.username
	}

	s.metrics.RecordAuthAttempt("login", err == nil)

	return sendLine(s.conn, reply) == nil
}

// commandLoop reads and executes commands until QUIT, disconnect or
// shutdown.
func (s *session) commandLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		line, err := readLine(s.reader)
		if err != nil {
			logger.Debug("Client %q disconnected: %v", s.username, err)
			return
		}

		cmd, parseErr := parseCommand(line)
		if parseErr != nil {
			if sendLine(s.conn, msgInvalidCommand) != nil {
				return
			}
			continue
		}

		if cmd.quit {
			_ = sendLine(s.conn, msgGoodbye)
			return
		}

		if !s.runCommand(ctx, cmd) {
			return
		}
	}
}

// runCommand turns one parsed command into a task, submits it, waits for
// the worker's result and forwards it. Returns false when the socket is
// dead and the session must end.
func (s *session) runCommand(ctx context.Context, cmd command) bool {
	var data []byte
	if cmd.op == task.OpUpload {
		body, ok := s.receiveUploadBody(cmd)
		if !ok {
			return false
		}
		if body == nil {
			// Oversized declared upload: already reported, body drained.
			return true
		}
		data = body
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.RecordRejection("rate_limited")
		return sendLine(s.conn, msgServerBusy) == nil
	}

	t := task.New(s.username, cmd.op, cmd.filename, data)

	// Admission control: a full task queue sheds this command instead of
	// blocking the session or growing memory without bound.
	if err := s.tasks.TryEnqueue(t); err != nil {
		logger.Warn("Task %d rejected (%v) for user %q", t.ID, err, s.username)
		s.metrics.RecordRejection("task_queue_full")
		return sendLine(s.conn, msgServerBusy) == nil
	}

	logger.Debug("Task %d queued: user=%s op=%s file=%q", t.ID, s.username, t.Op, t.Filename)

	// Park on this task's private rendezvous until a worker publishes
	// the result.
	res := t.Wait()

	return sendLine(s.conn, taskReply(res)) == nil
}

// receiveUploadBody performs the READY handshake and reads the upload
// body. Sized uploads read exactly the declared byte count; the legacy
// un-sized form takes whatever one receive returns, capped at
// legacyUploadBuffer.
//
// Returns (nil, true) when the declared size exceeds the allowed maximum:
// the body has been drained and the error reported, but the session
// continues. The client must still send the declared byte count after the
// error reply (or abandon the connection); the server consumes exactly
// that many bytes so the next command line parses cleanly.
func (s *session) receiveUploadBody(cmd command) ([]byte, bool) {
	limit := s.maxUpload
	if limit <= 0 {
		limit = uploadSizeCeiling
	}

	if cmd.declaredSize > limit {
		if sendLine(s.conn, msgUploadTooLarge) != nil {
			return nil, false
		}
		// Swallow the body the client is about to send so the next
		// command line parses cleanly.
		if _, err := io.CopyN(io.Discard, s.reader, cmd.declaredSize); err != nil {
			return nil, false
		}
		return nil, true
	}

	if err := sendLine(s.conn, msgReady); err != nil {
		return nil, false
	}

	if cmd.declaredSize >= 0 {
		body := make([]byte, cmd.declaredSize)
		if _, err := io.ReadFull(s.reader, body); err != nil {
			logger.Debug("Upload body read failed for %q: %v", s.username, err)
			return nil, false
		}
		return body, true
	}

	// Legacy framing: the byte count of this single receive is the file
	// size. Files larger than one buffer need the sized form.
	buf := make([]byte, legacyUploadBuffer)
	n, err := s.reader.Read(buf)
	if err != nil {
		logger.Debug("Upload body read failed for %q: %v", s.username, err)
		return nil, false
	}

	return buf[:n], true
}
