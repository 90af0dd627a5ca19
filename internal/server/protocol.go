package server

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/marmos91/stashd/internal/task"
)

// Wire protocol: newline-terminated ASCII lines over TCP. The reply
// strings below are a stable contract with existing clients; change them
// and every deployed client breaks.
const (
	authPrompt = "AUTH: Enter 'SIGNUP <username> <password>' or 'LOGIN <username> <password>':"

	msgAuthFormatError = "ERROR: Invalid authentication format. Use 'SIGNUP username password' or 'LOGIN username password'"
	msgAuthUnknownVerb = "ERROR: Unknown command. Use SIGNUP or LOGIN"
	msgWelcome         = "AUTH_SUCCESS: Welcome! Commands: UPLOAD, DOWNLOAD, DELETE, LIST, QUIT"

	msgReady          = "READY: Send file data"
	msgGoodbye        = "GOODBYE: Session ended"
	msgInvalidCommand = "ERROR: Invalid command. Use: UPLOAD, DOWNLOAD, DELETE, LIST, QUIT"
	msgServerBusy     = "ERROR: Server busy, try again later"
	msgUploadTooLarge = "ERROR: Upload exceeds maximum allowed size"
)

// command is one parsed post-auth client line.
type command struct {
	op       task.Op
	filename string

	// declaredSize is the length-prefixed upload body size. -1 means the
	// client used the legacy un-sized form (single bounded read).
	declaredSize int64

	quit bool
}

// parseCommand parses a session-loop line. Returns an error for unknown
// verbs, missing filenames, or malformed sizes.
func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, fmt.Errorf("empty command")
	}

	verb := strings.ToUpper(fields[0])
	switch verb {
	case "QUIT":
		return command{quit: true}, nil

	case "LIST":
		return command{op: task.OpList}, nil

	case "UPLOAD":
		if len(fields) < 2 {
			return command{}, fmt.Errorf("UPLOAD requires a filename")
		}
		cmd := command{op: task.OpUpload, filename: fields[1], declaredSize: -1}
		if len(fields) >= 3 {
			size, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil || size < 0 {
				return command{}, fmt.Errorf("invalid upload size %q", fields[2])
			}
			cmd.declaredSize = size
		}
		return cmd, nil

	case "DOWNLOAD":
		if len(fields) < 2 {
			return command{}, fmt.Errorf("DOWNLOAD requires a filename")
		}
		return command{op: task.OpDownload, filename: fields[1]}, nil

	case "DELETE":
		if len(fields) < 2 {
			return command{}, fmt.Errorf("DELETE requires a filename")
		}
		return command{op: task.OpDelete, filename: fields[1]}, nil

	default:
		return command{}, fmt.Errorf("unknown verb %q", verb)
	}
}

// authRequest is one parsed pre-auth line.
type authRequest struct {
	signup   bool
	username string
	password string
}

// parseAuthLine parses `SIGNUP <user> <pass>` or `LOGIN <user> <pass>`.
// The returned message distinguishes a malformed line from an unknown
// verb so the session can reply with the matching error string.
func parseAuthLine(line string) (authRequest, string) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return authRequest{}, msgAuthFormatError
	}

	req := authRequest{username: fields[1], password: fields[2]}
	switch strings.ToUpper(fields[0]) {
	case "SIGNUP":
		req.signup = true
	case "LOGIN":
	default:
		return authRequest{}, msgAuthUnknownVerb
	}

	return req, ""
}

// taskReply formats the completion line sent back after a task finishes.
// DOWNLOAD and LIST results carry their payload as the message body.
func taskReply(res task.Result) string {
	status := "FAILED"
	if res.Status.Success() {
		status = "SUCCESS"
	}

	body := res.Message
	if len(res.Payload) > 0 {
		body = string(res.Payload)
	}

	return fmt.Sprintf("TASK_COMPLETE: %s - %s", status, body)
}

// sendLine writes one newline-terminated line. net.Conn.Write already
// retries short writes, so a single call is a full send.
func sendLine(conn net.Conn, line string) error {
	_, err := conn.Write([]byte(line + "\n"))
	return err
}

// readLine reads one newline-terminated line, trimming the terminator and
// any trailing carriage return.
func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}
