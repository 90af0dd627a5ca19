package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	regmem "github.com/marmos91/stashd/pkg/registry/memory"
	"github.com/marmos91/stashd/pkg/storage"
	storemem "github.com/marmos91/stashd/pkg/storage/memory"
)

// startTestServer runs a server on an ephemeral port and tears it down
// with the test. The mutate callback adjusts options before startup.
func startTestServer(t *testing.T, mutate func(*Options)) *Server {
	t.Helper()

	opts := Options{
		Address:         "127.0.0.1:0",
		Registry:        regmem.New(0),
		Store:           storemem.New(),
		ShutdownTimeout: 200 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}

	srv, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("server exited before ready: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return srv
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialTestServer(t *testing.T, srv *Server) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetDeadline(time.Now().Add(15*time.Second)))

	return &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testClient) readLine() string {
	c.t.Helper()

	line, err := readLine(c.reader)
	require.NoError(c.t, err)

	return line
}

func (c *testClient) sendLine(line string) {
	c.t.Helper()
	require.NoError(c.t, sendLine(c.conn, line))
}

func (c *testClient) sendRaw(data []byte) {
	c.t.Helper()

	_, err := c.conn.Write(data)
	require.NoError(c.t, err)
}

// signup completes the auth handshake for a fresh user and consumes the
// welcome banner.
func (c *testClient) signup(username, password string) {
	c.t.Helper()

	require.Equal(c.t, authPrompt, c.readLine())
	c.sendLine(fmt.Sprintf("SIGNUP %s %s", username, password))
	require.Equal(c.t, "SIGNUP: SUCCESS", c.readLine())
	require.Equal(c.t, msgWelcome, c.readLine())
}

// upload runs a sized upload and returns the completion line.
func (c *testClient) upload(filename string, data []byte) string {
	c.t.Helper()

	c.sendLine(fmt.Sprintf("UPLOAD %s %d", filename, len(data)))
	require.Equal(c.t, msgReady, c.readLine())
	c.sendRaw(data)

	return c.readLine()
}

func TestFullSessionLifecycle(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialTestServer(t, srv)

	c.signup("alice", "secret")

	assert.Equal(t, "TASK_COMPLETE: SUCCESS - Upload successful.", c.upload("notes.txt", []byte("some file bytes")))

	c.sendLine("LIST")
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - Files:", c.readLine())
	assert.Equal(t, "notes.txt", c.readLine())

	c.sendLine("DOWNLOAD notes.txt")
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - some file bytes", c.readLine())

	c.sendLine("DELETE notes.txt")
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - Delete successful.", c.readLine())

	c.sendLine("LIST")
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - No files found.", c.readLine())

	c.sendLine("QUIT")
	assert.Equal(t, msgGoodbye, c.readLine())
}

func TestLoginAfterSignup(t *testing.T) {
	srv := startTestServer(t, nil)

	first := dialTestServer(t, srv)
	first.signup("bob", "hunter2")
	first.sendLine("QUIT")
	first.readLine()

	second := dialTestServer(t, srv)
	require.Equal(t, authPrompt, second.readLine())

	// Wrong password fails and re-prompts instead of dropping the
	// connection.
	second.sendLine("LOGIN bob wrong")
	assert.Equal(t, "LOGIN: FAILED", second.readLine())
	require.Equal(t, authPrompt, second.readLine())

	second.sendLine("LOGIN bob hunter2")
	assert.Equal(t, "LOGIN: SUCCESS", second.readLine())
	assert.Equal(t, msgWelcome, second.readLine())
}

func TestDuplicateSignup(t *testing.T) {
	srv := startTestServer(t, nil)

	first := dialTestServer(t, srv)
	first.signup("carol", "pw")

	second := dialTestServer(t, srv)
	require.Equal(t, authPrompt, second.readLine())
	second.sendLine("SIGNUP carol other")
	assert.Equal(t, "SIGNUP: USER_EXISTS", second.readLine())
	require.Equal(t, authPrompt, second.readLine())
}

func TestMalformedAuth(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialTestServer(t, srv)

	require.Equal(t, authPrompt, c.readLine())

	c.sendLine("SIGNUP alice")
	assert.Equal(t, msgAuthFormatError, c.readLine())
	require.Equal(t, authPrompt, c.readLine())

	c.sendLine("REGISTER alice pw")
	assert.Equal(t, msgAuthUnknownVerb, c.readLine())
	require.Equal(t, authPrompt, c.readLine())
}

func TestInvalidCommand(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialTestServer(t, srv)

	c.signup("dave", "pw")

	c.sendLine("FROBNICATE x")
	assert.Equal(t, msgInvalidCommand, c.readLine())

	// Session survives the bad command.
	c.sendLine("LIST")
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - No files found.", c.readLine())
}

func TestUploadDuplicateRejected(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialTestServer(t, srv)

	c.signup("erin", "pw")

	assert.Equal(t, "TASK_COMPLETE: SUCCESS - Upload successful.", c.upload("a.txt", []byte("original")))
	assert.Equal(t, "TASK_COMPLETE: FAILED - Upload failed: file already exists.", c.upload("a.txt", []byte("clobber")))

	// The original content survives the rejected re-upload.
	c.sendLine("DOWNLOAD a.txt")
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - original", c.readLine())
}

func TestDownloadAndDeleteMissing(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialTestServer(t, srv)

	c.signup("frank", "pw")

	c.sendLine("DOWNLOAD nothing.txt")
	assert.Equal(t, "TASK_COMPLETE: FAILED - Download failed.", c.readLine())

	c.sendLine("DELETE nothing.txt")
	assert.Equal(t, "TASK_COMPLETE: FAILED - Delete failed: file not found.", c.readLine())
}

func TestQuotaEnforced(t *testing.T) {
	srv := startTestServer(t, func(o *Options) {
		o.Registry = regmem.New(10)
	})
	c := dialTestServer(t, srv)

	c.signup("gina", "pw")

	assert.Equal(t, "TASK_COMPLETE: FAILED - Upload failed: quota exceeded.", c.upload("big.bin", []byte("01234567890")))

	assert.Equal(t, "TASK_COMPLETE: SUCCESS - Upload successful.", c.upload("small.bin", []byte("01234")))

	// 5 of 10 bytes used; 6 more will not fit.
	assert.Equal(t, "TASK_COMPLETE: FAILED - Upload failed: quota exceeded.", c.upload("other.bin", []byte("012345")))
}

func TestUploadExceedsMaxSize(t *testing.T) {
	srv := startTestServer(t, func(o *Options) {
		o.MaxUploadBytes = 8
	})
	c := dialTestServer(t, srv)

	c.signup("hank", "pw")

	body := []byte("this body is larger than eight bytes")
	c.sendLine(fmt.Sprintf("UPLOAD big.bin %d", len(body)))
	assert.Equal(t, msgUploadTooLarge, c.readLine())
	c.sendRaw(body)

	// The oversized body was drained, so the session keeps working.
	c.sendLine("LIST")
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - No files found.", c.readLine())
}

func TestHugeDeclaredUploadRejected(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialTestServer(t, srv)

	c.signup("judy", "pw")

	// No configured cap: the built-in ceiling still bounds the declared
	// size, so an absurd length is rejected before any allocation.
	c.sendLine("UPLOAD bomb.bin 4611686018427387904")
	assert.Equal(t, msgUploadTooLarge, c.readLine())

	// The client abandons the upload; only its own session ends.
	c.conn.Close()

	other := dialTestServer(t, srv)
	other.signup("kim", "pw")
	other.sendLine("LIST")
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - No files found.", other.readLine())
}

func TestLegacyUnsizedUpload(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialTestServer(t, srv)

	c.signup("ivan", "pw")

	c.sendLine("UPLOAD legacy.txt")
	require.Equal(t, msgReady, c.readLine())
	c.sendRaw([]byte("legacy payload"))
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - Upload successful.", c.readLine())

	c.sendLine("DOWNLOAD legacy.txt")
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - legacy payload", c.readLine())
}

func TestConcurrentClients(t *testing.T) {
	srv := startTestServer(t, nil)

	const clients = 4

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			c := dialTestServer(t, srv)
			user := fmt.Sprintf("user%d", i)
			content := fmt.Sprintf("content-%d", i)

			c.signup(user, "pw")
			assert.Equal(t, "TASK_COMPLETE: SUCCESS - Upload successful.", c.upload("mine.txt", []byte(content)))

			c.sendLine("DOWNLOAD mine.txt")
			assert.Equal(t, "TASK_COMPLETE: SUCCESS - "+content, c.readLine())

			c.sendLine("LIST")
			assert.Equal(t, "TASK_COMPLETE: SUCCESS - Files:", c.readLine())
			assert.Equal(t, "mine.txt", c.readLine())

			c.sendLine("QUIT")
			assert.Equal(t, msgGoodbye, c.readLine())
		}(i)
	}

	wg.Wait()
}

// gatedStore blocks Save until released, for filling the task queue
// deterministically.
type gatedStore struct {
	storage.FileStore

	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Save(ctx context.Context, username, filename string, data []byte) error {
	g.entered <- struct{}{}
	<-g.release

	return g.FileStore.Save(ctx, username, filename, data)
}

func TestServerBusyWhenTaskQueueFull(t *testing.T) {
	gated := &gatedStore{
		FileStore: storemem.New(),
		entered:   make(chan struct{}, 4),
		release:   make(chan struct{}),
	}

	srv := startTestServer(t, func(o *Options) {
		o.Store = gated
		o.WorkerThreads = 1
		o.TaskQueueCapacity = 1
		o.ClientThreads = 4
	})

	// First client's upload occupies the single worker inside Save.
	c1 := dialTestServer(t, srv)
	c1.signup("u1", "pw")
	c1.sendLine("UPLOAD a.txt 4")
	require.Equal(t, msgReady, c1.readLine())
	c1.sendRaw([]byte("aaaa"))

	select {
	case <-gated.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the store")
	}

	// Second client's upload fills the one-slot task queue.
	c2 := dialTestServer(t, srv)
	c2.signup("u2", "pw")
	c2.sendLine("UPLOAD b.txt 4")
	require.Equal(t, msgReady, c2.readLine())
	c2.sendRaw([]byte("bbbb"))

	require.Eventually(t, func() bool {
		return srv.tasks.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Third submission has nowhere to go and is shed with a busy reply.
	c3 := dialTestServer(t, srv)
	c3.signup("u3", "pw")
	c3.sendLine("UPLOAD c.txt 4")
	require.Equal(t, msgReady, c3.readLine())
	c3.sendRaw([]byte("cccc"))
	assert.Equal(t, msgServerBusy, c3.readLine())

	// After release, the pending uploads complete normally.
	close(gated.release)
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - Upload successful.", c1.readLine())
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - Upload successful.", c2.readLine())
}

func TestConnectionQueueSheds(t *testing.T) {
	srv := startTestServer(t, func(o *Options) {
		o.ClientThreads = 1
		o.ClientQueueCapacity = 1
	})

	// Occupies the only handler.
	c1 := dialTestServer(t, srv)
	require.Equal(t, authPrompt, c1.readLine())

	// Waits in the connection queue.
	c2, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c2.Close() })

	require.Eventually(t, func() bool {
		return srv.conns.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// No room left: turned away with a busy line, then closed.
	c3 := dialTestServer(t, srv)
	assert.Equal(t, msgServerBusy, c3.readLine())

	_, err = c3.reader.ReadString('\n')
	assert.Error(t, err)
}

func TestRateLimiterSheds(t *testing.T) {
	srv := startTestServer(t, func(o *Options) {
		o.RequestsPerSecond = 1
		o.RateBurst = 1
	})
	c := dialTestServer(t, srv)

	c.signup("rate", "pw")

	c.sendLine("LIST")
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - No files found.", c.readLine())

	// The burst token is spent; an immediate second command is shed.
	c.sendLine("LIST")
	assert.Equal(t, msgServerBusy, c.readLine())
}

func TestGracefulShutdownCompletesQueuedTask(t *testing.T) {
	gated := &gatedStore{
		FileStore: storemem.New(),
		entered:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}

	opts := Options{
		Address:         "127.0.0.1:0",
		Registry:        regmem.New(0),
		Store:           gated,
		WorkerThreads:   1,
		ShutdownTimeout: 500 * time.Millisecond,
	}

	srv, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	c := dialTestServer(t, srv)
	c.signup("shut", "pw")
	c.sendLine("UPLOAD last.txt 4")
	require.Equal(t, msgReady, c.readLine())
	c.sendRaw([]byte("data"))

	select {
	case <-gated.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the store")
	}

	cancel()

	// The in-flight task still finishes and its session still gets the
	// reply before the socket goes away.
	time.Sleep(100 * time.Millisecond)
	close(gated.release)
	assert.Equal(t, "TASK_COMPLETE: SUCCESS - Upload successful.", c.readLine())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}

	// The upload committed despite arriving at shutdown.
	data, err := gated.FileStore.Load(context.Background(), "shut", "last.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
}

func TestRequiredOptions(t *testing.T) {
	_, err := New(Options{Store: storemem.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry")

	_, err = New(Options{Registry: regmem.New(0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store")
}
