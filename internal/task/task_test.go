package task

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsUniqueIDs(t *testing.T) {
	a := New("alice", OpList, "", nil)
	b := New("alice", OpList, "", nil)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestWaitReturnsPublishedResult(t *testing.T) {
	tk := New("alice", OpDownload, "a.txt", nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		tk.Complete(StatusOK, "Download successful.", []byte("hello"))
	}()

	res := tk.Wait()
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "Download successful.", res.Message)
	assert.Equal(t, []byte("hello"), res.Payload)
}

func TestWaitAfterComplete(t *testing.T) {
	tk := New("bob", OpDelete, "b.txt", nil)

	require.True(t, tk.Complete(StatusNotFound, "Delete failed: file not found.", nil))

	// Result already published: Wait must not block.
	done := make(chan Result, 1)
	go func() {
		done <- tk.Wait()
	}()

	select {
	case res := <-done:
		assert.Equal(t, StatusNotFound, res.Status)
	case <-time.After(time.Second):
		t.Fatal("Wait blocked even though the result was already published")
	}
}

func TestCompleteIsWriteOnce(t *testing.T) {
	tk := New("alice", OpUpload, "a.txt", []byte("data"))

	require.True(t, tk.Complete(StatusOK, "Upload successful.", nil))
	require.False(t, tk.Complete(StatusError, "should be ignored", nil))

	res := tk.Wait()
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "Upload successful.", res.Message)
}

func TestConcurrentCompleteSingleWinner(t *testing.T) {
	tk := New("alice", OpList, "", nil)

	const attempts = 16
	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if tk.Complete(StatusOK, "winner", nil) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	assert.EqualValues(t, 1, wins, "exactly one Complete call may win")
	assert.True(t, tk.Completed())
}

func TestStatusSuccess(t *testing.T) {
	assert.True(t, StatusOK.Success())

	for _, s := range []Status{StatusError, StatusAuthFailed, StatusQuotaExceeded, StatusNotFound, StatusAlreadyExists} {
		assert.False(t, s.Success())
	}
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "UPLOAD", OpUpload.String())
	assert.Equal(t, "DOWNLOAD", OpDownload.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "LIST", OpList.String())
	assert.Equal(t, "UNKNOWN", Op(99).String())
}
