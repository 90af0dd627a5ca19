package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrdering(t *testing.T) {
	q := New[int](8)

	for i := 0; i < 8; i++ {
		require.NoError(t, q.Enqueue(i))
	}

	for i := 0; i < 8; i++ {
		got, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, i, got, "elements must come out in insertion order")
	}
}

func TestCapacityClamp(t *testing.T) {
	q := New[string](0)
	assert.Equal(t, 1, q.Cap())
}

func TestTryEnqueueFull(t *testing.T) {
	q := New[int](2)

	require.NoError(t, q.TryEnqueue(1))
	require.NoError(t, q.TryEnqueue(2))
	assert.ErrorIs(t, q.TryEnqueue(3), ErrFull)

	// Draining one slot makes room again.
	_, err := q.Dequeue()
	require.NoError(t, err)
	assert.NoError(t, q.TryEnqueue(3))
}

func TestCountNeverExceedsCapacity(t *testing.T) {
	const capacity = 4
	q := New[int](capacity)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Hammer the queue from both sides while sampling Len.
	for p := 0; p < 3; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				if err := q.TryEnqueue(i); err == ErrClosed {
					return
				}
			}
		}()
	}

	for c := 0; c < 3; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := q.Dequeue(); err == ErrClosed {
					return
				}
			}
		}()
	}

	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case <-deadline:
			close(stop)
			q.Close()
			wg.Wait()
			return
		default:
			n := q.Len()
			require.LessOrEqual(t, n, capacity)
			require.GreaterOrEqual(t, n, 0)
		}
	}
}

func TestEnqueueBlocksUntilSpace(t *testing.T) {
	q := New[int](1)
	require.NoError(t, q.Enqueue(1))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(2)
	}()

	select {
	case <-done:
		t.Fatal("Enqueue should block while the queue is full")
	case <-time.After(30 * time.Millisecond):
	}

	got, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked Enqueue did not resume after space became available")
	}

	got, err = q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestDequeueBlocksUntilItem(t *testing.T) {
	q := New[int](1)

	type result struct {
		value int
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := q.Dequeue()
		done <- result{v, err}
	}()

	select {
	case <-done:
		t.Fatal("Dequeue should block while the queue is empty")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, q.Enqueue(42))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, 42, r.value)
	case <-time.After(time.Second):
		t.Fatal("blocked Dequeue did not resume after an item arrived")
	}
}

func TestCloseWakesBlockedDequeue(t *testing.T) {
	q := New[int](1)

	done := make(chan error, 1)
	go func() {
		_, err := q.Dequeue()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the blocked Dequeue")
	}
}

func TestCloseWakesBlockedEnqueue(t *testing.T) {
	q := New[int](1)
	require.NoError(t, q.Enqueue(1))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(2)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the blocked Enqueue")
	}
}

func TestCloseDrainsRemainingItems(t *testing.T) {
	q := New[int](4)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))

	q.Close()

	got, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	_, err = q.Dequeue()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	q := New[int](1)
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Enqueue(1), ErrClosed)
	assert.ErrorIs(t, q.TryEnqueue(1), ErrClosed)
}
