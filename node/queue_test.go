package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBoundedQueueDropsWhenFull(t *testing.T) {
	q := NewBoundedQueue[int](3)

	require.True(t, q.TryEnqueue(1))
	require.True(t, q.TryEnqueue(2))
	require.True(t, q.TryEnqueue(3))
	require.False(t, q.TryEnqueue(4))
	require.Equal(t, 3, q.Len())
}

func TestBoundedQueueFIFOOrder(t *testing.T) {
	q := NewBoundedQueue[int](3)
	q.TryEnqueue(1)
	q.TryEnqueue(2)
	q.TryEnqueue(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	_, ok := q.TryDequeue()
	require.False(t, ok)
}

func TestBoundedQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewBoundedQueue[int](1)
	quit := make(chan struct{})

	done := make(chan int, 1)
	go func() {
		item, ok := q.Dequeue(quit)
		if ok {
			done <- item
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.TryEnqueue(42)

	select {
	case got := <-done:
		require.Equal(t, 42, got)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after enqueue")
	}
}

func TestBoundedQueueDequeueUnblocksOnQuit(t *testing.T) {
	q := NewBoundedQueue[int](1)
	quit := make(chan struct{})

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(quit)
		done <- ok
	}()

	close(quit)

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after quit")
	}
}

func TestBoundedQueueAfterCapacityFreedCanEnqueueAgain(t *testing.T) {
	q := NewBoundedQueue[int](1)
	require.True(t, q.TryEnqueue(1))
	require.False(t, q.TryEnqueue(2))

	_, ok := q.TryDequeue()
	require.True(t, ok)

	require.True(t, q.TryEnqueue(3))
}
