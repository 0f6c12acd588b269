package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerialQueueProcessesInOrder(t *testing.T) {
	q := newSerialQueue(8)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		q.Submit(func() { order = append(order, i) })
	}
	q.Close()

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSerialQueueDrainsBufferedJobsBeforeClosing(t *testing.T) {
	q := newSerialQueue(16)
	done := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		q.Submit(func() { done <- struct{}{} })
	}
	q.Close()

	require.Len(t, done, 16)
}

func TestSerialQueueSubmitAfterCloseIsANoop(t *testing.T) {
	q := newSerialQueue(4)
	q.Close()

	require.NotPanics(t, func() {
		q.Submit(func() { t.Fatal("job submitted after close must never run") })
	})
}
