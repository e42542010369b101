package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueue_CloseKeepsItems(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Close()

	assert.False(t, q.Push("b"))
	assert.False(t, q.Drained())

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.True(t, q.Drained())
}

func TestQueue_Clear(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Clear()
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int]()
	const producers, perProducer = 4, 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(i)
			}
		}()
	}

	done := make(chan int)
	go func() {
		count := 0
		for {
			for {
				if _, ok := q.Pop(); !ok {
					break
				}
				count++
			}
			if q.Drained() {
				done <- count
				return
			}
			<-q.Ready()
		}
	}()

	wg.Wait()
	q.Close()
	assert.Equal(t, producers*perProducer, <-done)
}
