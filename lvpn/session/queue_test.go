package session

import (
	"errors"
	"sync"
	"testing"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(3)
	for _, s := range []string{"a", "b", "c"} {
		if err := q.Push([]byte(s)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if err := q.Push([]byte("d")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Peek()
		if !ok || string(got) != want {
			t.Fatalf("Peek = %q, want %q", got, want)
		}
		q.Pop()
	}
	if _, ok := q.Peek(); ok {
		t.Fatalf("expected empty queue")
	}
	q.Pop()
}

func TestQueuePeekKeepsItem(t *testing.T) {
	q := NewQueue(1)
	_ = q.Push([]byte("x"))
	q.Peek()
	q.Peek()
	if q.Len() != 1 {
		t.Fatalf("Peek removed the item")
	}
	if n := q.Clear(); n != 1 || q.Len() != 0 {
		t.Fatalf("Clear returned %d", n)
	}
}

func TestQueueConcurrentPush(t *testing.T) {
	q := NewQueue(100)
	var wg sync.WaitGroup
	var mu sync.Mutex
	full := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.Push([]byte{1}); err != nil {
				mu.Lock()
				full++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if q.Len() != 100 || full != 100 {
		t.Fatalf("len=%d full=%d", q.Len(), full)
	}
}
