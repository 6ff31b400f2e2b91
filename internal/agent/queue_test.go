package agent

import (
	"errors"
	"fmt"
	"testing"
)

func TestMessageQueueFIFO(t *testing.T) {
	q := NewMessageQueue()
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 3; i++ {
		got, ok := q.Dequeue()
		if !ok || got != fmt.Sprintf("msg-%d", i) {
			t.Fatalf("dequeue %d = %q, %v", i, got, ok)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("empty queue should report not ok")
	}
}

func TestMessageQueueCapacity(t *testing.T) {
	q := NewMessageQueue()
	for i := 0; i < queueCapacity; i++ {
		if err := q.Enqueue("m"); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.Enqueue("overflow"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if q.Len() != queueCapacity {
		t.Fatalf("len = %d", q.Len())
	}
}
