package agent

import (
	"errors"
	"sync"
)

// queueCapacity bounds the follow-up mailbox.
const queueCapacity = 10

// ErrQueueFull is returned when the mailbox is at capacity.
var ErrQueueFull = errors.New("message queue is full")

// MessageQueue is an ordered mailbox of follow-up user messages enqueued
// while the loop runs. Drained into history between iterations.
type MessageQueue struct {
	mu    sync.Mutex
	items []string
}

// NewMessageQueue creates an empty queue.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{}
}

// Enqueue appends a follow-up message.
func (q *MessageQueue) Enqueue(content string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= queueCapacity {
		return ErrQueueFull
	}
	q.items = append(q.items, content)
	return nil
}

// Dequeue pops the oldest message. The second return is false when empty.
func (q *MessageQueue) Dequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of queued messages.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
