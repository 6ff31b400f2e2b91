// Package cancel provides the cooperative cancellation fabric shared by the
// stream client, tool executions, and sub-agent loops.
package cancel

import (
	"context"
	"sync"
	"time"
)

// Token is a one-shot cancellation signal for a single user turn. Setting it
// is idempotent; every blocking operation in the turn selects over Done().
type Token struct {
	once sync.Once
	ch   chan struct{}
}

// NewToken creates an unfired token.
func NewToken() *Token {
	return &Token{ch: make(chan struct{})}
}

// Cancel fires the token. Safe to call from any goroutine, any number of
// times.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.ch) })
}

// Done returns a channel closed when the token fires.
func (t *Token) Done() <-chan struct{} {
	return t.ch
}

// Cancelled reports whether the token has fired.
func (t *Token) Cancelled() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Context derives a context cancelled when either the parent or the token
// fires. The returned stop func releases the watcher goroutine and must be
// called when the operation completes.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancelFn := context.WithCancel(parent)
	go func() {
		select {
		case <-t.ch:
			cancelFn()
		case <-ctx.Done():
		}
	}()
	return ctx, cancelFn
}

// Countdown waits the given number of seconds before a retry, invoking tick
// once per remaining second. It returns true when the caller should retry
// and false when the wait was cancelled.
func Countdown(tok *Token, seconds int, tick func(remaining int)) bool {
	if seconds <= 0 {
		seconds = 5
	}
	for remaining := seconds; remaining > 0; remaining-- {
		if tick != nil {
			tick(remaining)
		}
		select {
		case <-time.After(time.Second):
		case <-tok.Done():
			return false
		}
	}
	return !tok.Cancelled()
}
