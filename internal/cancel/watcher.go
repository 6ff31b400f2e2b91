package cancel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"
)

// escapeGrace distinguishes a bare Escape keypress from the first byte of a
// terminal escape sequence: if no byte follows ESC within this window, the
// user pressed Escape alone.
const escapeGrace = 150 * time.Millisecond

// ErrEscaped reports that a prompt read was aborted by the Escape key.
var ErrEscaped = errors.New("cancelled by escape")

// EscapeWatcher is the sole reader of raw-mode stdin for the duration of a
// turn. It fires the token on a bare Escape key and lends the byte stream to
// ReadLine while a prompt is open, so the prompt never competes with the
// watcher for keystrokes.
type EscapeWatcher struct {
	tok *Token
	fd  int
	old *term.State

	done chan struct{}

	mu      sync.Mutex
	forward chan byte
}

// WatchEscape puts stdin into raw mode and starts the watcher. Stop restores
// the terminal. Fails when stdin is not a terminal.
func WatchEscape(tok *Token) (*EscapeWatcher, error) {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	w := &EscapeWatcher{
		tok:  tok,
		fd:   fd,
		old:  oldState,
		done: make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *EscapeWatcher) loop() {
	buf := make([]byte, 1)
	for {
		select {
		case <-w.done:
			return
		case <-w.tok.Done():
			return
		default:
		}
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return
		}
		if buf[0] == 0x1b {
			// Peek for a following byte; a sequence like an arrow key
			// delivers it immediately, a bare Escape does not.
			_ = os.Stdin.SetReadDeadline(time.Now().Add(escapeGrace))
			n, err = os.Stdin.Read(buf)
			_ = os.Stdin.SetReadDeadline(time.Time{})
			if n == 0 || err != nil {
				w.tok.Cancel()
				return
			}
			continue
		}
		w.mu.Lock()
		ch := w.forward
		w.mu.Unlock()
		if ch != nil {
			select {
			case ch <- buf[0]:
			default:
			}
		}
	}
}

// Stop restores the terminal and ends the watcher.
func (w *EscapeWatcher) Stop() {
	close(w.done)
	_ = term.Restore(w.fd, w.old)
}

// ReadLine borrows the input stream to answer a prompt. Bytes the watcher
// would otherwise discard are collected until Enter (raw mode delivers "\r"),
// echoed to out. Escape still cancels the turn and aborts the read with
// ErrEscaped.
func (w *EscapeWatcher) ReadLine(ctx context.Context, out io.Writer) (string, error) {
	ch := make(chan byte, 16)
	w.mu.Lock()
	w.forward = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.forward = nil
		w.mu.Unlock()
	}()

	var line []byte
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-w.tok.Done():
			return "", ErrEscaped
		case b := <-ch:
			switch b {
			case '\r', '\n':
				fmt.Fprint(out, "\r\n")
				return string(line), nil
			case 0x7f, 0x08:
				if len(line) > 0 {
					line = line[:len(line)-1]
					fmt.Fprint(out, "\b \b")
				}
			default:
				line = append(line, b)
				fmt.Fprintf(out, "%c", b)
			}
		}
	}
}

// WatchSignals fires the token on SIGINT or SIGTERM. The returned stop func
// detaches the handler.
func WatchSignals(tok *Token) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			tok.Cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
