package input

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"unicode"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"golang.org/x/term"

	"go.viam.com/depthrelay/logging"
)

const ctrlC = 0x03

// TerminalSource turns single key strokes read from a terminal into key press events. When the
// reader is a terminal it is switched to raw mode for the lifetime of the source so keys arrive
// without waiting for enter.
type TerminalSource struct {
	r      io.Reader
	logger logging.Logger

	mu           sync.Mutex
	restore      func() error
	cancel       context.CancelFunc
	activeWorker sync.WaitGroup
	closed       bool
}

// NewTerminalSource reads keys from r, typically os.Stdin.
func NewTerminalSource(r io.Reader, logger logging.Logger) *TerminalSource {
	return &TerminalSource{r: r, logger: logger.Sublogger("terminal")}
}

// KeyName maps a typed byte to the name the session understands. The second return is false for
// bytes that do not produce an event.
func KeyName(b byte) (string, bool) {
	switch b {
	case ' ':
		return KeySpace, true
	case '+', '=':
		return KeyPlus, true
	case '-', '_':
		return KeyMinus, true
	case ctrlC:
		return KeyQuit, true
	case '\r', '\n', '\t':
		return "", false
	}
	if b < 0x20 || b >= 0x7f {
		return "", false
	}
	return string(unicode.ToLower(rune(b))), true
}

// Start begins delivering key presses to handler.
func (ts *TerminalSource) Start(ctx context.Context, handler Handler) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return errors.New("terminal source already closed")
	}
	if ts.cancel != nil {
		return errors.New("terminal source already started")
	}

	if f, ok := ts.r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		state, err := term.MakeRaw(fd)
		if err != nil {
			return errors.Wrap(err, "cannot put terminal in raw mode")
		}
		ts.restore = func() error { return term.Restore(fd, state) }
		ts.logger.Info("reading keys from terminal: space p f q + -")
	}

	ctx, cancel := context.WithCancel(ctx)
	ts.cancel = cancel
	keys := make(chan byte)

	utils.PanicCapturingGo(func() {
		reader := bufio.NewReader(ts.r)
		for {
			b, err := reader.ReadByte()
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
					ts.logger.Debugw("terminal read stopped", "error", err)
				}
				return
			}
			select {
			case keys <- b:
			case <-ctx.Done():
				return
			}
		}
	})

	ts.activeWorker.Add(1)
	utils.ManagedGo(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case b := <-keys:
				name, ok := KeyName(b)
				if !ok {
					continue
				}
				disposition := handler(NewKeyPress(name))
				ts.logger.Debugw("key", "name", name, "disposition", disposition)
			}
		}
	}, ts.activeWorker.Done)
	return nil
}

// Close stops delivering events and restores the terminal. The blocked read on the underlying
// reader ends when the reader is closed or the process exits.
func (ts *TerminalSource) Close() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return nil
	}
	ts.closed = true
	if ts.cancel != nil {
		ts.cancel()
	}
	ts.activeWorker.Wait()
	if ts.restore != nil {
		return ts.restore()
	}
	return nil
}
