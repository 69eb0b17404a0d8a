package keyboard

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thruflo/botloop/internal/events"
	"github.com/thruflo/botloop/internal/logging"
)

// Handle stops a running listener. When the input cannot take a read
// deadline, the reader goroutine stays blocked after Stop and consumes the
// next byte typed.
type Handle interface {
	Stop() error
}

// Listener reads key presses and sets the matching flags. It runs until
// its reader fails or Stop is called.
type Listener struct {
	input   io.Reader
	keys    *KeyReader
	flags   *events.Flags
	logger  *logging.Logger
	stopped atomic.Bool
	done    chan struct{}
}

// NewListener creates a listener reading key presses from r.
func NewListener(r io.Reader, flags *events.Flags, logger *logging.Logger) *Listener {
	if logger == nil {
		logger = logging.Default()
	}
	return &Listener{
		input:  r,
		keys:   NewKeyReader(r),
		flags:  flags,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Run reads key presses until the reader returns an error or the listener
// is stopped. A failure handling one key is logged and does not end the
// listener.
func (l *Listener) Run() {
	defer close(l.done)
	for !l.stopped.Load() {
		ev, err := l.keys.ReadKey()
		if err != nil {
			if !errors.Is(err, io.EOF) && !l.stopped.Load() {
				l.logger.Warn("Keyboard listener stopped", "error", err)
			}
			return
		}
		if l.stopped.Load() {
			return
		}
		if err := l.handle(ev); err != nil {
			l.logger.Warn("Error handling key press", "key", ev.Key.String(), "error", err)
		}
	}
}

// Done is closed when Run returns.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// deadliner is implemented by inputs such as pipes and pollable terminals.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Stop makes Run return. A blocked read is interrupted when the input
// supports read deadlines; otherwise Run returns after the next key press.
func (l *Listener) Stop() error {
	l.stopped.Store(true)
	if d, ok := l.input.(deadliner); ok {
		if err := d.SetReadDeadline(time.Now()); err != nil && !errors.Is(err, os.ErrNoDeadline) {
			return fmt.Errorf("interrupt keyboard read: %w", err)
		}
	}
	return nil
}

func (l *Listener) handle(ev KeyEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch CommandFor(ev) {
	case CommandExitEarly:
		l.logger.Info("Right arrow key pressed. Exiting loop...")
		l.flags.SetExitEarly()
	case CommandRerecord:
		l.logger.Info("Left arrow key pressed. Exiting loop and rerecord the last episode...")
		l.flags.RequestRerecord()
	case CommandStop:
		l.logger.Info("Escape key pressed. Stopping data recording...")
		l.flags.RequestStop()
	}
	return nil
}

// terminalHandle restores the terminal when the listener stops.
type terminalHandle struct {
	listener *Listener
	terminal *Terminal
	once     sync.Once
	err      error
}

func (h *terminalHandle) Stop() error {
	h.once.Do(func() {
		h.err = errors.Join(h.listener.Stop(), h.terminal.ExitRaw())
	})
	return h.err
}

type nopHandle struct{}

func (nopHandle) Stop() error { return nil }

// Start begins listening on stdin for key presses that set flags. When
// headless it returns a handle that does nothing and flags are never set.
func Start(flags *events.Flags, logger *logging.Logger) Handle {
	return start(Headless(), os.Stdin, flags, logger)
}

func start(headless bool, in *os.File, flags *events.Flags, logger *logging.Logger) Handle {
	if logger == nil {
		logger = logging.Default()
	}
	if headless {
		return nopHandle{}
	}

	terminal := NewTerminal(in)
	if err := terminal.EnterRaw(); err != nil {
		logger.Warn("Could not read the keyboard, keyboard controls are disabled", "error", err)
		return nopHandle{}
	}

	listener := NewListener(terminal, flags, logger)
	go listener.Run()
	return &terminalHandle{listener: listener, terminal: terminal}
}
