package keyboard

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"
)

// Terminal switches a terminal file between cooked and raw mode.
type Terminal struct {
	in       *os.File
	oldState *term.State
	isRaw    bool
}

// NewTerminal creates a Terminal for in, normally os.Stdin.
func NewTerminal(in *os.File) *Terminal {
	return &Terminal{in: in}
}

// IsTerminal reports whether the underlying file is a terminal.
func (t *Terminal) IsTerminal() bool {
	return term.IsTerminal(int(t.in.Fd()))
}

// EnterRaw puts the terminal into raw mode.
// Returns an error if already in raw mode or if the operation fails.
func (t *Terminal) EnterRaw() error {
	if t.isRaw {
		return fmt.Errorf("terminal already in raw mode")
	}

	oldState, err := term.MakeRaw(int(t.in.Fd()))
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}

	t.oldState = oldState
	t.isRaw = true
	return nil
}

// ExitRaw restores the terminal to its original state.
// Safe to call even if not in raw mode.
func (t *Terminal) ExitRaw() error {
	if !t.isRaw || t.oldState == nil {
		return nil
	}

	if err := term.Restore(int(t.in.Fd()), t.oldState); err != nil {
		return fmt.Errorf("failed to restore terminal: %w", err)
	}

	t.isRaw = false
	t.oldState = nil
	return nil
}

// IsRaw returns true if the terminal is in raw mode.
func (t *Terminal) IsRaw() bool {
	return t.isRaw
}

// Read reads up to len(p) bytes from the terminal input.
func (t *Terminal) Read(p []byte) (n int, err error) {
	return t.in.Read(p)
}

// SetReadDeadline sets the deadline for pending and future reads. Files
// that are not pollable return os.ErrNoDeadline.
func (t *Terminal) SetReadDeadline(deadline time.Time) error {
	return t.in.SetReadDeadline(deadline)
}

// crlfWriter rewrites "\n" as "\r\n". Raw mode turns off output
// processing, so plain newlines would not return the cursor.
type crlfWriter struct {
	w io.Writer
}

// NewCRLFWriter wraps w for use while the terminal is raw.
func NewCRLFWriter(w io.Writer) io.Writer {
	return crlfWriter{w: w}
}

func (c crlfWriter) Write(p []byte) (int, error) {
	converted := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	if _, err := c.w.Write(converted); err != nil {
		return 0, err
	}
	return len(p), nil
}
