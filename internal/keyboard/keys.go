// Package keyboard turns operator key presses into control loop event
// flags.
package keyboard

import (
	"bufio"
	"io"
	"unicode/utf8"
)

// Key represents a keyboard input.
type Key int

const (
	KeyUnknown Key = iota
	KeyEscape
	KeyEnter
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyCtrlC
	KeyRune // Regular character
)

// String returns the key name.
func (k Key) String() string {
	switch k {
	case KeyEscape:
		return "esc"
	case KeyEnter:
		return "enter"
	case KeyUp:
		return "up"
	case KeyDown:
		return "down"
	case KeyLeft:
		return "left"
	case KeyRight:
		return "right"
	case KeyCtrlC:
		return "ctrl+c"
	case KeyRune:
		return "rune"
	default:
		return "unknown"
	}
}

// KeyEvent represents a key press event.
type KeyEvent struct {
	Key  Key
	Rune rune // Only valid when Key == KeyRune
}

// KeyReader reads key presses from a raw terminal.
type KeyReader struct {
	reader *bufio.Reader
}

// NewKeyReader creates a KeyReader from the given io.Reader, normally
// stdin after it was put in raw mode.
func NewKeyReader(r io.Reader) *KeyReader {
	return &KeyReader{reader: bufio.NewReaderSize(r, 64)}
}

// ReadKey blocks until the next key press.
func (k *KeyReader) ReadKey() (KeyEvent, error) {
	b, err := k.reader.ReadByte()
	if err != nil {
		return KeyEvent{}, err
	}

	switch b {
	case 0x03:
		return KeyEvent{Key: KeyCtrlC}, nil
	case 0x0D, 0x0A:
		return KeyEvent{Key: KeyEnter}, nil
	case 0x1B:
		return k.readEscapeSequence()
	default:
		if b >= 0x20 && b < 0x7F {
			return KeyEvent{Key: KeyRune, Rune: rune(b)}, nil
		}
		if b >= 0xC0 {
			return k.readUTF8(b)
		}
		return KeyEvent{Key: KeyUnknown}, nil
	}
}

// readEscapeSequence tells a lone Esc from an arrow key sequence. A
// terminal delivers a whole sequence in one read, so an Esc with nothing
// buffered behind it is the Esc key.
func (k *KeyReader) readEscapeSequence() (KeyEvent, error) {
	if k.reader.Buffered() == 0 {
		return KeyEvent{Key: KeyEscape}, nil
	}
	b, err := k.reader.ReadByte()
	if err != nil {
		return KeyEvent{Key: KeyEscape}, nil
	}
	if b != '[' && b != 'O' {
		_ = k.reader.UnreadByte()
		return KeyEvent{Key: KeyEscape}, nil
	}
	return k.parseCSI()
}

// parseCSI parses the final byte of a CSI or SS3 sequence.
func (k *KeyReader) parseCSI() (KeyEvent, error) {
	b, err := k.reader.ReadByte()
	if err != nil {
		return KeyEvent{Key: KeyEscape}, nil
	}

	switch b {
	case 'A':
		return KeyEvent{Key: KeyUp}, nil
	case 'B':
		return KeyEvent{Key: KeyDown}, nil
	case 'C':
		return KeyEvent{Key: KeyRight}, nil
	case 'D':
		return KeyEvent{Key: KeyLeft}, nil
	default:
		// Skip the rest of an unknown sequence.
		for k.reader.Buffered() > 0 {
			next, _ := k.reader.ReadByte()
			if (next >= 'A' && next <= 'Z') || next == '~' {
				break
			}
		}
		return KeyEvent{Key: KeyUnknown}, nil
	}
}

// readUTF8 reads a multi-byte UTF-8 character.
func (k *KeyReader) readUTF8(first byte) (KeyEvent, error) {
	var buf [4]byte
	buf[0] = first

	var n int
	switch {
	case first&0xE0 == 0xC0:
		n = 2
	case first&0xF0 == 0xE0:
		n = 3
	case first&0xF8 == 0xF0:
		n = 4
	default:
		return KeyEvent{Key: KeyUnknown}, nil
	}

	for i := 1; i < n; i++ {
		b, err := k.reader.ReadByte()
		if err != nil {
			return KeyEvent{Key: KeyUnknown}, err
		}
		buf[i] = b
	}

	r, _ := utf8.DecodeRune(buf[:n])
	if r == utf8.RuneError {
		return KeyEvent{Key: KeyUnknown}, nil
	}
	return KeyEvent{Key: KeyRune, Rune: r}, nil
}

// Command is what a key press asks the control loop to do.
type Command int

const (
	CommandNone     Command = iota
	CommandExitEarly        // right arrow - end the current phase
	CommandRerecord         // left arrow - discard and redo the episode
	CommandStop             // esc - stop recording
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CommandExitEarly:
		return "exit early"
	case CommandRerecord:
		return "rerecord"
	case CommandStop:
		return "stop"
	default:
		return "none"
	}
}

// CommandFor maps a key press to a Command. Ctrl+C is treated as Esc
// because raw mode keeps it from raising SIGINT.
func CommandFor(ev KeyEvent) Command {
	switch ev.Key {
	case KeyRight:
		return CommandExitEarly
	case KeyLeft:
		return CommandRerecord
	case KeyEscape, KeyCtrlC:
		return CommandStop
	default:
		return CommandNone
	}
}
