// Package protocol encodes the text payloads written to and read from the
// micro:bit UART characteristics.
package protocol

import (
	"errors"
	"fmt"
)

// Terminator ends every command and text line sent to the micro:bit.
const Terminator = '\n'

// ErrInvalidCommand is returned for command bytes outside A-Z.
var ErrInvalidCommand = errors.New("protocol: command must be a single ASCII letter A-Z")

// EncodeCommand returns the wire payload for a single-letter command:
// the letter followed by a newline byte. No length prefix, no framing.
func EncodeCommand(letter byte) ([]byte, error) {
	if letter < 'A' || letter > 'Z' {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidCommand, letter)
	}
	return []byte{letter, Terminator}, nil
}

// ParseCommand accepts a user-typed command such as "a" or "B" and returns
// the uppercase command letter.
func ParseCommand(s string) (byte, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("%w: got %q", ErrInvalidCommand, s)
	}
	c := s[0]
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	if c < 'A' || c > 'Z' {
		return 0, fmt.Errorf("%w: got %q", ErrInvalidCommand, s)
	}
	return c, nil
}
