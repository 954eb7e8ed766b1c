// Package wire implements the framing used on both the client socket and
// the netd socket: a fixed-width unsigned length followed by exactly that
// many bytes of UTF-8 text. There is no escaping and no checksum.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// HeaderSize is the width of the length field. It matches the native
// size_t of 64-bit peers, little-endian.
const HeaderSize = 8

const (
	// MaxCommandLen is the exclusive upper bound of a command length.
	MaxCommandLen = 4096

	// MaxResponseLen is the exclusive upper bound of a response length.
	MaxResponseLen = 8192
)

var ErrShortMessage = errors.New("peer closed the connection in the middle of a message")

type MessageTooLargeError struct {
	Length uint64
	Limit  int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("message too large: %d bytes (limit is %d)", e.Length, e.Limit-1)
}

func IsMessageTooLargeError(err error) bool {
	var e *MessageTooLargeError

	return errors.As(err, &e)
}

// WriteMessage writes one framed message.
func WriteMessage(w io.Writer, msg string) error {
	buf := make([]byte, HeaderSize+len(msg))

	binary.LittleEndian.PutUint64(buf, uint64(len(msg)))

	copy(buf[HeaderSize:], msg)

	_, err := w.Write(buf)

	return err
}

// ReadMessage reads one framed message whose length must be less than limit.
// It returns io.EOF if the peer closed the connection cleanly between
// messages and ErrShortMessage if it was closed in the middle of one.
func ReadMessage(r io.Reader, limit int) (string, error) {
	hdr := make([]byte, HeaderSize)

	switch _, err := io.ReadFull(r, hdr); {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "", ErrShortMessage
	default:
		return "", err
	}

	n := binary.LittleEndian.Uint64(hdr)

	if n >= uint64(limit) {
		return "", &MessageTooLargeError{Length: n, Limit: limit}
	}

	body := make([]byte, n)

	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", ErrShortMessage
		}
		return "", err
	}

	return string(body), nil
}

// Truncate cuts s so that it fits into a message bounded by limit,
// never splitting a UTF-8 sequence.
func Truncate(s string, limit int) string {
	if len(s) < limit {
		return s
	}

	n := limit - 1

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}
