package wire

import (
	"bufio"
	"io"
)

// MaxFrameSize bounds a single message on either transport. It matches the
// datagram read buffer, so a message that fits in a datagram also fits in a
// stream frame.
const MaxFrameSize = 4096

// WriteFrame writes one newline-delimited message to a stream.
func WriteFrame(w io.Writer, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return err
	}

	_, err := w.Write([]byte{'\n'})
	return err
}

// NewFrameScanner returns a scanner that yields one message per Scan from a
// newline-delimited stream.
func NewFrameScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024), MaxFrameSize)
	return sc
}
