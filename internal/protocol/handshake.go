package protocol

import (
	"fmt"
	"io"
)

const (
	// HandshakeToken is the token the host sends to open a session.
	HandshakeToken = "STREAMLINE"

	// MaxTokenLength bounds a single handshake token.
	MaxTokenLength = 64
)

// HandshakeResponse is the line sent back once the host has identified itself.
func HandshakeResponse(version int) string {
	return fmt.Sprintf("CAIMAN %d\n", version)
}

// ReadToken reads bytes one at a time until a NUL, CR or LF terminator, or
// until MaxTokenLength bytes have been read.
func ReadToken(r io.Reader) (string, error) {
	var buf [MaxTokenLength]byte
	var one [1]byte
	n := 0
	for n < len(buf) {
		if _, err := io.ReadFull(r, one[:]); err != nil {
			return string(buf[:n]), err
		}
		switch one[0] {
		case 0, '\n', '\r':
			return string(buf[:n]), nil
		}
		buf[n] = one[0]
		n++
	}
	return string(buf[:n]), nil
}

// AwaitHandshake discards tokens until the host sends HandshakeToken, then
// replies with the CAIMAN version line.
func AwaitHandshake(rw io.ReadWriter, version int) error {
	for {
		tok, err := ReadToken(rw)
		if tok == HandshakeToken {
			break
		}
		if err != nil {
			return fmt.Errorf("await handshake: %w", err)
		}
	}
	if _, err := io.WriteString(rw, HandshakeResponse(version)); err != nil {
		return fmt.Errorf("send handshake response: %w", err)
	}
	return nil
}
