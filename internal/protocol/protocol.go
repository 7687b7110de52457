// Package protocol defines the GRNVS message model shared by the client and
// the reference peer. A message is the decoded payload of one frame,
// "<tag> <arguments...>", where the tag is a one-character command code.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// Version is the only protocol revision either side speaks.
const Version = "GRNVS V:1.0"

// Command tags.
const (
	TagClient byte = 'C' // client hello, nick, data port, token forward
	TagServer byte = 'S' // server hello, token issue, msglen, ACK
	TagData   byte = 'D' // data channel nick and message
	TagToken  byte = 'T' // token-bearing replies on the data channel
	TagError  byte = 'E' // explicit abort
)

var ErrUnexpectedReply = errors.New("protocol: unexpected reply")

// Compose builds "<tag> <args>". Argument bytes pass through verbatim, so
// opaque tokens survive unchanged.
func Compose(tag byte, args []byte) []byte {
	out := make([]byte, 0, len(args)+2)
	out = append(out, tag, ' ')
	out = append(out, args...)
	return out
}

// Split separates a message into its first space-delimited field and the
// remainder after that space. A message without a space has a nil remainder.
func Split(msg []byte) (first, rest []byte) {
	if i := bytes.IndexByte(msg, ' '); i >= 0 {
		return msg[:i], msg[i+1:]
	}
	return msg, nil
}

// Abort reports whether msg is an explicit remote abort and returns its
// remainder as opaque diagnostic text. Detection is by tag field only: the
// first field must be exactly "E". Payload content is never escaped or
// inspected further.
func Abort(msg []byte) (text []byte, ok bool) {
	first, rest := Split(msg)
	if len(first) == 1 && first[0] == TagError {
		return rest, true
	}
	return nil, false
}

// Expect validates that msg begins "<tag> " and returns everything after
// that prefix. The remainder may be empty, but the space must be present; a
// bare tag with no arguments does not satisfy any handshake step.
func Expect(msg []byte, tag byte) ([]byte, error) {
	if len(msg) >= 2 && msg[0] == tag && msg[1] == ' ' {
		return msg[2:], nil
	}
	return nil, fmt.Errorf("%w: %q, expected %c <...>", ErrUnexpectedReply, msg, tag)
}

// ExpectExact validates the whole message byte-for-byte.
func ExpectExact(msg, want []byte) error {
	if !bytes.Equal(msg, want) {
		return fmt.Errorf("%w: %q, expected %q", ErrUnexpectedReply, msg, want)
	}
	return nil
}
