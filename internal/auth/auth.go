// Package auth provides the token helpers that bind the two GRNVS
// handshakes together.
//
// Tokens are opaque byte strings: issued once, echoed back verbatim,
// compared byte-for-byte and never parsed. A token may legally contain
// spaces, newlines, or non-text bytes.
package auth

import (
	"crypto/subtle"
	"errors"

	"github.com/google/uuid"
)

var ErrTokenMismatch = errors.New("auth: token mismatch")

// NewToken issues one opaque token.
func NewToken() []byte {
	return []byte(uuid.NewString())
}

// VerifyEcho compares an echoed token against the issued one in constant
// time. Both sides run this: the server on each echo it receives, the
// client on the control token repeated over the data channel.
func VerifyEcho(issued, echoed []byte) error {
	if subtle.ConstantTimeCompare(issued, echoed) != 1 {
		return ErrTokenMismatch
	}
	return nil
}
