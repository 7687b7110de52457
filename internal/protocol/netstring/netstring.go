// Package netstring implements the GRNVS wire framing. Every message on
// either channel travels as one frame "<length>:<payload>," where length is
// the exact decimal byte count of the payload.
package netstring

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// MaxLengthDigits bounds the length field. Nothing this protocol carries
// comes near it; anything longer is garbage, not a frame.
const MaxLengthDigits = 18

var (
	ErrMissingColon = errors.New("netstring: no colon")
	ErrBadLength    = errors.New("netstring: malformed length")
	ErrTruncated    = errors.New("netstring: truncated frame")
	ErrMissingComma = errors.New("netstring: no trailing comma")
)

// Encode wraps msg in one frame. Pure and total.
func Encode(msg []byte) []byte {
	lenText := strconv.Itoa(len(msg))
	out := make([]byte, 0, len(lenText)+len(msg)+2)
	out = append(out, lenText...)
	out = append(out, ':')
	out = append(out, msg...)
	out = append(out, ',')
	return out
}

// Decode extracts the first complete frame from buf. On success msg is the
// exact payload slice and rest is everything after the consumed comma,
// possibly empty. buf is never modified; callers own buffering and retry.
func Decode(buf []byte) (msg, rest []byte, err error) {
	i := bytes.IndexByte(buf, ':')
	if i < 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingColon, excerpt(buf))
	}
	length, err := ParseLength(buf[:i])
	if err != nil {
		return nil, nil, err
	}
	body := buf[i+1:]
	if len(body) < length+1 {
		return nil, nil, fmt.Errorf("%w: %s", ErrTruncated, excerpt(buf))
	}
	if body[length] != ',' {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingComma, excerpt(buf))
	}
	return body[:length], body[length+1:], nil
}

// ParseLength parses the strict decimal grammar shared by frame lengths and
// every other numeric field in the protocol: the single digit 0, or one
// nonzero digit followed by digits. No sign, no leading zeros, no spaces.
func ParseLength(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrBadLength)
	}
	if b[0] == '+' {
		return 0, fmt.Errorf("%w: %q has a sign", ErrBadLength, b)
	}
	if b[0] == '0' && len(b) > 1 {
		return 0, fmt.Errorf("%w: %q has a leading zero", ErrBadLength, b)
	}
	if len(b) > MaxLengthDigits {
		return 0, fmt.Errorf("%w: %q too long", ErrBadLength, b)
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrBadLength, b)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// excerpt renders a short printable view of buf for diagnostics.
func excerpt(buf []byte) string {
	const max = 32
	if len(buf) <= max {
		return fmt.Sprintf("%q", buf)
	}
	return fmt.Sprintf("%q (+%d bytes)", buf[:max], len(buf)-max)
}
