package transfer

import (
	"errors"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/grnvsctl/internal/auth"
	"github.com/danmuck/grnvsctl/internal/protocol"
	"github.com/danmuck/grnvsctl/internal/protocol/channel"
	"github.com/danmuck/grnvsctl/internal/protocol/netstring"
)

// Receipt records what one session did, success or not. It is what the CLI
// prints and what the journal stores.
type Receipt struct {
	ID          uuid.UUID
	Nick        string
	Destination netip.Addr
	Port        int
	Bytes       int
	DataToken   []byte
	StartedAt   time.Time
	Duration    time.Duration
	Outcome     string
	Err         string
}

// Outcome classifies a session error into a short stable label, keyed off
// the sentinel chain. Labels feed metrics and the journal, so they change
// only deliberately.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, channel.ErrRemoteAbort):
		return "remote_abort"
	case errors.Is(err, channel.ErrNoData):
		return "no_data"
	case errors.Is(err, netstring.ErrTruncated):
		return "truncated_frame"
	case errors.Is(err, netstring.ErrMissingColon),
		errors.Is(err, netstring.ErrBadLength),
		errors.Is(err, netstring.ErrMissingComma):
		return "frame_syntax"
	case errors.Is(err, protocol.ErrUnexpectedReply):
		return "unexpected_reply"
	case errors.Is(err, auth.ErrTokenMismatch):
		return "token_mismatch"
	case errors.Is(err, ErrPeerAddress):
		return "peer_mismatch"
	case errors.Is(err, ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, ErrNotUTF8):
		return "bad_utf8"
	default:
		return "transport_error"
	}
}
