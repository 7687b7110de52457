package channel

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/grnvsctl/internal/protocol/netstring"
)

// scriptConn serves one scripted chunk per Read, then reports end-of-stream
// (or a deadline timeout, when timeoutAfter is set). calls counts Read
// invocations, scripted or not.
type scriptConn struct {
	reads        []string
	i            int
	calls        int
	timeoutAfter bool
}

func (c *scriptConn) Read(p []byte) (int, error) {
	c.calls++
	if c.i >= len(c.reads) {
		if c.timeoutAfter {
			return 0, timeoutError{}
		}
		return 0, io.EOF
	}
	n := copy(p, c.reads[c.i])
	c.i++
	return n, nil
}

func (c *scriptConn) SetReadDeadline(time.Time) error { return nil }

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestNextAccumulatesSplitFrames(t *testing.T) {
	b := New("control", &scriptConn{reads: []string{"3:ab", "c,"}}, DefaultConfig())
	msg, err := b.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(msg) != "abc" {
		t.Fatalf("got %q want abc", msg)
	}
}

func TestNextPreservesRemainderAcrossCalls(t *testing.T) {
	conn := &scriptConn{reads: []string{"3:abc,2:xy,"}}
	b := New("control", conn, DefaultConfig())

	msg, err := b.Next()
	if err != nil {
		t.Fatalf("first next: %v", err)
	}
	if string(msg) != "abc" {
		t.Fatalf("first message: got %q", msg)
	}

	// The second frame must come out of the residual without another
	// transport read.
	before := conn.calls
	msg, err = b.Next()
	if err != nil {
		t.Fatalf("second next: %v", err)
	}
	if string(msg) != "xy" {
		t.Fatalf("second message: got %q", msg)
	}
	if conn.calls != before {
		t.Fatalf("reads = %d, want %d (second frame was buffered)", conn.calls, before)
	}
}

func TestNextTimeoutBehavesLikeQuietStream(t *testing.T) {
	b := New("data", &scriptConn{reads: []string{"5:hel", "lo,"}, timeoutAfter: true}, DefaultConfig())
	msg, err := b.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("got %q want hello", msg)
	}
}

func TestNextNoData(t *testing.T) {
	b := New("control", &scriptConn{}, DefaultConfig())
	if _, err := b.Next(); !errors.Is(err, ErrNoData) {
		t.Fatalf("got %v, want ErrNoData", err)
	}
}

func TestNextPropagatesFrameErrors(t *testing.T) {
	cases := []struct {
		name string
		read string
		want error
	}{
		{"truncated", "3:ab", netstring.ErrTruncated},
		{"signed length", "+3:abc,", netstring.ErrBadLength},
		{"no colon", "3abc,", netstring.ErrMissingColon},
		{"no comma", "3:abcX", netstring.ErrMissingComma},
	}
	for _, tc := range cases {
		b := New("control", &scriptConn{reads: []string{tc.read}}, DefaultConfig())
		if _, err := b.Next(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestNextRemoteAbort(t *testing.T) {
	b := New("data", &scriptConn{reads: []string{"6:E boom,"}}, DefaultConfig())
	_, err := b.Next()
	if !errors.Is(err, ErrRemoteAbort) {
		t.Fatalf("got %v, want ErrRemoteAbort", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("abort text missing from %q", err)
	}
}

func TestNextBareAbort(t *testing.T) {
	b := New("data", &scriptConn{reads: []string{"1:E,"}}, DefaultConfig())
	if _, err := b.Next(); !errors.Is(err, ErrRemoteAbort) {
		t.Fatalf("got %v, want ErrRemoteAbort", err)
	}
}

func TestNextAbortIsFieldExact(t *testing.T) {
	b := New("data", &scriptConn{reads: []string{"7:EXTRA x,"}}, DefaultConfig())
	msg, err := b.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(msg) != "EXTRA x" {
		t.Fatalf("got %q", msg)
	}
}

func TestNextAbortAfterBufferedFrame(t *testing.T) {
	b := New("control", &scriptConn{reads: []string{"2:ok,7:E later,"}}, DefaultConfig())
	if msg, err := b.Next(); err != nil || string(msg) != "ok" {
		t.Fatalf("first next: %q, %v", msg, err)
	}
	if _, err := b.Next(); !errors.Is(err, ErrRemoteAbort) {
		t.Fatalf("second next: got %v, want ErrRemoteAbort", err)
	}
}

func TestBuffersAreIndependent(t *testing.T) {
	control := New("control", &scriptConn{reads: []string{"3:abc,3:de"}}, DefaultConfig())
	data := New("data", &scriptConn{reads: []string{"2:xy,"}}, DefaultConfig())

	if msg, err := control.Next(); err != nil || string(msg) != "abc" {
		t.Fatalf("control: %q, %v", msg, err)
	}
	if msg, err := data.Next(); err != nil || string(msg) != "xy" {
		t.Fatalf("data: %q, %v", msg, err)
	}

	// The control residual holds a partial frame; the data channel's empty
	// residual must not see it.
	if _, err := control.Next(); !errors.Is(err, netstring.ErrTruncated) {
		t.Fatalf("control residual: got %v, want ErrTruncated", err)
	}
	if _, err := data.Next(); !errors.Is(err, ErrNoData) {
		t.Fatalf("data residual: got %v, want ErrNoData", err)
	}
}

func TestNextPropagatesTransportErrors(t *testing.T) {
	b := New("control", errConn{}, DefaultConfig())
	if _, err := b.Next(); !errors.Is(err, errBroken) {
		t.Fatalf("got %v, want errBroken", err)
	}
}

func TestReadFrameReturnsOnCompletion(t *testing.T) {
	conn := &scriptConn{reads: []string{"3:ab", "c,"}, timeoutAfter: true}
	b := New("control", conn, DefaultConfig())

	msg, err := b.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(msg) != "abc" {
		t.Fatalf("got %q want abc", msg)
	}
	// the frame completed on the second read; waiting for the stream to go
	// quiet would have cost a third
	if conn.calls != 2 {
		t.Fatalf("reads = %d, want 2", conn.calls)
	}
}

func TestReadFrameServesBufferedFrame(t *testing.T) {
	conn := &scriptConn{reads: []string{"2:ok,2:no,"}}
	b := New("control", conn, DefaultConfig())

	if msg, err := b.ReadFrame(); err != nil || string(msg) != "ok" {
		t.Fatalf("first frame: %q, %v", msg, err)
	}
	before := conn.calls
	if msg, err := b.ReadFrame(); err != nil || string(msg) != "no" {
		t.Fatalf("second frame: %q, %v", msg, err)
	}
	if conn.calls != before {
		t.Fatalf("reads = %d, want %d", conn.calls, before)
	}
}

func TestReadFrameNoData(t *testing.T) {
	b := New("data", &scriptConn{timeoutAfter: true}, DefaultConfig())
	if _, err := b.ReadFrame(); !errors.Is(err, ErrNoData) {
		t.Fatalf("got %v, want ErrNoData", err)
	}
}

func TestReadFrameStalledMidFrame(t *testing.T) {
	for _, tc := range []struct {
		name string
		conn *scriptConn
	}{
		{"timeout", &scriptConn{reads: []string{"3:ab"}, timeoutAfter: true}},
		{"eof", &scriptConn{reads: []string{"3:ab"}}},
	} {
		b := New("data", tc.conn, DefaultConfig())
		if _, err := b.ReadFrame(); !errors.Is(err, netstring.ErrTruncated) {
			t.Fatalf("%s: got %v, want ErrTruncated", tc.name, err)
		}
	}
}

func TestReadFrameRemoteAbort(t *testing.T) {
	b := New("data", &scriptConn{reads: []string{"6:E boom,"}}, DefaultConfig())
	if _, err := b.ReadFrame(); !errors.Is(err, ErrRemoteAbort) {
		t.Fatalf("got %v, want ErrRemoteAbort", err)
	}
}

func TestReadFrameRejectsBadSyntax(t *testing.T) {
	conn := &scriptConn{reads: []string{"00:,"}, timeoutAfter: true}
	b := New("control", conn, DefaultConfig())
	if _, err := b.ReadFrame(); !errors.Is(err, netstring.ErrBadLength) {
		t.Fatalf("got %v, want ErrBadLength", err)
	}
	if conn.calls != 1 {
		t.Fatalf("reads = %d, want 1 (syntax errors fail without more reads)", conn.calls)
	}
}

var errBroken = errors.New("broken pipe")

type errConn struct{}

func (errConn) Read([]byte) (int, error)        { return 0, errBroken }
func (errConn) SetReadDeadline(time.Time) error { return nil }
