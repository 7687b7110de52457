// Package transfer implements the client side of one GRNVS session: the
// control handshake, the server's call-back on a fresh data channel, the
// message push, and the closing confirmation.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/grnvsctl/internal/auth"
	"github.com/danmuck/grnvsctl/internal/protocol"
	"github.com/danmuck/grnvsctl/internal/protocol/channel"
	"github.com/danmuck/grnvsctl/internal/protocol/netstring"
)

var (
	ErrNickRequired   = errors.New("transfer: nick required")
	ErrNotIPv6        = errors.New("transfer: destination must be an IPv6 address")
	ErrPeerAddress    = errors.New("transfer: unexpected data channel peer")
	ErrLengthMismatch = errors.New("transfer: reported message length mismatch")
	ErrNotUTF8        = errors.New("transfer: confirmation not valid utf-8")
)

var (
	clientHello = protocol.Compose(protocol.TagClient, []byte(protocol.Version))
	serverHello = protocol.Compose(protocol.TagServer, []byte(protocol.Version))
	dataHello   = protocol.Compose(protocol.TagToken, []byte(protocol.Version))
	serverAck   = []byte("S ACK")
)

// Session is one GRNVS transfer: created, run once, discarded. A failure
// anywhere is fatal to the session; there is no retry path.
type Session struct {
	cfg     Config
	nick    string
	dest    netip.Addr
	payload []byte

	id  uuid.UUID
	log zerolog.Logger

	controlToken []byte
	dataToken    []byte
}

// New validates the inputs and builds a runnable session. The payload may be
// empty; deciding whether a message source was given at all is the CLI's
// job.
func New(cfg Config, nick string, dest netip.Addr, payload []byte) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(nick) == "" {
		return nil, ErrNickRequired
	}
	if !dest.IsValid() || !dest.Is6() {
		return nil, fmt.Errorf("%w: %s", ErrNotIPv6, dest)
	}
	id := uuid.New()
	return &Session{
		cfg:     cfg,
		nick:    nick,
		dest:    dest,
		payload: payload,
		id:      id,
		log:     log.With().Str("session", id.String()).Str("nick", nick).Logger(),
	}, nil
}

// Run drives the full dialogue. Whatever happens, the control socket, the
// data listener, and the accepted data socket all close before it returns;
// the peer that detected a failure gets one best-effort E frame first.
func (s *Session) Run(ctx context.Context) (Receipt, error) {
	started := time.Now()
	err := s.run(ctx)
	rec := Receipt{
		ID:          s.id,
		Nick:        s.nick,
		Destination: s.dest,
		Port:        s.cfg.Port,
		Bytes:       len(s.payload),
		DataToken:   s.dataToken,
		StartedAt:   started,
		Duration:    time.Since(started),
		Outcome:     Outcome(err),
	}
	if err != nil {
		rec.Err = err.Error()
		return rec, err
	}
	s.log.Info().Int("bytes", rec.Bytes).Dur("took", rec.Duration).Msg("transfer complete")
	return rec, nil
}

func (s *Session) run(ctx context.Context) error {
	control, err := s.dialControl(ctx)
	if err != nil {
		return err
	}
	defer control.Close()

	cc := channel.New("control", control, s.cfg.channelConfig())

	ln, err := s.controlHandshake(control, cc)
	if err != nil {
		s.notify(control, err)
		return err
	}
	defer ln.Close()

	if err := s.dataExchange(control, ln); err != nil {
		return err
	}

	if err := s.confirm(control, cc); err != nil {
		s.notify(control, err)
		return err
	}
	return nil
}

func (s *Session) dialControl(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	addr := net.JoinHostPort(s.dest.String(), strconv.Itoa(s.cfg.Port))
	conn, err := dialer.DialContext(ctx, "tcp6", addr)
	if err != nil {
		return nil, fmt.Errorf("transfer: dial %s: %w", addr, err)
	}
	s.log.Debug().Str("addr", addr).Msg("control connected")
	return conn, nil
}

// controlHandshake runs the version exchange and nick registration, then
// opens the data listener and advertises its port. The listener is returned
// open; the caller owns it.
func (s *Session) controlHandshake(conn net.Conn, cc *channel.Buffer) (net.Listener, error) {
	if err := s.send(conn, clientHello); err != nil {
		return nil, err
	}
	msg, err := cc.Next()
	if err != nil {
		return nil, err
	}
	if err := protocol.ExpectExact(msg, serverHello); err != nil {
		return nil, err
	}

	if err := s.send(conn, protocol.Compose(protocol.TagClient, []byte(s.nick))); err != nil {
		return nil, err
	}
	msg, err = cc.Next()
	if err != nil {
		return nil, err
	}
	token, err := protocol.Expect(msg, protocol.TagServer)
	if err != nil {
		return nil, err
	}
	s.controlToken = bytes.Clone(token)
	s.log.Debug().Int("token_bytes", len(token)).Msg("control token issued")

	ln, err := net.Listen("tcp6", "[::]:0")
	if err != nil {
		return nil, fmt.Errorf("transfer: open data listener: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := s.send(conn, protocol.Compose(protocol.TagClient, []byte(strconv.Itoa(port)))); err != nil {
		ln.Close()
		return nil, err
	}
	s.log.Debug().Int("data_port", port).Msg("waiting for call-back")
	return ln, nil
}

// dataExchange accepts the server's call-back and runs the data handshake
// on it. Failures past the accept notify the data socket; an accept failure
// still has the control socket to report on.
func (s *Session) dataExchange(control net.Conn, ln net.Listener) error {
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout))
	}
	conn, err := ln.Accept()
	if err != nil {
		err = fmt.Errorf("transfer: accept data channel: %w", err)
		s.notify(control, err)
		return err
	}
	defer conn.Close()

	if err := s.dataHandshake(conn); err != nil {
		s.notify(conn, err)
		return err
	}
	return nil
}

func (s *Session) dataHandshake(conn net.Conn) error {
	if err := s.verifyPeer(conn.RemoteAddr()); err != nil {
		return err
	}
	dc := channel.New("data", conn, s.cfg.channelConfig())

	msg, err := dc.Next()
	if err != nil {
		return err
	}
	if err := protocol.ExpectExact(msg, dataHello); err != nil {
		return err
	}

	if err := s.send(conn, protocol.Compose(protocol.TagData, []byte(s.nick))); err != nil {
		return err
	}
	msg, err = dc.Next()
	if err != nil {
		return err
	}
	echo, err := protocol.Expect(msg, protocol.TagToken)
	if err != nil {
		return err
	}
	if err := auth.VerifyEcho(s.controlToken, echo); err != nil {
		return fmt.Errorf("%w: control token echo does not match", err)
	}

	if err := s.send(conn, protocol.Compose(protocol.TagData, s.payload)); err != nil {
		return err
	}
	msg, err = dc.Next()
	if err != nil {
		return err
	}
	dtoken, err := protocol.Expect(msg, protocol.TagToken)
	if err != nil {
		return err
	}
	s.dataToken = bytes.Clone(dtoken)
	s.log.Debug().Int("token_bytes", len(dtoken)).Msg("data token issued")
	return nil
}

// verifyPeer requires the data channel caller to be the configured
// destination. Runs before any data channel traffic.
func (s *Session) verifyPeer(addr net.Addr) error {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("%w: %v", ErrPeerAddress, addr)
	}
	peer, ok := netip.AddrFromSlice(tcp.IP)
	if !ok {
		return fmt.Errorf("%w: %v", ErrPeerAddress, addr)
	}
	if peer.Unmap() != s.dest.Unmap().WithZone("") {
		return fmt.Errorf("%w: %s, expected %s", ErrPeerAddress, peer, s.dest)
	}
	return nil
}

// confirm runs the closing exchange on the control channel: length check,
// data token forward, final ACK.
func (s *Session) confirm(conn net.Conn, cc *channel.Buffer) error {
	msg, err := cc.Next()
	if err != nil {
		return err
	}
	if !utf8.Valid(msg) {
		return fmt.Errorf("%w: %q", ErrNotUTF8, msg)
	}
	fields := strings.Split(string(msg), " ")
	if len(fields) != 2 || fields[0] != "S" {
		return fmt.Errorf("%w: %q, expected S <msglen>", protocol.ErrUnexpectedReply, msg)
	}
	msglen, err := netstring.ParseLength([]byte(fields[1]))
	if err != nil {
		return fmt.Errorf("confirmation msglen: %w", err)
	}
	if msglen != len(s.payload) {
		return fmt.Errorf("%w: server reported %d, sent %d", ErrLengthMismatch, msglen, len(s.payload))
	}

	if err := s.send(conn, protocol.Compose(protocol.TagClient, s.dataToken)); err != nil {
		return err
	}
	msg, err = cc.Next()
	if err != nil {
		return err
	}
	return protocol.ExpectExact(msg, serverAck)
}

func (s *Session) send(conn net.Conn, msg []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := conn.Write(netstring.Encode(msg)); err != nil {
		return fmt.Errorf("transfer: send: %w", err)
	}
	return nil
}

// notify sends one best-effort E frame naming the failure to the socket
// that detected it. A notify error never masks the original failure.
func (s *Session) notify(conn net.Conn, cause error) {
	reason := protocol.Compose(protocol.TagError, []byte(cause.Error()))
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	_, _ = conn.Write(netstring.Encode(reason))
	s.log.Debug().Err(cause).Msg("peer notified of failure")
}
