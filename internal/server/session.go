package server

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/danmuck/grnvsctl/internal/auth"
	"github.com/danmuck/grnvsctl/internal/observability"
	"github.com/danmuck/grnvsctl/internal/protocol"
	"github.com/danmuck/grnvsctl/internal/protocol/channel"
	"github.com/danmuck/grnvsctl/internal/protocol/netstring"
	"github.com/danmuck/grnvsctl/internal/transfer"
)

var (
	clientHello = protocol.Compose(protocol.TagClient, []byte(protocol.Version))
	serverHello = protocol.Compose(protocol.TagServer, []byte(protocol.Version))
	dataHello   = protocol.Compose(protocol.TagToken, []byte(protocol.Version))
	serverAck   = []byte("S ACK")
)

// handleSession runs one full session on an accepted control connection.
// Every failure ends the session; the client gets a best-effort E frame on
// the control socket before it closes.
func (s *Service) handleSession(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)

	remote := conn.RemoteAddr().String()
	active := s.sessionCount.Add(1)
	defer s.sessionCount.Add(-1)
	s.log.Info().Str("remote", remote).Int64("active", active).Msg("session connected")

	observability.SessionStarted()
	started := time.Now()
	n, err := s.serveTransfer(ctx, conn)
	outcome := transfer.Outcome(err)
	observability.SessionFinished(outcome, n, time.Since(started))

	if err != nil {
		s.notify(conn, err)
		s.log.Warn().Err(err).Str("remote", remote).Str("outcome", outcome).Msg("session failed")
		return
	}
	s.log.Info().Str("remote", remote).Int("bytes", n).Msg("message delivered")
}

// serveTransfer is the server half of the dialogue: version exchange, nick
// registration, token issue, the call-back data exchange, and the closing
// confirmation. It returns the delivered payload size.
func (s *Service) serveTransfer(ctx context.Context, control net.Conn) (int, error) {
	cc := channel.New("control", control, s.cfg.channelConfig())

	msg, err := cc.ReadFrame()
	if err != nil {
		return 0, err
	}
	if err := protocol.ExpectExact(msg, clientHello); err != nil {
		return 0, err
	}
	if err := s.send(control, serverHello); err != nil {
		return 0, err
	}

	msg, err = cc.ReadFrame()
	if err != nil {
		return 0, err
	}
	rest, err := protocol.Expect(msg, protocol.TagClient)
	if err != nil {
		return 0, err
	}
	nick := bytes.Clone(rest)

	ctoken := auth.NewToken()
	if err := s.send(control, protocol.Compose(protocol.TagServer, ctoken)); err != nil {
		return 0, err
	}

	msg, err = cc.ReadFrame()
	if err != nil {
		return 0, err
	}
	rest, err = protocol.Expect(msg, protocol.TagClient)
	if err != nil {
		return 0, err
	}
	port, err := dataPort(rest)
	if err != nil {
		return 0, err
	}

	payload, dtoken, err := s.dataCall(ctx, control.RemoteAddr(), port, nick, ctoken)
	if err != nil {
		return 0, err
	}

	if err := s.send(control, protocol.Compose(protocol.TagServer, []byte(strconv.Itoa(len(payload))))); err != nil {
		return 0, err
	}
	msg, err = cc.ReadFrame()
	if err != nil {
		return 0, err
	}
	echo, err := protocol.Expect(msg, protocol.TagClient)
	if err != nil {
		return 0, err
	}
	if err := auth.VerifyEcho(dtoken, echo); err != nil {
		return 0, fmt.Errorf("%w: data token echo does not match", err)
	}
	if err := s.send(control, serverAck); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// dataCall dials the client back on its advertised port and runs the data
// channel dialogue. Failures past the dial notify the data socket.
func (s *Service) dataCall(ctx context.Context, peer net.Addr, port int, nick, ctoken []byte) ([]byte, []byte, error) {
	tcp, ok := peer.(*net.TCPAddr)
	if !ok {
		return nil, nil, fmt.Errorf("server: data call needs a tcp peer, got %v", peer)
	}
	host := tcp.IP.String()
	if tcp.Zone != "" {
		host += "%" + tcp.Zone
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp6", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("server: dial data channel %s: %w", addr, err)
	}
	defer conn.Close()
	s.log.Debug().Str("addr", addr).Msg("data channel connected")

	payload, dtoken, err := s.dataHandshake(conn, nick, ctoken)
	if err != nil {
		s.notify(conn, err)
		return nil, nil, err
	}
	return payload, dtoken, nil
}

func (s *Service) dataHandshake(conn net.Conn, nick, ctoken []byte) ([]byte, []byte, error) {
	dc := channel.New("data", conn, s.cfg.channelConfig())

	if err := s.send(conn, dataHello); err != nil {
		return nil, nil, err
	}
	msg, err := dc.ReadFrame()
	if err != nil {
		return nil, nil, err
	}
	got, err := protocol.Expect(msg, protocol.TagData)
	if err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(got, nick) {
		return nil, nil, fmt.Errorf("%w: nick %q on the data channel, registered %q",
			protocol.ErrUnexpectedReply, got, nick)
	}

	if err := s.send(conn, protocol.Compose(protocol.TagToken, ctoken)); err != nil {
		return nil, nil, err
	}
	msg, err = dc.ReadFrame()
	if err != nil {
		return nil, nil, err
	}
	rest, err := protocol.Expect(msg, protocol.TagData)
	if err != nil {
		return nil, nil, err
	}
	payload := bytes.Clone(rest)

	dtoken := auth.NewToken()
	if err := s.send(conn, protocol.Compose(protocol.TagToken, dtoken)); err != nil {
		return nil, nil, err
	}
	return payload, dtoken, nil
}

// dataPort parses the advertised call-back port with the same strict integer
// grammar used for frame lengths.
func dataPort(b []byte) (int, error) {
	port, err := netstring.ParseLength(b)
	if err != nil {
		return 0, fmt.Errorf("%w: data port %q", protocol.ErrUnexpectedReply, b)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: data port %d out of range", protocol.ErrUnexpectedReply, port)
	}
	return port, nil
}

func (s *Service) send(conn net.Conn, msg []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.IOTimeout))
	if _, err := conn.Write(netstring.Encode(msg)); err != nil {
		return fmt.Errorf("server: send: %w", err)
	}
	return nil
}

// notify sends one best-effort E frame naming the failure. A notify error
// never masks the original one.
func (s *Service) notify(conn net.Conn, cause error) {
	reason := protocol.Compose(protocol.TagError, []byte(cause.Error()))
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.IOTimeout))
	_, _ = conn.Write(netstring.Encode(reason))
	s.log.Debug().Err(cause).Msg("peer notified of failure")
}
