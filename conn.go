package pgcore

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/wirepg/pgcore/protocol"
)

// ConnectConfig is the already-parsed form of a connection URL (see
// dsn.ParseURL), or a struct a caller builds directly instead of going
// through a URL string.
type ConnectConfig struct {
	Host     string
	Port     uint16
	User     string
	Password string
	Database string
	// Params carries additional startup options taken from the URL's query
	// string, merged into StartupMessage alongside the fixed parameters.
	Params map[string]string
}

// ExchangeRecorder observes an exchange on the wire: its kind, how long it
// took, and whether it returned an error. The only exchange recorded is the
// startup handshake (kind "startup", failed on any handshake error);
// Parse, Bind/Execute and transaction exchanges are not recorded. A nil
// recorder costs nothing — it is checked once per exchange, never
// allocated for.
type ExchangeRecorder func(kind string, d time.Duration, failed bool)

// innerConn owns the buffered stream to a single backend. It implements
// the startup handshake, authentication, and the read_message primitive
// that keeps NoticeResponse/ParameterStatus chatter invisible to callers.
type innerConn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	noticeHandler NoticeHandler
	runtimeParams map[string]string
	recorder      ExchangeRecorder
}

const defaultPort uint16 = 5432

// dialInner resolves cfg.Host, connects, and runs the full startup and
// authentication handshake, returning a connection ready for queries.
func dialInner(ctx context.Context, cfg ConnectConfig, recorder ExchangeRecorder) (*innerConn, error) {
	if cfg.User == "" {
		return nil, connectError(MissingUser, nil)
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, cfg.Host)
	if err != nil {
		return nil, connectError(DnsError, err)
	}
	if len(addrs) == 0 {
		addrs = []string{cfg.Host}
	}

	var conn net.Conn
	var dialErr error
	var dialer net.Dialer
	for _, addr := range addrs {
		conn, dialErr = dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, fmt.Sprintf("%d", port)))
		if dialErr == nil {
			break
		}
	}
	if dialErr != nil {
		return nil, connectError(SocketError, dialErr)
	}

	c := &innerConn{
		conn:          conn,
		r:             bufio.NewReader(conn),
		w:             bufio.NewWriter(conn),
		noticeHandler: slogNoticeHandler{},
		runtimeParams: make(map[string]string),
		recorder:      recorder,
	}

	start := time.Now()
	failed := false
	if err := c.handshake(cfg); err != nil {
		failed = true
		conn.Close()
		c.record("startup", start, failed)
		return nil, err
	}
	c.record("startup", start, failed)
	return c, nil
}

func (c *innerConn) record(kind string, start time.Time, failed bool) {
	if c.recorder == nil {
		return
	}
	c.recorder(kind, time.Since(start), failed)
}

func (c *innerConn) handshake(cfg ConnectConfig) error {
	params := map[string]string{
		"client_encoding": "UTF8",
		"TimeZone":        "GMT",
		"user":            cfg.User,
	}
	if cfg.Database != "" {
		params["database"] = cfg.Database
	}
	for k, v := range cfg.Params {
		params[k] = v
	}

	if err := c.send(protocol.StartupMessage(params)); err != nil {
		return connectError(SocketError, err)
	}

	if err := c.authenticate(cfg); err != nil {
		return err
	}

	for {
		f, err := protocol.ReadFrame(c.r)
		if err != nil {
			return connectError(SocketError, err)
		}
		switch f.Tag {
		case protocol.TagParameterStatus:
			ps, err := protocol.DecodeParameterStatus(f.Payload)
			if err != nil {
				return connectError(SocketError, err)
			}
			c.runtimeParams[ps.Name] = ps.Value
		case protocol.TagBackendKeyData:
			// Cancellation state is not retained in this core.
		case protocol.TagNoticeResponse:
			n, err := protocol.DecodeNoticeResponse(f.Payload)
			if err == nil {
				c.noticeHandler.Handle(newDbError(n.Fields))
			}
		case protocol.TagReadyForQuery:
			return nil
		case protocol.TagErrorResponse:
			er, _ := protocol.DecodeErrorResponse(f.Payload)
			return connectError(ConnectDbError, newDbError(er.Fields))
		default:
			// Unrecognized during startup: ignore.
		}
	}
}

func (c *innerConn) authenticate(cfg ConnectConfig) error {
	f, err := protocol.ReadFrame(c.r)
	if err != nil {
		return connectError(SocketError, err)
	}
	if f.Tag == protocol.TagErrorResponse {
		er, _ := protocol.DecodeErrorResponse(f.Payload)
		return connectError(ConnectDbError, newDbError(er.Fields))
	}
	if f.Tag != protocol.TagAuthentication {
		return connectError(SocketError, fmt.Errorf("expected Authentication message, got tag %q", f.Tag))
	}
	auth, err := protocol.DecodeAuthentication(f.Payload)
	if err != nil {
		return connectError(SocketError, err)
	}

	switch auth.Sub {
	case protocol.AuthOK:
		return nil
	case protocol.AuthCleartextPassword:
		if cfg.Password == "" {
			return connectError(MissingPassword, nil)
		}
		if err := c.send(protocol.PasswordMessage(cfg.Password)); err != nil {
			return connectError(SocketError, err)
		}
	case protocol.AuthMD5Password:
		if cfg.Password == "" {
			return connectError(MissingPassword, nil)
		}
		hashed := md5Password(cfg.User, cfg.Password, auth.Salt)
		if err := c.send(protocol.PasswordMessage(hashed)); err != nil {
			return connectError(SocketError, err)
		}
	case protocol.AuthSASL:
		if cfg.Password == "" {
			return connectError(MissingPassword, nil)
		}
		if err := c.runSCRAM(cfg.User, cfg.Password, auth); err != nil {
			return connectError(UnsupportedAuthentication, err)
		}
		return c.expectAuthOK()
	default:
		return connectError(UnsupportedAuthentication, fmt.Errorf("auth subtype %d", auth.Sub))
	}

	return c.expectAuthOK()
}

func (c *innerConn) expectAuthOK() error {
	f, err := protocol.ReadFrame(c.r)
	if err != nil {
		return connectError(SocketError, err)
	}
	if f.Tag == protocol.TagErrorResponse {
		er, _ := protocol.DecodeErrorResponse(f.Payload)
		return connectError(ConnectDbError, newDbError(er.Fields))
	}
	if f.Tag != protocol.TagAuthentication {
		return connectError(SocketError, fmt.Errorf("expected Authentication message, got tag %q", f.Tag))
	}
	auth, err := protocol.DecodeAuthentication(f.Payload)
	if err != nil {
		return connectError(SocketError, err)
	}
	if auth.Sub != protocol.AuthOK {
		return connectError(UnsupportedAuthentication, fmt.Errorf("unexpected auth subtype %d after credential exchange", auth.Sub))
	}
	return nil
}

// expectAuth reads one Authentication message of the given subtype, used
// mid-SCRAM-exchange where an ErrorResponse or the wrong subtype is fatal.
func (c *innerConn) expectAuth(want uint32) (protocol.AuthMessage, error) {
	f, err := protocol.ReadFrame(c.r)
	if err != nil {
		return protocol.AuthMessage{}, err
	}
	if f.Tag == protocol.TagErrorResponse {
		er, _ := protocol.DecodeErrorResponse(f.Payload)
		return protocol.AuthMessage{}, newDbError(er.Fields)
	}
	if f.Tag != protocol.TagAuthentication {
		return protocol.AuthMessage{}, fmt.Errorf("pgcore: expected Authentication message, got tag %q", f.Tag)
	}
	auth, err := protocol.DecodeAuthentication(f.Payload)
	if err != nil {
		return protocol.AuthMessage{}, err
	}
	if auth.Sub != want {
		return protocol.AuthMessage{}, fmt.Errorf("pgcore: expected auth subtype %d, got %d", want, auth.Sub)
	}
	return auth, nil
}

// send writes msg and flushes it immediately — every frontend message in
// this core is followed by a read, so batching writes buys nothing.
func (c *innerConn) send(msg []byte) error {
	if _, err := c.w.Write(msg); err != nil {
		return err
	}
	return c.w.Flush()
}

// sendAll writes a sequence of frontend messages and flushes once — used
// for multi-message exchanges (Parse+Describe+Sync, Bind+Execute+Sync)
// that are always written back to back.
func (c *innerConn) sendAll(msgs ...[]byte) error {
	for _, m := range msgs {
		if _, err := c.w.Write(m); err != nil {
			return err
		}
	}
	return c.w.Flush()
}

// readMessage is the read_message primitive: it loops past NoticeResponse
// (routed to the notice handler) and ParameterStatus (merged into
// runtimeParams) until a message the caller must see arrives.
func (c *innerConn) readMessage() (protocol.Frame, error) {
	for {
		f, err := protocol.ReadFrame(c.r)
		if err != nil {
			return protocol.Frame{}, err
		}
		switch f.Tag {
		case protocol.TagNoticeResponse:
			n, err := protocol.DecodeNoticeResponse(f.Payload)
			if err == nil {
				c.noticeHandler.Handle(newDbError(n.Fields))
			}
		case protocol.TagParameterStatus:
			ps, err := protocol.DecodeParameterStatus(f.Payload)
			if err == nil {
				c.runtimeParams[ps.Name] = ps.Value
				slog.Debug("parameter status", "name", ps.Name, "value", ps.Value)
			}
		default:
			return f, nil
		}
	}
}

// waitForReady drains messages until ReadyForQuery, per the exchange
// error-recovery invariant: any ErrorResponse must be followed through to
// ReadyForQuery before the caller sees it.
func (c *innerConn) waitForReady() error {
	for {
		f, err := c.readMessage()
		if err != nil {
			return err
		}
		if f.Tag == protocol.TagReadyForQuery {
			return nil
		}
	}
}

// terminate sends the Terminate message and closes the stream. I/O errors
// are swallowed — they are advisory once the connection is going away.
func (c *innerConn) terminate() {
	_ = c.send(protocol.Terminate())
	_ = c.conn.Close()
}
