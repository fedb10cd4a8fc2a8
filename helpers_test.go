package pgcore

import (
	"bufio"
	"net"
	"testing"

	"github.com/wirepg/pgcore/pgtype"
	"github.com/wirepg/pgcore/protocol"
)

// fakeBackend is a net.Pipe()-backed stand-in for a PostgreSQL server,
// letting tests drive the wire exchange directly without a real database.
type fakeBackend struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

// newFakeBackend returns the client end of a pipe (handed to dialInner via
// a net.Conn-based ConnectConfig is not possible, since dialInner dials
// TCP itself) — tests instead construct an innerConn directly around the
// pipe, bypassing DNS/dial, and drive the backend side with this type.
func newFakeBackend(t *testing.T) (net.Conn, *fakeBackend) {
	t.Helper()
	client, server := net.Pipe()
	fb := &fakeBackend{t: t, conn: server, r: bufio.NewReader(server)}
	return client, fb
}

func (fb *fakeBackend) readFrontendFrame() protocol.Frame {
	fb.t.Helper()
	f, err := protocol.ReadFrame(fb.r)
	if err != nil {
		fb.t.Fatalf("reading frontend frame: %v", err)
	}
	return f
}

// readStartup reads the untagged StartupMessage.
func (fb *fakeBackend) readStartup() []byte {
	fb.t.Helper()
	lenBuf := make([]byte, 4)
	if _, err := fb.conn.Read(lenBuf); err != nil {
		fb.t.Fatalf("reading startup length: %v", err)
	}
	length := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])
	body := make([]byte, length-4)
	if _, err := readFull(fb.conn, body); err != nil {
		fb.t.Fatalf("reading startup body: %v", err)
	}
	return body
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (fb *fakeBackend) send(raw []byte) {
	fb.t.Helper()
	if _, err := fb.conn.Write(raw); err != nil {
		fb.t.Fatalf("writing to pipe: %v", err)
	}
}

func (fb *fakeBackend) sendAuthOK() {
	fb.send(protocol.EncodeAuthentication(protocol.AuthMessage{Sub: protocol.AuthOK}))
}

func (fb *fakeBackend) sendReadyForQuery() {
	fb.send(protocol.EncodeReadyForQuery(protocol.ReadyForQuery{Status: 'I'}))
}

// completeStartup runs the MD5-free happy path: read startup, send OK,
// send one ParameterStatus, BackendKeyData, ReadyForQuery.
func (fb *fakeBackend) completeStartup() {
	fb.readStartup()
	fb.sendAuthOK()
	fb.send(protocol.EncodeParameterStatus(protocol.ParameterStatus{Name: "server_version", Value: "16.0"}))
	fb.send(protocol.EncodeBackendKeyData(protocol.BackendKeyData{PID: 1, Key: 2}))
	fb.sendReadyForQuery()
}

// newTestSession builds a Session directly around a fake pipe connection,
// bypassing dialInner's DNS/dial logic; the real handshake still runs
// against backendFunc through dialPipe.
func newTestSession(t *testing.T, backendFunc func(*fakeBackend)) *Session {
	t.Helper()
	conn, done := dialPipe(t, ConnectConfig{User: "alice", Database: "app"}, backendFunc, nil)
	t.Cleanup(func() {
		conn.conn.Close()
		<-done
	})
	return &Session{conn: conn, registry: pgtype.Builtin}
}

// dialPipe wires an innerConn to the client end of a net.Pipe() and runs
// cfg's handshake against backendFunc acting as the server. wantErr, if
// non-nil, receives the handshake's error (including nil on success);
// the caller is expected to wait on the returned done channel itself.
func dialPipe(t *testing.T, cfg ConnectConfig, backendFunc func(*fakeBackend), wantErr *error) (*innerConn, chan struct{}) {
	t.Helper()
	client, fb := newFakeBackend(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		backendFunc(fb)
	}()

	conn := &innerConn{
		conn:          client,
		r:             bufio.NewReader(client),
		w:             bufio.NewWriter(client),
		noticeHandler: slogNoticeHandler{},
		runtimeParams: make(map[string]string),
	}
	err := conn.handshake(cfg)
	if wantErr != nil {
		*wantErr = err
	} else if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return conn, done
}
