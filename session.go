package pgcore

import (
	"context"
	"strconv"
	"sync"

	"github.com/wirepg/pgcore/dsn"
	"github.com/wirepg/pgcore/pgtype"
)

// Session is the single-owner outer handle around an inner connection.
// Statements, cursors, and transactions borrow it for the duration of one
// exchange; the move-cell discipline is enforced by a mutex that panics
// (a ProgrammingError) on an overlapping borrow, since that would
// interleave wire traffic in a way this layer cannot recover from.
type Session struct {
	mu    sync.Mutex
	inUse bool
	conn  *innerConn

	registry   pgtype.Registry
	nextStmtID uint64
}

// Open connects, authenticates, and returns a ready Session. url is parsed
// with dsn.Parse; registry defaults to pgtype.Builtin when nil.
func Open(ctx context.Context, url string, registry pgtype.Registry) (*Session, error) {
	return OpenWithRecorder(ctx, url, registry, nil)
}

// OpenWithRecorder is Open plus an ExchangeRecorder (used by the companion
// metrics package). The recorder observes the startup handshake only; later
// exchanges on the session are not recorded.
func OpenWithRecorder(ctx context.Context, url string, registry pgtype.Registry, recorder ExchangeRecorder) (*Session, error) {
	parsed, err := dsn.Parse(url)
	if err != nil {
		return nil, connectError(InvalidUrl, err)
	}
	return OpenConfig(ctx, ConnectConfig{
		Host:     parsed.Host,
		Port:     parsed.Port,
		User:     parsed.User,
		Password: parsed.Password,
		Database: parsed.Database,
		Params:   parsed.Params,
	}, registry, recorder)
}

// OpenConfig connects using an already-built ConnectConfig, bypassing URL
// parsing entirely.
func OpenConfig(ctx context.Context, cfg ConnectConfig, registry pgtype.Registry, recorder ExchangeRecorder) (*Session, error) {
	if registry == nil {
		registry = pgtype.Builtin
	}
	conn, err := dialInner(ctx, cfg, recorder)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn, registry: registry}, nil
}

// borrow takes exclusive access to the inner connection for one exchange.
// It panics with a *ProgrammingError if the connection is already
// borrowed — overlapping exchanges on one connection are a caller bug,
// not a recoverable runtime condition.
func (s *Session) borrow() *innerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse {
		panic(programmingError("overlapping exchange: session is already borrowed"))
	}
	if s.conn == nil {
		panic(programmingError("session is closed"))
	}
	s.inUse = true
	return s.conn
}

func (s *Session) release() {
	s.mu.Lock()
	s.inUse = false
	s.mu.Unlock()
}

// allocStmtName returns the next "statement_<seq>" name.
func (s *Session) allocStmtName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextStmtID++
	return stmtName(s.nextStmtID)
}

func stmtName(id uint64) string {
	return "statement_" + strconv.FormatUint(id, 10)
}

// Prepare parses and describes query, sending an always-empty parameter
// type-hint list to Parse (the original, unhinted behavior).
func (s *Session) Prepare(query string) (*Statement, error) {
	return s.PrepareWithHints(query, nil)
}

// PrepareWithHints is Prepare with caller-pinned parameter OIDs. hints may
// be nil (infer all parameter types) or must have exactly the query's
// parameter count — a mismatch is a ProgrammingError once the statement's
// arity is known from ParameterDescription.
func (s *Session) PrepareWithHints(query string, hints []pgtype.OID) (*Statement, error) {
	name := s.allocStmtName()
	conn := s.borrow()
	defer s.release()
	return prepareStatement(s, conn, name, query, hints)
}

// Update prepares query, executes it once with params, and returns the
// affected row count, closing the statement afterward. It is a convenience
// wrapper for one-shot DML.
func (s *Session) Update(query string, params []any) (int64, error) {
	stmt, err := s.Prepare(query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	res, err := stmt.Exec(params)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

// SetNoticeHandler installs h as the session's notice sink, returning the
// previous handler.
func (s *Session) SetNoticeHandler(h NoticeHandler) NoticeHandler {
	conn := s.borrow()
	defer s.release()
	prev := conn.noticeHandler
	conn.noticeHandler = h
	return prev
}

// InTransaction runs fn inside a top-level transaction, committing on a
// normal return and rolling back if fn returns an error or panics — an
// abnormal exit propagates per the transaction controller's exit table.
func (s *Session) InTransaction(fn func(*Transaction) error) (err error) {
	tx, err := beginTransaction(s, false)
	if err != nil {
		return err
	}
	abnormal := true
	defer func() {
		r := recover()
		exitErr := tx.exit(abnormal)
		if r != nil {
			panic(r)
		}
		if err == nil {
			err = exitErr
		}
	}()
	err = fn(tx)
	abnormal = err != nil
	return err
}

// Close terminates the connection. Safe to call once; a second call is a
// no-op since the move-cell is already empty.
func (s *Session) Close() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.terminate()
	}
}
