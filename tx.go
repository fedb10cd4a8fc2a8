package pgcore

import "github.com/wirepg/pgcore/protocol"

// Transaction is a scoped SQL transaction: BEGIN at the top level or
// SAVEPOINT sp when nested inside another transaction. Every nesting
// level shares the single savepoint label "sp" — safe only because
// sibling nested scopes are strictly sequential, never overlapping.
type Transaction struct {
	session *Session
	commit  bool
	nested  bool
}

const savepointName = "sp"

func beginTransaction(s *Session, nested bool) (*Transaction, error) {
	sql := "BEGIN"
	if nested {
		sql = "SAVEPOINT " + savepointName
	}
	if err := s.simpleExec(sql); err != nil {
		return nil, err
	}
	return &Transaction{session: s, commit: true, nested: nested}, nil
}

// simpleExec runs sql via the simple query protocol (no parameters, no
// Parse/Bind bookkeeping needed for transaction-control statements) and
// drains to ReadyForQuery.
func (s *Session) simpleExec(sql string) error {
	conn := s.borrow()
	defer s.release()
	if err := conn.send(protocol.Query(sql)); err != nil {
		return err
	}
	for {
		f, err := conn.readMessage()
		if err != nil {
			return err
		}
		switch f.Tag {
		case protocol.TagErrorResponse:
			er, _ := protocol.DecodeErrorResponse(f.Payload)
			_ = conn.waitForReady()
			return newDbError(er.Fields)
		case protocol.TagReadyForQuery:
			return nil
		}
	}
}

// SetRollback marks the transaction to roll back on a normal (non-panic,
// non-error) scope exit, instead of the default commit.
func (tx *Transaction) SetRollback() { tx.commit = false }

// exit chooses and issues the SQL literal from §4.6's six-row exit table.
func (tx *Transaction) exit(abnormal bool) error {
	var sql string
	switch {
	case abnormal && !tx.nested:
		sql = "ROLLBACK"
	case abnormal && tx.nested:
		sql = "ROLLBACK TO " + savepointName
	case !abnormal && tx.commit && !tx.nested:
		sql = "COMMIT"
	case !abnormal && tx.commit && tx.nested:
		sql = "RELEASE " + savepointName
	case !abnormal && !tx.commit && !tx.nested:
		sql = "ROLLBACK"
	default: // !abnormal && !tx.commit && tx.nested
		sql = "ROLLBACK TO " + savepointName
	}
	return tx.session.simpleExec(sql)
}

// InTransaction opens a nested scope (SAVEPOINT sp) and runs fn inside it,
// propagating an abnormal exit (error or panic) to ROLLBACK TO sp.
func (tx *Transaction) InTransaction(fn func(*Transaction) error) (err error) {
	nested, err := beginTransaction(tx.session, true)
	if err != nil {
		return err
	}
	abnormal := true
	defer func() {
		r := recover()
		exitErr := nested.exit(abnormal)
		if r != nil {
			panic(r)
		}
		if err == nil {
			err = exitErr
		}
	}()
	err = fn(nested)
	abnormal = err != nil
	return err
}

// Prepare forwards to the owning session.
func (tx *Transaction) Prepare(query string) (*Statement, error) { return tx.session.Prepare(query) }

// Update forwards to the owning session.
func (tx *Transaction) Update(query string, params []any) (int64, error) {
	return tx.session.Update(query, params)
}
