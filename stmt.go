package pgcore

import (
	"fmt"
	"strconv"

	"github.com/wirepg/pgcore/pgtype"
	"github.com/wirepg/pgcore/protocol"
)

// Statement is a parsed, type-described query identified by a server-side
// name, reusable with multiple parameter bindings. It borrows its session
// for every exchange and is not safe for concurrent use.
type Statement struct {
	session *Session
	name    string

	paramOIDs  []pgtype.OID
	paramTypes []pgtype.Type

	resultFields []protocol.FieldDescription
	resultTypes  []pgtype.Type

	nextPortalID uint64
	closed       bool
}

// rawType is the fallback used for an OID the registry doesn't recognize:
// values pass through as raw text bytes, so queries mentioning an unknown
// type still round-trip as long as the caller only needs the wire bytes.
type rawType struct{ oid pgtype.OID }

func (t rawType) OID() pgtype.OID            { return t.oid }
func (t rawType) PreferredFormat() pgtype.Format { return pgtype.FormatText }
func (t rawType) Encode(v any, _ pgtype.Format) ([]byte, pgtype.Format, error) {
	if v == nil {
		return nil, pgtype.FormatText, nil
	}
	switch s := v.(type) {
	case string:
		return []byte(s), pgtype.FormatText, nil
	case []byte:
		return s, pgtype.FormatText, nil
	default:
		return nil, pgtype.FormatText, fmt.Errorf("pgcore: no type registered for OID %d, pass a string or []byte", t.oid)
	}
}
func (t rawType) Decode(data []byte, _ pgtype.Format) (any, error) {
	if data == nil {
		return nil, nil
	}
	return data, nil
}

func lookupType(registry pgtype.Registry, oid pgtype.OID) pgtype.Type {
	if t, ok := registry.Lookup(oid); ok {
		return t
	}
	return rawType{oid: oid}
}

// prepareStatement runs the Parse+Describe('S')+Sync exchange and records
// the resulting parameter/result metadata.
func prepareStatement(s *Session, conn *innerConn, name, query string, hints []pgtype.OID) (*Statement, error) {
	hintOIDs := make([]uint32, len(hints))
	for i, h := range hints {
		hintOIDs[i] = uint32(h)
	}

	if err := conn.sendAll(
		protocol.Parse(name, query, hintOIDs),
		protocol.Describe(protocol.DescribeStatement, name),
		protocol.Sync(),
	); err != nil {
		return nil, err
	}

	f, err := conn.readMessage()
	if err != nil {
		return nil, err
	}
	if f.Tag == protocol.TagErrorResponse {
		er, _ := protocol.DecodeErrorResponse(f.Payload)
		_ = conn.waitForReady()
		return nil, newDbError(er.Fields)
	}
	if f.Tag != protocol.TagParseComplete {
		_ = conn.waitForReady()
		return nil, fmt.Errorf("pgcore: expected ParseComplete, got tag %q", f.Tag)
	}

	f, err = conn.readMessage()
	if err != nil {
		return nil, err
	}
	if f.Tag != protocol.TagParameterDescription {
		_ = conn.waitForReady()
		return nil, fmt.Errorf("pgcore: expected ParameterDescription, got tag %q", f.Tag)
	}
	pd, err := protocol.DecodeParameterDescription(f.Payload)
	if err != nil {
		return nil, err
	}

	if hints != nil && len(hints) != len(pd.OIDs) {
		panic(programmingError("parameter hint count %d does not match statement's %d parameters", len(hints), len(pd.OIDs)))
	}

	stmt := &Statement{session: s, name: name}
	stmt.paramOIDs = make([]pgtype.OID, len(pd.OIDs))
	stmt.paramTypes = make([]pgtype.Type, len(pd.OIDs))
	for i, oid := range pd.OIDs {
		stmt.paramOIDs[i] = pgtype.OID(oid)
		stmt.paramTypes[i] = lookupType(s.registry, pgtype.OID(oid))
	}

	f, err = conn.readMessage()
	if err != nil {
		return nil, err
	}
	switch f.Tag {
	case protocol.TagRowDescription:
		rd, err := protocol.DecodeRowDescription(f.Payload)
		if err != nil {
			return nil, err
		}
		stmt.resultFields = rd.Fields
		stmt.resultTypes = make([]pgtype.Type, len(rd.Fields))
		for i, fd := range rd.Fields {
			stmt.resultTypes[i] = lookupType(s.registry, pgtype.OID(fd.TypeOID))
		}
	case protocol.TagNoData:
		// No result columns: an update/DDL statement.
	default:
		_ = conn.waitForReady()
		return nil, fmt.Errorf("pgcore: expected RowDescription or NoData, got tag %q", f.Tag)
	}

	if err := conn.waitForReady(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (stmt *Statement) allocPortalName() string {
	stmt.nextPortalID++
	return stmt.name + "_portal_" + strconv.FormatUint(stmt.nextPortalID, 10)
}

// Result is the outcome of a one-shot Exec: the parsed CommandComplete tag.
type Result struct {
	tag   string
	valid bool
}

// Count returns the best-effort parsed row count and whether the trailing
// CommandComplete token was numeric at all — DDL tags like "CREATE TABLE"
// have no trailing count and report (0, false), distinct from a genuine
// count of zero, which reports (0, true).
func (r *Result) Count() (int64, bool) {
	if !r.valid {
		return 0, false
	}
	return rowCount(r.tag)
}

// RowsAffected returns the parsed row count, or 0 when the tag carries no
// numeric trailing token — the original 0-fallback behavior.
func (r *Result) RowsAffected() int64 {
	n, _ := r.Count()
	return n
}

func (stmt *Statement) encodeParams(params []any) ([]protocol.Value, error) {
	if len(params) != len(stmt.paramTypes) {
		panic(programmingError("parameter count mismatch: got %d, statement expects %d", len(params), len(stmt.paramTypes)))
	}
	values := make([]protocol.Value, len(params))
	for i, p := range params {
		typ := stmt.paramTypes[i]
		data, format, err := typ.Encode(p, typ.PreferredFormat())
		if err != nil {
			return nil, fmt.Errorf("pgcore: encoding parameter %d: %w", i, err)
		}
		values[i] = protocol.Value{Data: data, Format: int16(format)}
	}
	return values, nil
}

func (stmt *Statement) resultFormats() []int16 {
	formats := make([]int16, len(stmt.resultTypes))
	for i, t := range stmt.resultTypes {
		formats[i] = int16(t.PreferredFormat())
	}
	return formats
}

// bindCreate sends Bind+Execute+Sync for a newly-allocated portal and
// drains the first batch of its rows.
func (stmt *Statement) bindCreate(conn *innerConn, portal string, params []any, maxRows uint32) (rowBatch, error) {
	values, err := stmt.encodeParams(params)
	if err != nil {
		return rowBatch{}, err
	}
	if err := conn.sendAll(
		protocol.Bind(portal, stmt.name, values, stmt.resultFormats()),
		protocol.Execute(portal, maxRows),
		protocol.Sync(),
	); err != nil {
		return rowBatch{}, err
	}

	f, err := conn.readMessage()
	if err != nil {
		return rowBatch{}, err
	}
	if f.Tag == protocol.TagErrorResponse {
		er, _ := protocol.DecodeErrorResponse(f.Payload)
		_ = conn.waitForReady()
		return rowBatch{}, newDbError(er.Fields)
	}
	if f.Tag != protocol.TagBindComplete {
		_ = conn.waitForReady()
		return rowBatch{}, fmt.Errorf("pgcore: expected BindComplete, got tag %q", f.Tag)
	}

	return stmt.drainRows(conn)
}

// fetchMore sends Execute+Sync for an already-bound, suspended portal.
func (stmt *Statement) fetchMore(conn *innerConn, portal string, maxRows uint32) (rowBatch, error) {
	if err := conn.sendAll(protocol.Execute(portal, maxRows), protocol.Sync()); err != nil {
		return rowBatch{}, err
	}
	return stmt.drainRows(conn)
}

type rowBatch struct {
	values     [][][]byte
	moreRows   bool
	tag        string
	tagValid   bool
	emptyQuery bool
}

// drainRows reads row-consumption messages per §4.4: DataRow enqueues,
// CommandComplete/EmptyQueryResponse end the batch with more_rows=false,
// PortalSuspended ends it with more_rows=true. Always finishes by
// consuming the terminating ReadyForQuery.
func (stmt *Statement) drainRows(conn *innerConn) (rowBatch, error) {
	var batch rowBatch
	for {
		f, err := conn.readMessage()
		if err != nil {
			return rowBatch{}, err
		}
		switch f.Tag {
		case protocol.TagDataRow:
			dr, err := protocol.DecodeDataRow(f.Payload)
			if err != nil {
				return rowBatch{}, err
			}
			batch.values = append(batch.values, dr.Values)
		case protocol.TagCommandComplete:
			cc, err := protocol.DecodeCommandComplete(f.Payload)
			if err != nil {
				return rowBatch{}, err
			}
			batch.tag, batch.tagValid = cc.Tag, true
			if err := conn.waitForReady(); err != nil {
				return rowBatch{}, err
			}
			return batch, nil
		case protocol.TagEmptyQueryResponse:
			batch.emptyQuery = true
			if err := conn.waitForReady(); err != nil {
				return rowBatch{}, err
			}
			return batch, nil
		case protocol.TagPortalSuspended:
			batch.moreRows = true
			if err := conn.waitForReady(); err != nil {
				return rowBatch{}, err
			}
			return batch, nil
		case protocol.TagErrorResponse:
			er, _ := protocol.DecodeErrorResponse(f.Payload)
			_ = conn.waitForReady()
			return rowBatch{}, newDbError(er.Fields)
		default:
			// Notices/ParameterStatus already absorbed by readMessage; any
			// other tag here would indicate a protocol violation, but this
			// core has nothing useful to do except keep draining.
		}
	}
}

// Exec runs the statement once with params and returns the affected-row
// outcome. row_limit is 0: retrieve everything in a single Execute.
func (stmt *Statement) Exec(params []any) (*Result, error) {
	conn := stmt.session.borrow()
	defer stmt.session.release()

	portal := stmt.allocPortalName()
	batch, err := stmt.bindCreate(conn, portal, params, 0)
	if err != nil {
		return nil, err
	}
	return &Result{tag: batch.tag, valid: batch.tagValid}, nil
}

// Query runs the statement with params and returns a lazy row cursor.
// rowLimit of 0 fetches every row in the first Execute.
func (stmt *Statement) Query(params []any, rowLimit uint32) (*Rows, error) {
	conn := stmt.session.borrow()
	portal := stmt.allocPortalName()
	batch, err := stmt.bindCreate(conn, portal, params, rowLimit)
	stmt.session.release()
	if err != nil {
		return nil, err
	}
	return &Rows{
		stmt:     stmt,
		portal:   portal,
		rowLimit: rowLimit,
		buf:      batch.values,
		moreRows: batch.moreRows,
	}, nil
}

// ColumnIndex returns the zero-based index of the first result column
// whose name exactly matches name, or (-1, false) if none does.
func (stmt *Statement) ColumnIndex(name string) (int, bool) {
	for i, f := range stmt.resultFields {
		if f.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Close sends Close('S', name)+Sync and drains to ReadyForQuery. Safe to
// call more than once; I/O errors are swallowed per the teardown contract.
func (stmt *Statement) Close() {
	if stmt.closed {
		return
	}
	stmt.closed = true
	conn := stmt.session.borrow()
	defer stmt.session.release()
	if err := conn.sendAll(protocol.Close(protocol.DescribeStatement, stmt.name), protocol.Sync()); err != nil {
		return
	}
	for {
		f, err := conn.readMessage()
		if err != nil {
			return
		}
		if f.Tag == protocol.TagReadyForQuery {
			return
		}
	}
}
