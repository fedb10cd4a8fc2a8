package pgcore

import "github.com/wirepg/pgcore/protocol"

// Rows is a lazy iterator over a portal's result set: a FIFO buffer of row
// payloads, refilled in batches of up to rowLimit via Execute on the
// suspended portal.
type Rows struct {
	stmt     *Statement
	portal   string
	rowLimit uint32
	buf      [][][]byte
	moreRows bool
	closed   bool
}

// Next returns the next row, or (nil, nil) once the portal is exhausted.
// When the buffer empties and more rows are pending, it issues another
// Execute+Sync to refill it.
func (rs *Rows) Next() (*Row, error) {
	if len(rs.buf) == 0 {
		if !rs.moreRows {
			return nil, nil
		}
		conn := rs.stmt.session.borrow()
		batch, err := rs.stmt.fetchMore(conn, rs.portal, rs.rowLimit)
		rs.stmt.session.release()
		if err != nil {
			return nil, err
		}
		rs.buf = batch.values
		rs.moreRows = batch.moreRows
		if len(rs.buf) == 0 {
			return nil, nil
		}
	}
	values := rs.buf[0]
	rs.buf = rs.buf[1:]
	return &Row{stmt: rs.stmt, values: values}, nil
}

// Close sends Close('P', portal)+Sync and drains to ReadyForQuery. Safe to
// call more than once.
func (rs *Rows) Close() {
	if rs.closed {
		return
	}
	rs.closed = true
	conn := rs.stmt.session.borrow()
	defer rs.stmt.session.release()
	if err := conn.sendAll(protocol.Close(protocol.DescribePortal, rs.portal), protocol.Sync()); err != nil {
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
