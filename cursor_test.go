package pgcore

import (
	"strconv"
	"testing"

	"github.com/wirepg/pgcore/protocol"
)

func dataRow(s string) protocol.DataRow {
	return protocol.DataRow{Values: [][]byte{[]byte(s)}}
}

// TestCursorLazyFetch drives the §8 "Lazy fetch" scenario: a query
// returning 10 rows with row_limit=3 performs one Bind+Execute and three
// further Executes, observing PortalSuspended three times and
// CommandComplete once, with each batch buffering at most 3 rows before
// the cursor re-fetches.
func TestCursorLazyFetch(t *testing.T) {
	s := newTestSession(t, func(fb *fakeBackend) {
		fb.completeStartup()

		fb.readFrontendFrame() // Parse
		fb.readFrontendFrame() // Describe
		fb.readFrontendFrame() // Sync
		fb.send(protocol.EncodeParseComplete())
		fb.send(protocol.EncodeParameterDescription(protocol.ParameterDescription{}))
		fb.send(protocol.EncodeRowDescription(protocol.RowDescription{Fields: []protocol.FieldDescription{intCol("n", 23)}}))
		fb.sendReadyForQuery()

		// Bind+Execute(max=3)+Sync: rows 1..3, suspended.
		fb.readFrontendFrame() // Bind
		fb.readFrontendFrame() // Execute
		fb.readFrontendFrame() // Sync
		fb.send(protocol.EncodeBindComplete())
		for i := 1; i <= 3; i++ {
			fb.send(protocol.EncodeDataRow(dataRow(strconv.Itoa(i))))
		}
		fb.send(protocol.EncodePortalSuspended())
		fb.sendReadyForQuery()

		// Execute(max=3)+Sync: rows 4..6, suspended.
		fb.readFrontendFrame() // Execute
		fb.readFrontendFrame() // Sync
		for i := 4; i <= 6; i++ {
			fb.send(protocol.EncodeDataRow(dataRow(strconv.Itoa(i))))
		}
		fb.send(protocol.EncodePortalSuspended())
		fb.sendReadyForQuery()

		// Execute(max=3)+Sync: rows 7..9, suspended.
		fb.readFrontendFrame()
		fb.readFrontendFrame()
		for i := 7; i <= 9; i++ {
			fb.send(protocol.EncodeDataRow(dataRow(strconv.Itoa(i))))
		}
		fb.send(protocol.EncodePortalSuspended())
		fb.sendReadyForQuery()

		// Execute(max=3)+Sync: row 10, then CommandComplete — the fourth
		// transition, ending more_rows.
		fb.readFrontendFrame()
		fb.readFrontendFrame()
		fb.send(protocol.EncodeDataRow(dataRow(strconv.Itoa(10))))
		fb.send(protocol.EncodeCommandComplete(protocol.CommandComplete{Tag: "SELECT 10"}))
		fb.sendReadyForQuery()

		fb.readFrontendFrame() // Close(portal)
		fb.readFrontendFrame() // Sync
		fb.sendReadyForQuery()

		fb.readFrontendFrame() // Close(stmt)
		fb.readFrontendFrame() // Sync
		fb.sendReadyForQuery()

		fb.readFrontendFrame() // Terminate
	})
	defer s.Close()

	stmt, err := s.Prepare("SELECT n FROM generate_series(1, 10) AS n")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer stmt.Close()

	rows, err := stmt.Query(nil, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer rows.Close()

	var got []int32
	for {
		row, err := rows.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if row == nil {
			break
		}
		v, err := row.Get(0)
		if err != nil {
			t.Fatalf("Get(0): %v", err)
		}
		got = append(got, v.(int32))
	}

	if len(got) != 10 {
		t.Fatalf("got %d rows, want 10", len(got))
	}
	for i, v := range got {
		if v != int32(i+1) {
			t.Fatalf("row %d = %d, want %d", i, v, i+1)
		}
	}
}

// TestCursorRowLimitZeroFetchesEverythingOnce checks row_limit=0 returns
// all rows from the first Execute, with more_rows false afterward — no
// further Execute is issued (the backend script below has no second
// Execute leg, so the test hangs if Next erroneously re-fetches).
func TestCursorRowLimitZeroFetchesEverythingOnce(t *testing.T) {
	s := newTestSession(t, func(fb *fakeBackend) {
		fb.completeStartup()

		fb.readFrontendFrame()
		fb.readFrontendFrame()
		fb.readFrontendFrame()
		fb.send(protocol.EncodeParseComplete())
		fb.send(protocol.EncodeParameterDescription(protocol.ParameterDescription{}))
		fb.send(protocol.EncodeRowDescription(protocol.RowDescription{Fields: []protocol.FieldDescription{intCol("n", 23)}}))
		fb.sendReadyForQuery()

		fb.readFrontendFrame()
		fb.readFrontendFrame()
		fb.readFrontendFrame()
		fb.send(protocol.EncodeBindComplete())
		for i := 1; i <= 3; i++ {
			fb.send(protocol.EncodeDataRow(dataRow(strconv.Itoa(i))))
		}
		fb.send(protocol.EncodeCommandComplete(protocol.CommandComplete{Tag: "SELECT 3"}))
		fb.sendReadyForQuery()

		fb.readFrontendFrame() // Close(portal)
		fb.readFrontendFrame()
		fb.sendReadyForQuery()
		fb.readFrontendFrame() // Close(stmt)
		fb.readFrontendFrame()
		fb.sendReadyForQuery()
		fb.readFrontendFrame() // Terminate
	})
	defer s.Close()

	stmt, err := s.Prepare("SELECT n FROM generate_series(1, 3) AS n")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer stmt.Close()

	rows, err := stmt.Query(nil, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer rows.Close()

	count := 0
	for {
		row, err := rows.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if row == nil {
			break
		}
		count++
	}
	if count != 3 {
		t.Fatalf("got %d rows, want 3", count)
	}
}
