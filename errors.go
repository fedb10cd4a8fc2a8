package pgcore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wirepg/pgcore/protocol"
)

// ConnectErrorKind classifies a failure during Open.
type ConnectErrorKind int

const (
	InvalidUrl ConnectErrorKind = iota
	MissingUser
	DnsError
	SocketError
	ConnectDbError
	MissingPassword
	UnsupportedAuthentication
)

func (k ConnectErrorKind) String() string {
	switch k {
	case InvalidUrl:
		return "InvalidUrl"
	case MissingUser:
		return "MissingUser"
	case DnsError:
		return "DnsError"
	case SocketError:
		return "SocketError"
	case ConnectDbError:
		return "DbError"
	case MissingPassword:
		return "MissingPassword"
	case UnsupportedAuthentication:
		return "UnsupportedAuthentication"
	default:
		return "Unknown"
	}
}

// ConnectError reports why Open failed. Err, when set, is the underlying
// cause (a DbError, a net error, or a plain message).
type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pgcore: connect failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("pgcore: connect failed (%s)", e.Kind)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func connectError(kind ConnectErrorKind, err error) *ConnectError {
	return &ConnectError{Kind: kind, Err: err}
}

// DbError is the structured backend error/notice report described by the
// protocol's ErrorResponse/NoticeResponse field set.
type DbError struct {
	Severity        string
	Code            string // SQLSTATE
	Message         string
	Detail          string
	Hint            string
	Position        string // position within the query the caller sent
	InternalQuery   string // a server-generated query, when present
	InternalPos     string // position within InternalQuery
	Where           string
	File, Line, Routine string

	Query string // the query text this error was raised against; this package leaves it empty
}

// newDbError builds a DbError from a decoded ErrorResponse/NoticeResponse.
// Field codes follow the protocol's documented set.
func newDbError(fields []protocol.ErrorField) *DbError {
	e := &DbError{}
	for _, f := range fields {
		switch f.Code {
		case 'S':
			e.Severity = f.Value
		case 'C':
			e.Code = f.Value
		case 'M':
			e.Message = f.Value
		case 'D':
			e.Detail = f.Value
		case 'H':
			e.Hint = f.Value
		case 'P':
			e.Position = f.Value
		case 'p':
			e.InternalPos = f.Value
		case 'q':
			e.InternalQuery = f.Value
		case 'W':
			e.Where = f.Value
		case 'F':
			e.File = f.Value
		case 'L':
			e.Line = f.Value
		case 'R':
			e.Routine = f.Value
		}
	}
	return e
}

func (e *DbError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("pgcore: %s: %s (%s)", e.Severity, e.Message, e.Code)
	}
	return fmt.Sprintf("pgcore: %s: %s", e.Severity, e.Message)
}

// Pretty renders a multi-line human-readable error report: severity,
// message, position (if known), the query text when Query is set, and the
// internal-query context where present. Nothing in this package sets
// Query, so the query text appears only when a caller has filled it in.
func (e *DbError) Pretty() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Severity, e.Message)
	if e.Detail != "" {
		fmt.Fprintf(&b, "\nDETAIL: %s", e.Detail)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, "\nHINT: %s", e.Hint)
	}
	if e.Position != "" {
		fmt.Fprintf(&b, "\nPOSITION: %s", e.Position)
	}
	if e.Query != "" {
		fmt.Fprintf(&b, "\nQUERY: %s", e.Query)
	}
	if e.InternalQuery != "" {
		fmt.Fprintf(&b, "\nINTERNAL QUERY: %s", e.InternalQuery)
		if e.InternalPos != "" {
			fmt.Fprintf(&b, "\nINTERNAL POSITION: %s", e.InternalPos)
		}
	}
	if e.Where != "" {
		fmt.Fprintf(&b, "\nWHERE: %s", e.Where)
	}
	return b.String()
}

// rowCount parses a CommandComplete tag's trailing token as a row count.
// Returns (n, true) when the last space-separated token parses as a
// non-negative integer, (0, false) otherwise — DDL tags like "CREATE TABLE"
// have no trailing count at all.
func rowCount(tag string) (int64, bool) {
	parts := strings.Fields(tag)
	if len(parts) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ProgrammingError reports a caller mistake — parameter arity, an
// out-of-range or unknown column — that indicates a bug rather than a
// runtime condition, and should unwind rather than be handled.
type ProgrammingError struct {
	Message string
}

func (e *ProgrammingError) Error() string { return "pgcore: programming error: " + e.Message }

func programmingError(format string, args ...any) *ProgrammingError {
	return &ProgrammingError{Message: fmt.Sprintf(format, args...)}
}
