package protocol

import (
	"bufio"
	"io"
)

// Frame is one raw tagged backend message: tag byte plus its payload (the
// length field already stripped and validated).
type Frame struct {
	Tag     byte
	Payload []byte
}

// ReadFrame reads one [tag:1][length:4][payload] frame from r. length is
// validated to be at least 4 (it includes itself) before the payload read
// is attempted.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return Frame{}, err
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return Frame{}, err
	}
	length := getUint32(lenBuf)
	if length < 4 {
		return Frame{}, malformed(tag, "length field smaller than its own size")
	}

	payloadLen := int(length) - 4
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return Frame{}, malformed(tag, "payload shorter than declared length")
			}
			return Frame{}, err
		}
	}
	return Frame{Tag: tag, Payload: payload}, nil
}

// AuthMessage is the decoded body of an 'R' Authentication message.
type AuthMessage struct {
	Sub  uint32
	Salt []byte // MD5 only: 4 bytes
	Data []byte // SASL mechanism list / server-first / server-final payload
}

// DecodeAuthentication parses an Authentication* payload, dispatching on
// the leading int32 subtype per §4.1.
func DecodeAuthentication(payload []byte) (AuthMessage, error) {
	if len(payload) < 4 {
		return AuthMessage{}, malformed(TagAuthentication, "payload shorter than subtype field")
	}
	m := AuthMessage{Sub: getUint32(payload[:4])}
	switch m.Sub {
	case AuthMD5Password:
		if len(payload) < 8 {
			return AuthMessage{}, malformed(TagAuthentication, "MD5 salt missing")
		}
		m.Salt = append([]byte(nil), payload[4:8]...)
	case AuthSASL, AuthSASLContinue, AuthSASLFinal:
		m.Data = append([]byte(nil), payload[4:]...)
	}
	return m, nil
}

// EncodeAuthentication serializes an AuthMessage back to its 'R' frame
// payload (used by tests acting as a fake backend).
func EncodeAuthentication(m AuthMessage) []byte {
	payload := make([]byte, 4)
	putUint32(payload, m.Sub)
	if m.Sub == AuthMD5Password {
		payload = append(payload, m.Salt...)
	} else {
		payload = append(payload, m.Data...)
	}
	return tagged(TagAuthentication, payload)
}

// BackendKeyData is the decoded body of a 'K' message.
type BackendKeyData struct {
	PID uint32
	Key uint32
}

func DecodeBackendKeyData(payload []byte) (BackendKeyData, error) {
	if len(payload) < 8 {
		return BackendKeyData{}, malformed(TagBackendKeyData, "payload shorter than 8 bytes")
	}
	return BackendKeyData{PID: getUint32(payload[:4]), Key: getUint32(payload[4:8])}, nil
}

func EncodeBackendKeyData(m BackendKeyData) []byte {
	payload := make([]byte, 8)
	putUint32(payload[:4], m.PID)
	putUint32(payload[4:8], m.Key)
	return tagged(TagBackendKeyData, payload)
}

// ParameterStatus is the decoded body of an 'S' message.
type ParameterStatus struct {
	Name  string
	Value string
}

func DecodeParameterStatus(payload []byte) (ParameterStatus, error) {
	name, rest, err := readCString(TagParameterStatus, payload)
	if err != nil {
		return ParameterStatus{}, err
	}
	value, _, err := readCString(TagParameterStatus, rest)
	if err != nil {
		return ParameterStatus{}, err
	}
	return ParameterStatus{Name: name, Value: value}, nil
}

func EncodeParameterStatus(m ParameterStatus) []byte {
	payload := appendCString(nil, m.Name)
	payload = appendCString(payload, m.Value)
	return tagged(TagParameterStatus, payload)
}

// ReadyForQuery is the decoded body of a 'Z' message. Status is one of
// 'I' (idle), 'T' (in transaction) or 'E' (failed transaction).
type ReadyForQuery struct {
	Status byte
}

func DecodeReadyForQuery(payload []byte) (ReadyForQuery, error) {
	if len(payload) < 1 {
		return ReadyForQuery{}, malformed(TagReadyForQuery, "missing status byte")
	}
	return ReadyForQuery{Status: payload[0]}, nil
}

func EncodeReadyForQuery(m ReadyForQuery) []byte {
	return tagged(TagReadyForQuery, []byte{m.Status})
}

// FieldDescription describes one result column, as carried by a
// RowDescription message.
type FieldDescription struct {
	Name         string
	TableOID     uint32
	ColumnAttr   int16
	TypeOID      uint32
	TypeSize     int16
	TypeModifier int32
	Format       int16
}

// RowDescription is the decoded body of a 'T' message.
type RowDescription struct {
	Fields []FieldDescription
}

func DecodeRowDescription(payload []byte) (RowDescription, error) {
	if len(payload) < 2 {
		return RowDescription{}, malformed(TagRowDescription, "missing field count")
	}
	n := int(getUint16(payload[:2]))
	rest := payload[2:]
	fields := make([]FieldDescription, 0, n)
	for i := 0; i < n; i++ {
		name, after, err := readCString(TagRowDescription, rest)
		if err != nil {
			return RowDescription{}, err
		}
		if len(after) < 18 {
			return RowDescription{}, malformed(TagRowDescription, "truncated field descriptor")
		}
		f := FieldDescription{
			Name:         name,
			TableOID:     getUint32(after[0:4]),
			ColumnAttr:   int16(getUint16(after[4:6])),
			TypeOID:      getUint32(after[6:10]),
			TypeSize:     int16(getUint16(after[10:12])),
			TypeModifier: int32(getUint32(after[12:16])),
			Format:       int16(getUint16(after[16:18])),
		}
		fields = append(fields, f)
		rest = after[18:]
	}
	return RowDescription{Fields: fields}, nil
}

func EncodeRowDescription(m RowDescription) []byte {
	payload := make([]byte, 2)
	putUint16(payload, uint16(len(m.Fields)))
	for _, f := range m.Fields {
		payload = appendCString(payload, f.Name)
		b := make([]byte, 18)
		putUint32(b[0:4], f.TableOID)
		putUint16(b[4:6], uint16(f.ColumnAttr))
		putUint32(b[6:10], f.TypeOID)
		putUint16(b[10:12], uint16(f.TypeSize))
		putUint32(b[12:16], uint32(f.TypeModifier))
		putUint16(b[16:18], uint16(f.Format))
		payload = append(payload, b...)
	}
	return tagged(TagRowDescription, payload)
}

// ParameterDescription is the decoded body of a 't' message.
type ParameterDescription struct {
	OIDs []uint32
}

func DecodeParameterDescription(payload []byte) (ParameterDescription, error) {
	if len(payload) < 2 {
		return ParameterDescription{}, malformed(TagParameterDescription, "missing param count")
	}
	n := int(getUint16(payload[:2]))
	rest := payload[2:]
	if len(rest) < n*4 {
		return ParameterDescription{}, malformed(TagParameterDescription, "truncated oid list")
	}
	oids := make([]uint32, n)
	for i := 0; i < n; i++ {
		oids[i] = getUint32(rest[i*4 : i*4+4])
	}
	return ParameterDescription{OIDs: oids}, nil
}

func EncodeParameterDescription(m ParameterDescription) []byte {
	payload := make([]byte, 2+4*len(m.OIDs))
	putUint16(payload[:2], uint16(len(m.OIDs)))
	for i, oid := range m.OIDs {
		putUint32(payload[2+i*4:2+i*4+4], oid)
	}
	return tagged(TagParameterDescription, payload)
}

// DataRow is the decoded body of a 'D' message. A nil element means SQL NULL.
type DataRow struct {
	Values [][]byte
}

func DecodeDataRow(payload []byte) (DataRow, error) {
	if len(payload) < 2 {
		return DataRow{}, malformed(TagDataRow, "missing column count")
	}
	n := int(getUint16(payload[:2]))
	rest := payload[2:]
	values := make([][]byte, n)
	for i := 0; i < n; i++ {
		if len(rest) < 4 {
			return DataRow{}, malformed(TagDataRow, "truncated column length")
		}
		l := int32(getUint32(rest[:4]))
		rest = rest[4:]
		if l < 0 {
			values[i] = nil
			continue
		}
		if len(rest) < int(l) {
			return DataRow{}, malformed(TagDataRow, "truncated column value")
		}
		values[i] = append([]byte(nil), rest[:l]...)
		rest = rest[l:]
	}
	return DataRow{Values: values}, nil
}

func EncodeDataRow(m DataRow) []byte {
	payload := make([]byte, 2)
	putUint16(payload, uint16(len(m.Values)))
	for _, v := range m.Values {
		l := make([]byte, 4)
		if v == nil {
			putUint32(l, 0xFFFFFFFF)
			payload = append(payload, l...)
			continue
		}
		putUint32(l, uint32(len(v)))
		payload = append(payload, l...)
		payload = append(payload, v...)
	}
	return tagged(TagDataRow, payload)
}

// CommandComplete is the decoded body of a 'C' message.
type CommandComplete struct {
	Tag string
}

func DecodeCommandComplete(payload []byte) (CommandComplete, error) {
	tag, _, err := readCString(TagCommandComplete, payload)
	if err != nil {
		return CommandComplete{}, err
	}
	return CommandComplete{Tag: tag}, nil
}

func EncodeCommandComplete(m CommandComplete) []byte {
	return tagged(TagCommandComplete, appendCString(nil, m.Tag))
}

// ErrorField is one (code, value) pair of an ErrorResponse/NoticeResponse.
type ErrorField struct {
	Code  byte
	Value string
}

// ErrorResponse is the decoded body shared by 'E' and 'N' messages.
type ErrorResponse struct {
	Fields []ErrorField
}

func decodeErrorLike(tag byte, payload []byte) (ErrorResponse, error) {
	var fields []ErrorField
	for i := 0; i < len(payload); {
		code := payload[i]
		if code == 0 {
			return ErrorResponse{Fields: fields}, nil
		}
		i++
		name, rest, err := readCString(tag, payload[i:])
		if err != nil {
			return ErrorResponse{}, err
		}
		fields = append(fields, ErrorField{Code: code, Value: name})
		i = len(payload) - len(rest)
	}
	return ErrorResponse{}, malformed(tag, "missing terminating zero byte")
}

func DecodeErrorResponse(payload []byte) (ErrorResponse, error) {
	return decodeErrorLike(TagErrorResponse, payload)
}

func DecodeNoticeResponse(payload []byte) (ErrorResponse, error) {
	return decodeErrorLike(TagNoticeResponse, payload)
}

func encodeErrorLike(tag byte, m ErrorResponse) []byte {
	var payload []byte
	for _, f := range m.Fields {
		payload = append(payload, f.Code)
		payload = appendCString(payload, f.Value)
	}
	payload = append(payload, 0)
	return tagged(tag, payload)
}

func EncodeErrorResponse(m ErrorResponse) []byte  { return encodeErrorLike(TagErrorResponse, m) }
func EncodeNoticeResponse(m ErrorResponse) []byte { return encodeErrorLike(TagNoticeResponse, m) }

// No-payload backend messages.
func EncodeParseComplete() []byte      { return tagged(TagParseComplete, nil) }
func EncodeBindComplete() []byte       { return tagged(TagBindComplete, nil) }
func EncodeCloseComplete() []byte      { return tagged(TagCloseComplete, nil) }
func EncodeNoData() []byte             { return tagged(TagNoData, nil) }
func EncodePortalSuspended() []byte    { return tagged(TagPortalSuspended, nil) }
func EncodeEmptyQueryResponse() []byte { return tagged(TagEmptyQueryResponse, nil) }

func readCString(tag byte, buf []byte) (string, []byte, error) {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), buf[i+1:], nil
		}
	}
	return "", nil, malformed(tag, "unterminated string field")
}
