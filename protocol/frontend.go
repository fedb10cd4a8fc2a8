package protocol

import "sort"

// StartupMessage builds the one frontend message with no tag byte:
// [length:4][protocol:4][key\0value\0]*[\0].
func StartupMessage(params map[string]string) []byte {
	var body []byte
	ver := make([]byte, 4)
	putUint32(ver, ProtocolVersion)
	body = append(body, ver...)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		body = appendCString(body, k)
		body = appendCString(body, params[k])
	}
	body = append(body, 0)

	msg := make([]byte, 4+len(body))
	putUint32(msg[:4], uint32(4+len(body)))
	copy(msg[4:], body)
	return msg
}

// PasswordMessage builds a 'p' message carrying a NUL-terminated password
// (or a pre-hashed md5/SCRAM payload — the wire format is identical).
func PasswordMessage(password string) []byte {
	return tagged(tagPasswordMessage, appendCString(nil, password))
}

// SASLInitialResponse builds a 'p' message containing a SASL mechanism
// name and client-first-message, per RFC 5802's framing atop the
// PasswordMessage wire format.
func SASLInitialResponse(mechanism string, clientFirstMessage []byte) []byte {
	payload := appendCString(nil, mechanism)
	lenBuf := make([]byte, 4)
	putUint32(lenBuf, uint32(len(clientFirstMessage)))
	payload = append(payload, lenBuf...)
	payload = append(payload, clientFirstMessage...)
	return tagged(tagPasswordMessage, payload)
}

// SASLResponse builds a 'p' message carrying a raw SASL response.
func SASLResponse(data []byte) []byte {
	return tagged(tagPasswordMessage, append([]byte(nil), data...))
}

// Parse builds a 'P' message: name\0, query\0, int16 count, int32[] oids.
func Parse(name, query string, paramOIDs []uint32) []byte {
	payload := appendCString(nil, name)
	payload = appendCString(payload, query)
	n := make([]byte, 2)
	putUint16(n, uint16(len(paramOIDs)))
	payload = append(payload, n...)
	for _, oid := range paramOIDs {
		b := make([]byte, 4)
		putUint32(b, oid)
		payload = append(payload, b...)
	}
	return tagged(tagParse, payload)
}

// Value is one Bind parameter: nil means SQL NULL.
type Value struct {
	Data   []byte
	Format int16 // 0 = text, 1 = binary
}

// Bind builds a 'B' message.
func Bind(portal, stmt string, params []Value, resultFormats []int16) []byte {
	payload := appendCString(nil, portal)
	payload = appendCString(payload, stmt)

	nFormats := make([]byte, 2)
	putUint16(nFormats, uint16(len(params)))
	payload = append(payload, nFormats...)
	for _, p := range params {
		f := make([]byte, 2)
		putUint16(f, uint16(p.Format))
		payload = append(payload, f...)
	}

	nValues := make([]byte, 2)
	putUint16(nValues, uint16(len(params)))
	payload = append(payload, nValues...)
	for _, p := range params {
		if p.Data == nil {
			l := make([]byte, 4)
			putUint32(l, 0xFFFFFFFF) // -1 as int32
			payload = append(payload, l...)
			continue
		}
		l := make([]byte, 4)
		putUint32(l, uint32(len(p.Data)))
		payload = append(payload, l...)
		payload = append(payload, p.Data...)
	}

	nResult := make([]byte, 2)
	putUint16(nResult, uint16(len(resultFormats)))
	payload = append(payload, nResult...)
	for _, f := range resultFormats {
		b := make([]byte, 2)
		putUint16(b, uint16(f))
		payload = append(payload, b...)
	}

	return tagged(tagBind, payload)
}

// Describe builds a 'D' message for variant 'S' (statement) or 'P' (portal).
func Describe(variant byte, name string) []byte {
	payload := append([]byte{variant}, appendCString(nil, name)...)
	return tagged(tagDescribe, payload)
}

// Execute builds an 'E' message. maxRows of 0 means "no limit".
func Execute(portal string, maxRows uint32) []byte {
	payload := appendCString(nil, portal)
	n := make([]byte, 4)
	putUint32(n, maxRows)
	payload = append(payload, n...)
	return tagged(tagExecute, payload)
}

// Query builds a 'Q' simple-query message.
func Query(sql string) []byte {
	return tagged(tagQuery, appendCString(nil, sql))
}

// Sync builds a no-payload 'S' message closing an extended-query exchange.
func Sync() []byte { return tagged(tagSync, nil) }

// Terminate builds a no-payload 'X' message.
func Terminate() []byte { return tagged(tagTerminate, nil) }

// Close builds a 'C' message for variant 'S' (statement) or 'P' (portal).
func Close(variant byte, name string) []byte {
	payload := append([]byte{variant}, appendCString(nil, name)...)
	return tagged(tagClose, payload)
}

func tagged(tag byte, payload []byte) []byte {
	msg := make([]byte, 1+4+len(payload))
	msg[0] = tag
	putUint32(msg[1:5], uint32(4+len(payload)))
	copy(msg[5:], payload)
	return msg
}

func appendCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}
