// Package protocol implements the PostgreSQL frontend/backend wire protocol
// (version 3), the binary message codec described in the core's design: a
// pure, synchronous mapping between structured messages and their byte
// layout. It has no connection-management or session semantics — those
// live one layer up, in the pgcore package.
package protocol

import "encoding/binary"

// ProtocolVersion is the v3.0 protocol identifier sent in StartupMessage.
const ProtocolVersion uint32 = 3 << 16

// Backend message tags (first byte of every tagged message).
const (
	TagAuthentication      byte = 'R'
	TagBackendKeyData      byte = 'K'
	TagParameterStatus     byte = 'S'
	TagReadyForQuery       byte = 'Z'
	TagParseComplete       byte = '1'
	TagBindComplete        byte = '2'
	TagCloseComplete       byte = '3'
	TagRowDescription      byte = 'T'
	TagParameterDescription byte = 't'
	TagNoData              byte = 'n'
	TagDataRow             byte = 'D'
	TagCommandComplete     byte = 'C'
	TagPortalSuspended     byte = 's'
	TagEmptyQueryResponse  byte = 'I'
	TagErrorResponse       byte = 'E'
	TagNoticeResponse      byte = 'N'
)

// Frontend message tags.
const (
	tagPasswordMessage byte = 'p'
	tagParse           byte = 'P'
	tagBind            byte = 'B'
	tagDescribe        byte = 'D'
	tagExecute         byte = 'E'
	tagQuery           byte = 'Q'
	tagSync            byte = 'S'
	tagTerminate       byte = 'X'
	tagClose           byte = 'C'
)

// Authentication subtypes, read from the first int32 of an 'R' message.
const (
	AuthOK                uint32 = 0
	AuthKerberosV5        uint32 = 2
	AuthCleartextPassword uint32 = 3
	AuthMD5Password       uint32 = 5
	AuthSCMCredential     uint32 = 6
	AuthGSS               uint32 = 7
	AuthSSPI              uint32 = 9
	AuthSASL              uint32 = 10
	AuthSASLContinue      uint32 = 11
	AuthSASLFinal          uint32 = 12
)

// DescribeStatement and DescribePortal select the Describe message variant.
const (
	DescribeStatement byte = 'S'
	DescribePortal    byte = 'P'
)

func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func getUint32(b []byte) uint32    { return binary.BigEndian.Uint32(b) }
func getUint16(b []byte) uint16    { return binary.BigEndian.Uint16(b) }
func putUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
