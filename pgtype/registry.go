// Package pgtype defines the type-plugin contract spec'd as an external
// collaborator of the driver core: per-OID value encoders and decoders.
// pgcore depends only on the Registry interface; this package's Builtin
// registry is a minimal default so the module works without a caller
// supplying their own.
package pgtype

import "fmt"

// Format selects the wire representation of a value.
type Format int16

const (
	FormatText   Format = 0
	FormatBinary Format = 1
)

// OID is a PostgreSQL object identifier for a base type.
type OID uint32

// Common builtin OIDs, per PostgreSQL's catalog.
const (
	OIDBool    OID = 16
	OIDBytea   OID = 17
	OIDInt8    OID = 20
	OIDInt4    OID = 23
	OIDText    OID = 25
	OIDFloat4  OID = 700
	OIDFloat8  OID = 701
	OIDVarchar OID = 1043
)

// Type is the per-OID codec a caller plugs into a Registry.
type Type interface {
	OID() OID
	// Encode renders value as wire bytes in the given format. Returning
	// (nil, format, nil) encodes SQL NULL.
	Encode(value any, format Format) ([]byte, Format, error)
	// Decode parses wire bytes (nil means SQL NULL) in the given format.
	Decode(data []byte, format Format) (any, error)
	// PreferredFormat is tried first when both sides can negotiate.
	PreferredFormat() Format
}

// Registry looks up a Type by OID.
type Registry interface {
	Lookup(oid OID) (Type, bool)
}

// mapRegistry is the simplest possible Registry implementation.
type mapRegistry map[OID]Type

func (m mapRegistry) Lookup(oid OID) (Type, bool) {
	t, ok := m[oid]
	return t, ok
}

// NewRegistry builds a Registry from an explicit set of types, letting
// callers start from Builtin and override or extend it.
func NewRegistry(types ...Type) Registry {
	m := make(mapRegistry, len(types))
	for _, t := range types {
		m[t.OID()] = t
	}
	return m
}

// ErrUnknownOID reports an OID with no registered type. Nothing in this
// package returns it; Registry.Lookup reports a miss through its bool result.
type ErrUnknownOID struct{ OID OID }

func (e *ErrUnknownOID) Error() string {
	return fmt.Sprintf("pgtype: no type registered for OID %d", e.OID)
}
