package pgtype

import (
	"fmt"
	"strconv"
)

// Builtin is the default registry: a handful of common scalar types, all
// text format except bytea, which uses binary format; sufficient to run the happy-path scenarios in the core's
// test suite without a caller supplying their own registry.
var Builtin Registry = NewRegistry(
	boolType{}, int4Type{}, int8Type{}, float8Type{}, textType{}, byteaType{},
)

type textType struct{}

func (textType) OID() OID                  { return OIDText }
func (textType) PreferredFormat() Format    { return FormatText }
func (textType) Encode(v any, f Format) ([]byte, Format, error) {
	if v == nil {
		return nil, FormatText, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, FormatText, fmt.Errorf("pgtype: text encode wants string, got %T", v)
	}
	return []byte(s), FormatText, nil
}
func (textType) Decode(data []byte, _ Format) (any, error) {
	if data == nil {
		return nil, nil
	}
	return string(data), nil
}

type boolType struct{}

func (boolType) OID() OID               { return OIDBool }
func (boolType) PreferredFormat() Format { return FormatText }
func (boolType) Encode(v any, f Format) ([]byte, Format, error) {
	if v == nil {
		return nil, FormatText, nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil, FormatText, fmt.Errorf("pgtype: bool encode wants bool, got %T", v)
	}
	if b {
		return []byte("t"), FormatText, nil
	}
	return []byte("f"), FormatText, nil
}
func (boolType) Decode(data []byte, _ Format) (any, error) {
	if data == nil {
		return nil, nil
	}
	return len(data) == 1 && (data[0] == 't' || data[0] == 'T'), nil
}

type int4Type struct{}

func (int4Type) OID() OID               { return OIDInt4 }
func (int4Type) PreferredFormat() Format { return FormatText }
func (int4Type) Encode(v any, f Format) ([]byte, Format, error) {
	if v == nil {
		return nil, FormatText, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return nil, FormatText, err
	}
	return []byte(strconv.FormatInt(n, 10)), FormatText, nil
}
func (int4Type) Decode(data []byte, _ Format) (any, error) {
	if data == nil {
		return nil, nil
	}
	n, err := strconv.ParseInt(string(data), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("pgtype: decoding int4: %w", err)
	}
	return int32(n), nil
}

type int8Type struct{}

func (int8Type) OID() OID               { return OIDInt8 }
func (int8Type) PreferredFormat() Format { return FormatText }
func (int8Type) Encode(v any, f Format) ([]byte, Format, error) {
	if v == nil {
		return nil, FormatText, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return nil, FormatText, err
	}
	return []byte(strconv.FormatInt(n, 10)), FormatText, nil
}
func (int8Type) Decode(data []byte, _ Format) (any, error) {
	if data == nil {
		return nil, nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("pgtype: decoding int8: %w", err)
	}
	return n, nil
}

type float8Type struct{}

func (float8Type) OID() OID               { return OIDFloat8 }
func (float8Type) PreferredFormat() Format { return FormatText }
func (float8Type) Encode(v any, f Format) ([]byte, Format, error) {
	if v == nil {
		return nil, FormatText, nil
	}
	switch n := v.(type) {
	case float64:
		return []byte(strconv.FormatFloat(n, 'g', -1, 64)), FormatText, nil
	case float32:
		return []byte(strconv.FormatFloat(float64(n), 'g', -1, 32)), FormatText, nil
	default:
		return nil, FormatText, fmt.Errorf("pgtype: float8 encode wants float, got %T", v)
	}
}
func (float8Type) Decode(data []byte, _ Format) (any, error) {
	if data == nil {
		return nil, nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return nil, fmt.Errorf("pgtype: decoding float8: %w", err)
	}
	return f, nil
}

type byteaType struct{}

func (byteaType) OID() OID               { return OIDBytea }
func (byteaType) PreferredFormat() Format { return FormatBinary }
func (byteaType) Encode(v any, f Format) ([]byte, Format, error) {
	if v == nil {
		return nil, FormatBinary, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, FormatBinary, fmt.Errorf("pgtype: bytea encode wants []byte, got %T", v)
	}
	return b, FormatBinary, nil
}
func (byteaType) Decode(data []byte, _ Format) (any, error) {
	return data, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("pgtype: expected an integer value, got %T", v)
	}
}
