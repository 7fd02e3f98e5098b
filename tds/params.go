package tds

import (
	"math"
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
)

// ProcIDExecuteSQL is the reserved RPC procedure id for sp_executesql,
// used by Session.Execute to run parameterized SQL through the RPC path
// rather than string-interpolating parameters into a SQL_BATCH.
const ProcIDExecuteSQL uint16 = 10

// Param is a single bound parameter to Execute/CallProc: a name (empty for
// a positional parameter), a Go value, and whether it is an output
// parameter. Supported value types are nil, bool, int64 and the other
// builtin integer widths, float64, string, []byte, time.Time,
// civil.Date, civil.Time, and decimal.Decimal.
type Param struct {
	Name   string
	Value  interface{}
	Output bool
}

// paramTypeInfo describes the wire TYPE_INFO this engine picks for a given
// Go value when encoding an RPC parameter. Parameters are always encoded
// using their nullable ("N") family type, which lets NULL round-trip
// through any parameter regardless of its Go-side value. decimalPrec is the
// Session's configured decimal precision (the WithDecimalPrecision option),
// used for decimal.Decimal values since the type itself carries no
// precision, only a scale.
func paramTypeInfo(v interface{}, decimalPrec uint8) (col Column, err error) {
	switch x := v.(type) {
	case nil:
		return Column{Type: TypeNVarChar, Length: 8000}, nil
	case bool:
		return Column{Type: TypeBitN}, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Column{Type: TypeIntN, Length: 8}, nil
	case float32, float64:
		return Column{Type: TypeFloatN, Length: 8}, nil
	case string:
		n := uint32(len(x) * 2)
		if n == 0 {
			n = 2
		}
		if n > 4000 {
			return Column{Type: TypeNVarChar, Length: 0xFFFF}, nil
		}
		return Column{Type: TypeNVarChar, Length: n}, nil
	case []byte:
		n := uint32(len(x))
		if n > 8000 {
			return Column{Type: TypeBigVarBin, Length: 0xFFFF}, nil
		}
		if n == 0 {
			n = 1
		}
		return Column{Type: TypeBigVarBin, Length: n}, nil
	case time.Time:
		return Column{Type: TypeDateTime2N, Scale: 7}, nil
	case civil.Date:
		return Column{Type: TypeDateN}, nil
	case civil.Time:
		return Column{Type: TypeTimeN, Scale: 7}, nil
	case decimal.Decimal:
		scale := uint8(x.Exponent() * -1)
		prec := decimalPrec
		if prec == 0 {
			prec = 38
		}
		return Column{Type: TypeDecimalN, Length: 17, Precision: prec, Scale: scale}, nil
	default:
		return Column{}, newProgrammingError("unsupported parameter type %T", v)
	}
}

// encodeParam writes one RPC_REQUEST parameter record: name, status flags,
// TYPE_INFO, and value, mirroring MS-TDS 2.2.6.6.
func encodeParam(buf []byte, p Param, decimalPrec uint8) ([]byte, error) {
	nameUTF16 := stringToUCS2(p.Name)
	buf = append(buf, byte(len(nameUTF16)/2))
	buf = append(buf, nameUTF16...)

	var statusFlags byte
	if p.Output {
		statusFlags |= 0x01
	}
	buf = append(buf, statusFlags)

	col, err := paramTypeInfo(p.Value, decimalPrec)
	if err != nil {
		return nil, err
	}
	buf = appendTypeInfo(buf, col)
	return appendParamValue(buf, col, p.Value)
}

// appendTypeInfo writes the TYPE_INFO shape for col, matching the set of
// shapes parseTypeInfo understands on the decode side.
func appendTypeInfo(buf []byte, col Column) []byte {
	buf = append(buf, byte(col.Type))
	switch col.Type {
	case TypeBitN, TypeIntN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		buf = append(buf, byte(col.Length))
	case TypeDateN:
		// no additional bytes
	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		buf = append(buf, col.Scale)
	case TypeDecimalN, TypeNumericN:
		buf = append(buf, byte(col.Length), col.Precision, col.Scale)
	case TypeNVarChar, TypeNChar:
		buf = appendUint16(buf, uint16(col.Length))
		buf = append(buf, DefaultCollation...)
	case TypeBigVarBin, TypeBigBinary:
		buf = appendUint16(buf, uint16(col.Length))
	}
	return buf
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendUint64(buf []byte, v uint64) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// appendParamValue encodes v's value bytes following its TYPE_INFO, in the
// nullable-family wire shape (a length byte/word followed by the value).
// NULL is written by appendParamNull: a zero length byte, or for
// NVARCHAR/VARBINARY the 0xFFFF length word (the PLP NULL sentinel for MAX).
func appendParamValue(buf []byte, col Column, v interface{}) ([]byte, error) {
	if v == nil {
		return appendParamNull(buf, col), nil
	}

	switch col.Type {
	case TypeBitN:
		b, ok := v.(bool)
		if !ok {
			return nil, newProgrammingError("expected bool, got %T", v)
		}
		buf = append(buf, 1)
		if b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		return buf, nil

	case TypeIntN:
		n, err := toInt64Param(v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, 8)
		return appendUint64(buf, uint64(n)), nil

	case TypeFloatN:
		f, err := toFloat64Param(v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, 8)
		return appendUint64(buf, float64Bits(f)), nil

	case TypeNVarChar:
		s, ok := v.(string)
		if !ok {
			return nil, newProgrammingError("expected string, got %T", v)
		}
		enc := stringToUCS2(s)
		if col.Length == 0xFFFF {
			return appendPLPValue(buf, enc), nil
		}
		buf = appendUint16(buf, uint16(len(enc)))
		return append(buf, enc...), nil

	case TypeBigVarBin:
		b, ok := v.([]byte)
		if !ok {
			return nil, newProgrammingError("expected []byte, got %T", v)
		}
		if col.Length == 0xFFFF {
			return appendPLPValue(buf, b), nil
		}
		buf = appendUint16(buf, uint16(len(b)))
		return append(buf, b...), nil

	case TypeDateN:
		d, ok := v.(civil.Date)
		if !ok {
			return nil, newProgrammingError("expected civil.Date, got %T", v)
		}
		buf = append(buf, 3)
		days := encodeDateN(d)
		return append(buf, byte(days), byte(days>>8), byte(days>>16)), nil

	case TypeTimeN:
		t, ok := v.(civil.Time)
		if !ok {
			return nil, newProgrammingError("expected civil.Time, got %T", v)
		}
		ticks := encodeTimeN(t, col.Scale)
		buf = append(buf, 5)
		return append(buf, byte(ticks), byte(ticks>>8), byte(ticks>>16), byte(ticks>>24), byte(ticks>>32)), nil

	case TypeDateTime2N:
		t, ok := v.(time.Time)
		if !ok {
			return nil, newProgrammingError("expected time.Time, got %T", v)
		}
		t = t.UTC()
		ct := civil.Time{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(), Nanosecond: t.Nanosecond()}
		cd := civil.Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
		ticks := encodeTimeN(ct, col.Scale)
		days := encodeDateN(cd)
		buf = append(buf, 8)
		buf = append(buf, byte(ticks), byte(ticks>>8), byte(ticks>>16), byte(ticks>>24), byte(ticks>>32))
		return append(buf, byte(days), byte(days>>8), byte(days>>16)), nil

	case TypeDecimalN:
		d, ok := v.(decimal.Decimal)
		if !ok {
			return nil, newProgrammingError("expected decimal.Decimal, got %T", v)
		}
		return appendDecimalValue(buf, d, col)

	default:
		return nil, newInternalError(codeDecoderTableGap, "no encoder for param type %s", col.Type)
	}
}

func appendParamNull(buf []byte, col Column) []byte {
	switch col.Type {
	case TypeNVarChar, TypeBigVarBin:
		if col.Length == 0xFFFF {
			return appendUint64(buf, plpNullLength)
		}
		return appendUint16(buf, 0xFFFF)
	default:
		return append(buf, 0)
	}
}

// appendPLPValue writes a PLP-encoded value: an 8-byte total length, the
// payload as a single chunk, then a zero-length terminator chunk.
func appendPLPValue(buf []byte, payload []byte) []byte {
	buf = appendUint64(buf, uint64(len(payload)))
	if len(payload) > 0 {
		buf = appendUint32(buf, uint32(len(payload)))
		buf = append(buf, payload...)
	}
	return appendUint32(buf, 0)
}

func appendDecimalValue(buf []byte, d decimal.Decimal, col Column) ([]byte, error) {
	coeff := d.Coefficient()
	sign := byte(1)
	if coeff.Sign() < 0 {
		sign = 0
		coeff.Neg(coeff)
	}
	be := coeff.Bytes()
	le := make([]byte, len(be))
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	// pad up to a valid DECIMALN width (4, 8, or 16 bytes of magnitude)
	width := 4
	for width < len(le) {
		width *= 2
		if width > 16 {
			return nil, newProgrammingError("decimal value too large to encode")
		}
	}
	padded := make([]byte, width)
	copy(padded, le)

	buf = append(buf, byte(1+width))
	buf = append(buf, sign)
	return append(buf, padded...), nil
}

func toInt64Param(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	default:
		return 0, newProgrammingError("expected integer, got %T", v)
	}
}

func toFloat64Param(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	default:
		return 0, newProgrammingError("expected float, got %T", v)
	}
}

func float64Bits(f float64) uint64 {
	return math.Float64bits(f)
}
