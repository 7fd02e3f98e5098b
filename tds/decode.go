package tds

import (
	"fmt"
	"math"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// plpUnknownLength is the sentinel 8-byte PLP total-length value meaning the
// server did not report a total size up front; chunks still follow,
// terminated by a zero-length chunk like the known-length case.
const plpUnknownLength = 0xFFFFFFFFFFFFFFFE

// plpNullLength is the distinct all-ones sentinel for a NULL PLP value,
// which carries no chunks at all.
const plpNullLength = 0xFFFFFFFFFFFFFFFF

// readPLP reads a partially length-prefixed value: an 8-byte total length
// (possibly unknown), then a sequence of {4-byte chunk length, chunk bytes}
// pairs terminated by a zero-length chunk. All chunks are coalesced into a
// single buffer before decodeColumn returns a value, so multi-chunk
// NVARCHAR(MAX)/VARBINARY(MAX) values never leak partial reads.
func readPLP(c *cursor) ([]byte, bool, error) {
	totalLen, err := c.uint64()
	if err != nil {
		return nil, false, err
	}
	if totalLen == plpNullLength {
		return nil, true, nil
	}

	var buf []byte
	for {
		chunkLen, err := c.uint32()
		if err != nil {
			return nil, false, err
		}
		if chunkLen == 0 {
			break
		}
		chunk, err := c.bytes(int(chunkLen))
		if err != nil {
			return nil, false, err
		}
		buf = append(buf, chunk...)
	}
	return buf, false, nil
}

// textCodec decodes non-Unicode CHAR/VARCHAR family bytes according to the
// session's configured server encoding. "utf8" (the zero value) passes
// bytes straight through; any other name resolves to a
// golang.org/x/text/encoding/charmap codec, falling back to UTF-8 when the
// name is not recognized.
type textCodec struct {
	name string
	enc  encoding.Encoding
}

func newTextCodec(serverEncoding string) *textCodec {
	tc := &textCodec{name: serverEncoding}
	switch serverEncoding {
	case "", "utf8", "UTF-8":
		tc.name = "utf8"
	case "windows-1252", "cp1252":
		tc.enc = charmap.Windows1252
	case "iso8859-1", "latin1", "ISO8859-1":
		tc.enc = charmap.ISO8859_1
	case "windows-1251", "cp1251":
		tc.enc = charmap.Windows1251
	default:
		tc.name = "utf8"
	}
	return tc
}

func (tc *textCodec) decode(b []byte) string {
	if tc.enc == nil {
		return string(b)
	}
	out, err := tc.enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// decodeColumn reads one column value from c according to meta, dispatching
// on meta.Type per the decoder table in spec.md §4.5. A NULL value decodes
// to a nil interface.
func decodeColumn(c *cursor, meta Column, codec *textCodec) (interface{}, error) {
	if size, ok := fixedLenSize(meta.Type); ok {
		return decodeFixedLen(c, meta.Type, size)
	}

	switch meta.Type {
	case TypeIntN:
		return decodeIntN(c)
	case TypeBitN:
		return decodeBitN(c)
	case TypeFloatN:
		return decodeFloatN(c)
	case TypeMoneyN:
		return decodeMoneyN(c)
	case TypeDateTimeN:
		return decodeDateTimeN(c)
	case TypeGUID:
		return decodeGUID(c)
	case TypeDecimalN, TypeNumericN:
		return decodeDecimalN(c, meta.Scale)
	case TypeDateN:
		return decodeDateNCol(c)
	case TypeTimeN:
		return decodeTimeNCol(c, meta.Scale)
	case TypeDateTime2N:
		return decodeDateTime2Col(c, meta.Scale)
	case TypeDateTimeOffsetN:
		return decodeDateTimeOffsetCol(c, meta.Scale)
	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		return decodeByteLenPrefixed(c, meta, codec)
	case TypeBigChar, TypeBigVarChar, TypeBigBinary, TypeBigVarBin:
		return decodeUShortLenPrefixed(c, meta, codec)
	case TypeNChar, TypeNVarChar:
		return decodeNCharFamily(c, meta)
	case TypeText, TypeNText, TypeImage:
		return decodeLOB(c, meta, codec)
	case TypeXML:
		return decodePLPColumn(c, meta, codec)
	case TypeSSVariant:
		return decodeSQLVariant(c)
	default:
		return nil, newInternalError(codeUnknownSQLType, "no decoder for %s (0x%02x)", meta.Type, uint8(meta.Type))
	}
}

func decodeFixedLen(c *cursor, t SQLType, size int) (interface{}, error) {
	switch t {
	case TypeInt1:
		v, err := c.byte()
		return v, err
	case TypeBit:
		v, err := c.byte()
		return v != 0, err
	case TypeInt2:
		return c.int16()
	case TypeInt4:
		return c.int32()
	case TypeInt8:
		return c.int64()
	case TypeFloat4:
		v, err := c.uint32()
		if err != nil {
			return nil, err
		}
		return float32FromBits(v), nil
	case TypeFloat8:
		v, err := c.uint64()
		if err != nil {
			return nil, err
		}
		return float64FromBits(v), nil
	case TypeMoney:
		hi, err := c.uint32()
		if err != nil {
			return nil, err
		}
		lo, err := c.uint32()
		if err != nil {
			return nil, err
		}
		return decodeMoney8(hi, lo), nil
	case TypeMoney4:
		v, err := c.int32()
		if err != nil {
			return nil, err
		}
		return decodeMoney4(v), nil
	case TypeDateTime:
		days, err := c.int32()
		if err != nil {
			return nil, err
		}
		ticks, err := c.int32()
		if err != nil {
			return nil, err
		}
		return decodeDateTime(days, ticks), nil
	case TypeDateTime4:
		days, err := c.uint16()
		if err != nil {
			return nil, err
		}
		mins, err := c.uint16()
		if err != nil {
			return nil, err
		}
		return decodeDateTime4(days, mins), nil
	default:
		_, err := c.bytes(size)
		return nil, err
	}
}

// decodeIntN reads the 1-byte length prefix shared by every *N nullable
// fixed-width family, then the value at that width, or nil if length is 0.
func decodeIntN(c *cursor) (interface{}, error) {
	n, err := c.byte()
	if err != nil {
		return nil, err
	}
	switch n {
	case 0:
		return nil, nil
	case 1:
		v, err := c.byte()
		return int64(v), err
	case 2:
		v, err := c.int16()
		return int64(v), err
	case 4:
		v, err := c.int32()
		return int64(v), err
	case 8:
		v, err := c.int64()
		return v, err
	default:
		return nil, newProtocolError("invalid INTN length %d", n)
	}
}

func decodeBitN(c *cursor) (interface{}, error) {
	n, err := c.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	v, err := c.byte()
	return v != 0, err
}

func decodeFloatN(c *cursor) (interface{}, error) {
	n, err := c.byte()
	if err != nil {
		return nil, err
	}
	switch n {
	case 0:
		return nil, nil
	case 4:
		v, err := c.uint32()
		if err != nil {
			return nil, err
		}
		return float32FromBits(v), nil
	case 8:
		v, err := c.uint64()
		if err != nil {
			return nil, err
		}
		return float64FromBits(v), nil
	default:
		return nil, newProtocolError("invalid FLOATN length %d", n)
	}
}

func decodeMoneyN(c *cursor) (interface{}, error) {
	n, err := c.byte()
	if err != nil {
		return nil, err
	}
	switch n {
	case 0:
		return nil, nil
	case 4:
		v, err := c.int32()
		if err != nil {
			return nil, err
		}
		return decodeMoney4(v), nil
	case 8:
		hi, err := c.uint32()
		if err != nil {
			return nil, err
		}
		lo, err := c.uint32()
		if err != nil {
			return nil, err
		}
		return decodeMoney8(hi, lo), nil
	default:
		return nil, newProtocolError("invalid MONEYN length %d", n)
	}
}

func decodeDateTimeN(c *cursor) (interface{}, error) {
	n, err := c.byte()
	if err != nil {
		return nil, err
	}
	switch n {
	case 0:
		return nil, nil
	case 4:
		days, err := c.uint16()
		if err != nil {
			return nil, err
		}
		mins, err := c.uint16()
		if err != nil {
			return nil, err
		}
		return decodeDateTime4(days, mins), nil
	case 8:
		days, err := c.int32()
		if err != nil {
			return nil, err
		}
		ticks, err := c.int32()
		if err != nil {
			return nil, err
		}
		return decodeDateTime(days, ticks), nil
	default:
		return nil, newProtocolError("invalid DATETIMEN length %d", n)
	}
}

func decodeGUID(c *cursor) (interface{}, error) {
	n, err := c.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n != 16 {
		return nil, newProtocolError("invalid GUID length %d", n)
	}
	b, err := c.bytes(16)
	if err != nil {
		return nil, err
	}
	return guidBytesToString(b), nil
}

func decodeDecimalN(c *cursor, scale uint8) (interface{}, error) {
	n, err := c.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	sign, err := c.byte()
	if err != nil {
		return nil, err
	}
	mag, err := c.bytes(int(n) - 1)
	if err != nil {
		return nil, err
	}
	return decodeDecimal(sign != 0, mag, scale), nil
}

func decodeDateNCol(c *cursor) (interface{}, error) {
	n, err := c.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n != 3 {
		return nil, newProtocolError("invalid DATEN length %d", n)
	}
	b, err := c.bytes(3)
	if err != nil {
		return nil, err
	}
	days := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	return decodeDateN(days), nil
}

func decodeTimeNCol(c *cursor, scale uint8) (interface{}, error) {
	n, err := c.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	ticks, err := readScaledTicks(c, int(n))
	if err != nil {
		return nil, err
	}
	return decodeTimeN(ticks, scale), nil
}

func decodeDateTime2Col(c *cursor, scale uint8) (interface{}, error) {
	n, err := c.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	timeLen := int(n) - 3
	ticks, err := readScaledTicks(c, timeLen)
	if err != nil {
		return nil, err
	}
	b, err := c.bytes(3)
	if err != nil {
		return nil, err
	}
	days := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	return decodeDateTime2(days, ticks, scale), nil
}

func decodeDateTimeOffsetCol(c *cursor, scale uint8) (interface{}, error) {
	n, err := c.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	timeLen := int(n) - 5
	ticks, err := readScaledTicks(c, timeLen)
	if err != nil {
		return nil, err
	}
	b, err := c.bytes(3)
	if err != nil {
		return nil, err
	}
	days := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	offset, err := c.int16()
	if err != nil {
		return nil, err
	}
	return decodeDateTimeOffset(days, ticks, scale, offset), nil
}

// readScaledTicks reads the n-byte little-endian tick count used by
// TIMEN/DATETIME2N/DATETIMEOFFSETN (width varies 3-5 bytes by scale).
func readScaledTicks(c *cursor, n int) (int64, error) {
	b, err := c.bytes(n)
	if err != nil {
		return 0, err
	}
	var v int64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | int64(b[i])
	}
	return v, nil
}

func decodeByteLenPrefixed(c *cursor, meta Column, codec *textCodec) (interface{}, error) {
	n, err := c.byte()
	if err != nil {
		return nil, err
	}
	if n == 0xFF {
		return nil, nil
	}
	b, err := c.bytes(int(n))
	if err != nil {
		return nil, err
	}
	if meta.Type == TypeBinary || meta.Type == TypeVarBinary {
		return append([]byte(nil), b...), nil
	}
	return codec.decode(b), nil
}

// decodeUShortLenPrefixed reads a BIGVARCHR/BIGCHAR/BIGBINARY/BIGVARBIN
// value. A column declared (MAX) (meta.Length == 0xFFFF in TYPE_INFO) is
// always PLP-encoded on the wire with no separate length prefix at all, so
// that case is dispatched before reading anything; every other column uses
// a plain uint16 length prefix, with 0xFFFF there meaning NULL.
func decodeUShortLenPrefixed(c *cursor, meta Column, codec *textCodec) (interface{}, error) {
	if meta.Length == 0xFFFF {
		return decodePLPColumn(c, meta, codec)
	}
	n, err := c.uint16()
	if err != nil {
		return nil, err
	}
	if n == 0xFFFF {
		return nil, nil
	}
	b, err := c.bytes(int(n))
	if err != nil {
		return nil, err
	}
	if meta.Type == TypeBigBinary || meta.Type == TypeBigVarBin {
		return append([]byte(nil), b...), nil
	}
	return codec.decode(b), nil
}

// decodeNCharFamily reads an NVARCHAR/NCHAR value, with the same
// MAX-vs-fixed dispatch as decodeUShortLenPrefixed above.
func decodeNCharFamily(c *cursor, meta Column) (interface{}, error) {
	if meta.Length == 0xFFFF {
		return decodePLPColumn(c, meta, nil)
	}
	n, err := c.uint16()
	if err != nil {
		return nil, err
	}
	if n == 0xFFFF {
		return nil, nil
	}
	b, err := c.bytes(int(n))
	if err != nil {
		return nil, err
	}
	return ucs2ToString(b), nil
}

// decodePLPColumn reads a PLP-encoded "(MAX)" value via readPLP and decodes
// it according to meta.Type. The cursor must sit on the 8-byte PLP total
// length itself: no caller reads a separate length prefix before it.
func decodePLPColumn(c *cursor, meta Column, codec *textCodec) (interface{}, error) {
	b, isNull, err := readPLP(c)
	if err != nil {
		return nil, err
	}
	if isNull {
		return nil, nil
	}
	switch meta.Type {
	case TypeNVarChar, TypeNChar, TypeXML:
		return ucs2ToString(b), nil
	case TypeBigVarBin, TypeBigBinary:
		return b, nil
	default:
		if codec != nil {
			return codec.decode(b), nil
		}
		return string(b), nil
	}
}

func decodeLOB(c *cursor, meta Column, codec *textCodec) (interface{}, error) {
	marker, err := c.byte()
	if err != nil {
		return nil, err
	}
	if marker == 0 {
		return nil, nil
	}
	// text pointer + timestamp, not meaningful to a modern client
	if _, err := c.bytes(int(marker)); err != nil {
		return nil, err
	}
	if _, err := c.bytes(8); err != nil {
		return nil, err
	}
	n, err := c.uint32()
	if err != nil {
		return nil, err
	}
	b, err := c.bytes(int(n))
	if err != nil {
		return nil, err
	}
	switch meta.Type {
	case TypeNText:
		return ucs2ToString(b), nil
	case TypeImage:
		return append([]byte(nil), b...), nil
	default:
		return codec.decode(b), nil
	}
}

// decodeSQLVariant decodes a SQL_VARIANT value: a 4-byte total length (0
// means NULL), the base-type byte, the property bytes, then the value. Only
// fixed-width base types (those fixedLenSize knows) decode to a native
// value; for every other base type the raw value bytes are returned as a
// []byte.
func decodeSQLVariant(c *cursor) (interface{}, error) {
	total, err := c.uint32()
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}
	baseType, err := c.byte()
	if err != nil {
		return nil, err
	}
	propBytesLen, err := c.byte()
	if err != nil {
		return nil, err
	}
	if _, err := c.bytes(int(propBytesLen)); err != nil {
		return nil, err
	}
	valueLen := int(total) - 2 - int(propBytesLen)
	meta := Column{Type: SQLType(baseType)}
	sub := newCursor(nil)
	b, err := c.bytes(valueLen)
	if err != nil {
		return nil, err
	}
	sub.buf = b
	return decodeFixedOrSimple(sub, meta)
}

// decodeFixedOrSimple decodes a sql_variant value whose base-type and
// property bytes have already been stripped: a fixed-width type decodes to
// its native value, anything else is returned as the remaining raw bytes.
func decodeFixedOrSimple(c *cursor, meta Column) (interface{}, error) {
	if size, ok := fixedLenSize(meta.Type); ok {
		return decodeFixedLen(c, meta.Type, size)
	}
	b, err := c.bytes(c.remaining())
	if err != nil {
		return nil, err
	}
	return b, nil
}

func float32FromBits(v uint32) float32 {
	return math.Float32frombits(v)
}

func float64FromBits(v uint64) float64 {
	return math.Float64frombits(v)
}

// guidBytesToString renders a 16-byte GUID in the mixed-endian layout SQL
// Server uses on the wire (the first three groups are little-endian, the
// last two big-endian) as the canonical hyphenated string form.
func guidBytesToString(b []byte) string {
	return fmt.Sprintf("%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9],
		b[10], b[11], b[12], b[13], b[14], b[15])
}
