package tds

import (
	"encoding/binary"
	"math/big"
	"time"
	"unicode/utf16"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
)

// cursor is a single mutable read position over an accumulated response
// buffer, shared by the token-stream parser and every column decoder.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.pos
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, errShortBuffer
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) byte() (byte, error) {
	b, err := c.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) uint16() (uint16, error) {
	b, err := c.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *cursor) uint32() (uint32, error) {
	b, err := c.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) uint64() (uint64, error) {
	b, err := c.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) int16() (int16, error) {
	v, err := c.uint16()
	return int16(v), err
}

func (c *cursor) int32() (int32, error) {
	v, err := c.uint32()
	return int32(v), err
}

func (c *cursor) int64() (int64, error) {
	v, err := c.uint64()
	return int64(v), err
}

// ucs2ToString decodes little-endian UTF-16 bytes (TDS calls this UCS-2,
// though supplementary-plane characters do appear as surrogate pairs in
// practice) into a Go string.
func ucs2ToString(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16))
}

// stringToUCS2 encodes a string as little-endian UTF-16, used for LOGIN7
// fields and NVARCHAR/NCHAR parameter values.
func stringToUCS2(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	out := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

// tdsEpoch is the zero date for DATETIME/DATETIME4 (SMALLDATETIME) encoding;
// DATEN and DATETIME2N count days from 0001-01-01 instead (see decodeDateN).
var tdsEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// decodeDateTime decodes the legacy 8-byte DATETIME: days since 1900-01-01
// (signed, may be negative) plus 1/300th-second ticks since midnight.
func decodeDateTime(days int32, ticks int32) time.Time {
	t := tdsEpoch.AddDate(0, 0, int(days))
	ms := (int64(ticks) * 10) / 3
	return t.Add(time.Duration(ms) * time.Millisecond)
}

// encodeDateTime is the inverse of decodeDateTime, rounding to the nearest
// 1/300th of a second per the legacy DATETIME tick resolution.
func encodeDateTime(t time.Time) (days int32, ticks int32) {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days = int32(midnight.Sub(tdsEpoch).Hours() / 24)
	ms := t.Sub(midnight).Milliseconds()
	ticks = int32((ms*3 + 5) / 10) // round to nearest tick (300Hz)
	return
}

// decodeDateTime4 decodes the 4-byte SMALLDATETIME: days since 1900-01-01
// (uint16) plus minutes since midnight (uint16).
func decodeDateTime4(days uint16, minutes uint16) time.Time {
	t := tdsEpoch.AddDate(0, 0, int(days))
	return t.Add(time.Duration(minutes) * time.Minute)
}

// decodeDateN decodes a 3-byte DATEN: days since 0001-01-01 into a
// zone-less civil.Date.
func decodeDateN(days int32) civil.Date {
	t := time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(days))
	return civil.Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func encodeDateN(d civil.Date) int32 {
	t := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	epoch := time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	return int32(t.Sub(epoch).Hours() / 24)
}

// decodeTimeN decodes a scaled fractional-day tick count (scale 0-7) into a
// zone-less civil.Time.
func decodeTimeN(ticks int64, scale uint8) civil.Time {
	ns := ticksToNanos(ticks, scale)
	d := time.Duration(ns) * time.Nanosecond
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return civil.Time{Hour: int(h), Minute: int(m), Second: int(s), Nanosecond: int(d)}
}

func encodeTimeN(t civil.Time, scale uint8) int64 {
	ns := int64(t.Hour)*int64(time.Hour) +
		int64(t.Minute)*int64(time.Minute) +
		int64(t.Second)*int64(time.Second) +
		int64(t.Nanosecond)
	return nanosToTicks(ns, scale)
}

// ticksToNanos converts a TIMEN/DATETIME2N fractional-second tick count at
// the given scale (number of decimal digits of precision) to nanoseconds.
func ticksToNanos(ticks int64, scale uint8) int64 {
	div := scaleDivisor(scale)
	return ticks * (1_000_000_000 / div)
}

func nanosToTicks(ns int64, scale uint8) int64 {
	div := scaleDivisor(scale)
	return ns / (1_000_000_000 / div)
}

// scaleDivisor returns 10^scale, the number of ticks per second at the given
// TIME scale: scale is the number of fractional-second digits retained (0-7),
// so one tick is 10^(7-scale) units of 100ns, and exactly 100ns at scale 7.
func scaleDivisor(scale uint8) int64 {
	// number of ticks per second at this scale
	pow := int64(1)
	for i := uint8(0); i < scale; i++ {
		pow *= 10
	}
	return pow
}

// decodeDateTime2 decodes DATETIME2N: a DATEN day count plus a TIMEN tick
// count, both described above, into a single UTC time.Time.
func decodeDateTime2(days int32, ticks int64, scale uint8) time.Time {
	d := decodeDateN(days)
	t := decodeTimeN(ticks, scale)
	return time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, t.Second, t.Nanosecond, time.UTC)
}

// decodeDateTimeOffset decodes DATETIMEOFFSETN: a DATETIME2 payload plus a
// signed minutes-from-UTC offset, normalized to UTC per spec.md.
func decodeDateTimeOffset(days int32, ticks int64, scale uint8, offsetMinutes int16) time.Time {
	local := decodeDateTime2(days, ticks, scale)
	return local.Add(-time.Duration(offsetMinutes) * time.Minute).UTC()
}

// decodeDecimal reconstructs a DECIMALN/NUMERICN value from its sign and
// little-endian unscaled magnitude, using shopspring/decimal for exact
// scaled arithmetic (no float rounding). MONEY values go through
// decodeMoney8/decodeMoney4 instead.
func decodeDecimal(positive bool, unscaled []byte, scale uint8) decimal.Decimal {
	mag := bytesToBigIntLE(unscaled)
	if !positive {
		mag = mag.Neg(mag)
	}
	return decimal.NewFromBigInt(mag, -int32(scale))
}

// decodeMoney8 reconstructs MONEY (two 32-bit halves, high half first,
// forming a 64-bit scaled value, scale fixed at 4) and decodeMoney4
// reconstructs MONEYN4/SMALLMONEY (one int32, scale fixed at 4) into a
// decimal.Decimal.
func decodeMoney8(hi, lo uint32) decimal.Decimal {
	v := int64(hi)<<32 | int64(lo)
	return decimal.New(v, -4)
}

func decodeMoney4(v int32) decimal.Decimal {
	return decimal.New(int64(v), -4)
}

// bytesToBigIntLE interprets b as a little-endian unsigned magnitude, the
// on-wire byte order for DECIMALN/NUMERICN, and returns it as a *big.Int.
func bytesToBigIntLE(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i, v := range b {
		be[len(b)-1-i] = v
	}
	return new(big.Int).SetBytes(be)
}
