package tds

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCursorFixedWidthReads(t *testing.T) {
	buf := []byte{0x2A, 0x01, 0x02, 0x04, 0x03, 0x02, 0x01, 0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	c := newCursor(buf)

	b, err := c.byte()
	if err != nil || b != 0x2A {
		t.Fatalf("byte() = %v, %v; want 0x2A, nil", b, err)
	}

	u16, err := c.uint16()
	if err != nil || u16 != 0x0201 {
		t.Fatalf("uint16() = %#x, %v; want 0x0201, nil", u16, err)
	}

	u32, err := c.uint32()
	if err != nil || u32 != 0x01020304 {
		t.Fatalf("uint32() = %#x, %v; want 0x01020304, nil", u32, err)
	}

	u64, err := c.uint64()
	if err != nil || u64 != 0x0102030405060708 {
		t.Fatalf("uint64() = %#x, %v; want 0x0102030405060708, nil", u64, err)
	}
}

func TestCursorShortBuffer(t *testing.T) {
	c := newCursor([]byte{0x01, 0x02})
	if _, err := c.uint32(); err == nil {
		t.Fatal("uint32() on a 2-byte buffer should fail")
	}
}

func TestUCS2RoundTrip(t *testing.T) {
	cases := []string{"", "sa", "hello world", "héllo", "日本語"}
	for _, s := range cases {
		encoded := stringToUCS2(s)
		decoded := ucs2ToString(encoded)
		if decoded != s {
			t.Errorf("ucs2ToString(stringToUCS2(%q)) = %q", s, decoded)
		}
	}
}

func TestDateTimeRoundTrip(t *testing.T) {
	// 1967-08-11 12:34:56, the worked example from the wire-format table.
	want := time.Date(1967, time.August, 11, 12, 34, 56, 0, time.UTC)
	days, ticks := encodeDateTime(want)
	got := decodeDateTime(days, ticks)
	if !got.Equal(want) {
		t.Fatalf("decodeDateTime(encodeDateTime(%v)) = %v", want, got)
	}
}

func TestDateTimeTickRounding(t *testing.T) {
	// ticks are 300ths of a second since midnight; verify the documented
	// per-second formula (ticks % 300 * 10 / 3) agrees with the
	// implementation's (ticks * 10) / 3 applied to the sub-second remainder.
	for ticks := int32(0); ticks < 300; ticks += 7 {
		want := int64(ticks%300) * 10 / 3
		got := (int64(ticks) * 10) / 3
		if got != want {
			t.Errorf("ticks=%d: got %d, want %d", ticks, got, want)
		}
	}
}

func TestDateNRoundTrip(t *testing.T) {
	days := int32(20000)
	d := decodeDateN(days)
	got := encodeDateN(d)
	if got != days {
		t.Fatalf("encodeDateN(decodeDateN(%d)) = %d", days, got)
	}
}

func TestTimeNRoundTripAtEachScale(t *testing.T) {
	for scale := uint8(0); scale <= 7; scale++ {
		ticks := scaleDivisor(scale) / 2 // half a second's worth of ticks at this scale
		tm := decodeTimeN(ticks, scale)
		got := encodeTimeN(tm, scale)
		if got != ticks {
			t.Errorf("scale=%d: encodeTimeN(decodeTimeN(%d)) = %d", scale, ticks, got)
		}
	}
}

func TestDecodeDecimalSign(t *testing.T) {
	positive := decodeDecimal(true, []byte{0x64}, 2) // 100 -> 1.00
	if !positive.Equal(decimal.NewFromInt(1)) {
		t.Errorf("positive decimal = %s, want 1", positive.String())
	}
	negative := decodeDecimal(false, []byte{0x64}, 2)
	if !negative.IsNegative() {
		t.Errorf("negative decimal %s should be negative", negative.String())
	}
}

func TestDecodeMoney8(t *testing.T) {
	// MONEY is a scaled 8-byte integer, 4 decimal places: 123.4567 -> 1234567
	got := decodeMoney8(0, 1234567)
	if got.String() != "123.4567" {
		t.Errorf("decodeMoney8(0, 1234567) = %s, want 123.4567", got.String())
	}
}

func TestDecodeMoney4(t *testing.T) {
	got := decodeMoney4(12345)
	if got.String() != "1.2345" {
		t.Errorf("decodeMoney4(12345) = %s, want 1.2345", got.String())
	}
}

func TestBytesToBigIntLE(t *testing.T) {
	v := bytesToBigIntLE([]byte{0x01, 0x00, 0x00, 0x00})
	if v.Int64() != 1 {
		t.Errorf("bytesToBigIntLE([1,0,0,0]) = %v, want 1", v)
	}
}
