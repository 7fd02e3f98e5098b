package tds

import (
	"encoding/binary"
	"testing"
)

func TestReadPLPNull(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, plpNullLength)
	c := newCursor(buf)
	data, isNull, err := readPLP(c)
	if err != nil {
		t.Fatalf("readPLP: %v", err)
	}
	if !isNull {
		t.Fatal("expected isNull=true for the NULL PLP sentinel")
	}
	if data != nil {
		t.Errorf("data = %v, want nil", data)
	}
}

func TestReadPLPSingleChunk(t *testing.T) {
	payload := []byte("hello")
	buf := make([]byte, 0, 20)
	lenBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenBuf, uint64(len(payload)))
	buf = append(buf, lenBuf...)
	chunkLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(chunkLen, uint32(len(payload)))
	buf = append(buf, chunkLen...)
	buf = append(buf, payload...)
	buf = append(buf, 0, 0, 0, 0) // terminating zero-length chunk

	c := newCursor(buf)
	data, isNull, err := readPLP(c)
	if err != nil {
		t.Fatalf("readPLP: %v", err)
	}
	if isNull {
		t.Fatal("expected isNull=false")
	}
	if string(data) != "hello" {
		t.Errorf("data = %q, want %q", data, "hello")
	}
}

func TestReadPLPMultipleChunksCoalesce(t *testing.T) {
	var buf []byte
	totalLen := make([]byte, 8)
	binary.LittleEndian.PutUint64(totalLen, plpUnknownLength)
	buf = append(buf, totalLen...)

	appendChunk := func(s string) {
		l := make([]byte, 4)
		binary.LittleEndian.PutUint32(l, uint32(len(s)))
		buf = append(buf, l...)
		buf = append(buf, s...)
	}
	appendChunk("foo")
	appendChunk("bar")
	appendChunk("baz")
	buf = append(buf, 0, 0, 0, 0)

	c := newCursor(buf)
	data, isNull, err := readPLP(c)
	if err != nil {
		t.Fatalf("readPLP: %v", err)
	}
	if isNull {
		t.Fatal("expected isNull=false for an unknown-length (not NULL) PLP value")
	}
	if string(data) != "foobarbaz" {
		t.Errorf("data = %q, want %q", data, "foobarbaz")
	}
}

func TestTextCodecUTF8Passthrough(t *testing.T) {
	tc := newTextCodec("utf8")
	if got := tc.decode([]byte("plain text")); got != "plain text" {
		t.Errorf("decode() = %q", got)
	}
}

func TestTextCodecWindows1252(t *testing.T) {
	tc := newTextCodec("windows-1252")
	// 0xE9 in windows-1252 is é.
	if got := tc.decode([]byte{0xE9}); got != "é" {
		t.Errorf("decode(0xE9) = %q, want é", got)
	}
}

func TestTextCodecUnknownNameFallsBackToUTF8(t *testing.T) {
	tc := newTextCodec("klingon-9000")
	if tc.name != "utf8" {
		t.Errorf("unrecognized encoding name should fall back to utf8, got %q", tc.name)
	}
}

func TestDecodeColumnFixedLenInt4(t *testing.T) {
	buf := []byte{0x2A, 0x00, 0x00, 0x00} // little-endian 42
	c := newCursor(buf)
	v, err := decodeColumn(c, Column{Type: TypeInt4}, nil)
	if err != nil {
		t.Fatalf("decodeColumn: %v", err)
	}
	if v != int32(42) {
		t.Errorf("v = %v (%T), want int32(42)", v, v)
	}
}

func TestDecodeColumnIntNNull(t *testing.T) {
	c := newCursor([]byte{0x00}) // length byte 0 means NULL
	v, err := decodeColumn(c, Column{Type: TypeIntN}, nil)
	if err != nil {
		t.Fatalf("decodeColumn: %v", err)
	}
	if v != nil {
		t.Errorf("v = %v, want nil", v)
	}
}

func TestDecodeColumnIntNValue(t *testing.T) {
	buf := []byte{0x04, 0x7B, 0x00, 0x00, 0x00} // length 4, value 123 LE
	c := newCursor(buf)
	v, err := decodeColumn(c, Column{Type: TypeIntN}, nil)
	if err != nil {
		t.Fatalf("decodeColumn: %v", err)
	}
	if v != int64(123) {
		t.Errorf("v = %v, want int64(123)", v)
	}
}

func TestDecodeColumnBitN(t *testing.T) {
	c := newCursor([]byte{0x01, 0x01})
	v, err := decodeColumn(c, Column{Type: TypeBitN}, nil)
	if err != nil {
		t.Fatalf("decodeColumn: %v", err)
	}
	if v != true {
		t.Errorf("v = %v, want true", v)
	}
}

func TestDecodeGUID(t *testing.T) {
	// GUID is length-prefixed (1 byte), 16 bytes little-endian-per-field.
	guidBytes := []byte{
		0x01, 0x02, 0x03, 0x04,
		0x05, 0x06,
		0x07, 0x08,
		0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10,
	}
	buf := append([]byte{16}, guidBytes...)
	c := newCursor(buf)
	v, err := decodeColumn(c, Column{Type: TypeGUID}, nil)
	if err != nil {
		t.Fatalf("decodeColumn: %v", err)
	}
	s, ok := v.(string)
	if !ok {
		t.Fatalf("v is %T, want string", v)
	}
	if len(s) != 36 {
		t.Errorf("GUID string %q has length %d, want 36", s, len(s))
	}
}

func TestDecodeNVarCharColumn(t *testing.T) {
	text := stringToUCS2("hello")
	buf := make([]byte, 2+len(text))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(text)))
	copy(buf[2:], text)
	c := newCursor(buf)
	v, err := decodeColumn(c, Column{Type: TypeNVarChar}, nil)
	if err != nil {
		t.Fatalf("decodeColumn: %v", err)
	}
	if v != "hello" {
		t.Errorf("v = %q, want %q", v, "hello")
	}
}

func TestDecodeNVarCharColumnNull(t *testing.T) {
	buf := []byte{0xFF, 0xFF} // 0xFFFF length prefix means NULL for a non-MAX column
	c := newCursor(buf)
	v, err := decodeColumn(c, Column{Type: TypeNVarChar, Length: 100}, nil)
	if err != nil {
		t.Fatalf("decodeColumn: %v", err)
	}
	if v != nil {
		t.Errorf("v = %v, want nil", v)
	}
}

func TestDecodeNVarCharMaxColumnIsAlwaysPLP(t *testing.T) {
	// A column declared NVARCHAR(MAX) (meta.Length == 0xFFFF) carries its
	// value directly as a PLP body, with no separate uint16 prefix -- even
	// when the PLP total length's low 16 bits happen to equal 0xFFFF or
	// 0xFFFE, which would be misread as a fixed-length marker otherwise.
	text := stringToUCS2("a long value")
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(len(text)))
	chunkLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(chunkLen, uint32(len(text)))
	buf = append(buf, chunkLen...)
	buf = append(buf, text...)
	buf = append(buf, 0, 0, 0, 0)

	c := newCursor(buf)
	v, err := decodeColumn(c, Column{Type: TypeNVarChar, Length: 0xFFFF}, nil)
	if err != nil {
		t.Fatalf("decodeColumn: %v", err)
	}
	if v != "a long value" {
		t.Errorf("v = %q, want %q", v, "a long value")
	}
}

func TestDecodeByteLenPrefixedVarChar(t *testing.T) {
	codec := newTextCodec("utf8")
	data := []byte("abc")
	buf := append([]byte{byte(len(data))}, data...)
	c := newCursor(buf)
	v, err := decodeColumn(c, Column{Type: TypeVarChar}, codec)
	if err != nil {
		t.Fatalf("decodeColumn: %v", err)
	}
	if v != "abc" {
		t.Errorf("v = %q, want %q", v, "abc")
	}
}
