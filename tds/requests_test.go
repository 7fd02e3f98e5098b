package tds

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/shopspring/decimal"
)

func TestBuildAllHeadersLayout(t *testing.T) {
	const descriptor = 0x1122334455667788
	buf := buildAllHeaders(descriptor)

	if len(buf) != 22 {
		t.Fatalf("ALL_HEADERS is %d bytes, want 22", len(buf))
	}
	if got := binary.LittleEndian.Uint32(buf[0:4]); got != 22 {
		t.Errorf("TotalLength = %d, want 22", got)
	}
	if got := binary.LittleEndian.Uint32(buf[4:8]); got != 18 {
		t.Errorf("HeaderLength = %d, want 18", got)
	}
	if got := binary.LittleEndian.Uint16(buf[8:10]); got != headerTypeTransDesc {
		t.Errorf("HeaderType = %d, want %d", got, headerTypeTransDesc)
	}
	if got := binary.LittleEndian.Uint64(buf[10:18]); got != descriptor {
		t.Errorf("TransactionDescriptor = %#x, want %#x", got, uint64(descriptor))
	}
	if got := binary.LittleEndian.Uint32(buf[18:22]); got != 1 {
		t.Errorf("OutstandingRequestCount = %d, want 1", got)
	}
}

func TestBuildSQLBatchCarriesQueryText(t *testing.T) {
	const sql = "SELECT 1"
	buf := buildSQLBatch(sql, 0)

	want := stringToUCS2(sql)
	if !bytes.Equal(buf[22:], want) {
		t.Errorf("SQL_BATCH text = %v, want %v", buf[22:], want)
	}
}

func TestBuildBeginTransaction(t *testing.T) {
	buf := buildBeginTransaction(IsolationSerializable, 0)

	body := buf[22:]
	if got := binary.LittleEndian.Uint16(body[0:2]); got != tmReqBegin {
		t.Errorf("request type = %d, want %d (TM_BEGIN_XACT)", got, tmReqBegin)
	}
	if body[2] != IsolationSerializable {
		t.Errorf("isolation level = %d, want %d", body[2], IsolationSerializable)
	}
	if body[3] != 0 {
		t.Errorf("transaction name length = %d, want 0", body[3])
	}
	if len(body) != 4 {
		t.Errorf("TM_BEGIN_XACT body is %d bytes, want 4", len(body))
	}
}

func TestBuildCommitAndRollbackRequestTypes(t *testing.T) {
	commit := buildCommitTransaction(42)
	if got := binary.LittleEndian.Uint16(commit[22:24]); got != tmReqCommit {
		t.Errorf("commit request type = %d, want %d", got, tmReqCommit)
	}
	rollback := buildRollbackTransaction(42)
	if got := binary.LittleEndian.Uint16(rollback[22:24]); got != tmReqRollback {
		t.Errorf("rollback request type = %d, want %d", got, tmReqRollback)
	}
}

func TestBuildRPCRequestByProcID(t *testing.T) {
	buf, err := buildRPCRequest("", ProcIDExecuteSQL, nil, 0, 28)
	if err != nil {
		t.Fatalf("buildRPCRequest: %v", err)
	}
	body := buf[22:]
	if got := binary.LittleEndian.Uint16(body[0:2]); got != 0xFFFF {
		t.Errorf("name-length marker = %#x, want 0xFFFF for a proc-id call", got)
	}
	if got := binary.LittleEndian.Uint16(body[2:4]); got != ProcIDExecuteSQL {
		t.Errorf("proc id = %d, want %d", got, ProcIDExecuteSQL)
	}
}

func TestBuildRPCRequestByName(t *testing.T) {
	buf, err := buildRPCRequest("sp_who", 0, nil, 0, 28)
	if err != nil {
		t.Fatalf("buildRPCRequest: %v", err)
	}
	body := buf[22:]
	nameLen := binary.LittleEndian.Uint16(body[0:2])
	if nameLen != 6 {
		t.Fatalf("name length = %d chars, want 6", nameLen)
	}
	if got := ucs2ToString(body[2 : 2+nameLen*2]); got != "sp_who" {
		t.Errorf("proc name = %q, want sp_who", got)
	}
}

func TestEncodeParamInt(t *testing.T) {
	buf, err := encodeParam(nil, Param{Value: int64(7)}, 28)
	if err != nil {
		t.Fatalf("encodeParam: %v", err)
	}
	// name len 0, status 0, INTN, max width 8, value width 8, 7 LE
	want := []byte{0, 0, byte(TypeIntN), 8, 8, 7, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(buf, want) {
		t.Errorf("encoded int param = %v, want %v", buf, want)
	}
}

func TestEncodeParamNullUsesLengthSentinel(t *testing.T) {
	buf, err := encodeParam(nil, Param{Value: nil}, 28)
	if err != nil {
		t.Fatalf("encodeParam: %v", err)
	}
	// The NULL value ends the record with the nvarchar 0xFFFF length sentinel.
	if !bytes.HasSuffix(buf, []byte{0xFF, 0xFF}) {
		t.Errorf("NULL param encoding = %v, want trailing 0xFFFF", buf)
	}
}

func TestEncodeParamStringRoundTrips(t *testing.T) {
	buf, err := encodeParam(nil, Param{Value: "abc"}, 28)
	if err != nil {
		t.Fatalf("encodeParam: %v", err)
	}
	c := newCursor(buf)
	if _, err := c.byte(); err != nil { // name length
		t.Fatal(err)
	}
	if _, err := c.byte(); err != nil { // status flags
		t.Fatal(err)
	}
	var col Column
	if err := parseTypeInfo(c, &col); err != nil {
		t.Fatalf("parseTypeInfo: %v", err)
	}
	if col.Type != TypeNVarChar {
		t.Fatalf("param type = %s, want NVARCHAR", col.Type)
	}
	v, err := decodeColumn(c, col, nil)
	if err != nil {
		t.Fatalf("decodeColumn: %v", err)
	}
	if v != "abc" {
		t.Errorf("decoded param = %v, want abc", v)
	}
}

func TestEncodeParamDecimalRoundTrips(t *testing.T) {
	want := decimal.RequireFromString("12.34")
	buf, err := encodeParam(nil, Param{Value: want}, 28)
	if err != nil {
		t.Fatalf("encodeParam: %v", err)
	}
	c := newCursor(buf)
	c.byte() // name length
	c.byte() // status flags
	var col Column
	if err := parseTypeInfo(c, &col); err != nil {
		t.Fatalf("parseTypeInfo: %v", err)
	}
	if col.Scale != 2 {
		t.Errorf("scale = %d, want 2", col.Scale)
	}
	v, err := decodeColumn(c, col, nil)
	if err != nil {
		t.Fatalf("decodeColumn: %v", err)
	}
	got, ok := v.(decimal.Decimal)
	if !ok {
		t.Fatalf("decoded param is %T, want decimal.Decimal", v)
	}
	if !got.Equal(want) {
		t.Errorf("decoded decimal = %s, want %s", got, want)
	}
}

func TestDeclareParamsString(t *testing.T) {
	decl := declareParamsString([]Param{
		{Value: int64(1)},
		{Name: "@x", Value: "hi"},
	}, 28)
	if decl != "@p1 bigint, @x nvarchar(2)" {
		t.Errorf("declareParamsString = %q", decl)
	}
}
