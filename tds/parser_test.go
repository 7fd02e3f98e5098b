package tds

import "testing"

// appendColMetaHeader writes the COLMETADATA token tag and column count.
func appendColMetaHeader(buf []byte, count uint16) []byte {
	buf = append(buf, byte(tokenColMetadata))
	return appendUint16(buf, count)
}

// appendFixedLenColumn appends one COLMETADATA column record for a
// fixed-length type (no TYPE_INFO shape beyond the type byte itself).
func appendFixedLenColumn(buf []byte, t SQLType, name string) []byte {
	buf = appendUint32(buf, 0) // UserType
	buf = appendUint16(buf, 0) // Flags
	buf = append(buf, byte(t))
	nameUTF16 := stringToUCS2(name)
	buf = append(buf, byte(len(nameUTF16)/2))
	return append(buf, nameUTF16...)
}

// appendIntNColumn appends a nullable INTN column record.
func appendIntNColumn(buf []byte, name string) []byte {
	buf = appendUint32(buf, 0)
	buf = appendUint16(buf, ColFlagNullable)
	buf = append(buf, byte(TypeIntN), 4) // max width 4 bytes
	nameUTF16 := stringToUCS2(name)
	buf = append(buf, byte(len(nameUTF16)/2))
	return append(buf, nameUTF16...)
}

func appendDoneFinal(buf []byte, rowCount uint64) []byte {
	buf = append(buf, byte(tokenDone))
	buf = appendUint16(buf, doneCount)
	buf = appendUint16(buf, 0) // CurCmd
	return appendUint64(buf, rowCount)
}

func TestParseTokenStreamSingleResultSet(t *testing.T) {
	var buf []byte
	buf = appendColMetaHeader(buf, 1)
	buf = appendFixedLenColumn(buf, TypeInt4, "id")

	buf = append(buf, byte(tokenRow))
	buf = appendUint32(buf, 7)

	buf = appendDoneFinal(buf, 1)

	resp, err := parseTokenStream(buf, newTextCodec("utf8"), nil)
	if err != nil {
		t.Fatalf("parseTokenStream: %v", err)
	}
	if len(resp.resultSets) != 1 {
		t.Fatalf("got %d result sets, want 1", len(resp.resultSets))
	}
	rs := resp.resultSets[0]
	if len(rs.columns) != 1 || rs.columns[0].Name != "id" {
		t.Fatalf("columns = %+v", rs.columns)
	}
	if len(rs.rows) != 1 || rs.rows[0][0] != int32(7) {
		t.Fatalf("rows = %+v", rs.rows)
	}
	if !resp.done.hasCount || resp.done.rowCount != 1 {
		t.Errorf("done = %+v", resp.done)
	}
}

func TestParseTokenStreamMultipleResultSets(t *testing.T) {
	var buf []byte
	buf = appendColMetaHeader(buf, 1)
	buf = appendFixedLenColumn(buf, TypeInt4, "a")
	buf = append(buf, byte(tokenRow))
	buf = appendUint32(buf, 1)
	buf = append(buf, byte(tokenRow))
	buf = appendUint32(buf, 2)

	buf = appendColMetaHeader(buf, 1)
	buf = appendFixedLenColumn(buf, TypeInt4, "b")
	buf = append(buf, byte(tokenRow))
	buf = appendUint32(buf, 99)

	buf = appendDoneFinal(buf, 1)

	resp, err := parseTokenStream(buf, newTextCodec("utf8"), nil)
	if err != nil {
		t.Fatalf("parseTokenStream: %v", err)
	}
	if len(resp.resultSets) != 2 {
		t.Fatalf("got %d result sets, want 2", len(resp.resultSets))
	}
	if len(resp.resultSets[0].rows) != 2 {
		t.Errorf("first result set has %d rows, want 2", len(resp.resultSets[0].rows))
	}
	if resp.resultSets[1].rows[0][0] != int32(99) {
		t.Errorf("second result set row = %+v", resp.resultSets[1].rows[0])
	}
}

func TestParseNBCRowNullBitmapLSBFirst(t *testing.T) {
	var buf []byte
	const numCols = 9 // spans two bitmap bytes
	buf = appendColMetaHeader(buf, numCols)
	for i := 0; i < numCols; i++ {
		buf = appendIntNColumn(buf, "c")
	}

	buf = append(buf, byte(tokenNBCRow))
	// bitmap bit i set => column i NULL. Mark columns 0 and 8 NULL: byte0 bit0
	// set (0x01), byte1 bit0 set (0x01) -- column 8 is bit 0 of the second
	// byte, verifying LSB-first numbering crosses the byte boundary correctly.
	buf = append(buf, 0x01, 0x01)
	for i := 1; i < numCols-1; i++ {
		buf = append(buf, 4) // length byte
		buf = appendUint32(buf, uint32(i))
	}

	buf = appendDoneFinal(buf, 1)

	resp, err := parseTokenStream(buf, newTextCodec("utf8"), nil)
	if err != nil {
		t.Fatalf("parseTokenStream: %v", err)
	}
	row := resp.resultSets[0].rows[0]
	if row[0] != nil {
		t.Errorf("column 0 = %v, want nil (NULL)", row[0])
	}
	if row[8] != nil {
		t.Errorf("column 8 = %v, want nil (NULL)", row[8])
	}
	for i := 1; i < numCols-1; i++ {
		if row[i] != int64(i) {
			t.Errorf("column %d = %v, want %d", i, row[i], i)
		}
	}
}

func TestParseErrorToken(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(tokenError))
	body := buildErrorOrInfoBody(t, 2812, 1, 16, "Could not find stored procedure 'x'", "", 1)
	buf = appendUint16(buf, uint16(len(body)))
	buf = append(buf, body...)

	resp, err := parseTokenStream(buf, newTextCodec("utf8"), nil)
	if err != nil {
		t.Fatalf("parseTokenStream: %v", err)
	}
	if len(resp.serverErrors) != 1 {
		t.Fatalf("got %d server errors, want 1", len(resp.serverErrors))
	}
	e := resp.serverErrors[0]
	if e.Number != 2812 {
		t.Errorf("Number = %d, want 2812", e.Number)
	}
	if e.Kind != ProgrammingError {
		t.Errorf("Kind = %v, want ProgrammingError", e.Kind)
	}
	if e.Message != "Could not find stored procedure 'x'" {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestParseInfoTokenDoesNotAffectServerErrors(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(tokenInfo))
	body := buildErrorOrInfoBody(t, 0, 0, 0, "some informational message", "", 0)
	buf = appendUint16(buf, uint16(len(body)))
	buf = append(buf, body...)

	resp, err := parseTokenStream(buf, newTextCodec("utf8"), nil)
	if err != nil {
		t.Fatalf("parseTokenStream: %v", err)
	}
	if len(resp.serverErrors) != 0 {
		t.Errorf("INFO token should not populate serverErrors, got %d", len(resp.serverErrors))
	}
	if len(resp.infos) != 1 || resp.infos[0].Message != "some informational message" {
		t.Fatalf("infos = %+v", resp.infos)
	}
}

// buildErrorOrInfoBody constructs the shared ERROR/INFO token body (after
// the 2-byte length prefix): Number, State, Class, MsgText, ServerName,
// ProcName, LineNumber.
func buildErrorOrInfoBody(t *testing.T, number int32, state, class uint8, msg, proc string, line int32) []byte {
	t.Helper()
	var buf []byte
	buf = append(buf, byte(number), byte(number>>8), byte(number>>16), byte(number>>24))
	buf = append(buf, state, class)
	msgUTF16 := stringToUCS2(msg)
	buf = appendUint16(buf, uint16(len(msgUTF16)/2))
	buf = append(buf, msgUTF16...)
	buf = append(buf, 0) // ServerName length 0
	procUTF16 := stringToUCS2(proc)
	buf = append(buf, byte(len(procUTF16)/2))
	buf = append(buf, procUTF16...)
	buf = append(buf, byte(line), byte(line>>8), byte(line>>16), byte(line>>24))
	return buf
}

func TestParseEnvChangeDatabase(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(tokenEnvChange))

	newDB := stringToUCS2("prod")
	oldDB := stringToUCS2("master")
	var body []byte
	body = append(body, envDatabase)
	body = append(body, byte(len(newDB)/2))
	body = append(body, newDB...)
	body = append(body, byte(len(oldDB)/2))
	body = append(body, oldDB...)

	buf = appendUint16(buf, uint16(len(body)))
	buf = append(buf, body...)

	var gotKind uint8
	var gotNew, gotOld string
	_, err := parseTokenStream(buf, newTextCodec("utf8"), func(kind uint8, newValue, oldValue []byte) {
		gotKind = kind
		gotNew = ucs2ToString(newValue)
		gotOld = ucs2ToString(oldValue)
	})
	if err != nil {
		t.Fatalf("parseTokenStream: %v", err)
	}
	if gotKind != envDatabase {
		t.Errorf("kind = %d, want envDatabase", gotKind)
	}
	if gotNew != "prod" || gotOld != "master" {
		t.Errorf("new=%q old=%q, want prod/master", gotNew, gotOld)
	}
}

func TestParseDoneTokenInTransactionFlag(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(tokenDone))
	buf = appendUint16(buf, doneInXact)
	buf = appendUint16(buf, 0)
	buf = appendUint64(buf, 0)

	resp, err := parseTokenStream(buf, newTextCodec("utf8"), nil)
	if err != nil {
		t.Fatalf("parseTokenStream: %v", err)
	}
	if !resp.done.inTxn {
		t.Error("done.inTxn should be true")
	}
}

func TestParseDoneTokensAccumulateRowCounts(t *testing.T) {
	// A multi-statement batch reports one DONE per statement; the row counts
	// add up across them rather than the last one winning.
	var buf []byte
	buf = appendDoneFinal(buf, 3)
	buf = appendDoneFinal(buf, 4)

	resp, err := parseTokenStream(buf, newTextCodec("utf8"), nil)
	if err != nil {
		t.Fatalf("parseTokenStream: %v", err)
	}
	if resp.totalRows != 7 {
		t.Errorf("totalRows = %d, want 7", resp.totalRows)
	}
}

func TestParseReturnStatusToken(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(tokenReturnStatus))
	buf = append(buf, 0, 0, 0, 0) // 0 as int32 LE

	resp, err := parseTokenStream(buf, newTextCodec("utf8"), nil)
	if err != nil {
		t.Fatalf("parseTokenStream: %v", err)
	}
	if resp.returnStatus == nil || *resp.returnStatus != 0 {
		t.Fatalf("returnStatus = %v, want 0", resp.returnStatus)
	}
}

func TestParseTokenStreamUnknownTagFails(t *testing.T) {
	buf := []byte{0x77}
	if _, err := parseTokenStream(buf, newTextCodec("utf8"), nil); err == nil {
		t.Fatal("an unrecognized token tag should fail parsing")
	}
}

func TestSameColumns(t *testing.T) {
	a := []Column{{Name: "x", Type: TypeInt4}}
	b := []Column{{Name: "x", Type: TypeInt4}}
	c := []Column{{Name: "y", Type: TypeInt4}}
	if !sameColumns(a, b) {
		t.Error("identical column sets should compare equal")
	}
	if sameColumns(a, c) {
		t.Error("differently named column sets should not compare equal")
	}
}
