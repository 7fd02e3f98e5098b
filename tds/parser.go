package tds

// envChangeHandler receives decoded ENVCHANGE (type, newValue, oldValue)
// triples so the session can update its packet size, database name, or
// transaction descriptor as they change.
type envChangeHandler func(kind uint8, newValue, oldValue []byte)

// response accumulates everything a single token stream produced: any
// number of result sets (each a COLMETADATA followed by ROW/NBCROW tokens),
// informational messages, a terminal outcome, and (for RPC calls) a return
// status and output parameter values.
type response struct {
	resultSets   []resultSet
	infos        []*Error
	serverErrors []*Error
	done         doneStatus
	totalRows    uint64
	returnStatus *int32
	returnValues []interface{}
}

type resultSet struct {
	columns []Column
	rows    []Row
}

// parseTokenStream walks buf tag by tag until exhausted, dispatching each
// token to its handler. It is the single entry point session.go uses after
// a framer.RecvMessage has assembled a complete response.
func parseTokenStream(buf []byte, codec *textCodec, onEnvChange envChangeHandler) (_ *response, err error) {
	// A decoder failure that is not already an *Error (a short buffer, a
	// decoder-table gap) is surfaced as a ProtocolViolation wrapping it.
	defer func() {
		if _, ok := err.(*Error); err != nil && !ok {
			err = wrapProtocolError(err, "parsing token stream")
		}
	}()

	c := newCursor(buf)
	resp := &response{}
	var curCols []Column

	for c.remaining() > 0 {
		tagByte, err := c.byte()
		if err != nil {
			return nil, wrapProtocolError(err, "reading token tag")
		}
		tag := tokenTag(tagByte)

		switch tag {
		case tokenColMetadata:
			cols, err := parseColMetadata(c)
			if err != nil {
				return nil, err
			}
			curCols = cols

		case tokenRow:
			row, err := parseRow(c, curCols, codec)
			if err != nil {
				return nil, err
			}
			resp.resultSets = appendRow(resp.resultSets, curCols, row)

		case tokenNBCRow:
			row, err := parseNBCRow(c, curCols, codec)
			if err != nil {
				return nil, err
			}
			resp.resultSets = appendRow(resp.resultSets, curCols, row)

		case tokenDone, tokenDoneProc, tokenDoneInProc:
			ds, err := parseDoneToken(c)
			if err != nil {
				return nil, err
			}
			resp.done = ds
			if ds.hasCount {
				resp.totalRows += ds.rowCount
			}

		case tokenError:
			e, err := parseErrorToken(c)
			if err != nil {
				return nil, err
			}
			resp.serverErrors = append(resp.serverErrors, e)

		case tokenInfo:
			e, err := parseErrorToken(c)
			if err != nil {
				return nil, err
			}
			resp.infos = append(resp.infos, e)

		case tokenEnvChange:
			kind, newVal, oldVal, err := parseEnvChange(c)
			if err != nil {
				return nil, err
			}
			if onEnvChange != nil {
				onEnvChange(kind, newVal, oldVal)
			}

		case tokenLoginAck:
			if err := skipLoginAck(c); err != nil {
				return nil, err
			}

		case tokenReturnStatus:
			v, err := c.int32()
			if err != nil {
				return nil, wrapProtocolError(err, "reading RETURNSTATUS")
			}
			resp.returnStatus = &v

		case tokenReturnValue:
			val, err := parseReturnValue(c, codec)
			if err != nil {
				return nil, err
			}
			resp.returnValues = append(resp.returnValues, val)

		case tokenOrder:
			if err := skipOrder(c); err != nil {
				return nil, err
			}

		case tokenFeatureExt:
			if err := skipFeatureExtAck(c); err != nil {
				return nil, err
			}

		case tokenFedAuthInfo:
			if err := skipLengthPrefixed32(c); err != nil {
				return nil, err
			}

		case tokenColInfo, tokenTabName:
			if err := skipLengthPrefixed16(c); err != nil {
				return nil, err
			}

		case tokenSessionState:
			if err := skipLengthPrefixed32(c); err != nil {
				return nil, err
			}

		default:
			return nil, newProtocolError("unexpected token tag 0x%02x", tagByte)
		}
	}

	return resp, nil
}

func appendRow(sets []resultSet, cols []Column, row Row) []resultSet {
	if len(sets) == 0 || !sameColumns(sets[len(sets)-1].columns, cols) {
		sets = append(sets, resultSet{columns: cols})
	}
	last := &sets[len(sets)-1]
	last.rows = append(last.rows, row)
	return sets
}

func sameColumns(a, b []Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}

// parseColMetadata reads a COLMETADATA token body: a column count followed
// by one TYPE_INFO + name record per column.
func parseColMetadata(c *cursor) ([]Column, error) {
	count, err := c.uint16()
	if err != nil {
		return nil, wrapProtocolError(err, "reading COLMETADATA count")
	}
	if count == 0xFFFF { // no metadata (e.g. a DML statement with no result set)
		return nil, nil
	}

	cols := make([]Column, count)
	for i := range cols {
		userType, err := c.uint32()
		if err != nil {
			return nil, wrapProtocolError(err, "reading column UserType")
		}
		flags, err := c.uint16()
		if err != nil {
			return nil, wrapProtocolError(err, "reading column flags")
		}
		col := Column{UserType: userType, Flags: flags}
		if err := parseTypeInfo(c, &col); err != nil {
			return nil, err
		}

		nameLen, err := c.byte()
		if err != nil {
			return nil, wrapProtocolError(err, "reading column name length")
		}
		nameBytes, err := c.bytes(int(nameLen) * 2)
		if err != nil {
			return nil, wrapProtocolError(err, "reading column name")
		}
		col.Name = ucs2ToString(nameBytes)
		cols[i] = col
	}
	return cols, nil
}

// parseTypeInfo reads the TYPE_INFO portion of a column descriptor: a type
// byte followed by a type-specific shape (fixed/none, one length byte, a
// two-byte length + collation, a precision/scale pair, or a scale byte).
func parseTypeInfo(c *cursor, col *Column) error {
	t, err := c.byte()
	if err != nil {
		return wrapProtocolError(err, "reading column type")
	}
	col.Type = SQLType(t)

	if _, ok := fixedLenSize(col.Type); ok {
		return nil
	}

	switch col.Type {
	case TypeNull:
		return nil

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		n, err := c.byte()
		col.Length = uint32(n)
		return err

	case TypeGUID:
		n, err := c.byte()
		col.Length = uint32(n)
		return err

	case TypeDateN:
		return nil

	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		scale, err := c.byte()
		col.Scale = scale
		return err

	case TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		n, err := c.byte()
		if err != nil {
			return err
		}
		col.Length = uint32(n)
		precision, err := c.byte()
		if err != nil {
			return err
		}
		scale, err := c.byte()
		if err != nil {
			return err
		}
		col.Precision, col.Scale = precision, scale
		return nil

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		n, err := c.byte()
		if err != nil {
			return err
		}
		col.Length = uint32(n)
		if col.Type == TypeChar || col.Type == TypeVarChar {
			return readCollation(c, col)
		}
		return nil

	case TypeBigChar, TypeBigVarChar, TypeBigBinary, TypeBigVarBin:
		n, err := c.uint16()
		if err != nil {
			return err
		}
		col.Length = uint32(n)
		if col.Type == TypeBigChar || col.Type == TypeBigVarChar {
			return readCollation(c, col)
		}
		return nil

	case TypeNVarChar, TypeNChar:
		n, err := c.uint16()
		if err != nil {
			return err
		}
		col.Length = uint32(n)
		return readCollation(c, col)

	case TypeText, TypeNText, TypeImage:
		n, err := c.uint32()
		if err != nil {
			return err
		}
		col.Length = n
		if col.Type != TypeImage {
			if err := readCollation(c, col); err != nil {
				return err
			}
		}
		numParts, err := c.byte()
		if err != nil {
			return err
		}
		for i := 0; i < int(numParts); i++ {
			partLen, err := c.uint16()
			if err != nil {
				return err
			}
			if _, err := c.bytes(int(partLen) * 2); err != nil {
				return err
			}
		}
		return nil

	case TypeXML:
		hasSchema, err := c.byte()
		if err != nil {
			return err
		}
		if hasSchema == 1 {
			if err := skipLengthPrefixedStrings(c, 3); err != nil {
				return err
			}
		}
		return nil

	case TypeSSVariant:
		n, err := c.uint32()
		col.Length = n
		return err

	default:
		return newInternalError(codeDecoderTableGap, "no TYPE_INFO shape for %s (0x%02x)", col.Type, t)
	}
}

func readCollation(c *cursor, col *Column) error {
	b, err := c.bytes(5)
	if err != nil {
		return err
	}
	col.Collation = append([]byte(nil), b...)
	return nil
}

// skipLengthPrefixedStrings skips n consecutive B_VARCHAR (1-byte length in
// characters) fields, used for XML schema collection names.
func skipLengthPrefixedStrings(c *cursor, n int) error {
	for i := 0; i < n; i++ {
		l, err := c.byte()
		if err != nil {
			return err
		}
		if _, err := c.bytes(int(l) * 2); err != nil {
			return err
		}
	}
	return nil
}

func parseRow(c *cursor, cols []Column, codec *textCodec) (Row, error) {
	row := make(Row, len(cols))
	for i, col := range cols {
		v, err := decodeColumn(c, col, codec)
		if err != nil {
			return nil, wrapProtocolError(err, "decoding column %q", col.Name)
		}
		row[i] = v
	}
	return row, nil
}

// parseNBCRow reads a null-bitmap-compressed row: a bitmap of
// ceil(len(cols)/8) bytes (bit N of byte N/8, LSB-first, set means column N
// is NULL) followed by on-wire values for only the non-NULL columns.
func parseNBCRow(c *cursor, cols []Column, codec *textCodec) (Row, error) {
	bitmapLen := (len(cols) + 7) / 8
	bitmap, err := c.bytes(bitmapLen)
	if err != nil {
		return nil, wrapProtocolError(err, "reading NBCROW bitmap")
	}

	row := make(Row, len(cols))
	for i, col := range cols {
		if isNullInBitmap(bitmap, i) {
			row[i] = nil
			continue
		}
		v, err := decodeColumn(c, col, codec)
		if err != nil {
			return nil, wrapProtocolError(err, "decoding column %q", col.Name)
		}
		row[i] = v
	}
	return row, nil
}

// isNullInBitmap reports whether bit index (LSB-first within each byte) is
// set in bitmap.
func isNullInBitmap(bitmap []byte, index int) bool {
	byteIdx := index / 8
	bitIdx := uint(index % 8)
	if byteIdx >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<bitIdx) != 0
}

func parseDoneToken(c *cursor) (doneStatus, error) {
	status, err := c.uint16()
	if err != nil {
		return doneStatus{}, wrapProtocolError(err, "reading DONE status")
	}
	curCmd, err := c.uint16()
	if err != nil {
		return doneStatus{}, wrapProtocolError(err, "reading DONE curcmd")
	}
	rowCount, err := c.uint64()
	if err != nil {
		return doneStatus{}, wrapProtocolError(err, "reading DONE row count")
	}
	_ = curCmd
	return doneStatus{
		more:     status&doneMore != 0,
		error:    status&doneError != 0,
		inTxn:    status&doneInXact != 0,
		hasCount: status&doneCount != 0,
		rowCount: rowCount,
	}, nil
}

// parseErrorToken reads the shared ERROR/INFO token body (MS-TDS 2.2.7.9 /
// 2.2.7.17): a 2-byte length, then Number(int32), State(byte),
// Class/severity(byte), MsgText (uint16 char count + UCS-2), ServerName and
// ProcName (each a 1-byte char count + UCS-2), and a LineNumber (uint32 in
// TDS 7.2+).
func parseErrorToken(c *cursor) (*Error, error) {
	length, err := c.uint16()
	if err != nil {
		return nil, wrapProtocolError(err, "reading ERROR/INFO length")
	}
	bodyBytes, err := c.bytes(int(length))
	if err != nil {
		return nil, wrapProtocolError(err, "reading ERROR/INFO body")
	}
	b := newCursor(bodyBytes)

	number, err := b.int32()
	if err != nil {
		return nil, err
	}
	state, err := b.byte()
	if err != nil {
		return nil, err
	}
	class, err := b.byte()
	if err != nil {
		return nil, err
	}
	msgLen, err := b.uint16()
	if err != nil {
		return nil, err
	}
	msgBytes, err := b.bytes(int(msgLen) * 2)
	if err != nil {
		return nil, err
	}
	serverLen, err := b.byte()
	if err != nil {
		return nil, err
	}
	if _, err := b.bytes(int(serverLen) * 2); err != nil {
		return nil, err
	}
	procLen, err := b.byte()
	if err != nil {
		return nil, err
	}
	procBytes, err := b.bytes(int(procLen) * 2)
	if err != nil {
		return nil, err
	}
	lineNo, err := b.int32()
	if err != nil {
		return nil, err
	}

	return newServerError(number, state, class, ucs2ToString(msgBytes), ucs2ToString(procBytes), lineNo), nil
}

func parseEnvChange(c *cursor) (uint8, []byte, []byte, error) {
	length, err := c.uint16()
	if err != nil {
		return 0, nil, nil, wrapProtocolError(err, "reading ENVCHANGE length")
	}
	body, err := c.bytes(int(length))
	if err != nil {
		return 0, nil, nil, wrapProtocolError(err, "reading ENVCHANGE body")
	}
	bc := newCursor(body)
	kind, err := bc.byte()
	if err != nil {
		return 0, nil, nil, err
	}
	newVal, err := readEnvChangeValue(bc, kind)
	if err != nil {
		return 0, nil, nil, err
	}
	oldVal, err := readEnvChangeValue(bc, kind)
	if err != nil {
		return 0, nil, nil, err
	}
	return kind, newVal, oldVal, nil
}

// readEnvChangeValue reads one ENVCHANGE value, whose shape depends on kind:
// routing info (type 20) is B_VARBYTE with a 2-byte length; collation and
// the transaction-lifecycle kinds (7-12, 17) are B_VARBYTE with a 1-byte
// length in raw bytes (the transaction descriptor is 8 raw bytes, not
// text); everything else is B_VARCHAR, a 1-byte length in UCS-2 characters.
func readEnvChangeValue(c *cursor, kind uint8) ([]byte, error) {
	if kind == envRoutingInfo {
		n, err := c.uint16()
		if err != nil {
			return nil, err
		}
		return c.bytes(int(n))
	}

	n, err := c.byte()
	if err != nil {
		return nil, err
	}
	switch kind {
	case envCollation, envBeginTxn, envCommitTxn, envRollbackTxn, envEnlistDTC, envDefectTxn,
		17: // transaction ended
		return c.bytes(int(n))
	default:
		return c.bytes(int(n) * 2)
	}
}

func skipLengthPrefixed16(c *cursor) error {
	n, err := c.uint16()
	if err != nil {
		return err
	}
	_, err = c.bytes(int(n))
	return err
}

func skipLengthPrefixed32(c *cursor) error {
	n, err := c.uint32()
	if err != nil {
		return err
	}
	_, err = c.bytes(int(n))
	return err
}

func skipLoginAck(c *cursor) error {
	return skipLengthPrefixed16(c)
}

func skipOrder(c *cursor) error {
	return skipLengthPrefixed16(c)
}

func skipFeatureExtAck(c *cursor) error {
	for {
		id, err := c.byte()
		if err != nil {
			return err
		}
		if id == featureExtTerminator {
			return nil
		}
		n, err := c.uint32()
		if err != nil {
			return err
		}
		if _, err := c.bytes(int(n)); err != nil {
			return err
		}
	}
}

func parseReturnValue(c *cursor, codec *textCodec) (interface{}, error) {
	if _, err := c.uint16(); err != nil { // ParamOrdinal
		return nil, err
	}
	nameLen, err := c.byte()
	if err != nil {
		return nil, err
	}
	if _, err := c.bytes(int(nameLen) * 2); err != nil {
		return nil, err
	}
	if _, err := c.byte(); err != nil { // Status
		return nil, err
	}
	if _, err := c.uint32(); err != nil { // UserType
		return nil, err
	}
	if _, err := c.uint16(); err != nil { // Flags
		return nil, err
	}
	var col Column
	if err := parseTypeInfo(c, &col); err != nil {
		return nil, err
	}
	return decodeColumn(c, col, codec)
}
