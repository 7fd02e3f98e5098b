package tds

import "strconv"

// ALL_HEADERS header-type ids (MS-TDS 2.2.5.3).
const (
	headerTypeQueryNotif    uint16 = 0x0001
	headerTypeTransDesc     uint16 = 0x0002
	headerTypeTraceActivity uint16 = 0x0003
)

// buildAllHeaders constructs the ALL_HEADERS block that prefixes every
// SQL-BATCH, RPC_REQUEST, and BULK_LOAD message on TDS 7.2+: a 4-byte total
// length, then one or more {header length, header type, header body}
// entries. This engine always sends exactly one transaction-descriptor
// header, carrying the session's current transaction id and an
// OutstandingRequestCount fixed at 1 (no MARS support, so never more than
// one request outstanding).
func buildAllHeaders(txnDescriptor uint64) []byte {
	const headerBodyLen = 8 + 4 // descriptor + request count
	const headerLen = 4 + 2 + headerBodyLen
	const totalLen = 4 + headerLen

	buf := make([]byte, 0, totalLen)
	buf = appendUint32(buf, totalLen)
	buf = appendUint32(buf, headerLen)
	buf = appendUint16(buf, headerTypeTransDesc)
	buf = appendUint64(buf, txnDescriptor)
	buf = appendUint32(buf, 1) // OutstandingRequestCount
	return buf
}

// buildSQLBatch encodes a SQL_BATCH request body: ALL_HEADERS followed by
// the UCS-2 SQL text, per MS-TDS 2.2.6.7.
func buildSQLBatch(sql string, txnDescriptor uint64) []byte {
	buf := buildAllHeaders(txnDescriptor)
	return append(buf, stringToUCS2(sql)...)
}

// buildRPCRequest encodes an RPC_REQUEST body invoking the stored procedure
// named procName (or, for sp_executesql, with procID set and procName
// empty) with the given parameters, per MS-TDS 2.2.6.6.
func buildRPCRequest(procName string, procID uint16, params []Param, txnDescriptor uint64, decimalPrec uint8) ([]byte, error) {
	buf := buildAllHeaders(txnDescriptor)

	if procID != 0 {
		buf = appendUint16(buf, 0xFFFF)
		buf = appendUint16(buf, procID)
	} else {
		nameUTF16 := stringToUCS2(procName)
		buf = appendUint16(buf, uint16(len(nameUTF16)/2))
		buf = append(buf, nameUTF16...)
	}

	buf = appendUint16(buf, 0) // OptionFlags: no recompile, no no-metadata

	var err error
	for _, p := range params {
		buf, err = encodeParam(buf, p, decimalPrec)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// buildExecuteSQL wraps sql and its positional parameters into an
// sp_executesql RPC call: @stmt, an auto-generated @params declaration
// string, and the parameter values themselves, letting the server prepare
// and cache the plan across calls with the same shape.
func buildExecuteSQL(sql string, params []Param, txnDescriptor uint64, decimalPrec uint8) ([]byte, error) {
	declParams := make([]Param, 0, len(params)+2)
	declParams = append(declParams, Param{Value: sql})
	declParams = append(declParams, Param{Value: declareParamsString(params, decimalPrec)})
	declParams = append(declParams, params...)
	return buildRPCRequest("", ProcIDExecuteSQL, declParams, txnDescriptor, decimalPrec)
}

// declareParamsString renders the @params declaration sp_executesql needs:
// a comma-separated "@name type" list matching the positional/named
// parameters passed alongside it.
func declareParamsString(params []Param, decimalPrec uint8) string {
	var decl string
	for i, p := range params {
		name := p.Name
		if name == "" {
			name = paramPositionalName(i)
		}
		col, err := paramTypeInfo(p.Value, decimalPrec)
		sqlTypeName := "nvarchar(4000)"
		if err == nil {
			sqlTypeName = sqlTypeDeclString(col)
		}
		if i > 0 {
			decl += ", "
		}
		decl += name + " " + sqlTypeName
	}
	return decl
}

func paramPositionalName(i int) string {
	return "@p" + strconv.Itoa(i+1)
}

// sqlTypeDeclString renders the T-SQL type name sp_executesql's @params
// string expects for a given parameter's wire TYPE_INFO.
func sqlTypeDeclString(col Column) string {
	switch col.Type {
	case TypeBitN:
		return "bit"
	case TypeIntN:
		return "bigint"
	case TypeFloatN:
		return "float"
	case TypeNVarChar:
		if col.Length == 0xFFFF {
			return "nvarchar(max)"
		}
		return "nvarchar(" + strconv.Itoa(int(col.Length/2)) + ")"
	case TypeBigVarBin:
		if col.Length == 0xFFFF {
			return "varbinary(max)"
		}
		return "varbinary(" + strconv.Itoa(int(col.Length)) + ")"
	case TypeDateN:
		return "date"
	case TypeTimeN:
		return "time"
	case TypeDateTime2N:
		return "datetime2"
	case TypeDecimalN:
		return "decimal(" + strconv.Itoa(int(col.Precision)) + "," + strconv.Itoa(int(col.Scale)) + ")"
	default:
		return "sql_variant"
	}
}

// Transaction manager request types (MS-TDS 2.2.6.8).
const (
	tmReqBegin    uint16 = 5
	tmReqCommit   uint16 = 7
	tmReqRollback uint16 = 8
	tmReqSave     uint16 = 9
)

// buildBeginTransaction encodes a TM_BEGIN_XACT request: ALL_HEADERS, the
// request type, an isolation level byte, and a zero-length transaction
// name.
func buildBeginTransaction(isolationLevel byte, txnDescriptor uint64) []byte {
	buf := buildAllHeaders(txnDescriptor)
	buf = appendUint16(buf, tmReqBegin)
	buf = append(buf, isolationLevel)
	buf = append(buf, 0) // transaction name length (B_VARCHAR, in UCS-2 chars)
	return buf
}

// buildCommitTransaction encodes a TM_COMMIT_XACT request.
func buildCommitTransaction(txnDescriptor uint64) []byte {
	buf := buildAllHeaders(txnDescriptor)
	buf = appendUint16(buf, tmReqCommit)
	buf = append(buf, 0) // transaction name length
	buf = append(buf, 0) // flags
	return buf
}

// buildRollbackTransaction encodes a TM_ROLLBACK_XACT request.
func buildRollbackTransaction(txnDescriptor uint64) []byte {
	buf := buildAllHeaders(txnDescriptor)
	buf = appendUint16(buf, tmReqRollback)
	buf = append(buf, 0) // transaction name length
	buf = append(buf, 0) // flags
	return buf
}

// Isolation levels for buildBeginTransaction, matching the values SQL
// Server's TM_BEGIN_XACT expects.
const (
	IsolationReadUncommitted byte = 0x01
	IsolationReadCommitted   byte = 0x02
	IsolationRepeatableRead  byte = 0x03
	IsolationSerializable    byte = 0x04
	IsolationSnapshot        byte = 0x05
)
