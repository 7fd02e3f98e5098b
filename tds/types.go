package tds

import "fmt"

// SQLType identifies the wire encoding of a TDS column value.
type SQLType uint8

const (
	TypeNull SQLType = 0x1F // 31

	TypeInt1      SQLType = 0x30 // 48  - tinyint
	TypeBit       SQLType = 0x32 // 50
	TypeInt2      SQLType = 0x34 // 52  - smallint
	TypeInt4      SQLType = 0x38 // 56  - int
	TypeDateTime4 SQLType = 0x3A // 58  - smalldatetime
	TypeFloat4    SQLType = 0x3B // 59  - real
	TypeMoney     SQLType = 0x3C // 60
	TypeDateTime  SQLType = 0x3D // 61
	TypeFloat8    SQLType = 0x3E // 62  - float
	TypeMoney4    SQLType = 0x7A // 122 - smallmoney
	TypeInt8      SQLType = 0x7F // 127 - bigint

	TypeGUID            SQLType = 0x24 // 36
	TypeIntN            SQLType = 0x26 // 38
	TypeDecimal         SQLType = 0x37 // 55  - legacy
	TypeNumeric         SQLType = 0x3F // 63  - legacy
	TypeBitN            SQLType = 0x68 // 104
	TypeDecimalN        SQLType = 0x6A // 106
	TypeNumericN        SQLType = 0x6C // 108
	TypeFloatN          SQLType = 0x6D // 109
	TypeMoneyN          SQLType = 0x6E // 110
	TypeDateTimeN       SQLType = 0x6F // 111
	TypeDateN           SQLType = 0x28 // 40
	TypeTimeN           SQLType = 0x29 // 41
	TypeDateTime2N      SQLType = 0x2A // 42
	TypeDateTimeOffsetN SQLType = 0x2B // 43

	TypeChar      SQLType = 0x2F // 47
	TypeVarChar   SQLType = 0x27 // 39
	TypeBinary    SQLType = 0x2D // 45
	TypeVarBinary SQLType = 0x25 // 37

	TypeBigVarBin  SQLType = 0xA5 // 165
	TypeBigVarChar SQLType = 0xA7 // 167
	TypeBigBinary  SQLType = 0xAD // 173
	TypeBigChar    SQLType = 0xAF // 175
	TypeNVarChar   SQLType = 0xE7 // 231
	TypeNChar      SQLType = 0xEF // 239
	TypeXML        SQLType = 0xF1 // 241
	TypeUDT        SQLType = 0xF0 // 240

	TypeText      SQLType = 0x23 // 35
	TypeImage     SQLType = 0x22 // 34
	TypeNText     SQLType = 0x63 // 99
	TypeSSVariant SQLType = 0x62 // 98
)

func (t SQLType) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInt1:
		return "TINYINT"
	case TypeBit:
		return "BIT"
	case TypeInt2:
		return "SMALLINT"
	case TypeInt4:
		return "INT"
	case TypeInt8:
		return "BIGINT"
	case TypeFloat4:
		return "REAL"
	case TypeFloat8:
		return "FLOAT"
	case TypeDateTime:
		return "DATETIME"
	case TypeDateTime4:
		return "SMALLDATETIME"
	case TypeMoney:
		return "MONEY"
	case TypeMoney4:
		return "SMALLMONEY"
	case TypeGUID:
		return "UNIQUEIDENTIFIER"
	case TypeIntN:
		return "INTN"
	case TypeBitN:
		return "BITN"
	case TypeFloatN:
		return "FLOATN"
	case TypeMoneyN:
		return "MONEYN"
	case TypeDateTimeN:
		return "DATETIMEN"
	case TypeDateN:
		return "DATE"
	case TypeTimeN:
		return "TIME"
	case TypeDateTime2N:
		return "DATETIME2"
	case TypeDateTimeOffsetN:
		return "DATETIMEOFFSET"
	case TypeDecimal, TypeDecimalN:
		return "DECIMAL"
	case TypeNumeric, TypeNumericN:
		return "NUMERIC"
	case TypeChar:
		return "CHAR"
	case TypeVarChar:
		return "VARCHAR"
	case TypeBinary:
		return "BINARY"
	case TypeVarBinary:
		return "VARBINARY"
	case TypeBigVarBin:
		return "VARBINARY"
	case TypeBigVarChar:
		return "VARCHAR"
	case TypeBigBinary:
		return "BINARY"
	case TypeBigChar:
		return "CHAR"
	case TypeNVarChar:
		return "NVARCHAR"
	case TypeNChar:
		return "NCHAR"
	case TypeText:
		return "TEXT"
	case TypeNText:
		return "NTEXT"
	case TypeImage:
		return "IMAGE"
	case TypeXML:
		return "XML"
	case TypeSSVariant:
		return "SQL_VARIANT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// fixedLenSize returns the on-wire byte width of a fixed-length type, or
// (0, false) if t is variable-length / nullable-family and carries its own
// length byte.
func fixedLenSize(t SQLType) (int, bool) {
	switch t {
	case TypeInt1, TypeBit:
		return 1, true
	case TypeInt2:
		return 2, true
	case TypeInt4, TypeDateTime4, TypeFloat4, TypeMoney4:
		return 4, true
	case TypeMoney, TypeDateTime, TypeInt8, TypeFloat8:
		return 8, true
	default:
		return 0, false
	}
}

// Column describes one column of a result set, as carried by a COLMETADATA
// token and referenced by every ROW/NBCROW token that follows it.
type Column struct {
	Name      string
	Type      SQLType
	UserType  uint32
	Flags     uint16
	Length    uint32 // declared max length for variable-length types
	Precision uint8  // DECIMALN/NUMERICN
	Scale     uint8  // DECIMALN/NUMERICN/TIMEN/DATETIME2N/DATETIMEOFFSETN
	Collation []byte // 5-byte collation, present for char-family types
}

// ColumnFlags bits carried in COLMETADATA.
const (
	ColFlagNullable        uint16 = 0x0001
	ColFlagCaseSensitive   uint16 = 0x0002
	ColFlagUpdateable      uint16 = 0x0008
	ColFlagIdentity        uint16 = 0x0010
	ColFlagComputed        uint16 = 0x0020
	ColFlagFixedLenCLR     uint16 = 0x0100
	ColFlagSparseColumn    uint16 = 0x0400
	ColFlagEncrypted       uint16 = 0x0800
	ColFlagHidden          uint16 = 0x2000
	ColFlagKey             uint16 = 0x4000
	ColFlagNullableUnknown uint16 = 0x8000
)

func (c Column) Nullable() bool {
	return c.Flags&ColFlagNullable != 0
}

// Row is one decoded result-set row: one value per Column, in order. A NULL
// value decodes to a nil interface.
type Row []interface{}

// DefaultCollation is Latin1_General_CI_AS, the 5-byte collation written
// into the TYPE_INFO of NVARCHAR/NCHAR RPC parameters (see appendTypeInfo).
var DefaultCollation = []byte{0x09, 0x04, 0xD0, 0x00, 0x34}
