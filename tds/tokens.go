package tds

// Token tags that prefix each record in a response token stream, per
// MS-TDS 2.2.7.
type tokenTag uint8

const (
	tokenAltMetadata  tokenTag = 0x88
	tokenAltRow       tokenTag = 0xD3
	tokenColMetadata  tokenTag = 0x81
	tokenColInfo      tokenTag = 0xA5
	tokenDone         tokenTag = 0xFD
	tokenDoneProc     tokenTag = 0xFE
	tokenDoneInProc   tokenTag = 0xFF
	tokenEnvChange    tokenTag = 0xE3
	tokenError        tokenTag = 0xAA
	tokenFeatureExt   tokenTag = 0xAE
	tokenFedAuthInfo  tokenTag = 0xEE
	tokenInfo         tokenTag = 0xAB
	tokenLoginAck     tokenTag = 0xAD
	tokenNBCRow       tokenTag = 0xD2
	tokenOffset       tokenTag = 0x78
	tokenOrder        tokenTag = 0xA9
	tokenReturnStatus tokenTag = 0x79
	tokenReturnValue  tokenTag = 0xAC
	tokenRow          tokenTag = 0xD1
	tokenSessionState tokenTag = 0xE4
	tokenSSPI         tokenTag = 0xED
	tokenTabName      tokenTag = 0xA4
)

// DONE/DONEPROC/DONEINPROC status flags.
const (
	doneFinal       uint16 = 0x00
	doneMore        uint16 = 0x01
	doneError       uint16 = 0x02
	doneInXact      uint16 = 0x04
	doneCount       uint16 = 0x10
	doneAttn        uint16 = 0x20
	doneServerError uint16 = 0x100
)

// ENVCHANGE sub-types. applyEnvChange acts on the database, packet-size and
// begin/commit/rollback kinds; the others are only parsed.
const (
	envDatabase     uint8 = 1
	envLanguage     uint8 = 2
	envCharset      uint8 = 3
	envPacketSize   uint8 = 4
	envBeginTxn     uint8 = 8
	envCommitTxn    uint8 = 9
	envRollbackTxn  uint8 = 10
	envEnlistDTC    uint8 = 11
	envDefectTxn    uint8 = 12
	envCollation    uint8 = 7
	envResetConn    uint8 = 18
	envRoutingInfo  uint8 = 20
)

// FEATUREEXTACK feature ids (only enumerated for completeness; this engine
// does not request any optional features during LOGIN7, so it never needs
// to interpret the corresponding ack payloads).
const (
	featureExtSessionRecovery  uint8 = 0x01
	featureExtFedAuth          uint8 = 0x02
	featureExtColumnEncryption uint8 = 0x04
	featureExtTerminator       uint8 = 0xFF
)

// doneStatus decodes a DONE-family status word into named flags, used for
// logging and for deciding whether more result sets follow.
type doneStatus struct {
	more     bool
	error    bool
	inTxn    bool
	hasCount bool
	rowCount uint64
}
