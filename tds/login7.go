package tds

import (
	"encoding/binary"
	"os"
)

// LOGIN7 OptionFlags1 bits.
const (
	loginFlagByteOrder uint8 = 0x01 // 0 = little endian
	loginFlagChar      uint8 = 0x02 // 0 = ASCII/ANSI
	loginFlagDumpLoad  uint8 = 0x10 // dump/load off
	loginFlagUseDB     uint8 = 0x20 // USE DATABASE on successful login
	loginFlagSetLang   uint8 = 0x80 // SET LANGUAGE on successful login
)

// LOGIN7 OptionFlags2 bits.
const (
	loginFlagODBC        uint8 = 0x02 // behave like the ODBC driver (required for some server features)
	loginFlagIntSecurity uint8 = 0x80 // integrated (SSPI) security, never set by this engine
)

// login7HeaderSize is the fixed size of the LOGIN7 header up to and
// including SSPILongLength.
const login7HeaderSize = 94

// loginOptions carries everything buildLogin7 needs beyond user/password,
// mirroring the Session connection options resolved by Connect.
type loginOptions struct {
	hostname   string
	appName    string
	serverName string
	database   string
	language   string
	clientPID  uint32
	packetSize uint32
	localeID   uint32
}

// buildLogin7 encodes a complete LOGIN7 packet body: the 94-byte fixed
// header followed by the variable-length UCS-2 string block in header-field
// order, per MS-TDS 2.10.7. The password is written obfuscated, never in
// the clear.
func buildLogin7(user, password string, opt loginOptions) []byte {
	hostname := stringToUCS2(opt.hostname)
	username := stringToUCS2(user)
	password16 := stringToUCS2(password)
	obfuscatePassword(password16)
	appName := stringToUCS2(opt.appName)
	serverName := stringToUCS2(opt.serverName)
	ctlIntName := stringToUCS2("go-tds")
	language := stringToUCS2(opt.language)
	database := stringToUCS2(opt.database)

	fields := [][]byte{
		hostname, username, password16, appName, serverName,
		nil, // extension offset block, empty: no feature extensions sent
		ctlIntName, language, database,
	}

	offset := uint32(login7HeaderSize)
	offsets := make([]uint32, len(fields))
	for i, f := range fields {
		offsets[i] = offset
		offset += uint32(len(f))
	}
	clientID := offset // SSPI/AtchDBFile/ChangePassword all empty; placed contiguously at the end
	totalLen := clientID

	buf := make([]byte, login7HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], totalLen)
	binary.LittleEndian.PutUint32(buf[4:8], verTDS74)
	binary.LittleEndian.PutUint32(buf[8:12], opt.packetSize)
	binary.LittleEndian.PutUint32(buf[12:16], 0x07000000) // ClientProgVer, arbitrary
	binary.LittleEndian.PutUint32(buf[16:20], opt.clientPID)
	binary.LittleEndian.PutUint32(buf[20:24], 0) // ConnectionID

	buf[24] = loginFlagUseDB | loginFlagSetLang // USE DATABASE / SET LANGUAGE non-fatal
	buf[25] = loginFlagODBC
	buf[26] = 0 // TypeFlags: regular SQL, no read-only intent
	buf[27] = 0 // OptionFlags3

	binary.LittleEndian.PutUint32(buf[28:32], 0) // ClientTimeZone
	binary.LittleEndian.PutUint32(buf[32:36], opt.localeID)

	putOffsetLen(buf, 36, offsets[0], len(hostname)/2)
	putOffsetLen(buf, 40, offsets[1], len(username)/2)
	putOffsetLen(buf, 44, offsets[2], len(password16)/2)
	putOffsetLen(buf, 48, offsets[3], len(appName)/2)
	putOffsetLen(buf, 52, offsets[4], len(serverName)/2)
	putOffsetLen(buf, 56, offsets[5], 0) // extension
	putOffsetLen(buf, 60, offsets[6], len(ctlIntName)/2)
	putOffsetLen(buf, 64, offsets[7], len(language)/2)
	putOffsetLen(buf, 68, offsets[8], len(database)/2)
	// ClientID: 6 bytes, left zero
	putOffsetLen(buf, 78, clientID, 0)  // SSPI
	putOffsetLen(buf, 82, clientID, 0)  // AtchDBFile
	putOffsetLen(buf, 86, clientID, 0)  // ChangePassword
	binary.LittleEndian.PutUint32(buf[90:94], 0) // SSPILongLength

	for _, f := range fields {
		buf = append(buf, f...)
	}
	return buf
}

func putOffsetLen(buf []byte, at int, offset uint32, charLen int) {
	binary.LittleEndian.PutUint16(buf[at:at+2], uint16(offset))
	binary.LittleEndian.PutUint16(buf[at+2:at+4], uint16(charLen))
}

// obfuscatePassword applies the LOGIN7 password mangling in place: each
// UCS-2 byte is nibble-swapped then XORed with 0xA5, per MS-TDS 2.2.6.4.
// This engine only ever sends LOGIN7, never parses one, so it never needs
// the inverse transform (XOR first, then swap).
func obfuscatePassword(b []byte) {
	for i, c := range b {
		b[i] = (((c << 4) & 0xFF) | (c >> 4)) ^ 0xA5
	}
}

// defaultLoginOptions fills in hostname/locale defaults a caller did not
// override via a connection Option.
func defaultLoginOptions(database, appName string) loginOptions {
	hostname, _ := os.Hostname()
	return loginOptions{
		hostname:   hostname,
		appName:    appName,
		serverName: "",
		database:   database,
		language:   "",
		clientPID:  uint32(os.Getpid()),
		packetSize: DefaultPacketSize,
		localeID:   0x0409, // en-US
	}
}
