package tds

import (
	"encoding/binary"
	"fmt"
)

// TDS protocol versions, as sent in the PRELOGIN VERSION option.
const (
	verTDS70     uint32 = 0x70000000
	verTDS71     uint32 = 0x71000000
	verTDS71Rev1 uint32 = 0x71000001
	verTDS72     uint32 = 0x72090002
	verTDS73A    uint32 = 0x730A0003
	verTDS73B    uint32 = 0x730B0003
	verTDS74     uint32 = 0x74000004
)

// PRELOGIN option tokens.
const (
	preloginVersion    uint8 = 0x00
	preloginEncryption uint8 = 0x01
	preloginInstOpt    uint8 = 0x02
	preloginThreadID   uint8 = 0x03
	preloginMARS       uint8 = 0x04
	preloginTraceID    uint8 = 0x05
	preloginFedAuth    uint8 = 0x06
	preloginNonceOpt   uint8 = 0x07
	preloginTerminator uint8 = 0xFF
)

// Encryption negotiation values carried in the PRELOGIN ENCRYPTION option.
const (
	EncryptOff    uint8 = 0x00 // client/server does not want encryption
	EncryptOn     uint8 = 0x01 // available and in use
	EncryptNotSup uint8 = 0x02 // encryption not supported at all
	EncryptReq    uint8 = 0x03 // encryption required
)

// preloginOption is one (token, offset, length) header entry.
type preloginOption struct {
	token  uint8
	offset uint16
	length uint16
}

// buildPrelogin constructs the client PRELOGIN request body: version,
// requested encryption mode, and the target instance name (ASCII,
// zero-terminated). Client-side MARS and fedauth are never requested, since
// MARS and federated authentication are out of scope for this engine.
func buildPrelogin(encryption uint8, instanceName string) []byte {
	version := make([]byte, 6)
	binary.BigEndian.PutUint32(version[0:4], verTDS74)
	// subbuild left zero

	instance := append([]byte(instanceName), 0)
	threadID := make([]byte, 4)

	type field struct {
		token uint8
		data  []byte
	}
	fields := []field{
		{preloginVersion, version},
		{preloginEncryption, []byte{encryption}},
		{preloginInstOpt, instance},
		{preloginThreadID, threadID},
		{preloginMARS, []byte{0}},
	}

	headerSize := len(fields)*5 + 1
	offset := uint16(headerSize)

	buf := make([]byte, 0, headerSize)
	var body []byte
	for _, f := range fields {
		hdr := make([]byte, 5)
		hdr[0] = f.token
		binary.BigEndian.PutUint16(hdr[1:3], offset)
		binary.BigEndian.PutUint16(hdr[3:5], uint16(len(f.data)))
		buf = append(buf, hdr...)
		body = append(body, f.data...)
		offset += uint16(len(f.data))
	}
	buf = append(buf, preloginTerminator)
	buf = append(buf, body...)
	return buf
}

// preloginResponse is the subset of the server's PRELOGIN response this
// engine needs to continue the handshake.
type preloginResponse struct {
	version    uint32
	encryption uint8
	instance   string
	fedAuth    uint8
}

// parsePrelogin decodes a server PRELOGIN response body.
func parsePrelogin(data []byte) (*preloginResponse, error) {
	if len(data) == 0 {
		return nil, newProtocolError("empty PRELOGIN response")
	}

	options := make(map[uint8]preloginOption)
	offset := 0
	for {
		if offset >= len(data) {
			return nil, newProtocolError("PRELOGIN response truncated reading option headers")
		}
		token := data[offset]
		if token == preloginTerminator {
			break
		}
		if offset+5 > len(data) {
			return nil, newProtocolError("PRELOGIN option header truncated")
		}
		options[token] = preloginOption{
			token:  token,
			offset: binary.BigEndian.Uint16(data[offset+1 : offset+3]),
			length: binary.BigEndian.Uint16(data[offset+3 : offset+5]),
		}
		offset += 5
	}

	resp := &preloginResponse{}
	for token, opt := range options {
		start, end := int(opt.offset), int(opt.offset)+int(opt.length)
		if end > len(data) || start > end {
			return nil, newProtocolError("PRELOGIN option 0x%02x data out of bounds", token)
		}
		value := data[start:end]

		switch token {
		case preloginVersion:
			if len(value) >= 4 {
				resp.version = binary.BigEndian.Uint32(value[0:4])
			}
		case preloginEncryption:
			if len(value) >= 1 {
				resp.encryption = value[0]
			}
		case preloginInstOpt:
			resp.instance = nullTerminatedString(value)
		case preloginFedAuth:
			if len(value) >= 1 {
				resp.fedAuth = value[0]
			}
		}
	}
	return resp, nil
}

func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// versionString renders a packed TDS version for diagnostics/logging.
func versionString(ver uint32) string {
	switch ver {
	case verTDS70:
		return "7.0"
	case verTDS71:
		return "7.1"
	case verTDS71Rev1:
		return "7.1 Rev 1"
	case verTDS72:
		return "7.2"
	case verTDS73A:
		return "7.3A"
	case verTDS73B:
		return "7.3B"
	case verTDS74:
		return "7.4"
	default:
		return fmt.Sprintf("unknown (0x%08X)", ver)
	}
}
