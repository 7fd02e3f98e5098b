package tds

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketType identifies the type of TDS packet.
type PacketType uint8

const (
	PacketSQLBatch      PacketType = 1
	PacketRPCRequest    PacketType = 3
	PacketReply         PacketType = 4
	PacketAttention     PacketType = 6
	PacketBulkLoad      PacketType = 7
	PacketTransMgrReq   PacketType = 14
	PacketLogin7        PacketType = 16
	PacketSSPIMessage   PacketType = 17
	PacketPrelogin      PacketType = 18
)

func (p PacketType) String() string {
	switch p {
	case PacketSQLBatch:
		return "SQL_BATCH"
	case PacketRPCRequest:
		return "RPC_REQUEST"
	case PacketReply:
		return "REPLY"
	case PacketAttention:
		return "ATTENTION"
	case PacketBulkLoad:
		return "BULK_LOAD"
	case PacketTransMgrReq:
		return "TRANS_MGR_REQ"
	case PacketLogin7:
		return "LOGIN7"
	case PacketSSPIMessage:
		return "SSPI_MESSAGE"
	case PacketPrelogin:
		return "PRELOGIN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(p))
	}
}

// PacketStatus indicates the status of a TDS packet.
type PacketStatus uint8

const (
	StatusNormal                  PacketStatus = 0x00
	StatusEOM                     PacketStatus = 0x01
	StatusIgnore                  PacketStatus = 0x02
	StatusResetConnection         PacketStatus = 0x08
	StatusResetConnectionSkipTran PacketStatus = 0x10
)

// HeaderSize is the size of a TDS packet header in bytes.
const HeaderSize = 8

// DefaultPacketSize is the packet size requested during LOGIN7 absent an
// explicit WithPacketSize option.
const DefaultPacketSize = 4096

// MinPacketSize and MaxPacketSize bound the negotiable packet size.
const (
	MinPacketSize = 512
	MaxPacketSize = 32767
)

// Header represents a TDS packet header: 8 bytes, big-endian length/spid.
type Header struct {
	Type     PacketType
	Status   PacketStatus
	Length   uint16 // total packet length including header
	SPID     uint16
	PacketID uint8
	Window   uint8
}

// ReadHeader reads a TDS packet header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Header{
		Type:     PacketType(buf[0]),
		Status:   PacketStatus(buf[1]),
		Length:   binary.BigEndian.Uint16(buf[2:4]),
		SPID:     binary.BigEndian.Uint16(buf[4:6]),
		PacketID: buf[6],
		Window:   buf[7],
	}, nil
}

// Write writes the header to w.
func (h Header) Write(w io.Writer) error {
	var buf [HeaderSize]byte
	buf[0] = byte(h.Type)
	buf[1] = byte(h.Status)
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint16(buf[4:6], h.SPID)
	buf[6] = h.PacketID
	buf[7] = h.Window
	_, err := w.Write(buf[:])
	return err
}

// PayloadLength returns the payload size (total length minus the header).
func (h Header) PayloadLength() int {
	if h.Length <= HeaderSize {
		return 0
	}
	return int(h.Length) - HeaderSize
}

// IsLastPacket reports whether this packet ends the message (status bit 0).
func (h Header) IsLastPacket() bool {
	return h.Status&StatusEOM != 0
}

// Framer splits and reassembles TDS messages into packets of at most
// packetSize bytes, tracking a packet id sequence modulo 256 per spec.md §4.2.
type Framer struct {
	rw         io.ReadWriter
	packetSize int
	spid       uint16
	packetID   uint8
}

// NewFramer creates a Framer over rw using the given negotiated packet size.
func NewFramer(rw io.ReadWriter, packetSize int) *Framer {
	if packetSize < MinPacketSize {
		packetSize = DefaultPacketSize
	}
	return &Framer{rw: rw, packetSize: packetSize, packetID: 1}
}

// SetPacketSize updates the packet size used for subsequent sends, called
// after the server's ENVCHANGE packet-size negotiation.
func (f *Framer) SetPacketSize(size int) {
	if size >= MinPacketSize && size <= MaxPacketSize {
		f.packetSize = size
	}
}

// Send splits payload into packet-sized chunks of the given type and writes
// them with packet ids contiguous modulo 256, the last chunk carrying the
// EOM status bit.
func (f *Framer) Send(pktType PacketType, payload []byte) error {
	maxPayload := f.packetSize - HeaderSize
	remaining := payload

	for {
		isLast := len(remaining) <= maxPayload
		var chunk []byte
		if isLast {
			chunk = remaining
		} else {
			chunk = remaining[:maxPayload]
			remaining = remaining[maxPayload:]
		}

		status := StatusNormal
		if isLast {
			status = StatusEOM
		}

		hdr := Header{
			Type:     pktType,
			Status:   status,
			Length:   uint16(HeaderSize + len(chunk)),
			SPID:     f.spid,
			PacketID: f.packetID,
		}
		if err := hdr.Write(f.rw); err != nil {
			return fmt.Errorf("writing packet header: %w", err)
		}
		if len(chunk) > 0 {
			if _, err := f.rw.Write(chunk); err != nil {
				return fmt.Errorf("writing packet payload: %w", err)
			}
		}

		f.packetID++

		if isLast {
			return nil
		}
	}
}

// Recv reads exactly one packet and returns its type, status, and payload.
func (f *Framer) Recv() (PacketType, PacketStatus, []byte, error) {
	hdr, err := ReadHeader(f.rw)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("reading packet header: %w", err)
	}
	if hdr.Length < HeaderSize {
		return 0, 0, nil, fmt.Errorf("invalid packet length: %d", hdr.Length)
	}
	payloadLen := hdr.PayloadLength()
	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(f.rw, payload); err != nil {
			return 0, 0, nil, fmt.Errorf("reading packet payload: %w", err)
		}
	}
	return hdr.Type, hdr.Status, payload, nil
}

// RecvMessage repeats Recv, accumulating payloads, until a packet with the
// EOM status bit is seen. It returns the joined payload and the type of the
// first packet in the message.
func (f *Framer) RecvMessage() (PacketType, []byte, error) {
	pktType, status, payload, err := f.Recv()
	if err != nil {
		return 0, nil, err
	}
	buf := append([]byte(nil), payload...)
	for status&StatusEOM == 0 {
		_, status, payload, err = f.Recv()
		if err != nil {
			return 0, nil, err
		}
		buf = append(buf, payload...)
	}
	return pktType, buf, nil
}

// ResetPacketID resets the packet id sequence to 1 (used after a connection
// reset, not exercised by this engine's non-pooled model but kept for
// parity with the wire contract).
func (f *Framer) ResetPacketID() {
	f.packetID = 1
}
