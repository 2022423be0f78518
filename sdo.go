package canmap

import "github.com/evdrive/go-canmap/param"

// Configuration protocol. A simplified CANopen SDO expedited exchange: one
// 8-byte request on 0x600+node is always answered with one 8-byte reply on
// 0x580+node. Payload layout is little-endian: command byte, 16-bit index,
// sub-index byte, 32-bit data.
const (
	sdoRequestBase uint32 = 0x600
	sdoReplyBase   uint32 = 0x580

	SDOWrite      uint8 = 0x40
	SDORead       uint8 = 0x22
	SDOWriteReply uint8 = 0x23
	SDOReadReply  uint8 = 0x43
	SDOAbort      uint8 = 0x80

	SDOErrInvalidIndex uint32 = 0x06020000
	SDOErrRange        uint32 = 0x06090030

	// Index 0x2000 addresses parameters by fast index, 0x2001 by stable
	// identifier. [0x3000,0x4800) adds mapping entries: bit 0x4000 picks
	// the receive direction, the low 11 bits carry the CAN identifier.
	sdoIndexParam      uint16 = 0x2000
	sdoIndexParamByID  uint16 = 0x2001
	sdoIndexMapBase    uint16 = 0x3000
	sdoIndexMapEnd     uint16 = 0x4800
	sdoIndexMapRecvBit uint16 = 0x4000
	sdoIndexMapIDMask  uint16 = 0x7FF
)

// SDORequestID returns the identifier a node with the given id listens for
// requests on. Replies arrive on SDOReplyID.
func SDORequestID(nodeID uint8) uint32 { return sdoRequestBase + uint32(nodeID) }

// SDOReplyID returns the identifier a node with the given id replies on.
func SDOReplyID(nodeID uint8) uint32 { return sdoReplyBase + uint32(nodeID) }

// SDO is one request or reply of the configuration protocol.
type SDO struct {
	Cmd      uint8
	Index    uint16
	SubIndex uint8
	Data     uint32
}

// SDOFromPayload decodes the 8-byte payload of a protocol frame.
func SDOFromPayload(data [2]uint32) SDO {
	return SDO{
		Cmd:      uint8(data[0]),       // byte 0
		Index:    uint16(data[0] >> 8), // bytes 1-2
		SubIndex: uint8(data[0] >> 24), // byte 3
		Data:     data[1],              // bytes 4-7
	}
}

// Payload encodes the message back into an 8-byte frame payload.
func (s SDO) Payload() [2]uint32 {
	return [2]uint32{
		uint32(s.Cmd) | uint32(s.Index)<<8 | uint32(s.SubIndex)<<24,
		s.Data,
	}
}

// MapData packs the data word of a mapping-add request: bit offset in byte 0,
// bit length in byte 1, gain as Q5 fixed point in bytes 2-3.
func MapData(bitOffset, bitLength uint8, gain float32) uint32 {
	return uint32(bitOffset) |
		uint32(bitLength)<<8 |
		uint32(uint16(param.FromFloat(gain)))<<16
}

// processSDO rewrites the request in place into the reply. Requests with a
// known index but an unknown command echo back unchanged, as a remote peer of
// this protocol expects.
func (m *Mapper) processSDO(s *SDO) {
	count := m.params.Count()

	switch {
	case s.Index == sdoIndexParam || s.Index == sdoIndexParamByID:
		// The sub-index is gated against the parameter count before any
		// stable-id translation, so only ids numerically below the count
		// are addressable through 0x2001.
		if int(s.SubIndex) >= count {
			s.Cmd = SDOAbort
			s.Data = SDOErrInvalidIndex
			return
		}
		idx := int(s.SubIndex)
		if s.Index == sdoIndexParamByID {
			idx = m.params.IndexOfStableID(uint16(s.SubIndex))
			if idx >= count {
				s.Cmd = SDOAbort
				s.Data = SDOErrInvalidIndex
				return
			}
		}

		switch s.Cmd {
		case SDOWrite:
			if m.params.SetFixed(idx, int32(s.Data)) == nil {
				s.Cmd = SDOWriteReply
			} else {
				s.Cmd = SDOAbort
				s.Data = SDOErrRange
			}
		case SDORead:
			s.Data = uint32(m.params.GetFixed(idx))
			s.Cmd = SDOReadReply
		}

	case s.Index >= sdoIndexMapBase && s.Index < sdoIndexMapEnd && int(s.SubIndex) < count:
		if s.Cmd != SDOWrite {
			return
		}
		bitOffset := uint8(s.Data)
		length := uint8(s.Data >> 8)
		// The gain field is sign extended. Peers that read these two bytes
		// as unsigned disagree about wire values >= 0x8000.
		gain := param.ToFloat(int32(int16(s.Data >> 16)))

		var err error
		if s.Index&sdoIndexMapRecvBit != 0 {
			_, err = m.AddRecv(int(s.SubIndex), uint32(s.Index&sdoIndexMapIDMask), bitOffset, length, gain, 0)
		} else {
			_, err = m.AddSend(int(s.SubIndex), uint32(s.Index&sdoIndexMapIDMask), bitOffset, length, gain, 0)
		}

		if err == nil {
			s.Cmd = SDOWriteReply
		} else {
			s.Cmd = SDOAbort
			s.Data = SDOErrRange
		}

	default:
		s.Cmd = SDOAbort
		s.Data = SDOErrInvalidIndex
	}
}

// SDOWrite sends an expedited write request to a remote node. The reply, if
// any, comes back through the dispatch like any other frame.
func (m *Mapper) SDOWrite(remoteNodeID uint8, index uint16, subIndex uint8, data uint32) {
	s := SDO{Cmd: SDOWrite, Index: index, SubIndex: subIndex, Data: data}
	m.bus.Send(SDORequestID(remoteNodeID), s.Payload())
}
