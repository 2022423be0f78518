package bus

import "encoding/binary"

// Frame is one classic CAN frame: up to 29 bits of identifier and up to
// 8 data bytes.
type Frame struct {
	ID     uint32
	Length uint8
	Data   [8]byte
}

// PayloadWords returns the payload as two little-endian 32-bit words, the
// representation the mapping engine packs bit fields into.
func (f Frame) PayloadWords() [2]uint32 {
	return [2]uint32{
		binary.LittleEndian.Uint32(f.Data[0:4]),
		binary.LittleEndian.Uint32(f.Data[4:8]),
	}
}

// FrameFromWords builds a full length frame from an identifier and the two
// payload words.
func FrameFromWords(canID uint32, data [2]uint32) Frame {
	f := Frame{ID: canID, Length: 8}
	binary.LittleEndian.PutUint32(f.Data[0:4], data[0])
	binary.LittleEndian.PutUint32(f.Data[4:8], data[1])
	return f
}

// Extended reports whether the identifier needs the 29-bit extended format.
func (f Frame) Extended() bool {
	return f.ID > 0x7FF
}
