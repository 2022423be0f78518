// Package flash provides the non-volatile memory collaborators of a mapper:
// an in-memory flash with NOR semantics (pages erase to all ones, programming
// can only clear bits) and a word-fed CRC-32 matching the STM32 CRC unit.
package flash

import "encoding/binary"

// Memory is a byte-addressed flash simulation. Addresses are byte offsets
// from the start of the array; words are little-endian. Out of range access
// panics, as it would fault on the real part.
type Memory struct {
	data     []byte
	pageSize uint32
}

// NewMemory creates an erased flash of size bytes with the given page size.
func NewMemory(size, pageSize uint32) *Memory {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return &Memory{data: data, pageSize: pageSize}
}

// NewMemoryFromBytes creates a flash backed by a copy of data, e.g. an image
// previously captured with Bytes.
func NewMemoryFromBytes(data []byte, pageSize uint32) *Memory {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &Memory{data: cp, pageSize: pageSize}
}

func (m *Memory) Size() uint32     { return uint32(len(m.data)) }
func (m *Memory) PageSize() uint32 { return m.pageSize }

// ErasePage erases the page containing address back to all ones.
func (m *Memory) ErasePage(address uint32) {
	start := address - address%m.pageSize
	for i := start; i < start+m.pageSize; i++ {
		m.data[i] = 0xFF
	}
}

// ProgramWord programs a 32-bit word. Like the real part it can only clear
// bits: the stored value is the AND of the old and new words.
func (m *Memory) ProgramWord(address uint32, word uint32) {
	old := binary.LittleEndian.Uint32(m.data[address:])
	binary.LittleEndian.PutUint32(m.data[address:], old&word)
}

// ReadWord reads a 32-bit word.
func (m *Memory) ReadWord(address uint32) uint32 {
	return binary.LittleEndian.Uint32(m.data[address:])
}

// Bytes returns a copy of the whole array, suitable for writing to a file and
// feeding back through NewMemoryFromBytes.
func (m *Memory) Bytes() []byte {
	cp := make([]byte, len(m.data))
	copy(cp, m.data)
	return cp
}
