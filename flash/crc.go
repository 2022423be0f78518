package flash

// crcPoly is the CRC-32 polynomial used by the STM32 CRC unit.
const crcPoly = 0x04C11DB7

// CRC32 replicates the STM32 hardware CRC unit: initial value 0xFFFFFFFF,
// polynomial 0x04C11DB7, fed 32-bit words most significant bit first with no
// input or output reflection. hash/crc32 cannot produce this checksum (it is
// reflected and byte oriented), hence the explicit implementation.
type CRC32 struct {
	crc uint32
}

// NewCRC32 returns a CRC unit in its reset state.
func NewCRC32() *CRC32 {
	return &CRC32{crc: 0xFFFFFFFF}
}

// Reset restores the initial value.
func (c *CRC32) Reset() {
	c.crc = 0xFFFFFFFF
}

// Add folds one word into the running checksum and returns the result so far.
func (c *CRC32) Add(word uint32) uint32 {
	crc := c.crc ^ word
	for i := 0; i < 32; i++ {
		if crc&0x80000000 != 0 {
			crc = crc<<1 ^ crcPoly
		} else {
			crc <<= 1
		}
	}
	c.crc = crc
	return crc
}

// AddBlock folds a block of words and returns the resulting checksum.
func (c *CRC32) AddBlock(words []uint32) uint32 {
	for _, w := range words {
		c.Add(w)
	}
	return c.crc
}
