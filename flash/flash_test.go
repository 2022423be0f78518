package flash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_startsErased(t *testing.T) {
	m := NewMemory(2048, 1024)

	assert.Equal(t, uint32(2048), m.Size())
	assert.Equal(t, uint32(1024), m.PageSize())
	assert.Equal(t, uint32(0xFFFFFFFF), m.ReadWord(0))
	assert.Equal(t, uint32(0xFFFFFFFF), m.ReadWord(2044))
}

func TestMemory_ProgramWord(t *testing.T) {
	m := NewMemory(2048, 1024)

	m.ProgramWord(16, 0x12345678)
	assert.Equal(t, uint32(0x12345678), m.ReadWord(16))

	// programming can only clear bits
	m.ProgramWord(16, 0xFF00FF00)
	assert.Equal(t, uint32(0x12005600), m.ReadWord(16))
}

func TestMemory_ErasePage(t *testing.T) {
	m := NewMemory(2048, 1024)

	m.ProgramWord(0, 0)
	m.ProgramWord(1020, 0)
	m.ProgramWord(1024, 0)

	// erasing by any address inside the page restores the whole page
	m.ErasePage(512)

	assert.Equal(t, uint32(0xFFFFFFFF), m.ReadWord(0))
	assert.Equal(t, uint32(0xFFFFFFFF), m.ReadWord(1020))
	assert.Equal(t, uint32(0), m.ReadWord(1024), "other pages are untouched")
}

func TestMemory_BytesRoundTrip(t *testing.T) {
	m := NewMemory(2048, 1024)
	m.ProgramWord(8, 0xCAFEBABE)

	restored := NewMemoryFromBytes(m.Bytes(), 1024)

	assert.Equal(t, uint32(0xCAFEBABE), restored.ReadWord(8))

	// the copy is detached from the original
	restored.ProgramWord(8, 0)
	assert.Equal(t, uint32(0xCAFEBABE), m.ReadWord(8))
}

func TestCRC32_deterministic(t *testing.T) {
	c := NewCRC32()
	first := c.AddBlock([]uint32{0x12345678, 0xDEADBEEF, 0})

	c.Reset()
	second := c.AddBlock([]uint32{0x12345678, 0xDEADBEEF, 0})

	assert.Equal(t, first, second)
}

func TestCRC32_orderAndContentMatter(t *testing.T) {
	c := NewCRC32()
	a := c.AddBlock([]uint32{1, 2})

	c.Reset()
	b := c.AddBlock([]uint32{2, 1})

	c.Reset()
	d := c.AddBlock([]uint32{1, 3})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, d)
}

func TestCRC32_AddEqualsAddBlock(t *testing.T) {
	words := []uint32{0xFFFFFFFF, 0, 0x80000000, 0x04C11DB7}

	c := NewCRC32()
	var last uint32
	for _, w := range words {
		last = c.Add(w)
	}

	c2 := NewCRC32()
	block := c2.AddBlock(words)

	require.Equal(t, block, last)
}
