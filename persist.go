package canmap

import "math"

// The persisted image occupies one flash page laid out as
//
//	[send table][receive table][position pool][crc word]
//
// at a fixed distance from the top of flash. Identifier entries serialize to
// 8 bytes (u32 canID, u8 first, 3 pad), position entries to 12 bytes
// (u16 param, 2 pad, f32 gain, u8 bitOffset, u8 bitLength, i8 offset,
// u8 next), all little-endian. Only the MaxItems addressable pool entries are
// written; the terminal entry is reconstructed by clearTables before a load.
//
// Parameters are stored under their stable identifier, never the volatile
// fast index, so the image stays valid across firmware rebuilds that renumber
// parameters.
const (
	idEntryWords  = 2
	posEntryWords = 3

	idMapWords   = MaxMessages * idEntryWords
	posPoolWords = MaxItems * posEntryWords
	imageWords   = 2*idMapWords + posPoolWords
)

func (m *Mapper) flashBase() uint32 {
	return m.flash.Size() - m.flash.PageSize()*m.reservedPages
}

// Save persists the mapping tables. While it runs, mapped-data decode and the
// periodic send path are disabled through the saving flag: flash programming
// stalls execution on the target, and the tables briefly hold stable
// identifiers instead of fast indices.
func (m *Mapper) Save() {
	m.saving.Store(true)
	defer m.saving.Store(false)

	base := m.flashBase()

	// Skip the erase if the page still reads as all ones.
	check := uint32(0xFFFFFFFF)
	for i := uint32(0); i < m.flash.PageSize()/4; i++ {
		check &= m.flash.ReadWord(base + i*4)
	}
	if check != 0xFFFFFFFF {
		m.flash.ErasePage(base)
	}

	m.crc.Reset()

	m.translateToStable(&m.sendMap)
	m.translateToStable(&m.recvMap)

	m.programWords(base, m.idMapImage(&m.sendMap))
	m.programWords(base+idMapWords*4, m.idMapImage(&m.recvMap))
	crc := m.programWords(base+2*idMapWords*4, m.posMapImage())
	m.flash.ProgramWord(base+imageWords*4, crc)

	m.translateToVolatile(&m.sendMap)
	m.translateToVolatile(&m.recvMap)
}

// LoadFromFlash validates the persisted image and, on a checksum match,
// replaces the in-memory tables with it. On mismatch (first boot, erased or
// corrupted page) the tables are left as they are. Reports whether a valid
// image was loaded.
func (m *Mapper) LoadFromFlash() bool {
	base := m.flashBase()

	m.crc.Reset()
	var crc uint32
	image := make([]uint32, imageWords)
	for i := range image {
		image[i] = m.flash.ReadWord(base + uint32(i)*4)
		crc = m.crc.Add(image[i])
	}
	if m.flash.ReadWord(base+imageWords*4) != crc {
		return false
	}

	m.decodeIDMap(&m.sendMap, image[:idMapWords])
	m.decodeIDMap(&m.recvMap, image[idMapWords:2*idMapWords])
	m.decodePosMap(image[2*idMapWords:])

	m.translateToVolatile(&m.sendMap)
	m.translateToVolatile(&m.recvMap)
	return true
}

// programWords writes words to consecutive flash addresses, folding each one
// into the running checksum, and returns the checksum so far.
func (m *Mapper) programWords(address uint32, words []uint32) uint32 {
	var crc uint32
	for i, w := range words {
		crc = m.crc.Add(w)
		m.flash.ProgramWord(address+uint32(i)*4, w)
	}
	return crc
}

func (m *Mapper) idMapImage(table *[MaxMessages]idEntry) []uint32 {
	words := make([]uint32, 0, idMapWords)
	for i := range table {
		words = append(words, table[i].canID, uint32(table[i].first))
	}
	return words
}

func (m *Mapper) posMapImage() []uint32 {
	words := make([]uint32, 0, posPoolWords)
	for i := 0; i < MaxItems; i++ {
		e := &m.posMap[i]
		words = append(words,
			uint32(e.param),
			math.Float32bits(e.gain),
			uint32(e.bitOffset)|uint32(e.bitLength)<<8|uint32(uint8(e.offset))<<16|uint32(e.next)<<24,
		)
	}
	return words
}

func (m *Mapper) decodeIDMap(table *[MaxMessages]idEntry, words []uint32) {
	for i := range table {
		table[i].canID = words[i*idEntryWords]
		table[i].first = uint8(words[i*idEntryWords+1])
	}
}

func (m *Mapper) decodePosMap(words []uint32) {
	for i := 0; i < MaxItems; i++ {
		e := &m.posMap[i]
		e.param = uint16(words[i*posEntryWords])
		e.gain = math.Float32frombits(words[i*posEntryWords+1])
		packed := words[i*posEntryWords+2]
		e.bitOffset = uint8(packed)
		e.bitLength = uint8(packed >> 8)
		e.offset = int8(packed >> 16)
		e.next = uint8(packed >> 24)
	}
}

// translateToStable rewrites every reachable position entry's parameter from
// its fast index to its stable identifier, crossing the volatile/non-volatile
// boundary outward.
func (m *Mapper) translateToStable(table *[MaxMessages]idEntry) {
	m.forEachDefined(table, func(slot *idEntry) {
		for e := &m.posMap[slot.first]; e.next != itemUnset; e = &m.posMap[e.next] {
			e.param = m.params.StableID(int(e.param))
		}
	})
}

// translateToVolatile is the inverse of translateToStable. Identifiers that
// no longer resolve in this build map to the store's inert one-past-last
// index; the entry stays in place but reads and writes through it do nothing.
func (m *Mapper) translateToVolatile(table *[MaxMessages]idEntry) {
	m.forEachDefined(table, func(slot *idEntry) {
		for e := &m.posMap[slot.first]; e.next != itemUnset; e = &m.posMap[e.next] {
			e.param = uint16(m.params.IndexOfStableID(e.param))
		}
	})
}
