// Package canmap maps application parameters onto bit fields of CAN bus
// messages. A mapper periodically serializes parameter values into outgoing
// frames, decodes incoming frames back into parameters, persists its mapping
// tables to a reserved flash page and answers a small CANopen-style
// configuration protocol that lets a remote node change the mapping and
// read/write parameters at runtime.
package canmap

import (
	"errors"
	"sync/atomic"
)

const (
	// MaxMessages is how many distinct CAN identifiers one direction
	// (send or receive) can hold.
	MaxMessages = 10
	// MaxItems is the capacity of the position pool shared by both
	// directions. The pool holds one extra entry beyond MaxItems that is
	// permanently unused and acts as the terminal link target of every
	// chain.
	MaxItems = 50

	// itemUnset marks a position entry as free. MaxItems (as a next index
	// or a table head) marks the end of a chain / an empty identifier
	// slot. The two must stay distinct: chain walks stop on itemUnset,
	// allocation scans for it.
	itemUnset = 0xFF

	maxCanID = 0x1FFFFFFF
)

var (
	// ErrInvalidCanID is returned for identifiers above 0x1FFFFFFF (29 bits).
	ErrInvalidCanID = errors.New("invalid CAN identifier")
	// ErrInvalidBitOffset is returned for bit offsets above 63.
	ErrInvalidBitOffset = errors.New("bit offset out of 64bit message")
	// ErrInvalidBitLength is returned for field widths above 32 bits.
	ErrInvalidBitLength = errors.New("bit length exceeds 32 bits")
	// ErrTableFull is returned when the direction already has MaxMessages
	// distinct identifiers defined.
	ErrTableFull = errors.New("identifier table is full")
	// ErrPoolExhausted is returned when all MaxItems position entries are
	// taken, counting both directions together.
	ErrPoolExhausted = errors.New("position pool is exhausted")
)

// Direction selects which identifier table an operation works on.
type Direction int

const (
	Send Direction = iota
	Receive
)

// Params is the parameter store the mapper reads and writes. Parameters are
// addressed by a fast index that is only valid for the current build; StableID
// and IndexOfStableID translate between that and the rebuild-independent
// identifier used on non-volatile media and in the configuration protocol.
type Params interface {
	// SetFixed sets a parameter from a fixed point value and range-checks
	// it. A non-nil error means the value was rejected and nothing changed.
	SetFixed(index int, value int32) error
	// SetFloat sets a value without range checking. Used for ad-hoc
	// (non managed) values fed from the bus.
	SetFloat(index int, value float32)
	GetFixed(index int) int32
	GetFloat(index int) float32
	// IsParam reports whether index denotes a managed parameter (range
	// checked, fixed point) as opposed to an ad-hoc value.
	IsParam(index int) bool
	// StableID resolves a fast index to its stable identifier.
	StableID(index int) uint16
	// IndexOfStableID resolves a stable identifier back to a fast index.
	// Unknown identifiers resolve to Count(), an index where get/set are
	// inert.
	IndexOfStableID(id uint16) int
	Count() int
}

// Bus is the CAN dispatch collaborator the mapper transmits through and
// registers its receive filters with.
type Bus interface {
	Send(canID uint32, data [2]uint32)
	RegisterUserMessage(canID uint32) bool
	ClearUserMessages()
}

// Flash is the non-volatile memory the mapping tables persist to. Addresses
// are byte offsets from the start of flash, words are programmed and read
// little-endian.
type Flash interface {
	Size() uint32
	PageSize() uint32
	ErasePage(address uint32)
	ProgramWord(address uint32, word uint32)
	ReadWord(address uint32) uint32
}

// CRC accumulates a CRC-32 word by word, mirroring a hardware CRC unit.
type CRC interface {
	Reset()
	Add(word uint32) uint32
}

type idEntry struct {
	canID uint32
	// first indexes the head position entry of this identifier's chain.
	// MaxItems means the slot is unused.
	first uint8
}

type posEntry struct {
	param     uint16
	gain      float32
	bitOffset uint8
	bitLength uint8
	offset    int8
	next      uint8
}

// Mapping is one parameter's placement inside a message, as reported by
// FindMapping and IterateMappings.
type Mapping struct {
	Param     int
	CanID     uint32
	BitOffset uint8
	BitLength uint8
	Gain      float32
	Offset    int8
	IsReceive bool
}

// Config carries the optional knobs of a Mapper.
type Config struct {
	// NodeID selects the configuration protocol identifiers
	// (request 0x600+NodeID, reply 0x580+NodeID). Defaults to 1.
	NodeID uint8
	// ReservedPages is how many pages from the top of flash the mapping
	// page sits. Defaults to 2.
	ReservedPages uint32
}

// Mapper owns one identifier table per direction plus the shared position
// pool and implements the whole mapping engine: table operations, frame
// encode/decode, flash persistence and the configuration protocol.
//
// Mapper methods are not safe for concurrent use; the one sanctioned overlap
// is frame handling racing a Save, which is guarded by the saving flag (see
// Save).
type Mapper struct {
	bus    Bus
	params Params
	flash  Flash
	crc    CRC

	nodeID        uint8
	reservedPages uint32

	sendMap [MaxMessages]idEntry
	recvMap [MaxMessages]idEntry
	// posMap holds one extra entry beyond MaxItems. That entry keeps
	// next == itemUnset forever so that walking a chain past its tail
	// (whose next is MaxItems) lands on it and stops without a special
	// case for the last node.
	posMap [MaxItems + 1]posEntry

	saving atomic.Bool
}

// New creates a Mapper on the given collaborators and restores any valid
// persisted mapping from flash. The caller still has to register it with the
// dispatch, e.g. bus.AddReceiveCallback(m).
func New(b Bus, params Params, fl Flash, crc CRC, conf Config) *Mapper {
	if conf.NodeID == 0 {
		conf.NodeID = 1
	}
	if conf.ReservedPages == 0 {
		conf.ReservedPages = 2
	}
	m := &Mapper{
		bus:           b,
		params:        params,
		flash:         fl,
		crc:           crc,
		nodeID:        conf.NodeID,
		reservedPages: conf.ReservedPages,
	}
	m.clearTables()
	m.LoadFromFlash()
	m.HandleClear()
	return m
}

// NodeID returns the node id the configuration protocol answers on.
func (m *Mapper) NodeID() uint8 { return m.nodeID }

// AddSend maps a parameter into a periodically sent message. On success it
// returns the number of distinct send identifiers currently defined, a cheap
// "still room" signal for callers.
func (m *Mapper) AddSend(param int, canID uint32, bitOffset, bitLength uint8, gain float32, offset int8) (int, error) {
	return m.add(&m.sendMap, param, canID, bitOffset, bitLength, gain, offset)
}

// AddRecv maps a bit field of a received message onto a parameter and
// registers the identifier with the dispatch as a filter hint. Returns the
// number of distinct receive identifiers currently defined.
func (m *Mapper) AddRecv(param int, canID uint32, bitOffset, bitLength uint8, gain float32, offset int8) (int, error) {
	count, err := m.add(&m.recvMap, param, canID, bitOffset, bitLength, gain, offset)
	if err == nil {
		m.bus.RegisterUserMessage(canID)
	}
	return count, err
}

// Add maps a parameter in the given direction.
func (m *Mapper) Add(dir Direction, param int, canID uint32, bitOffset, bitLength uint8, gain float32, offset int8) (int, error) {
	if dir == Receive {
		return m.AddRecv(param, canID, bitOffset, bitLength, gain, offset)
	}
	return m.AddSend(param, canID, bitOffset, bitLength, gain, offset)
}

func (m *Mapper) add(table *[MaxMessages]idEntry, param int, canID uint32, bitOffset, bitLength uint8, gain float32, offset int8) (int, error) {
	if canID > maxCanID {
		return 0, ErrInvalidCanID
	}
	if bitOffset > 63 {
		return 0, ErrInvalidBitOffset
	}
	if bitLength > 32 {
		return 0, ErrInvalidBitLength
	}

	slot := m.findByID(table, canID)
	if slot == nil {
		for i := range table {
			if table[i].first == MaxItems {
				slot = &table[i]
				break
			}
		}
		if slot == nil {
			return 0, ErrTableFull
		}
		// The slot stays logically free (first == MaxItems) until the
		// new entry is linked in, so bailing out below leaves the
		// table unchanged.
		slot.canID = canID
	}

	free := 0
	for free < MaxItems && m.posMap[free].next != itemUnset {
		free++
	}
	if free == MaxItems {
		return 0, ErrPoolExhausted
	}

	// Walk to the current tail so the new entry is appended in
	// configuration order.
	tail := -1
	for idx := slot.first; idx != MaxItems; idx = m.posMap[idx].next {
		tail = int(idx)
	}

	e := &m.posMap[free]
	e.param = uint16(param)
	e.gain = gain
	e.offset = offset
	e.bitOffset = bitOffset
	e.bitLength = bitLength
	e.next = MaxItems

	if tail < 0 {
		slot.first = uint8(free)
	} else {
		m.posMap[tail].next = uint8(free)
	}

	count := 0
	m.forEachDefined(table, func(*idEntry) { count++ })
	return count, nil
}

// Remove unlinks every occurrence of param from both directions and returns
// how many entries were unlinked. Unlinked entries are not returned to the
// free pool until the next Clear; see the package tests for that property.
func (m *Mapper) Remove(param int) int {
	return m.removeFrom(&m.sendMap, param) + m.removeFrom(&m.recvMap, param)
}

func (m *Mapper) removeFrom(table *[MaxMessages]idEntry, param int) int {
	removed := 0
	for i := range table {
		slot := &table[i]
		if slot.first == MaxItems {
			break
		}
		// prev tracks the last surviving predecessor so consecutive
		// matches unlink cleanly.
		prev := -1
		idx := int(slot.first)
		for m.posMap[idx].next != itemUnset {
			next := m.posMap[idx].next
			if int(m.posMap[idx].param) == param {
				if prev < 0 {
					slot.first = next
				} else {
					m.posMap[prev].next = next
				}
				removed++
			} else {
				prev = idx
			}
			idx = int(next)
		}
	}
	return removed
}

// FindMapping returns the first mapping of param, scanning the send direction
// before the receive direction.
func (m *Mapper) FindMapping(param int) (Mapping, bool) {
	found := Mapping{}
	ok := false
	m.IterateMappings(func(mp Mapping) {
		if !ok && mp.Param == param {
			found = mp
			ok = true
		}
	})
	return found, ok
}

// IterateMappings calls fn for every defined mapping, send direction first,
// identifiers in definition order, chain entries in configuration order.
func (m *Mapper) IterateMappings(fn func(Mapping)) {
	for dir, table := range []*[MaxMessages]idEntry{&m.sendMap, &m.recvMap} {
		isReceive := dir == 1
		m.forEachDefined(table, func(slot *idEntry) {
			for e := &m.posMap[slot.first]; e.next != itemUnset; e = &m.posMap[e.next] {
				fn(Mapping{
					Param:     int(e.param),
					CanID:     slot.canID,
					BitOffset: e.bitOffset,
					BitLength: e.bitLength,
					Gain:      e.gain,
					Offset:    e.offset,
					IsReceive: isReceive,
				})
			}
		})
	}
}

// Clear drops every mapping in both directions, returns all position entries
// to the free pool and tells the dispatch to forget the registered filters.
func (m *Mapper) Clear() {
	m.clearTables()
	m.bus.ClearUserMessages()
}

func (m *Mapper) clearTables() {
	for i := range m.sendMap {
		m.sendMap[i].first = MaxItems
	}
	for i := range m.recvMap {
		m.recvMap[i].first = MaxItems
	}
	// Includes the terminal entry, which must read as unset for chain
	// walks to stop on it.
	for i := range m.posMap {
		m.posMap[i].next = itemUnset
	}
}

// HandleClear re-registers the receive identifiers with the dispatch.
// Called by the dispatch after somebody (perhaps us) cleared all filters.
func (m *Mapper) HandleClear() {
	m.forEachDefined(&m.recvMap, func(slot *idEntry) {
		m.bus.RegisterUserMessage(slot.canID)
	})
}

// findByID returns the identifier slot holding canID, or nil.
func (m *Mapper) findByID(table *[MaxMessages]idEntry, canID uint32) *idEntry {
	var found *idEntry
	m.forEachDefined(table, func(slot *idEntry) {
		if found == nil && slot.canID == canID {
			found = slot
		}
	})
	return found
}

// forEachDefined visits identifier slots in order, stopping at the first
// unused one. Slots are allocated by linear scan so defined slots form a
// prefix of the table.
func (m *Mapper) forEachDefined(table *[MaxMessages]idEntry, fn func(*idEntry)) {
	for i := range table {
		if table[i].first == MaxItems {
			break
		}
		fn(&table[i])
	}
}
