package canmap

import "github.com/evdrive/go-canmap/param"

// The message payload is carried as two 32-bit words instead of one uint64 so
// that shifts stay within a 32-bit lane. A field whose offset and length
// straddle the word boundary truncates at bit 31, which is part of the wire
// behavior and must not be "fixed" by widening the arithmetic.

// fieldMask returns the bitLength wide mask. A shift count of 32 yields 0 on
// a uint32, so 32-bit fields come out as 0xFFFFFFFF.
func fieldMask(bitLength uint8) uint32 {
	return uint32(1)<<bitLength - 1
}

// HandleFrame consumes one inbound frame. Configuration protocol requests
// (identifier 0x600+node) are always processed and claimed; anything else is
// matched against the receive table and decoded into the parameter store.
// Mapped data is dropped while a Save is in progress. Returns whether the
// frame was claimed.
func (m *Mapper) HandleFrame(canID uint32, data [2]uint32) bool {
	if canID == sdoRequestBase+uint32(m.nodeID) {
		sdo := SDOFromPayload(data)
		m.processSDO(&sdo)
		m.bus.Send(sdoReplyBase+uint32(m.nodeID), sdo.Payload())
		return true
	}

	if m.saving.Load() {
		// Decoding would read tables mid-rewrite; drop, don't queue.
		return false
	}

	slot := m.findByID(&m.recvMap, canID)
	if slot == nil {
		return false
	}

	for e := &m.posMap[slot.first]; e.next != itemUnset; e = &m.posMap[e.next] {
		var val float32

		if e.bitOffset > 31 {
			val = float32((data[1] >> (e.bitOffset - 32)) & fieldMask(e.bitLength))
		} else {
			val = float32((data[0] >> e.bitOffset) & fieldMask(e.bitLength))
		}
		// Receive applies offset before gain; send does the inverse.
		val += float32(e.offset)
		val *= e.gain

		idx := int(e.param)
		if m.params.IsParam(idx) {
			_ = m.params.SetFixed(idx, param.FromFloat(val))
		} else {
			m.params.SetFloat(idx, val)
		}
	}
	return true
}

// SendAll encodes and transmits every send-direction message from the live
// parameter values. Invoked periodically by the owner. Aborts the whole cycle
// as soon as a concurrent Save is detected.
func (m *Mapper) SendAll() {
	for i := range m.sendMap {
		slot := &m.sendMap[i]
		if slot.first == MaxItems {
			break
		}

		var data [2]uint32

		for e := &m.posMap[slot.first]; e.next != itemUnset; e = &m.posMap[e.next] {
			if m.saving.Load() {
				return
			}

			val := m.params.GetFloat(int(e.param))
			val *= e.gain
			val += float32(e.offset)
			ival := uint32(int32(val)) & fieldMask(e.bitLength)

			if e.bitOffset > 31 {
				data[1] |= ival << (e.bitOffset - 32)
			} else {
				data[0] |= ival << e.bitOffset
			}
		}

		m.bus.Send(slot.canID, data)
	}
}
