package canmap

import (
	"testing"

	"github.com/evdrive/go-canmap/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapper_SendAll(t *testing.T) {
	var testCases = []struct {
		name       string
		bitOffset  uint8
		bitLength  uint8
		gain       float32
		offset     int8
		paramValue float32
		expect     [2]uint32
	}{
		{
			name:      "ok, value 42 into first byte",
			bitOffset: 0, bitLength: 8, gain: 1, offset: 0,
			paramValue: 42,
			expect:     [2]uint32{42, 0},
		},
		{
			name:      "ok, field in upper word",
			bitOffset: 40, bitLength: 8, gain: 1, offset: 0,
			paramValue: 0xAB,
			expect:     [2]uint32{0, 0xAB << 8},
		},
		{
			name:      "ok, send applies gain before offset",
			bitOffset: 0, bitLength: 16, gain: 0.5, offset: -10,
			paramValue: 100, // 100*0.5 - 10 = 40
			expect:     [2]uint32{40, 0},
		},
		{
			name:      "ok, value masked to bit length",
			bitOffset: 8, bitLength: 4, gain: 1, offset: 0,
			paramValue: 0xFF, // masked to 0xF
			expect:     [2]uint32{0xF00, 0},
		},
		{
			name:      "ok, field straddling the word boundary truncates at bit 31",
			bitOffset: 28, bitLength: 8, gain: 1, offset: 0,
			paramValue: 0xFF,
			expect:     [2]uint32{0xF0000000, 0},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, b, params := newTestMapper(t)

			params.SetFloat(2, tc.paramValue)
			_, err := m.AddSend(2, 0x100, tc.bitOffset, tc.bitLength, tc.gain, tc.offset)
			require.NoError(t, err)

			m.SendAll()

			require.Len(t, b.sent, 1)
			assert.Equal(t, uint32(0x100), b.sent[0].canID)
			assert.Equal(t, tc.expect, b.sent[0].data)
		})
	}
}

func TestMapper_SendAll_multipleMessages(t *testing.T) {
	m, b, params := newTestMapper(t)

	params.SetFloat(2, 1)
	params.SetFloat(3, 2)
	_, err := m.AddSend(2, 0x100, 0, 8, 1, 0)
	require.NoError(t, err)
	_, err = m.AddSend(3, 0x101, 0, 8, 1, 0)
	require.NoError(t, err)

	m.SendAll()

	require.Len(t, b.sent, 2)
	assert.Equal(t, sentFrame{canID: 0x100, data: [2]uint32{1, 0}}, b.sent[0])
	assert.Equal(t, sentFrame{canID: 0x101, data: [2]uint32{2, 0}}, b.sent[1])
}

func TestMapper_HandleFrame_decode(t *testing.T) {
	var testCases = []struct {
		name      string
		param     int
		bitOffset uint8
		bitLength uint8
		gain      float32
		offset    int8
		data      [2]uint32
		expect    float32
	}{
		{
			name:  "ok, first byte into spot value",
			param: 2, bitOffset: 0, bitLength: 8, gain: 1, offset: 0,
			data:   [2]uint32{42, 0},
			expect: 42,
		},
		{
			name:  "ok, field from upper word",
			param: 2, bitOffset: 40, bitLength: 8, gain: 1, offset: 0,
			data:   [2]uint32{0, 0xAB << 8},
			expect: 0xAB,
		},
		{
			name:  "ok, receive applies offset before gain",
			param: 2, bitOffset: 0, bitLength: 16, gain: 0.5, offset: -10,
			data:   [2]uint32{100, 0}, // (100-10)*0.5 = 45
			expect: 45,
		},
		{
			name:  "ok, managed parameter set through range check",
			param: 0, bitOffset: 0, bitLength: 16, gain: 1, offset: 0,
			data:   [2]uint32{250, 0},
			expect: 250,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, _, params := newTestMapper(t)

			_, err := m.AddRecv(tc.param, 0x200, tc.bitOffset, tc.bitLength, tc.gain, tc.offset)
			require.NoError(t, err)

			claimed := m.HandleFrame(0x200, tc.data)

			assert.True(t, claimed)
			assert.InDelta(t, tc.expect, params.GetFloat(tc.param), 1.0/(1<<param.FracDigits))
		})
	}
}

func TestMapper_HandleFrame_outOfRangeValueRejected(t *testing.T) {
	m, _, params := newTestMapper(t)

	// maxcurrent allows at most 500
	_, err := m.AddRecv(0, 0x200, 0, 16, 1, 0)
	require.NoError(t, err)

	m.HandleFrame(0x200, [2]uint32{600, 0})

	assert.Equal(t, float32(100), params.GetFloat(0), "default survives the rejected write")
}

func TestMapper_HandleFrame_unmappedIdentifier(t *testing.T) {
	m, _, _ := newTestMapper(t)

	_, err := m.AddRecv(2, 0x200, 0, 8, 1, 0)
	require.NoError(t, err)

	assert.False(t, m.HandleFrame(0x300, [2]uint32{1, 0}))
}

// Encoding a value and feeding the frame back through a receive mapping with
// the reciprocal gain reproduces it to within the quantization of the field.
func TestMapper_encodeDecodeRoundTrip(t *testing.T) {
	m, b, params := newTestMapper(t)

	_, err := m.AddSend(2, 0x100, 8, 16, 32, 0)
	require.NoError(t, err)
	_, err = m.AddRecv(3, 0x100, 8, 16, 1.0/32, 0)
	require.NoError(t, err)

	params.SetFloat(2, 12.25)
	m.SendAll()
	require.Len(t, b.sent, 1)

	m.HandleFrame(0x100, b.sent[0].data)

	assert.InDelta(t, 12.25, params.GetFloat(3), 1.0/32)
}

func TestMapper_savingSuppressesDataPaths(t *testing.T) {
	m, b, params := newTestMapper(t)

	params.SetFloat(2, 42)
	_, err := m.AddSend(2, 0x100, 0, 8, 1, 0)
	require.NoError(t, err)
	_, err = m.AddRecv(3, 0x200, 0, 8, 1, 0)
	require.NoError(t, err)

	m.saving.Store(true)
	defer m.saving.Store(false)

	m.SendAll()
	assert.Empty(t, b.sent, "send cycle aborts while saving")

	claimed := m.HandleFrame(0x200, [2]uint32{7, 0})
	assert.False(t, claimed, "mapped data is dropped, not queued, while saving")
	assert.Equal(t, float32(0), params.GetFloat(3))
}
