package param

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable([]Attributes{
		{Name: "maxcurrent", ID: 10, Unit: "A", Min: 0, Max: 500, Default: 100, IsParam: true},
		{Name: "maxspeed", ID: 11, Unit: "rpm", Min: 0, Max: 12000, Default: 6000, IsParam: true},
		{Name: "speed", ID: 30, Unit: "rpm"},
	})
	require.NoError(t, err)
	return tbl
}

func TestNewTable_rejectsDuplicateStableID(t *testing.T) {
	_, err := NewTable([]Attributes{
		{Name: "a", ID: 1},
		{Name: "b", ID: 1},
	})
	assert.Error(t, err)
}

func TestTable_defaults(t *testing.T) {
	tbl := testTable(t)

	assert.Equal(t, 3, tbl.Count())
	assert.Equal(t, float32(100), tbl.GetFloat(0))
	assert.Equal(t, float32(6000), tbl.GetFloat(1))
	assert.Equal(t, float32(0), tbl.GetFloat(2))
}

func TestTable_SetFixed(t *testing.T) {
	var testCases = []struct {
		name        string
		index       int
		value       int32
		expectErr   error
		expectFloat float32
	}{
		{name: "ok, inside range", index: 0, value: FromFloat(250), expectFloat: 250},
		{name: "ok, at maximum", index: 0, value: FromFloat(500), expectFloat: 500},
		{name: "nok, above maximum", index: 0, value: FromFloat(501), expectErr: ErrValueOutOfRange, expectFloat: 100},
		{name: "nok, below minimum", index: 0, value: FromFloat(-1), expectErr: ErrValueOutOfRange, expectFloat: 100},
		{name: "ok, spot value is not range checked", index: 2, value: FromFloat(99999), expectFloat: 99999},
		{name: "nok, unknown index", index: 3, value: 1, expectErr: ErrUnknownParam},
		{name: "nok, negative index", index: -1, value: 1, expectErr: ErrUnknownParam},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tbl := testTable(t)

			err := tbl.SetFixed(tc.index, tc.value)

			if tc.expectErr != nil {
				assert.ErrorIs(t, err, tc.expectErr)
			} else {
				assert.NoError(t, err)
			}
			if tc.index >= 0 && tc.index < tbl.Count() {
				assert.Equal(t, tc.expectFloat, tbl.GetFloat(tc.index))
			}
		})
	}
}

func TestTable_SetFloat_ignoresUnknownIndex(t *testing.T) {
	tbl := testTable(t)

	tbl.SetFloat(10, 1)
	tbl.SetFloat(-1, 1)

	assert.Equal(t, int32(0), tbl.GetFixed(10))
}

func TestTable_stableIDResolution(t *testing.T) {
	tbl := testTable(t)

	assert.Equal(t, uint16(11), tbl.StableID(1))
	assert.Equal(t, uint16(0xFFFF), tbl.StableID(5))

	assert.Equal(t, 1, tbl.IndexOfStableID(11))
	assert.Equal(t, tbl.Count(), tbl.IndexOfStableID(99), "unknown id resolves to the inert index")
}

func TestTable_IndexOfName(t *testing.T) {
	tbl := testTable(t)

	assert.Equal(t, 2, tbl.IndexOfName("speed"))
	assert.Equal(t, tbl.Count(), tbl.IndexOfName("nosuch"))
}

func TestTable_IsParam(t *testing.T) {
	tbl := testTable(t)

	assert.True(t, tbl.IsParam(0))
	assert.False(t, tbl.IsParam(2))
	assert.False(t, tbl.IsParam(99))
}
