package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalcDelaysZenith(t *testing.T) {
	delays, err := CalcDelays(0, 90)
	assert.NoError(t, err)
	// The tile is symmetric about its centre, so pointing straight up
	// needs no differential delay at all.
	for i, d := range delays {
		assert.Equal(t, uint8(0), d, "dipole %d", i)
	}
}

func TestCalcDelaysRange(t *testing.T) {
	for az := 0.0; az < 360; az += 10 {
		for el := 0.0; el <= 90; el += 5 {
			delays, err := CalcDelays(az, el)
			assert.NoError(t, err, "az=%v el=%v", az, el)
			for i, d := range delays {
				assert.LessOrEqual(t, d, uint8(MaxDelay), "az=%v el=%v dipole %d", az, el, i)
			}
		}
	}
}

func TestCalcDelaysNorth(t *testing.T) {
	// Pointing north tilts the beam along the y axis only: every dipole
	// in a row gets the same delay, and the north row leads.
	delays, err := CalcDelays(0, 45)
	assert.NoError(t, err)
	for row := 0; row < 4; row++ {
		for col := 1; col < 4; col++ {
			assert.Equal(t, delays[row*4], delays[row*4+col], "row %d", row)
		}
	}
	assert.Greater(t, delays[0], delays[12])
	// The south row is the wavefront reference.
	assert.Equal(t, uint8(0), delays[12])
}

func TestCalcDelaysEast(t *testing.T) {
	delays, err := CalcDelays(90, 45)
	assert.NoError(t, err)
	// Columns are equal; the east column leads, the west column is the
	// reference.
	for col := 0; col < 4; col++ {
		for row := 1; row < 4; row++ {
			assert.Equal(t, delays[col], delays[row*4+col], "col %d", col)
		}
	}
	assert.Greater(t, delays[3], delays[0])
	assert.Equal(t, uint8(0), delays[0])
}

func TestCalcDelaysDeterministic(t *testing.T) {
	a, err := CalcDelays(123.4, 56.7)
	assert.NoError(t, err)
	b, err := CalcDelays(123.4, 56.7)
	assert.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCalcDelaysBadPointing(t *testing.T) {
	for _, p := range []struct{ az, el float64 }{
		{0, -1},
		{0, 90.5},
		{-10, 45},
		{360, 45},
		{720, 45},
	} {
		_, err := CalcDelays(p.az, p.el)
		assert.ErrorIs(t, err, ErrBadPointing, "az=%v el=%v", p.az, p.el)
	}
}

func TestQuantizeRounding(t *testing.T) {
	// Half away from zero, clamped to the delay line range.
	assert.Equal(t, 1, quantize(0.5*DelayStepPS))
	assert.Equal(t, 0, quantize(0.49*DelayStepPS))
	assert.Equal(t, 2, quantize(1.5*DelayStepPS))
	assert.Equal(t, 0, quantize(-0.4*DelayStepPS))
	assert.Equal(t, MaxDelay, quantize(35*DelayStepPS))
}

func TestDipoleOffsets(t *testing.T) {
	// Corner checks against the documented layout: dipole 0 is the
	// north-west corner, dipole 15 the south-east.
	assert.InDelta(t, -1.65, xOffsets[0], 1e-9)
	assert.InDelta(t, 1.65, yOffsets[0], 1e-9)
	assert.InDelta(t, 1.65, xOffsets[15], 1e-9)
	assert.InDelta(t, -1.65, yOffsets[15], 1e-9)
}
