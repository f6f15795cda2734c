package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTimestampAllowsExtendedPrecedingStart(t *testing.T) {
	ts, err := NewTimestamp(0, 8000, 8000)
	require.NoError(t, err)
	assert.True(t, ts.Retrograde())
	assert.Negative(t, ts.ElapsedSecs())
}

func TestNewTimestampRejectsZeroClockRate(t *testing.T) {
	_, err := NewTimestamp(0, 0, 0)
	assert.Error(t, err)
}

func TestTimestampExtenderExtendPropagatesZeroClockRateError(t *testing.T) {
	e := NewTimestampExtender(0)
	_, err := e.Extend(100)
	assert.Error(t, err)
}

func TestTimestampExtenderExtendAllowsRetrogradeAfterSeed(t *testing.T) {
	e := NewTimestampExtender(8000)
	e.Seed(8000)

	ts, err := e.Extend(0)
	require.NoError(t, err)
	assert.True(t, ts.Retrograde())
	assert.Equal(t, int64(0), ts.Extended)
	assert.Equal(t, int64(8000), ts.Start)
}
