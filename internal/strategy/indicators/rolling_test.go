package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollingDonchian_AgreesWithBatch(t *testing.T) {
	klines := randomWalk(11, 200)

	for _, n := range []int{1, 5, 20, 55} {
		tracker := NewRollingDonchian(n)
		assert.Equal(t, n, tracker.Period())
		for i, k := range klines {
			tracker.PushKline(k)
			got, ok := tracker.Bands()
			want, wantOK := Donchian(klines, n, i)
			require.Equal(t, wantOK, ok, "n=%d i=%d", n, i)
			assert.Equal(t, want, got, "n=%d i=%d", n, i)
		}
	}
}

func TestRollingDonchian_RepeatedValues(t *testing.T) {
	tracker := NewRollingDonchian(3)
	for _, v := range []float64{5, 5, 5, 4, 4} {
		tracker.Push(v, v)
	}
	bands, ok := tracker.Bands()
	require.True(t, ok)
	assert.Equal(t, 5.0, bands.Upper)
	assert.Equal(t, 4.0, bands.Lower)

	tracker.Push(4, 4)
	bands, _ = tracker.Bands()
	assert.Equal(t, 4.0, bands.Upper)
}

func TestRollingDonchian_InvalidPeriod(t *testing.T) {
	tracker := NewRollingDonchian(0)
	tracker.Push(1, 1)
	_, ok := tracker.Bands()
	assert.False(t, ok)
}

func TestRollingATR_AgreesWithBatch(t *testing.T) {
	klines := randomWalk(5, 150)

	for _, n := range []int{1, 2, 14, 20} {
		tracker := NewRollingATR(n)
		series := WilderATR(TrueRanges(klines), n)
		for i, k := range klines {
			got, ok := tracker.Push(k)
			want, wantOK := series.At(i)
			require.Equal(t, wantOK, ok, "n=%d i=%d", n, i)
			assert.Equal(t, want, got, "n=%d i=%d", n, i)
		}
		last, ok := tracker.Value()
		require.True(t, ok)
		want, _ := series.Last()
		assert.Equal(t, want, last)
	}
}

func TestRollingATR_BeforeSeed(t *testing.T) {
	tracker := NewRollingATR(3)
	_, ok := tracker.Value()
	assert.False(t, ok)

	_, ok = NewRollingATR(0).Push(randomWalk(1, 1)[0])
	assert.False(t, ok)
}
