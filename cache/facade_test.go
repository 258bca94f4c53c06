package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizeOK(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.SizeOK(3, 0, 100))
	require.False(t, e.SizeOK(0, 0, 100))
	require.False(t, e.SizeOK(251, 0, 100))
	require.False(t, e.SizeOK(3, 0, MaxValueLength+1))
}

func TestAllocateAndSetCAS(t *testing.T) {
	e := newTestEngine(t)
	it, status := e.Allocate([]byte("k"), 0, 0, 10)
	require.Equal(t, Success, status)
	require.NotNil(t, it)

	e.SetCAS(it, 99)
	require.EqualValues(t, 99, it.CAS)
	e.Release(it)
}

func TestItemInfo(t *testing.T) {
	e := newTestEngine(t)
	_, it := e.Store(OpSet, StoreRequest{Key: []byte("k"), Value: []byte("v"), Flags: 3})
	info := e.ItemInfo(it)
	require.Equal(t, "k", string(info.Key))
	require.Equal(t, "v", string(info.Value))
	require.EqualValues(t, 3, info.Flags)
	e.Release(it)
}

func TestGetStatsAndResetStats(t *testing.T) {
	e := newTestEngine(t)
	_, it := e.Store(OpSet, StoreRequest{Key: []byte("k"), Value: []byte("v")})
	e.Release(it)
	got, _ := e.Get([]byte("k"))
	e.Release(got)
	_, _ = e.Get([]byte("missing"))

	stats := e.GetStats(nil)
	require.EqualValues(t, 1, stats.CurrItems)
	require.EqualValues(t, 1, stats.GetHits)
	require.EqualValues(t, 1, stats.GetMisses)
	require.NotEmpty(t, stats.Classes)

	e.ResetStats()
	stats = e.GetStats(nil)
	require.EqualValues(t, 0, stats.GetHits)
	require.EqualValues(t, 0, stats.GetMisses)
	require.EqualValues(t, 1, stats.CurrItems, "point-in-time gauges survive reset")
}
