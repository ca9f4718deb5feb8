package crush

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPGPrimaryNoUpSet(t *testing.T) {
	m := NewMap([16]byte{})
	_, ok := PGPrimary(m, PGID{Pool: 1, Seed: 2})
	require.False(t, ok)
}

func TestPGPrimaryStableForSameMap(t *testing.T) {
	m := NewMap([16]byte{})
	pg := PGID{Pool: 1, Seed: 2}
	m.SetUpSet(pg, []OSDID{1, 2, 3})

	first, ok := PGPrimary(m, pg)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		again, ok := PGPrimary(m, pg)
		require.True(t, ok)
		require.Equal(t, first, again)
	}
}

func TestApplyIncrementalRoundTrip(t *testing.T) {
	m := NewMap([16]byte{})
	delta := Delta{{Pool: 1, Seed: 0}: {OSDID(4), OSDID(5)}}
	require.NoError(t, m.ApplyIncremental(EncodeDelta(delta)))

	primary, ok := PGPrimary(m, PGID{Pool: 1, Seed: 0})
	require.True(t, ok)
	require.Contains(t, []OSDID{4, 5}, primary)
}

func TestObjectLayoutDeterministic(t *testing.T) {
	layout := FileLayout{Pool: 3, PGCount: 16}
	a := ObjectLayout("123.00000000", layout)
	b := ObjectLayout("123.00000000", layout)
	require.Equal(t, a, b)
}
