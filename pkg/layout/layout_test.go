package layout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileExtentToObjectScenario1(t *testing.T) {
	l := FileLayout{StripeUnit: 4 << 20, StripeCount: 1, ObjectSize: 4 << 20}
	bno, objOff, objLen, err := FileExtentToObject(l, 4096, 8192)
	require.NoError(t, err)
	require.Equal(t, uint64(0), bno)
	require.Equal(t, uint64(4096), objOff)
	require.Equal(t, uint64(8192), objLen)
}

func TestFileExtentToObjectBoundaryShortensLength(t *testing.T) {
	l := FileLayout{StripeUnit: 4096, StripeCount: 1, ObjectSize: 4096}
	// straddles the boundary at 4096: remainder of the first stripe is 2048
	_, _, objLen, err := FileExtentToObject(l, 2048, 8192)
	require.NoError(t, err)
	require.Equal(t, uint64(2048), objLen)
}

func TestFileExtentToObjectRejectsBadLayout(t *testing.T) {
	_, _, _, err := FileExtentToObject(FileLayout{}, 0, 1)
	require.Error(t, err)
}
