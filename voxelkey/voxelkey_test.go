package voxelkey

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexOfFloorsTowardNegativeInfinity(t *testing.T) {
	k := New(1.0, 0)

	i, j, kk := k.IndexOf(mgl32.Vec3{0, 0, 0})
	assert.Equal(t, [3]int64{0, 0, 0}, [3]int64{i, j, kk})

	// Exactly on a boundary belongs to the higher-index voxel.
	i, j, kk = k.IndexOf(mgl32.Vec3{1.0, 2.0, 3.0})
	assert.Equal(t, [3]int64{1, 2, 3}, [3]int64{i, j, kk})

	// Just below a positive boundary still belongs to the lower voxel.
	i, _, _ = k.IndexOf(mgl32.Vec3{0.999999, 0, 0})
	assert.Equal(t, int64(0), i)

	// Negative coordinates floor toward the more-negative voxel, not
	// truncate toward zero.
	i, j, kk = k.IndexOf(mgl32.Vec3{-0.1, -1.0, -1.5})
	assert.Equal(t, [3]int64{-1, -1, -2}, [3]int64{i, j, kk})
}

func TestIDPositionRoundTrip(t *testing.T) {
	k := New(2.5, 100)

	cases := [][3]int64{
		{0, 0, 0},
		{1, 2, 3},
		{-1, -2, -3},
		{99, -99, 0},
		{-100, 99, -100},
	}
	for _, c := range cases {
		id := k.ID(c[0], c[1], c[2])
		i, j, kk := k.Position(id)
		assert.Equal(t, c, [3]int64{i, j, kk})
	}
}

func TestVoxelIDReturnsErrOutOfRangeBeyondHashRange(t *testing.T) {
	k := New(1.0, 2)

	_, err := k.VoxelID(mgl32.Vec3{0, 0, 0})
	assert.NoError(t, err)

	_, err = k.VoxelID(mgl32.Vec3{1000, 0, 0})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestVoxelIDInvokesOutOfRangeCallbackPerAxis(t *testing.T) {
	k := New(1.0, 2)

	var gotAxes []string
	k.OutOfRange = func(axis string, i, j, kk int64) {
		gotAxes = append(gotAxes, axis)
	}

	_, err := k.VoxelID(mgl32.Vec3{1000, 1000, 0})
	require.ErrorIs(t, err, ErrOutOfRange)
	assert.ElementsMatch(t, []string{"x", "y"}, gotAxes)
}

func TestIDFromIndexReturnsErrOutOfRange(t *testing.T) {
	k := New(1.0, 2)

	_, err := k.IDFromIndex(0, 0, 0)
	assert.NoError(t, err)

	_, err = k.IDFromIndex(5, 0, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = k.IDFromIndex(-5, 0, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
