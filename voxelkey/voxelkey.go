// Package voxelkey implements the bijection between a 3-D voxel grid index
// and a 64-bit integer identity (spec.md §4.1).
package voxelkey

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// DefaultHashRange is R: the voxel grid spans [-R, R) on every axis.
// 8*R^3 must fit a signed 64-bit integer; 100000 leaves ample headroom.
const DefaultHashRange = 100000

// ErrOutOfRange is returned when a point's voxel index leaves [-R, R),
// whether or not an OutOfRangeFunc is installed. The pipeline never silently aliases an
// out-of-range point into a wrong voxel (spec.md §9 Open Question).
var ErrOutOfRange = errors.New("voxelkey: voxel index out of hash range")

// OutOfRangeFunc is invoked once per out-of-range axis, mirroring the
// original's out_of_hash_range_callback_. It may log, panic, or record a
// metric; voxelkey itself always also returns ErrOutOfRange to the caller.
type OutOfRangeFunc func(axis string, i, j, k int64)

// Key maps world points to voxel ids and back for one voxel size.
type Key struct {
	size      float32
	invSize   float32
	hashRange int64

	OutOfRange OutOfRangeFunc
}

// New builds a Key for the given voxel size and hash range. Panics if size
// is not positive: a non-positive voxel size is a programmer error, not a
// runtime condition callers can recover from.
func New(size float32, hashRange int64) *Key {
	if size <= 0 {
		panic("voxelkey: voxel size must be positive")
	}
	if hashRange <= 0 {
		hashRange = DefaultHashRange
	}
	return &Key{size: size, invSize: 1.0 / size, hashRange: hashRange}
}

// Size returns the voxel edge length this Key was built with.
func (k *Key) Size() float32 { return k.size }

// HashRange returns R.
func (k *Key) HashRange() int64 { return k.hashRange }

// IndexOf computes the voxel index (i,j,k) containing p, flooring toward
// minus infinity on every axis (a point exactly on a boundary belongs to
// the higher-index voxel).
func (k *Key) IndexOf(p mgl32.Vec3) (i, j, kk int64) {
	i = floorIndex(p.X(), k.invSize)
	j = floorIndex(p.Y(), k.invSize)
	kk = floorIndex(p.Z(), k.invSize)
	return
}

func floorIndex(coord, invSize float32) int64 {
	scaled := float64(coord) * float64(invSize)
	return int64(math.Floor(scaled))
}

// inRange reports whether a single axis index lies in [-R, R).
func (k *Key) inRange(v int64) bool {
	return v+k.hashRange >= 0 && v+k.hashRange < 2*k.hashRange
}

// checkRange invokes OutOfRange for every axis that is out of bounds and
// reports whether all three axes were in range.
func (k *Key) checkRange(i, j, kk int64) bool {
	ok := true
	if !k.inRange(i) {
		if k.OutOfRange != nil {
			k.OutOfRange("x", i, j, kk)
		}
		ok = false
	}
	if !k.inRange(j) {
		if k.OutOfRange != nil {
			k.OutOfRange("y", i, j, kk)
		}
		ok = false
	}
	if !k.inRange(kk) {
		if k.OutOfRange != nil {
			k.OutOfRange("z", i, j, kk)
		}
		ok = false
	}
	return ok
}

// ID converts the 3-D voxel index to its 64-bit identifier. The bit layout
// is part of the external bundle format (spec.md §6) and must not change.
func (k *Key) ID(i, j, kk int64) uint64 {
	r := k.hashRange
	return uint64(i+r) + uint64(2*r)*uint64(j+r) + uint64(4*r*r)*uint64(kk+r)
}

// VoxelID returns the id of the voxel containing p, or ErrOutOfRange if p
// leaves [-R, R) on any axis.
func (k *Key) VoxelID(p mgl32.Vec3) (uint64, error) {
	i, j, kk := k.IndexOf(p)
	if !k.checkRange(i, j, kk) {
		return 0, ErrOutOfRange
	}
	return k.ID(i, j, kk), nil
}

// IDFromIndex converts an already-computed voxel index to its id, returning
// ErrOutOfRange if the index leaves [-R, R) on any axis. Used by flood-fill
// insertion (voxelmap.Map.RegionalInsert), which walks integer neighbour
// offsets rather than world points.
func (k *Key) IDFromIndex(i, j, kk int64) (uint64, error) {
	if !k.checkRange(i, j, kk) {
		return 0, ErrOutOfRange
	}
	return k.ID(i, j, kk), nil
}

// Position recovers (i,j,k) from a voxel id (the inverse of ID).
func (k *Key) Position(id uint64) (i, j, kk int64) {
	r := k.hashRange
	i = int64(id%uint64(2*r)) - r
	j = int64(id%uint64(4*r*r))/(2*r) - r
	kk = int64(id/uint64(4*r*r)) - r
	return
}

// Center returns the world-space center of the voxel identified by id.
func (k *Key) Center(id uint64) mgl32.Vec3 {
	i, j, kk := k.Position(id)
	return k.CenterOf(i, j, kk)
}

// CenterOf returns the world-space center of voxel (i,j,k).
func (k *Key) CenterOf(i, j, kk int64) mgl32.Vec3 {
	half := 0.5 * k.size
	return mgl32.Vec3{
		float32(i)*k.size + half,
		float32(j)*k.size + half,
		float32(kk)*k.size + half,
	}
}
