// Package voxelmap implements AveragingVoxelMap: a hashmap-backed voxel grid
// where every voxel holds the running weighted average of the samples
// inserted into it (spec.md §4.2).
package voxelmap

import (
	"github.com/gekko3d/lodcloud/voxelkey"
	"github.com/go-gl/mathgl/mgl32"
)

// Sample is one weighted xyz+rgb observation fed into the map.
type Sample struct {
	XYZ    mgl32.Vec3
	RGB    mgl32.Vec3
	Weight float32
}

// voxel holds the running weighted average of every sample inserted into
// one voxel: n accumulates weight, xyz/rgb track the weighted mean.
type voxel struct {
	xyz mgl32.Vec3
	rgb mgl32.Vec3
	n   float32
}

// insert merges a single sample into the voxel's running mean.
func (v *voxel) insert(s Sample) {
	v.n += s.Weight
	v.xyz = v.xyz.Add(s.XYZ.Sub(v.xyz).Mul(s.Weight / v.n))
	v.rgb = v.rgb.Add(s.RGB.Sub(v.rgb).Mul(s.Weight / v.n))
}

// merge folds another voxel's accumulated samples into this one.
func (v *voxel) merge(o voxel) {
	v.insert(Sample{XYZ: o.xyz, RGB: o.rgb, Weight: o.n})
}

// subtract removes another voxel's accumulated samples from this one.
// Reports whether the voxel's weight dropped to (near) zero, in which case
// the caller should evict it.
func (v *voxel) subtract(o voxel) bool {
	v.n -= o.n
	if v.n < 0.0001 {
		return true
	}
	v.xyz = v.xyz.Sub(o.xyz.Sub(v.xyz).Mul(o.n / v.n))
	v.rgb = v.rgb.Sub(o.rgb.Sub(v.rgb).Mul(o.n / v.n))
	return false
}

// Map is a sparse, hashmap-backed averaging voxel grid at a single voxel
// size. It is not safe for concurrent use; callers that build one map per
// worker and merge afterwards need no locking.
type Map struct {
	key *voxelkey.Key
	vox map[uint64]voxel
}

// New builds an empty Map with the given voxel size and hash range. A
// hashRange <= 0 selects voxelkey.DefaultHashRange.
func New(voxelSize float32, hashRange int64) *Map {
	return &Map{
		key: voxelkey.New(voxelSize, hashRange),
		vox: make(map[uint64]voxel),
	}
}

// Key returns the VoxelKey this map indexes with.
func (m *Map) Key() *voxelkey.Key { return m.key }

// Len returns the number of occupied voxels.
func (m *Map) Len() int { return len(m.vox) }

// Insert folds one sample into the voxel containing s.XYZ, creating that
// voxel if it does not exist yet. Returns ErrOutOfRange if s.XYZ falls
// outside the map's hash range.
func (m *Map) Insert(s Sample) error {
	id, err := m.key.VoxelID(s.XYZ)
	if err != nil {
		return err
	}
	v := m.vox[id]
	v.insert(s)
	m.vox[id] = v
	return nil
}

// RegionalInsert inserts s into the voxel containing s.XYZ and floods
// outward through 6-connected neighbours, visiting each candidate voxel at
// most once. include is consulted for every candidate voxel id before it is
// visited or inserted into; returning false both skips insertion into that
// voxel and stops the flood from expanding past it. Returns ErrOutOfRange if
// the flood reaches a voxel position outside the map's hash range.
func (m *Map) RegionalInsert(s Sample, include func(id uint64) bool) error {
	type ijk struct{ i, j, k int64 }

	i0, j0, k0 := m.key.IndexOf(s.XYZ)
	pending := []ijk{{i0, j0, k0}}
	visited := make(map[uint64]struct{})

	for len(pending) > 0 {
		pos := pending[0]
		pending = pending[1:]

		id, err := m.key.IDFromIndex(pos.i, pos.j, pos.k)
		if err != nil {
			return err
		}

		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}

		if !include(id) {
			continue
		}

		v := m.vox[id]
		v.insert(s)
		m.vox[id] = v

		pending = append(pending,
			ijk{pos.i + 1, pos.j, pos.k},
			ijk{pos.i - 1, pos.j, pos.k},
			ijk{pos.i, pos.j + 1, pos.k},
			ijk{pos.i, pos.j - 1, pos.k},
			ijk{pos.i, pos.j, pos.k + 1},
			ijk{pos.i, pos.j, pos.k - 1},
		)
	}
	return nil
}

// Merge folds every voxel of o into this map.
func (m *Map) Merge(o *Map) {
	for id, ov := range o.vox {
		v := m.vox[id]
		v.merge(ov)
		m.vox[id] = v
	}
}

// Subtract removes every voxel of o from this map. Voxels whose weight
// drops to (near) zero are evicted from the map entirely.
func (m *Map) Subtract(o *Map) {
	for id, ov := range o.vox {
		v, ok := m.vox[id]
		if !ok {
			continue
		}
		if v.subtract(ov) {
			delete(m.vox, id)
		} else {
			m.vox[id] = v
		}
	}
}

// Exists reports whether the voxel with the given id has been inserted into.
func (m *Map) Exists(id uint64) bool {
	_, ok := m.vox[id]
	return ok
}

// Weight returns the total weight accumulated in the voxel containing p, or
// 0 if no sample has ever been inserted there.
func (m *Map) Weight(p mgl32.Vec3) float32 {
	id, err := m.key.VoxelID(p)
	if err != nil {
		return 0
	}
	return m.vox[id].n
}

// ExtractPoints returns the averaged xyz/rgb of every voxel whose
// accumulated weight is >= minWeight, in unspecified order.
func (m *Map) ExtractPoints(minWeight float32) (xyz, rgb []mgl32.Vec3) {
	for _, v := range m.vox {
		if v.n >= minWeight {
			xyz = append(xyz, v.xyz)
			rgb = append(rgb, v.rgb)
		}
	}
	return xyz, rgb
}

// ExtractIDs returns the voxel ids of every voxel whose accumulated weight
// is >= minWeight, in unspecified order, for callers that need voxel
// identity alongside the averaged sample.
func (m *Map) ExtractIDs(minWeight float32) []uint64 {
	ids := make([]uint64, 0, len(m.vox))
	for id, v := range m.vox {
		if v.n >= minWeight {
			ids = append(ids, id)
		}
	}
	return ids
}
