// Package shuffle implements StructuredShuffler: it buckets points into
// coarse voxels, shuffles each bucket independently, then extracts them in
// round-robin order across buckets. The result is a point order that is
// locally randomized but globally prefix-uniform: any prefix of the output
// touches most buckets before exhausting any one of them (spec.md §4.5).
//
// Grounded on Converter.cc's StructuredRandomOrder.
package shuffle

import (
	"math/rand"

	"github.com/gekko3d/lodcloud/voxelkey"
	"github.com/go-gl/mathgl/mgl32"
)

// Point is one xyz+rgb sample passed through the shuffler.
type Point struct {
	XYZ mgl32.Vec3
	RGB [3]uint8
}

// Shuffler buckets points by a coarse voxel key, then extracts them in
// round-robin order across non-empty buckets after shuffling each bucket
// independently. Not safe for concurrent use.
type Shuffler struct {
	key     *voxelkey.Key
	buckets map[uint64][]Point
	rng     *rand.Rand
}

// New builds a Shuffler bucketing at the given voxel size. rng selects the
// shuffle source; pass nil to use a fresh source with the fixed seed 1, so
// the output order is the same on every run, matching
// std::default_random_engine{} in the original, which starts from a fixed
// default state each construction.
func New(voxelSize float32, hashRange int64, rng *rand.Rand) *Shuffler {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Shuffler{
		key:     voxelkey.New(voxelSize, hashRange),
		buckets: make(map[uint64][]Point),
		rng:     rng,
	}
}

// Insert buckets p by the voxel containing p.XYZ. Points outside the
// shuffler's hash range are silently put into bucket id 0 when voxelkey's
// own range check fails; since the coarse bucketing voxel size is
// only ever applied to already-recentred, already-partitioned points, an
// out-of-range bucket key here indicates a caller bug, not bad input, so
// Insert ignores the error and falls back to bucket id 0.
func (s *Shuffler) Insert(p Point) {
	id, err := s.key.VoxelID(p.XYZ)
	if err != nil {
		id = 0
	}
	s.buckets[id] = append(s.buckets[id], p)
}

// Shuffle randomizes the order of points within every bucket. Must be
// called before Extract to avoid returning points in insertion order.
func (s *Shuffler) Shuffle() {
	for _, bucket := range s.buckets {
		s.rng.Shuffle(len(bucket), func(i, j int) {
			bucket[i], bucket[j] = bucket[j], bucket[i]
		})
	}
}

// Extract drains every bucket in round-robin order, popping one point from
// the back of each non-empty bucket per round, and calls emit for each.
// The shuffler is empty after Extract returns.
func (s *Shuffler) Extract(emit func(Point)) {
	active := make([]uint64, 0, len(s.buckets))
	for id := range s.buckets {
		active = append(active, id)
	}

	for len(active) > 0 {
		remaining := active[:0]
		for _, id := range active {
			bucket := s.buckets[id]
			last := len(bucket) - 1
			emit(bucket[last])
			bucket = bucket[:last]
			s.buckets[id] = bucket
			if len(bucket) > 0 {
				remaining = append(remaining, id)
			}
		}
		active = remaining
	}

	s.buckets = make(map[uint64][]Point)
}
