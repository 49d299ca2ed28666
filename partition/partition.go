// Package partition implements BlockPartitioner: it loads a point cloud,
// recenters it on its own centroid for numerical stability, and shards it
// into one file per level-0 voxel (spec.md §4.3).
//
// Grounded on Converter.cc's CreateHashedFiles first pass (the "points
// splitting" step before level building begins).
package partition

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gekko3d/lodcloud"
	"github.com/gekko3d/lodcloud/plyio"
	"github.com/gekko3d/lodcloud/voxelkey"
	"github.com/go-gl/mathgl/mgl32"
)

// Tuning carries the partitioner's tunable constants, mirroring the
// teacher's *Module tunable-field structs (VoxelRtModule, SpatialGridModule).
type Tuning struct {
	Level0VoxelSize float32
	HashRange       int64
}

// DefaultTuning returns the values Converter.cc hardcodes: a 10-unit level-0
// voxel and the default +-100000 hash range.
func DefaultTuning() Tuning {
	return Tuning{Level0VoxelSize: 10.0, HashRange: voxelkey.DefaultHashRange}
}

// Result summarizes one partitioning run.
type Result struct {
	// Centroid is the point cloud's own mean position before recentering;
	// every shard's points have already had this subtracted.
	Centroid mgl32.Vec3
	// BlockIDs lists every level-0 voxel id that received at least one
	// point, i.e. every shard file written under ShardDir.
	BlockIDs []uint64
	ShardDir string
}

// ShardPath returns the file a given block id's points are written to
// under shardDir. Exported so levelbuild can open the same files this
// package writes.
func ShardPath(shardDir string, blockID uint64) string {
	return filepath.Join(shardDir, fmt.Sprintf("%d.bin", blockID))
}

// Partition reads inputPLY, recenters it on its streaming-mean centroid,
// and writes one binary shard per level-0 voxel into shardDir. shardDir is
// purged and recreated first: a partitioning run owns its shard directory
// exclusively (spec.md §9 Non-goal: no concurrent builders over the same
// cache).
func Partition(inputPLY, shardDir string, tuning Tuning, logger lodcloud.Logger) (*Result, error) {
	if logger == nil {
		logger = lodcloud.NewNopLogger()
	}

	if err := os.RemoveAll(shardDir); err != nil {
		return nil, fmt.Errorf("partition: clearing %s: %w", shardDir, err)
	}
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return nil, fmt.Errorf("partition: creating %s: %w", shardDir, err)
	}

	logger.Infof("reading %s", inputPLY)
	cloud, err := plyio.Read(inputPLY)
	if err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	logger.Infof("read %d points", len(cloud.Vertices))

	centroid := streamingCentroid(cloud.Vertices)
	logger.Debugf("centroid = %v", centroid)

	key := voxelkey.New(tuning.Level0VoxelSize, tuning.HashRange)

	shards := make(map[uint64]*bufio.Writer)
	files := make(map[uint64]*os.File)
	defer func() {
		for id, w := range shards {
			w.Flush()
			files[id].Close()
		}
	}()

	var record [lodcloud.RecordBytes]byte
	for _, v := range cloud.Vertices {
		recentered := v.XYZ.Sub(centroid)

		id, err := key.VoxelID(recentered)
		if err != nil {
			return nil, fmt.Errorf("partition: point %v: %w", recentered, err)
		}

		w, ok := shards[id]
		if !ok {
			f, err := os.Create(ShardPath(shardDir, id))
			if err != nil {
				return nil, fmt.Errorf("partition: creating shard for block %d: %w", id, err)
			}
			files[id] = f
			w = bufio.NewWriter(f)
			shards[id] = w
		}

		lodcloud.Point{XYZ: recentered, RGB: v.RGB}.Encode(record[:])
		if _, err := w.Write(record[:]); err != nil {
			return nil, fmt.Errorf("partition: writing shard for block %d: %w", id, err)
		}
	}

	ids := make([]uint64, 0, len(shards))
	for id, w := range shards {
		if err := w.Flush(); err != nil {
			return nil, fmt.Errorf("partition: flushing shard for block %d: %w", id, err)
		}
		if err := files[id].Close(); err != nil {
			return nil, fmt.Errorf("partition: closing shard for block %d: %w", id, err)
		}
		ids = append(ids, id)
	}
	shards = map[uint64]*bufio.Writer{} // already flushed/closed; defer becomes a no-op

	logger.Infof("partitioned into %d blocks", len(ids))
	return &Result{Centroid: centroid, BlockIDs: ids, ShardDir: shardDir}, nil
}

// streamingCentroid computes the mean position of vs one point at a time,
// without ever summing the whole cloud (avoids float accumulation error on
// large clouds). Mirrors CreateHashedFiles' average_xyz_double update.
func streamingCentroid(vs []plyio.Vertex) mgl32.Vec3 {
	var mean mgl32.Vec3
	for i, v := range vs {
		n := float32(i + 1)
		mean = mean.Add(v.XYZ.Sub(mean).Mul(1.0 / n))
	}
	return mean
}
