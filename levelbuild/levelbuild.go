// Package levelbuild implements LevelBuilder: per block, it builds N
// AveragingVoxelMap instances at halving voxel sizes from a block's shard
// file, then exports the finer levels (those at and after
// LevelToBecomeLevelZero, which become the bundle's level 0..N_EXPORT-1) to
// per-level cache files, running each exported level's points through a
// StructuredShuffler first (spec.md §4.4).
//
// Grounded on Converter.cc's second pass (the voxmaps-per-block loop) and
// the teacher's particles_ecs.go worker-pool idiom: a bounded goroutine
// pool fed by a job channel, one whole block per job, reassembled with
// sync.WaitGroup.
package levelbuild

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/gekko3d/lodcloud"
	"github.com/gekko3d/lodcloud/partition"
	"github.com/gekko3d/lodcloud/shuffle"
	"github.com/gekko3d/lodcloud/voxelkey"
	"github.com/gekko3d/lodcloud/voxelmap"
	"github.com/go-gl/mathgl/mgl32"
)

// Tuning carries LevelBuilder's tunable constants.
type Tuning struct {
	Level0VoxelSize        float32
	TotalLevels            int
	LevelToBecomeLevelZero int
	ShuffleVoxelSize       float32
	ChunkSize              int
	HashRange              int64
	MaxWorkers             int
}

// DefaultTuning returns the constants main() in Converter.cc hardcodes:
// 10 total internal levels, export starting at internal level 3 (7 exported
// levels, 0..6), 10000-point chunks, a 2.5-unit shuffle voxel.
func DefaultTuning() Tuning {
	return Tuning{
		Level0VoxelSize:        10.0,
		TotalLevels:            10,
		LevelToBecomeLevelZero: 3,
		ShuffleVoxelSize:       2.5,
		ChunkSize:              10000,
		HashRange:              voxelkey.DefaultHashRange,
	}
}

// ExportedLevels returns the number of levels the cache actually exports
// (the bundle's N_LEVELS).
func (tu Tuning) ExportedLevels() int {
	return tu.TotalLevels - tu.LevelToBecomeLevelZero
}

// voxelSizes returns the internal per-level voxel sizes, each half the
// size of the previous level.
func (tu Tuning) voxelSizes() []float32 {
	sizes := make([]float32, tu.TotalLevels)
	sizes[0] = tu.Level0VoxelSize
	for i := 1; i < len(sizes); i++ {
		sizes[i] = 0.5 * sizes[i-1]
	}
	return sizes
}

func (tu Tuning) maxWorkers() int {
	if tu.MaxWorkers > 0 {
		return tu.MaxWorkers
	}
	w := runtime.GOMAXPROCS(0)
	if w > 8 {
		w = 8
	}
	if w < 1 {
		w = 1
	}
	return w
}

// CachePath returns the file an exported (level, blockID) pair's points
// are written to under cacheDir. level is the export-relative level
// (0 is the bundle's level 0, the coarsest exported level).
func CachePath(cacheDir string, level int, blockID uint64) string {
	return filepath.Join(cacheDir, fmt.Sprintf("%d_%d.bin", level, blockID))
}

// Build reads every block's shard file under shardDir, builds its
// multi-level averaging voxel maps, and writes one cache file per exported
// (level, block) pair into cacheDir. cacheDir is purged and recreated
// first.
func Build(shardDir, cacheDir string, blockIDs []uint64, tuning Tuning, logger lodcloud.Logger) error {
	if logger == nil {
		logger = lodcloud.NewNopLogger()
	}

	if err := os.RemoveAll(cacheDir); err != nil {
		return fmt.Errorf("levelbuild: clearing %s: %w", cacheDir, err)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("levelbuild: creating %s: %w", cacheDir, err)
	}

	workerCount := tuning.maxWorkers()
	if workerCount > len(blockIDs) {
		workerCount = len(blockIDs)
	}
	if workerCount < 1 {
		workerCount = 1
	}

	jobCh := make(chan uint64)
	errCh := make(chan error, len(blockIDs))

	var wg sync.WaitGroup
	wg.Add(workerCount)

	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for blockID := range jobCh {
				if err := buildBlock(shardDir, cacheDir, blockID, tuning); err != nil {
					errCh <- fmt.Errorf("levelbuild: block %d: %w", blockID, err)
				}
			}
		}()
	}

	for _, id := range blockIDs {
		jobCh <- id
	}
	close(jobCh)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}

	logger.Infof("built %d blocks across %d exported levels", len(blockIDs), tuning.ExportedLevels())
	return nil
}

// buildBlock builds one block's full stack of internal-level averaging
// maps from its shard file, chunking insertion at tuning.ChunkSize points
// at a time, then exports the levels at and above LevelToBecomeLevelZero.
func buildBlock(shardDir, cacheDir string, blockID uint64, tuning Tuning) error {
	sizes := tuning.voxelSizes()
	maps := make([]*voxelmap.Map, len(sizes))
	for i, size := range sizes {
		maps[i] = voxelmap.New(size, tuning.HashRange)
	}

	f, err := os.Open(partition.ShardPath(shardDir, blockID))
	if err != nil {
		return fmt.Errorf("opening shard: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	chunk := make([]voxelmap.Sample, 0, tuning.ChunkSize)
	var record [lodcloud.RecordBytes]byte

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		for _, m := range maps {
			for _, s := range chunk {
				// finer maps cover a smaller world extent (R voxels of a
				// smaller size per axis), so a point can be in range for
				// the coarse maps and out of range for a fine one.
				if err := m.Insert(s); err != nil {
					return fmt.Errorf("inserting sample at voxel size %g: %w", m.Key().Size(), err)
				}
			}
		}
		chunk = chunk[:0]
		return nil
	}

	for {
		if _, err := io.ReadFull(r, record[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("reading shard: %w", err)
		}
		chunk = append(chunk, sampleFromPoint(lodcloud.DecodePoint(record[:])))
		if len(chunk) == tuning.ChunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	for level := tuning.LevelToBecomeLevelZero; level < tuning.TotalLevels; level++ {
		exportLevel := level - tuning.LevelToBecomeLevelZero
		if err := exportBlockLevel(cacheDir, blockID, exportLevel, maps[level], tuning); err != nil {
			return fmt.Errorf("exporting level %d: %w", exportLevel, err)
		}
	}
	return nil
}

// exportBlockLevel extracts every point the voxel map accumulated at this
// level, runs it through a StructuredShuffler, and writes it to the
// level's cache file.
func exportBlockLevel(cacheDir string, blockID uint64, exportLevel int, m *voxelmap.Map, tuning Tuning) error {
	xyz, rgb := m.ExtractPoints(0)

	shuf := shuffle.New(tuning.ShuffleVoxelSize, tuning.HashRange, nil)
	for i := range xyz {
		shuf.Insert(shuffle.Point{
			XYZ: xyz[i],
			RGB: roundToUint8(rgb[i]),
		})
	}
	shuf.Shuffle()

	path := CachePath(cacheDir, exportLevel, blockID)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var record [lodcloud.RecordBytes]byte
	var writeErr error
	shuf.Extract(func(p shuffle.Point) {
		if writeErr != nil {
			return
		}
		lodcloud.Point{XYZ: p.XYZ, RGB: p.RGB}.Encode(record[:])
		_, writeErr = w.Write(record[:])
	})
	if writeErr != nil {
		return fmt.Errorf("writing %s: %w", path, writeErr)
	}
	return w.Flush()
}

func roundToUint8(v mgl32.Vec3) [3]uint8 {
	clamp := func(f float32) uint8 {
		if f < 0 {
			return 0
		}
		if f > 255 {
			return 255
		}
		return uint8(f + 0.5)
	}
	return [3]uint8{clamp(v.X()), clamp(v.Y()), clamp(v.Z())}
}

// sampleFromPoint lifts a decoded on-disk Point into a unit-weight Sample,
// widening its uint8 colour into the float32 RGB the averaging map works in.
func sampleFromPoint(p lodcloud.Point) voxelmap.Sample {
	return voxelmap.Sample{
		XYZ:    p.XYZ,
		RGB:    mgl32.Vec3{float32(p.RGB[0]), float32(p.RGB[1]), float32(p.RGB[2])},
		Weight: 1.0,
	}
}
