// Command lodbuild runs the offline build pipeline end to end: partition a
// point cloud into level-0 shards, build each block's multi-level
// averaging voxel maps, and bundle the exported levels into a single
// octree file ready for StreamingEngine (spec.md §4).
//
// Grounded on Converter.cc's main() and restyled on the teacher's
// voxelrt/rt_main.go (flag-parsed CLI, non-zero os.Exit on any failure).
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gekko3d/lodcloud"
	"github.com/gekko3d/lodcloud/bundle"
	"github.com/gekko3d/lodcloud/levelbuild"
	"github.com/gekko3d/lodcloud/partition"
	"github.com/google/uuid"
)

func main() {
	inputPLY := flag.String("input-ply", "", "input point cloud (PLY, binary little-endian)")
	cacheFolder := flag.String("cache-folder", "", "scratch directory for shards and per-level caches")
	outputOctree := flag.String("output-octree", "", "path to write the bundled octree file")

	level0VoxelSize := flag.Float64("level0-voxel-size", 10.0, "edge length of the coarsest (level-0) voxel")
	totalLevels := flag.Int("total-levels", 10, "total internal averaging levels before export")
	levelToBecomeLevelZero := flag.Int("export-from-level", 3, "internal level that becomes the bundle's level 0")
	shuffleVoxelSize := flag.Float64("shuffle-voxel-size", 2.5, "voxel size used for structured shuffling before export")
	chunkSize := flag.Int("chunk-size", 10000, "points per insertion chunk")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *inputPLY == "" || *cacheFolder == "" || *outputOctree == "" {
		fmt.Fprintln(os.Stderr, "usage: lodbuild --input-ply <path> --cache-folder <dir> --output-octree <path>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := lodcloud.NewDefaultLogger("lodbuild", *debug)

	// Each run gets its own uuid-named scratch subdirectory, so that two
	// builds pointed at the same --cache-folder never clobber each
	// other's shard/cache files, the same role makeAssetId() plays for
	// the teacher's asset handles: minted once, used for the rest of the
	// run, never reparsed.
	runDir := filepath.Join(*cacheFolder, uuid.NewString())
	shardDir := filepath.Join(runDir, "shards")
	cacheDir := filepath.Join(runDir, "levels")
	logger.Infof("scratch directory: %s", runDir)

	partTuning := partition.DefaultTuning()
	partTuning.Level0VoxelSize = float32(*level0VoxelSize)

	logger.Infof("partitioning %s", *inputPLY)
	result, err := partition.Partition(*inputPLY, shardDir, partTuning, logger)
	if err != nil {
		logger.Errorf("partition failed: %v", err)
		os.Exit(1)
	}
	logger.Infof("partitioned into %d blocks, centroid %v", len(result.BlockIDs), result.Centroid)

	buildTuning := levelbuild.DefaultTuning()
	buildTuning.Level0VoxelSize = float32(*level0VoxelSize)
	buildTuning.TotalLevels = *totalLevels
	buildTuning.LevelToBecomeLevelZero = *levelToBecomeLevelZero
	buildTuning.ShuffleVoxelSize = float32(*shuffleVoxelSize)
	buildTuning.ChunkSize = *chunkSize

	logger.Infof("building %d exported levels for %d blocks", buildTuning.ExportedLevels(), len(result.BlockIDs))
	if err := levelbuild.Build(shardDir, cacheDir, result.BlockIDs, buildTuning, logger); err != nil {
		logger.Errorf("level build failed: %v", err)
		os.Exit(1)
	}

	var files []bundle.CacheFile
	for _, blockID := range result.BlockIDs {
		for level := 0; level < buildTuning.ExportedLevels(); level++ {
			files = append(files, bundle.CacheFile{
				Level:   level,
				BlockID: blockID,
				Path:    levelbuild.CachePath(cacheDir, level, blockID),
			})
		}
	}

	logger.Infof("bundling %d cache files into %s", len(files), *outputOctree)
	if err := bundle.Write(*outputOctree, files, buildTuning.ExportedLevels()); err != nil {
		logger.Errorf("bundling failed: %v", err)
		os.Exit(1)
	}

	logger.Infof("done")
}
