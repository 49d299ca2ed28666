// Command lodbintoply extracts one (level, block) payload from a bundled
// octree file and writes it out as a standalone PLY, for inspecting a
// single level's points without a viewer. A supplemented feature: the
// original build carried a standalone BinToPly tool alongside its viewer
// and converter for exactly this purpose.
//
// Grounded on BinToPly.cc (decode records, force alpha 255, write PLY),
// using this module's own bundle.Reader in place of its flat BinaryReader
// and plyio.Write in place of PlyIO<float>::WritePly.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gekko3d/lodcloud"
	"github.com/gekko3d/lodcloud/bundle"
	"github.com/gekko3d/lodcloud/levelbuild"
	"github.com/gekko3d/lodcloud/plyio"
)

func main() {
	binFile := flag.String("octree-file", "", "bundled octree file to read from")
	plyFile := flag.String("ply-file", "", "PLY file to write")
	level := flag.Int("level", 0, "level to extract")
	blockID := flag.Uint64("block-id", 0, "block id to extract")
	levels := flag.Int("levels", levelbuild.DefaultTuning().ExportedLevels(), "number of exported levels the bundle contains")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := lodcloud.NewDefaultLogger("lodbintoply", *debug)

	if *binFile == "" || *plyFile == "" {
		fmt.Fprintln(os.Stderr, "usage: lodbintoply --octree-file <path> --ply-file <path> --level <n> --block-id <id>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	reader, err := bundle.Open(*binFile, *levels)
	if err != nil {
		logger.Errorf("opening %s: %v", *binFile, err)
		os.Exit(1)
	}
	defer reader.Close()

	raw, err := reader.Read(*level, *blockID)
	if err != nil {
		logger.Errorf("reading level %d block %d: %v", *level, *blockID, err)
		os.Exit(1)
	}

	vertices := decodeVertices(raw)
	cloud := &plyio.Cloud{HasColors: true, Vertices: vertices}
	if err := plyio.Write(*plyFile, cloud); err != nil {
		logger.Errorf("writing %s: %v", *plyFile, err)
		os.Exit(1)
	}

	logger.Infof("wrote %d points to %s", len(vertices), *plyFile)
}

func decodeVertices(raw []byte) []plyio.Vertex {
	points := lodcloud.DecodePoints(raw)
	out := make([]plyio.Vertex, len(points))
	for i, p := range points {
		out[i] = plyio.Vertex{XYZ: p.XYZ, RGB: p.RGB}
	}
	return out
}
