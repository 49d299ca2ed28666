// Command lodview opens a bundled octree file read-only and drives
// StreamingEngine from viewer positions typed on stdin, printing the set
// of blocks and point counts the engine currently considers visible. It
// stands in for the GUI shell and GPU shader pipeline spec.md explicitly
// excludes: a terminal front-end exercising the same engine.
//
// Grounded on LodViewer.cc (open-bundle-then-drive-by-position) and
// restyled on the teacher's voxelrt/rt_main.go CLI shape.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gekko3d/lodcloud"
	"github.com/gekko3d/lodcloud/bundle"
	"github.com/gekko3d/lodcloud/levelbuild"
	"github.com/gekko3d/lodcloud/stream"
	"github.com/go-gl/mathgl/mgl32"
)

func main() {
	octreeFile := flag.String("octree-file", "", "bundled octree file to open (interactive prompt if omitted)")
	levels := flag.Int("levels", levelbuild.DefaultTuning().ExportedLevels(), "number of exported levels the bundle contains")
	voxelSize := flag.Float64("level0-voxel-size", 10.0, "level-0 voxel size the bundle was built with")
	pixels := flag.Int("screen-pixels", 1920*1080, "render target pixel count, feeds the resolution adjustment")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := lodcloud.NewDefaultLogger("lodview", *debug)

	path := *octreeFile
	stdin := bufio.NewScanner(os.Stdin)
	if path == "" {
		fmt.Print("octree file: ")
		if !stdin.Scan() {
			logger.Errorf("no path given")
			os.Exit(2)
		}
		path = strings.TrimSpace(stdin.Text())
	}

	reader, err := bundle.Open(path, *levels)
	if err != nil {
		logger.Errorf("opening %s: %v", path, err)
		os.Exit(1)
	}
	defer reader.Close()

	engine, err := stream.Open(reader, float32(*voxelSize), *pixels, logger)
	if err != nil {
		logger.Errorf("starting streaming engine: %v", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("opened %s: %d levels, %d level-0 points resident\n", path, reader.Levels(), len(engine.Level0()))
	fmt.Println("enter a viewer position as 'x y z', or blank line to quit")

	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			return
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			return
		}

		pos, err := parsePosition(line)
		if err != nil {
			fmt.Println(err)
			continue
		}
		engine.UpdatePosition(mgl32.Vec3(pos))

		visible := engine.VisibleBlocks()
		total := 0
		for _, records := range visible {
			total += len(records)
		}
		fmt.Printf("%d blocks visible beyond level 0, %d points\n", len(visible), total)
	}
}

func parsePosition(line string) ([3]float32, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return [3]float32{}, fmt.Errorf("expected 'x y z', got %q", line)
	}
	var out [3]float32
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return [3]float32{}, fmt.Errorf("parsing %q: %w", f, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
