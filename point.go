package lodcloud

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Point is a single coordinate+colour sample, the unit the whole pipeline
// moves in bulk: PLY input, per-block shard files, per-level cache files and
// bundle payloads are all slices/streams of Point. Normals and intensity are
// read by plyio but never carried past it (see SPEC_FULL.md Non-goals).
type Point struct {
	XYZ mgl32.Vec3
	RGB [3]uint8
}

// RecordBytes is the on-disk size of one Point in every shard, cache and
// payload file: 3 little-endian float32 plus 3 uint8.
const RecordBytes = 3*4 + 3

// Encode writes p's on-disk representation into buf[:RecordBytes].
func (p Point) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(p.XYZ.X()))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(p.XYZ.Y()))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(p.XYZ.Z()))
	buf[12], buf[13], buf[14] = p.RGB[0], p.RGB[1], p.RGB[2]
}

// DecodePoint reads one Point from its RecordBytes-long on-disk
// representation.
func DecodePoint(buf []byte) Point {
	x := math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))
	y := math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))
	z := math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12]))
	return Point{
		XYZ: mgl32.Vec3{x, y, z},
		RGB: [3]uint8{buf[12], buf[13], buf[14]},
	}
}

// DecodePoints decodes a concatenated run of Point records, e.g. a full
// shard file, cache file or bundle payload.
func DecodePoints(raw []byte) []Point {
	n := len(raw) / RecordBytes
	out := make([]Point, n)
	for i := 0; i < n; i++ {
		out[i] = DecodePoint(raw[i*RecordBytes : (i+1)*RecordBytes])
	}
	return out
}
