// Package plyio reads and writes the binary-little-endian PLY point cloud
// format used at the edges of the pipeline: BlockPartitioner's input and
// cmd/lodbintoply's output (spec.md §1 PLY contract).
//
// Only the "ply / format binary_little_endian 1.0" variant is supported.
// ASCII and binary_big_endian PLY are rejected. Colour alpha, when present,
// must be 255 on every vertex. Grounded on PlyIO.cc's header-then-binary-
// blob layout, restyled on the teacher's vox.go chunked binary parsing
// (encoding/binary + io.ReadFull, plain wrapped errors).
package plyio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrNotBinaryLittleEndian is returned by Read when the header's format line
// is missing or names anything other than binary_little_endian.
var ErrNotBinaryLittleEndian = errors.New("plyio: only binary_little_endian PLY is supported")

// ErrNoVertexElement is returned by Read when the header declares no vertex
// "x" property, which includes a header with no "element vertex" block.
var ErrNoVertexElement = errors.New("plyio: file has no vertex element")

// ErrAlphaNotOpaque is returned by Read when a vertex's alpha channel is
// present and not exactly 255.
var ErrAlphaNotOpaque = errors.New("plyio: vertex alpha channel must be 255")

// ErrBadFaceList is returned by Read when a face's vertex-index list length
// is not exactly 3 (only triangles are supported).
var ErrBadFaceList = errors.New("plyio: only triangular faces are supported")

// Vertex is one decoded PLY vertex: position, optional normal, optional
// colour, optional scalar intensity. Fields the header did not declare are
// left at their zero value.
type Vertex struct {
	XYZ       mgl32.Vec3
	Normal    mgl32.Vec3
	RGB       [3]uint8
	Intensity float32
}

// Triangle is a face's three vertex indices into the Vertex slice.
type Triangle [3]uint32

// Cloud is a fully decoded point cloud plus optional mesh topology.
type Cloud struct {
	Vertices     []Vertex
	Triangles    []Triangle
	HasNormals   bool
	HasColors    bool
	HasIntensity bool
	HasTriangles bool
}

type header struct {
	numVertices  int
	numTriangles int
	hasCoords    bool
	hasNormals   bool
	hasColors    bool
	hasIntensity bool
	hasTriangles bool
}

// Read decodes a binary-little-endian PLY file at path.
func Read(path string) (*Cloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("plyio: open %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	h, err := readHeader(br)
	if err != nil {
		return nil, fmt.Errorf("plyio: %s: %w", path, err)
	}
	if !h.hasCoords {
		return nil, ErrNoVertexElement
	}

	c := &Cloud{
		HasNormals:   h.hasNormals,
		HasColors:    h.hasColors,
		HasIntensity: h.hasIntensity,
		HasTriangles: h.hasTriangles,
		Vertices:     make([]Vertex, h.numVertices),
	}

	for i := 0; i < h.numVertices; i++ {
		v := &c.Vertices[i]
		var err error
		if v.XYZ, err = readVec3(br); err != nil {
			return nil, fmt.Errorf("plyio: %s: vertex %d xyz: %w", path, i, err)
		}
		if h.hasNormals {
			if v.Normal, err = readVec3(br); err != nil {
				return nil, fmt.Errorf("plyio: %s: vertex %d normal: %w", path, i, err)
			}
		}
		if h.hasColors {
			var rgba [4]uint8
			if _, err := io.ReadFull(br, rgba[:]); err != nil {
				return nil, fmt.Errorf("plyio: %s: vertex %d rgba: %w", path, i, err)
			}
			if rgba[3] != 255 {
				return nil, ErrAlphaNotOpaque
			}
			v.RGB = [3]uint8{rgba[0], rgba[1], rgba[2]}
		}
		if h.hasIntensity {
			var f float32
			if err := binary.Read(br, binary.LittleEndian, &f); err != nil {
				return nil, fmt.Errorf("plyio: %s: vertex %d intensity: %w", path, i, err)
			}
			v.Intensity = f
		}
	}

	if h.hasTriangles {
		c.Triangles = make([]Triangle, h.numTriangles)
		for i := 0; i < h.numTriangles; i++ {
			var n uint8
			if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
				return nil, fmt.Errorf("plyio: %s: face %d count: %w", path, i, err)
			}
			if n != 3 {
				return nil, ErrBadFaceList
			}
			var idx [3]int32
			if err := binary.Read(br, binary.LittleEndian, &idx); err != nil {
				return nil, fmt.Errorf("plyio: %s: face %d indices: %w", path, i, err)
			}
			c.Triangles[i] = Triangle{uint32(idx[0]), uint32(idx[1]), uint32(idx[2])}
		}
	}

	return c, nil
}

func readVec3(r io.Reader) (mgl32.Vec3, error) {
	var v [3]float32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return mgl32.Vec3{}, err
	}
	return mgl32.Vec3{v[0], v[1], v[2]}, nil
}

func readHeader(br *bufio.Reader) (header, error) {
	var h header
	formatSeen := false

	line, err := br.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "ply" {
		return h, errors.New("missing ply magic line")
	}

	inFaceElement := false

	for {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			return h, fmt.Errorf("unexpected end of header: %w", err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "format":
			formatSeen = true
			if len(fields) < 2 || fields[1] != "binary_little_endian" {
				return h, ErrNotBinaryLittleEndian
			}
		case "comment":
			continue
		case "element":
			if len(fields) < 3 {
				return h, fmt.Errorf("malformed element line %q", line)
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil {
				return h, fmt.Errorf("malformed element count %q: %w", fields[2], err)
			}
			switch fields[1] {
			case "vertex":
				h.numVertices = n
				inFaceElement = false
			case "face":
				h.hasTriangles = true
				h.numTriangles = n
				inFaceElement = true
			default:
				return h, fmt.Errorf("unsupported element type %q", fields[1])
			}
		case "property":
			if inFaceElement {
				continue
			}
			if len(fields) < 3 {
				continue
			}
			switch fields[len(fields)-1] {
			case "x":
				h.hasCoords = true
			case "nx":
				h.hasNormals = true
			case "red":
				h.hasColors = true
			case "intensity_value":
				h.hasIntensity = true
			}
		case "end_header":
			if !formatSeen {
				return h, ErrNotBinaryLittleEndian
			}
			return h, nil
		}
	}
}

// Write encodes c as a binary-little-endian PLY file at path. Colour alpha
// is always written as 255 (full opacity), matching WritePly's own
// hardcoded AddDataToBinaryBlob<uint8_t>(255, ...) write.
func Write(path string, c *Cloud) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("plyio: create %s: %w", path, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)

	fmt.Fprintln(bw, "ply")
	fmt.Fprintln(bw, "format binary_little_endian 1.0")
	fmt.Fprintf(bw, "element vertex %d\n", len(c.Vertices))
	fmt.Fprintln(bw, "property float x")
	fmt.Fprintln(bw, "property float y")
	fmt.Fprintln(bw, "property float z")
	if c.HasNormals {
		fmt.Fprintln(bw, "property float nx")
		fmt.Fprintln(bw, "property float ny")
		fmt.Fprintln(bw, "property float nz")
	}
	if c.HasColors {
		fmt.Fprintln(bw, "property uchar red")
		fmt.Fprintln(bw, "property uchar green")
		fmt.Fprintln(bw, "property uchar blue")
		fmt.Fprintln(bw, "property uchar alpha")
	}
	if c.HasIntensity {
		fmt.Fprintln(bw, "property float intensity_value")
	}
	if c.HasTriangles {
		fmt.Fprintf(bw, "element face %d\n", len(c.Triangles))
		fmt.Fprintln(bw, "property list uchar int vertex_indices")
	}
	fmt.Fprintln(bw, "end_header")

	for _, v := range c.Vertices {
		if err := writeVec3(bw, v.XYZ); err != nil {
			return fmt.Errorf("plyio: write %s: %w", path, err)
		}
		if c.HasNormals {
			if err := writeVec3(bw, v.Normal); err != nil {
				return fmt.Errorf("plyio: write %s: %w", path, err)
			}
		}
		if c.HasColors {
			rgba := [4]uint8{v.RGB[0], v.RGB[1], v.RGB[2], 255}
			if _, err := bw.Write(rgba[:]); err != nil {
				return fmt.Errorf("plyio: write %s: %w", path, err)
			}
		}
		if c.HasIntensity {
			if err := binary.Write(bw, binary.LittleEndian, v.Intensity); err != nil {
				return fmt.Errorf("plyio: write %s: %w", path, err)
			}
		}
	}

	for _, tri := range c.Triangles {
		if err := bw.WriteByte(3); err != nil {
			return fmt.Errorf("plyio: write %s: %w", path, err)
		}
		idx := [3]int32{int32(tri[0]), int32(tri[1]), int32(tri[2])}
		if err := binary.Write(bw, binary.LittleEndian, idx); err != nil {
			return fmt.Errorf("plyio: write %s: %w", path, err)
		}
	}

	return bw.Flush()
}

func writeVec3(w io.Writer, v mgl32.Vec3) error {
	return binary.Write(w, binary.LittleEndian, [3]float32{v.X(), v.Y(), v.Z()})
}
