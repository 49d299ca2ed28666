package plyio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTripsCoordinatesAndColors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cloud.ply")

	c := &Cloud{
		HasColors: true,
		Vertices: []Vertex{
			{XYZ: mgl32.Vec3{1, 2, 3}, RGB: [3]uint8{10, 20, 30}},
			{XYZ: mgl32.Vec3{-1, -2, -3}, RGB: [3]uint8{255, 0, 128}},
		},
	}

	require.NoError(t, Write(path, c))

	got, err := Read(path)
	require.NoError(t, err)

	require.Len(t, got.Vertices, 2)
	assert.Equal(t, c.Vertices[0].XYZ, got.Vertices[0].XYZ)
	assert.Equal(t, c.Vertices[0].RGB, got.Vertices[0].RGB)
	assert.Equal(t, c.Vertices[1].RGB, got.Vertices[1].RGB)
	assert.True(t, got.HasColors)
	assert.False(t, got.HasNormals)
}

func TestWriteReadRoundTripsNormalsIntensityAndFaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mesh.ply")

	c := &Cloud{
		HasNormals:   true,
		HasColors:    true,
		HasIntensity: true,
		HasTriangles: true,
		Vertices: []Vertex{
			{XYZ: mgl32.Vec3{0, 0, 0}, Normal: mgl32.Vec3{0, 1, 0}, RGB: [3]uint8{1, 2, 3}, Intensity: 0.5},
			{XYZ: mgl32.Vec3{1, 0, 0}, Normal: mgl32.Vec3{0, 1, 0}, RGB: [3]uint8{4, 5, 6}, Intensity: 0.75},
			{XYZ: mgl32.Vec3{0, 1, 0}, Normal: mgl32.Vec3{0, 1, 0}, RGB: [3]uint8{7, 8, 9}, Intensity: 1.0},
		},
		Triangles: []Triangle{{0, 1, 2}},
	}

	require.NoError(t, Write(path, c))

	got, err := Read(path)
	require.NoError(t, err)

	require.Len(t, got.Vertices, 3)
	assert.Equal(t, mgl32.Vec3{0, 1, 0}, got.Vertices[0].Normal)
	assert.InDelta(t, 0.75, got.Vertices[1].Intensity, 1e-6)
	require.Len(t, got.Triangles, 1)
	assert.Equal(t, Triangle{0, 1, 2}, got.Triangles[0])
}

func TestReadRejectsAsciiFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ascii.ply")
	contents := "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nproperty float y\nproperty float z\nend_header\n0 0 0\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := Read(path)
	assert.ErrorIs(t, err, ErrNotBinaryLittleEndian)
}

func TestReadRejectsNonOpaqueAlpha(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "translucent.ply")

	c := &Cloud{
		HasColors: true,
		Vertices:  []Vertex{{XYZ: mgl32.Vec3{0, 0, 0}, RGB: [3]uint8{1, 2, 3}}},
	}
	require.NoError(t, Write(path, c))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] = 128 // corrupt the alpha byte of the one vertex
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Read(path)
	assert.ErrorIs(t, err, ErrAlphaNotOpaque)
}

func TestReadRejectsMissingVertexElement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "noverts.ply")
	contents := "ply\nformat binary_little_endian 1.0\nend_header\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := Read(path)
	assert.ErrorIs(t, err, ErrNoVertexElement)
}
