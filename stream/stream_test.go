package stream

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gekko3d/lodcloud"
	"github.com/gekko3d/lodcloud/bundle"
	"github.com/gekko3d/lodcloud/voxelkey"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeRecord(xyz mgl32.Vec3, rgb [3]uint8) []byte {
	rec := make([]byte, lodcloud.RecordBytes)
	lodcloud.Point{XYZ: xyz, RGB: rgb}.Encode(rec)
	return rec
}

// buildFixtureBundle writes a 2-level bundle with a single block, the voxel
// containing the origin (center at half a voxel on each axis), level 0
// holding one point and level 1 holding two, so tests can tell which
// level's payload the engine picked up.
func buildFixtureBundle(t *testing.T, voxelSize float32) (*bundle.Reader, uint64) {
	t.Helper()
	key := voxelkey.New(voxelSize, voxelkey.DefaultHashRange)
	blockID, err := key.VoxelID(mgl32.Vec3{0, 0, 0})
	require.NoError(t, err)

	dir := t.TempDir()
	level0Path := filepath.Join(dir, "l0.bin")
	level1Path := filepath.Join(dir, "l1.bin")

	require.NoError(t, os.WriteFile(level0Path, encodeRecord(mgl32.Vec3{0, 0, 0}, [3]uint8{10, 10, 10}), 0o644))

	var level1 []byte
	level1 = append(level1, encodeRecord(mgl32.Vec3{0.1, 0, 0}, [3]uint8{20, 20, 20})...)
	level1 = append(level1, encodeRecord(mgl32.Vec3{-0.1, 0, 0}, [3]uint8{30, 30, 30})...)
	require.NoError(t, os.WriteFile(level1Path, level1, 0o644))

	out := filepath.Join(dir, "bundle.bin")
	files := []bundle.CacheFile{
		{Level: 0, BlockID: blockID, Path: level0Path},
		{Level: 1, BlockID: blockID, Path: level1Path},
	}
	require.NoError(t, bundle.Write(out, files, 2))

	r, err := bundle.Open(out, 2)
	require.NoError(t, err)
	return r, blockID
}

func TestOpenLoadsResidentLevel0Buffer(t *testing.T) {
	r, _ := buildFixtureBundle(t, 10.0)
	defer r.Close()

	e, err := Open(r, 10.0, 1920*1080, nil)
	require.NoError(t, err)
	defer e.Close()

	level0 := e.Level0()
	require.Len(t, level0, 1)
	assert.Equal(t, [3]uint8{10, 10, 10}, level0[0].RGB)
}

func TestBlockBecomesVisibleWhenCloseEnough(t *testing.T) {
	r, blockID := buildFixtureBundle(t, 10.0)
	defer r.Close()

	e, err := Open(r, 10.0, 1920*1080, nil)
	require.NoError(t, err)
	defer e.Close()

	e.UpdatePosition(mgl32.Vec3{0, 0, 0})

	require.Eventually(t, func() bool {
		vis := e.VisibleBlocks()
		return len(vis[blockID]) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBlockHidesAtLevelZeroWhenFar(t *testing.T) {
	r, blockID := buildFixtureBundle(t, 10.0)
	defer r.Close()

	e, err := Open(r, 10.0, 1920*1080, nil)
	require.NoError(t, err)
	defer e.Close()

	far := mgl32.Vec3{1e6, 1e6, 1e6}
	e.UpdatePosition(far)

	time.Sleep(50 * time.Millisecond)
	vis := e.VisibleBlocks()
	assert.Empty(t, vis[blockID])
}

func TestSetHiddenSuspendsTheLoader(t *testing.T) {
	r, blockID := buildFixtureBundle(t, 10.0)
	defer r.Close()

	e, err := Open(r, 10.0, 1920*1080, nil)
	require.NoError(t, err)
	defer e.Close()

	e.SetHidden(true)
	e.UpdatePosition(mgl32.Vec3{0, 0, 0})

	time.Sleep(20 * time.Millisecond)
	vis := e.VisibleBlocks()
	assert.Empty(t, vis[blockID], "loader must not service updates while the engine is hidden")

	e.SetHidden(false)
	require.Eventually(t, func() bool {
		vis := e.VisibleBlocks()
		return len(vis[blockID]) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestCloseStopsTheLoaderGoroutine(t *testing.T) {
	r, _ := buildFixtureBundle(t, 10.0)
	defer r.Close()

	e, err := Open(r, 10.0, 1920*1080, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return; loader goroutine failed to stop")
	}
}

func TestLodLevelClampsToRange(t *testing.T) {
	assert.Equal(t, maxLevel, lodLevel(0.0001, 0))
	assert.Equal(t, 0, lodLevel(1e12, 0))
}
