// Package stream implements StreamingEngine: per-frame LOD selection plus
// a background goroutine that loads and evicts per-block payloads as the
// viewer moves, decoupled from the render thread so VisibleBlocks never
// blocks on disk I/O (spec.md §4.8).
//
// Grounded on OctreeView.h/.cc: the resident level-0 aggregate buffer, the
// hidden/visible per-block state machine, the LOD law constant, and the
// cooperative-shutdown background thread. Restyled on the teacher's own
// split between renderer-owned state and worker-owned state
// (voxel_rt_state.go/voxel_rt_tick.go).
package stream

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gekko3d/lodcloud"
	"github.com/gekko3d/lodcloud/bundle"
	"github.com/gekko3d/lodcloud/voxelkey"
	"github.com/go-gl/mathgl/mgl32"
)

// Record is the point+colour pair handed to the render thread; an alias
// for lodcloud.Point, the same on-disk record every shard, cache and
// bundle payload file is built from.
type Record = lodcloud.Point

// lodConstant is tuned so that the unclamped law reaches level 7 at 10m
// (d^2 = 100); after clamping to 0..6, anything within about 20m of the
// viewer resolves to the highest detail level, level 6.
const lodConstant = 1638570.0

const maxLevel = 6

const hiddenPollInterval = 50 * time.Millisecond

// ComputeResolutionAdjustment derives the LOD law's screen-resolution term
// from the render target's pixel count, normalized against a 1920x1080
// reference resolution.
func ComputeResolutionAdjustment(numPixels int) float32 {
	return float32(0.7213475 * math.Log(float64(numPixels)/1920.0/1080.0))
}

// blockState is one block's render-visible state: whether it is hidden,
// which level it last loaded, and the pending payload the loader handed
// off for the render thread to pick up. Every field here is touched by
// both the render thread (read) and the loader goroutine (write), guarded
// by Engine.mu.
type blockState struct {
	id          uint64
	center      mgl32.Vec3
	activeLevel int
	hidden      bool
	pending     []Record
}

// Engine drives per-frame LOD selection against an open bundle.Reader: a
// resident level-0 buffer loaded once at construction, and one background
// goroutine that reacts to viewer position updates by loading or evicting
// per-block payloads. VisibleBlocks (the render-thread accessor) never
// blocks on disk I/O.
type Engine struct {
	reader        *bundle.Reader
	voxelSize     float32
	resolutionAdj float32
	logger        lodcloud.Logger

	mu               sync.Mutex
	blocks           []*blockState
	viewPosition     mgl32.Vec3
	newPositionReady bool
	hidden           bool

	level0 []Record

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Open builds an Engine over an already-open bundle reader: it loads the
// resident level-0 buffer synchronously, then starts the background loader
// goroutine. Call Close to stop the loader and release resources; Open
// does not take ownership of reader (the caller still owns its Close).
func Open(reader *bundle.Reader, voxelSize float32, numPixels int, logger lodcloud.Logger) (*Engine, error) {
	if logger == nil {
		logger = lodcloud.NewNopLogger()
	}

	key := voxelkey.New(voxelSize, voxelkey.DefaultHashRange)

	e := &Engine{
		reader:        reader,
		voxelSize:     voxelSize,
		resolutionAdj: ComputeResolutionAdjustment(numPixels),
		logger:        logger,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	ids := reader.AllBlockIDs()
	e.blocks = make([]*blockState, len(ids))

	var level0 []Record
	for i, id := range ids {
		raw, err := reader.Read(0, id)
		if err != nil {
			return nil, fmt.Errorf("stream: loading level 0 block %d: %w", id, err)
		}
		level0 = append(level0, lodcloud.DecodePoints(raw)...)

		e.blocks[i] = &blockState{
			id:     id,
			center: key.Center(id),
			hidden: true,
		}
	}
	e.level0 = level0

	logger.Infof("streaming engine resident: %d blocks, %d level-0 points", len(ids), len(level0))

	go e.loaderLoop()

	return e, nil
}

// UpdatePosition records the viewer's current world position. Never
// blocks on disk I/O; the loader goroutine picks the new position up on
// its own schedule.
func (e *Engine) UpdatePosition(pos mgl32.Vec3) {
	e.mu.Lock()
	e.viewPosition = pos
	e.newPositionReady = true
	e.mu.Unlock()
}

// SetHidden toggles the engine's overall visibility, the same role
// ViewBase's hidden flag plays for OctreeView: while hidden, the loader
// sleeps in hiddenPollInterval steps instead of servicing LOD updates.
func (e *Engine) SetHidden(hidden bool) {
	e.mu.Lock()
	e.hidden = hidden
	e.mu.Unlock()
}

// IsHidden reports the engine's overall visibility.
func (e *Engine) IsHidden() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hidden
}

// Level0 returns the resident, always-visible coarsest-level aggregate
// buffer built once at Open.
func (e *Engine) Level0() []Record {
	return e.level0
}

// VisibleBlocks returns the render-thread snapshot of every non-hidden
// block: its id and whatever records the loader most recently handed off
// for it. Never blocks.
func (e *Engine) VisibleBlocks() map[uint64][]Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[uint64][]Record)
	for _, b := range e.blocks {
		if b.hidden {
			continue
		}
		out[b.id] = b.pending
	}
	return out
}

// Close stops the background loader and waits for it to exit. Safe to
// call multiple times.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
}

func (e *Engine) loaderLoop() {
	defer close(e.doneCh)
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		if e.IsHidden() {
			select {
			case <-e.stopCh:
				return
			case <-time.After(hiddenPollInterval):
			}
			continue
		}

		e.loadPass()
	}
}

// loadPass mirrors LoadOctree: consumes the latest viewer position (if
// any new position arrived since the last pass), recomputes every block's
// target LOD level, and loads/evicts the blocks whose level changed.
func (e *Engine) loadPass() {
	e.mu.Lock()
	if !e.newPositionReady {
		e.mu.Unlock()
		return
	}
	e.newPositionReady = false
	viewPos := e.viewPosition
	blocks := append([]*blockState(nil), e.blocks...)
	e.mu.Unlock()

	for _, b := range blocks {
		distSq := b.center.Sub(viewPos).LenSqr()
		level := lodLevel(distSq, e.resolutionAdj)
		// A bundle with fewer than maxLevel+1 levels caps the choice at its
		// own finest level.
		if top := e.reader.Levels() - 1; level > top {
			level = top
		}

		e.mu.Lock()
		changed := level != b.activeLevel
		e.mu.Unlock()
		if !changed {
			continue
		}

		if level == 0 {
			e.mu.Lock()
			b.activeLevel = level
			b.hidden = true
			b.pending = nil
			e.mu.Unlock()
			continue
		}

		raw, err := e.reader.Read(level, b.id)
		if err != nil {
			e.logger.Warnf("stream: loading block %d level %d: %v", b.id, level, err)
			continue
		}
		records := lodcloud.DecodePoints(raw)

		e.mu.Lock()
		b.activeLevel = level
		b.pending = records
		b.hidden = false
		e.mu.Unlock()
	}
}

// lodLevel implements the LOD law: level = 0.7213475*ln(C/d^2) + adj,
// clamped to [0, maxLevel].
func lodLevel(distSq float32, resolutionAdj float32) int {
	level := float32(0.7213475*math.Log(lodConstant/float64(distSq))) + resolutionAdj
	if level < 0 {
		return 0
	}
	discrete := int(level)
	if discrete > maxLevel {
		return maxLevel
	}
	return discrete
}

