// Package bundle implements the random-access octree bundle file: a header
// of per-level (block id -> offset, size) directories followed by the
// concatenated payload of every (level, block) pair (spec.md §4.6-4.7,
// bundle bit layout in §6).
//
// Grounded on Converter::FileBundling (the writer) and OctreeReader.h/.cc
// (the reader), restyled on the teacher's vox.go chunked binary I/O
// (encoding/binary, io.ReadFull, wrapped errors instead of bool returns).
package bundle

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// ErrCorruptBundle is returned when a bundle's header fails a consistency
// check at open time: an offset/size pair running past end of file, or a
// level-0 directory whose first offset does not land right after the
// header.
var ErrCorruptBundle = errors.New("bundle: corrupt or truncated file")

// entry is the (offset, size) part of one (hash, offset, size) triple from
// the header; the hash is the key of the map holding it.
type entry struct {
	offset uint64
	size   uint64
}

// CacheFile is one source file a Writer concatenates into the bundle: one
// exported (level, blockID) pair's points, produced by levelbuild.Build.
type CacheFile struct {
	Level   int
	BlockID uint64
	Path    string
}

// Write packs files into a single bundle at outPath. levels is the total
// number of exported levels (bundle's N_LEVELS); every file's Level must be
// in [0, levels). Files are concatenated in (level, blockID) sorted order,
// matching Converter::FileBundling's lexicographic directory listing.
func Write(outPath string, files []CacheFile, levels int) error {
	sorted := append([]CacheFile(nil), files...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Level != sorted[j].Level {
			return sorted[i].Level < sorted[j].Level
		}
		return sorted[i].BlockID < sorted[j].BlockID
	})

	byLevel := make([][]CacheFile, levels)
	sizes := make([]int64, len(sorted))
	for i, cf := range sorted {
		if cf.Level < 0 || cf.Level >= levels {
			return fmt.Errorf("bundle: file %s has level %d outside [0,%d)", cf.Path, cf.Level, levels)
		}
		st, err := os.Stat(cf.Path)
		if err != nil {
			return fmt.Errorf("bundle: stat %s: %w", cf.Path, err)
		}
		sizes[i] = st.Size()
		byLevel[cf.Level] = append(byLevel[cf.Level], cf)
	}

	headerSize := headerByteSize(byLevel)

	offsets := make(map[int]map[uint64]uint64, levels)
	fileSizes := make(map[int]map[uint64]uint64, levels)
	for l := 0; l < levels; l++ {
		offsets[l] = make(map[uint64]uint64)
		fileSizes[l] = make(map[uint64]uint64)
	}

	runningOffset := uint64(headerSize)
	for i, cf := range sorted {
		offsets[cf.Level][cf.BlockID] = runningOffset
		fileSizes[cf.Level][cf.BlockID] = uint64(sizes[i])
		runningOffset += uint64(sizes[i])
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("bundle: create %s: %w", outPath, err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)

	for l := 0; l < levels; l++ {
		ids := sortedKeys(offsets[l])
		if err := binary.Write(w, binary.LittleEndian, uint64(len(ids))); err != nil {
			return fmt.Errorf("bundle: writing level %d directory count: %w", l, err)
		}
		for _, id := range ids {
			if err := binary.Write(w, binary.LittleEndian, id); err != nil {
				return fmt.Errorf("bundle: writing level %d hash: %w", l, err)
			}
			if err := binary.Write(w, binary.LittleEndian, offsets[l][id]); err != nil {
				return fmt.Errorf("bundle: writing level %d offset: %w", l, err)
			}
			if err := binary.Write(w, binary.LittleEndian, fileSizes[l][id]); err != nil {
				return fmt.Errorf("bundle: writing level %d size: %w", l, err)
			}
		}
	}

	for _, cf := range sorted {
		if err := copyFileInto(w, cf.Path); err != nil {
			return fmt.Errorf("bundle: copying %s: %w", cf.Path, err)
		}
	}

	return w.Flush()
}

func copyFileInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func headerByteSize(byLevel [][]CacheFile) int64 {
	var size int64
	for _, files := range byLevel {
		size += 8 // count
		size += int64(len(files)) * (8 + 8 + 8)
	}
	return size
}

// minOffset returns the smallest offset among entries, and false if entries
// is empty.
func minOffset(entries map[uint64]entry) (uint64, bool) {
	min := uint64(0)
	found := false
	for _, e := range entries {
		if !found || e.offset < min {
			min = e.offset
			found = true
		}
	}
	return min, found
}

func sortedKeys(m map[uint64]uint64) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Reader opens a bundle file and eagerly parses its header, giving
// random-access reads of any (level, blockID) payload. Safe for concurrent
// use by multiple goroutines (stream.Engine's loader reads from a shared
// Reader while the render thread is also permitted to read).
type Reader struct {
	f      *os.File
	levels int
	dir    []map[uint64]entry
}

// Open parses path's header and validates it against the file's actual
// size: every (offset, size) pair must lie within the file, no entry
// overlaps the header region, and the first level-0 payload's offset lands
// exactly at the header's own byte size (the writer always starts the
// payload region there; any other value means a hand-corrupted or
// otherwise foreign file). levels is N_LEVELS; the header has no
// self-describing level count (spec.md §6), so the reader must be told how
// many levels to expect, exactly as the original hardcodes 7 in
// OctreeReader's constructor. Returns ErrCorruptBundle on any violation.
func Open(path string, levels int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: open %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("bundle: stat %s: %w", path, err)
	}
	fileSize := uint64(st.Size())

	r := bufio.NewReader(f)

	dir, headerSize, err := readDirectory(r, levels)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("bundle: %s: %w", path, err)
	}

	for level, entries := range dir {
		for id, e := range entries {
			if e.offset+e.size > fileSize {
				f.Close()
				return nil, fmt.Errorf("%w: level %d block %d runs past end of file", ErrCorruptBundle, level, id)
			}
			if e.size > 0 && e.offset < headerSize {
				f.Close()
				return nil, fmt.Errorf("%w: level %d block %d overlaps header", ErrCorruptBundle, level, id)
			}
		}
	}

	if levels > 0 {
		if first, ok := minOffset(dir[0]); ok && first != headerSize {
			f.Close()
			return nil, fmt.Errorf("%w: first payload offset %d does not land at header size %d", ErrCorruptBundle, first, headerSize)
		}
	}

	return &Reader{f: f, levels: levels, dir: dir}, nil
}

// readDirectory reads exactly `levels` per-level directories, returning
// every level's (hash -> entry) map plus the total header size in bytes.
func readDirectory(r *bufio.Reader, levels int) ([]map[uint64]entry, uint64, error) {
	dir := make([]map[uint64]entry, levels)
	var headerSize uint64

	for l := 0; l < levels; l++ {
		var count uint64
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, 0, fmt.Errorf("reading level %d directory count: %w", l, err)
		}
		headerSize += 8

		level := make(map[uint64]entry, count)
		for i := uint64(0); i < count; i++ {
			var hash, offset, size uint64
			if err := binary.Read(r, binary.LittleEndian, &hash); err != nil {
				return nil, 0, fmt.Errorf("reading level %d hash %d: %w", l, i, err)
			}
			if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
				return nil, 0, fmt.Errorf("reading level %d offset %d: %w", l, i, err)
			}
			if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
				return nil, 0, fmt.Errorf("reading level %d size %d: %w", l, i, err)
			}
			headerSize += 24
			level[hash] = entry{offset: offset, size: size}
		}
		dir[l] = level
	}

	return dir, headerSize, nil
}

// Levels returns N_LEVELS, the number of exported levels in the bundle.
func (r *Reader) Levels() int { return r.levels }

// AllBlockIDs returns every block id present at level 0, the set the
// streaming engine uses to seed its resident buffer and per-block state.
func (r *Reader) AllBlockIDs() []uint64 {
	if r.levels == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(r.dir[0]))
	for id := range r.dir[0] {
		ids = append(ids, id)
	}
	return ids
}

// Has reports whether the bundle has a (level, blockID) payload at all
// (including zero-length payloads).
func (r *Reader) Has(level int, blockID uint64) bool {
	if level < 0 || level >= r.levels {
		return false
	}
	_, ok := r.dir[level][blockID]
	return ok
}

// Read returns the raw payload bytes for (level, blockID). The returned
// slice's length is the size recorded in the header; Read does not check
// it against lodcloud.RecordBytes.
func (r *Reader) Read(level int, blockID uint64) ([]byte, error) {
	if level < 0 || level >= r.levels {
		return nil, fmt.Errorf("bundle: level %d out of range [0,%d)", level, r.levels)
	}
	e, ok := r.dir[level][blockID]
	if !ok {
		return nil, fmt.Errorf("bundle: no payload for level %d block %d", level, blockID)
	}
	buf := make([]byte, e.size)
	if e.size == 0 {
		return buf, nil
	}
	if _, err := r.f.ReadAt(buf, int64(e.offset)); err != nil {
		return nil, fmt.Errorf("bundle: reading level %d block %d: %w", level, blockID, err)
	}
	return buf, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}
