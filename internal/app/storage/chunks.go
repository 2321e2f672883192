package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"

	"pokemeetup-server/internal/domain/world"
)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

func (r *Repository) chunkPath(c world.ChunkCoord) string {
	return filepath.Join(r.dir, "chunks", fmt.Sprintf("chunk_%d_%d.json.zst", c.X, c.Y))
}

// LoadChunk reads a saved chunk and attaches its blocks. A file that does
// not decode is moved aside and reported as ErrCorruptChunk, so a chunk
// regenerated in its place never overwrites it.
func (r *Repository) LoadChunk(_ context.Context, c world.ChunkCoord) (*world.Chunk, bool, error) {
	path := r.chunkPath(c)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read chunk: %w", err)
	}
	plain, err := decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, false, r.quarantineChunk(path, fmt.Errorf("decompress: %w", err))
	}
	var ch world.Chunk
	if err := json.Unmarshal(plain, &ch); err != nil {
		return nil, false, r.quarantineChunk(path, fmt.Errorf("decode: %w", err))
	}
	blocks, err := r.blocks.get(c)
	if err != nil {
		return nil, false, err
	}
	ch.Blocks = make(map[string]*world.Block, len(blocks))
	for _, b := range blocks {
		ch.Blocks[world.BlockKey(b.TileX, b.TileY)] = b
	}
	return &ch, true, nil
}

func (r *Repository) quarantineChunk(path string, cause error) error {
	aside := fmt.Sprintf("%s.corrupt-%s", path, ulid.MustNew(ulid.Timestamp(r.now()), ulid.DefaultEntropy()))
	if err := os.Rename(path, aside); err != nil {
		return fmt.Errorf("%w: %s: %v (move aside failed: %v)", ErrCorruptChunk, filepath.Base(path), cause, err)
	}
	return fmt.Errorf("%w: %s moved to %s: %v", ErrCorruptChunk, filepath.Base(path), filepath.Base(aside), cause)
}

// SaveChunk writes tiles and objects to the chunk file and the chunk's
// blocks to blocks.json.
func (r *Repository) SaveChunk(_ context.Context, ch *world.Chunk) error {
	saved := *ch
	saved.Blocks = nil
	saved.Biomes = nil
	plain, err := json.Marshal(&saved)
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	if err := writeFileAtomic(r.chunkPath(ch.Coord), encoder.EncodeAll(plain, nil)); err != nil {
		return err
	}
	blocks := make([]*world.Block, 0, len(ch.Blocks))
	for _, b := range ch.Blocks {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].TileX != blocks[j].TileX {
			return blocks[i].TileX < blocks[j].TileX
		}
		return blocks[i].TileY < blocks[j].TileY
	})
	return r.blocks.put(ch.Coord, blocks)
}

// blockIndex mirrors blocks.json, keyed by "cx,cy".
type blockIndex struct {
	path   string
	mu     sync.Mutex
	loaded bool
	byKey  map[string][]*world.Block
}

func newBlockIndex(path string) *blockIndex {
	return &blockIndex{path: path}
}

func chunkKey(c world.ChunkCoord) string {
	return strconv.Itoa(c.X) + "," + strconv.Itoa(c.Y)
}

func (b *blockIndex) ensureLoaded() error {
	if b.loaded {
		return nil
	}
	b.byKey = make(map[string][]*world.Block)
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			b.loaded = true
			return nil
		}
		return fmt.Errorf("read blocks: %w", err)
	}
	if err := json.Unmarshal(raw, &b.byKey); err != nil {
		return fmt.Errorf("decode blocks: %w", err)
	}
	b.loaded = true
	return nil
}

func (b *blockIndex) get(c world.ChunkCoord) ([]*world.Block, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLoaded(); err != nil {
		return nil, err
	}
	src := b.byKey[chunkKey(c)]
	out := make([]*world.Block, 0, len(src))
	for _, blk := range src {
		bc := *blk
		if blk.Chest != nil {
			chest := *blk.Chest
			chest.Items = append([]*world.ItemStack(nil), blk.Chest.Items...)
			bc.Chest = &chest
		}
		out = append(out, &bc)
	}
	return out, nil
}

func (b *blockIndex) put(c world.ChunkCoord, blocks []*world.Block) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLoaded(); err != nil {
		return err
	}
	key := chunkKey(c)
	if len(blocks) == 0 {
		if _, ok := b.byKey[key]; !ok {
			return nil
		}
		delete(b.byKey, key)
	} else {
		b.byKey[key] = blocks
	}
	raw, err := json.MarshalIndent(b.byKey, "", "  ")
	if err != nil {
		return fmt.Errorf("encode blocks: %w", err)
	}
	return writeFileAtomic(b.path, raw)
}
