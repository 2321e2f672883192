package chunk

import (
	"context"
	"sort"

	"github.com/oklog/ulid/v2"

	"pokemeetup-server/internal/domain/world"
)

// Target is what a CHOP or PUNCH action holds: a placed object or a block.
type Target struct {
	Key      string
	ObjectID string
	Object   *world.WorldObject
	Block    *world.Block
	TileX    int
	TileY    int
}

func (t Target) IsBlock() bool { return t.Block != nil }

func blockTargetKey(blockKey string) string { return "block:" + blockKey }

// ResolveTarget finds what an action aimed at a tile hits: a block on the
// tile itself, otherwise the nearest choppable object in the surrounding
// 3x3 area.
func (s *Store) ResolveTarget(ctx context.Context, tileX, tileY int) (Target, error) {
	if b, ok := s.BlockAt(ctx, tileX, tileY); ok {
		key := world.BlockKey(tileX, tileY)
		return Target{Key: blockTargetKey(key), Block: b, TileX: tileX, TileY: tileY}, nil
	}

	var found []*world.WorldObject
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			c := world.ChunkOfTile(tileX+dx, tileY+dy)
			if _, err := s.load(ctx, c); err != nil {
				return Target{}, err
			}
		}
	}
	s.mu.RLock()
	seen := map[world.ChunkCoord]bool{}
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			c := world.ChunkOfTile(tileX+dx, tileY+dy)
			if seen[c] {
				continue
			}
			seen[c] = true
			if e, ok := s.chunks[c]; ok {
				for _, o := range e.chunk.Objects {
					if abs(o.TileX-tileX) <= 1 && abs(o.TileY-tileY) <= 1 {
						oc := *o
						found = append(found, &oc)
					}
				}
			}
		}
	}
	s.mu.RUnlock()

	if len(found) == 0 {
		return Target{}, ErrObjectNotFound
	}
	sort.Slice(found, func(i, j int) bool {
		di := sq(found[i].TileX-tileX) + sq(found[i].TileY-tileY)
		dj := sq(found[j].TileX-tileX) + sq(found[j].TileY-tileY)
		if di != dj {
			return di < dj
		}
		return found[i].ID < found[j].ID
	})
	for _, o := range found {
		if o.Type.Choppable() {
			return Target{Key: o.ID, ObjectID: o.ID, Object: o, TileX: o.TileX, TileY: o.TileY}, nil
		}
	}
	return Target{}, ErrNotChoppable
}

// AcquireTarget locks t for username. A player holds at most one target;
// acquiring a new one releases the previous.
func (s *Store) AcquireTarget(username string, t Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.holders[t.Key]; ok && holder != username {
		return ErrLocked
	}
	if prev, ok := s.targets[username]; ok && prev.Key != t.Key {
		delete(s.holders, prev.Key)
	}
	s.targets[username] = t
	s.holders[t.Key] = username
	return nil
}

func (s *Store) HeldTarget(username string) (Target, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[username]
	return t, ok
}

// ReleaseTarget clears and returns the target held by username.
func (s *Store) ReleaseTarget(username string) (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[username]
	if ok {
		delete(s.targets, username)
		delete(s.holders, t.Key)
	}
	return t, ok
}

// RemoveObject deletes a placed object. Only the first of several
// concurrent removals succeeds; the rest get ErrObjectNotFound.
func (s *Store) RemoveObject(_ context.Context, id string) (*world.WorldObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.objects[id]
	if !ok {
		return nil, ErrObjectNotFound
	}
	delete(s.objects, id)
	e, ok := s.chunks[c]
	if !ok {
		return nil, ErrObjectNotFound
	}
	for i, o := range e.chunk.Objects {
		if o.ID != id {
			continue
		}
		e.chunk.Objects = append(e.chunk.Objects[:i], e.chunk.Objects[i+1:]...)
		s.dropHolderLocked(id)
		s.markDirty(e)
		oc := *o
		return &oc, nil
	}
	return nil, ErrObjectNotFound
}

func (s *Store) HasObject(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[id]
	return ok
}

// AddObject places a new object with a fresh id on a free tile.
func (s *Store) AddObject(ctx context.Context, typ world.ObjectType, tileX, tileY int) (*world.WorldObject, error) {
	c := world.ChunkOfTile(tileX, tileY)
	e, err := s.load(ctx, c)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if objectOnTile(e.chunk, tileX, tileY) != nil {
		return nil, ErrTileOccupied
	}
	if _, ok := e.chunk.Blocks[world.BlockKey(tileX, tileY)]; ok {
		return nil, ErrTileOccupied
	}
	o := &world.WorldObject{
		ID:        ulid.Make().String(),
		Type:      typ,
		TileX:     tileX,
		TileY:     tileY,
		SpawnTime: s.now().UnixMilli(),
	}
	e.chunk.Objects = append(e.chunk.Objects, o)
	s.objects[o.ID] = c
	s.markDirty(e)
	oc := *o
	return &oc, nil
}

// PlaceBlock puts a block on a free tile. Chests get a fresh chest id.
func (s *Store) PlaceBlock(ctx context.Context, owner, blockType string, tileX, tileY int, flipped bool) (*world.Block, error) {
	e, err := s.load(ctx, world.ChunkOfTile(tileX, tileY))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := world.BlockKey(tileX, tileY)
	if _, ok := e.chunk.Blocks[key]; ok {
		return nil, ErrTileOccupied
	}
	if objectOnTile(e.chunk, tileX, tileY) != nil {
		return nil, ErrTileOccupied
	}
	b := &world.Block{Type: blockType, TileX: tileX, TileY: tileY, Flipped: flipped, Owner: owner}
	if blockType == world.BlockChest {
		b.Chest = &world.ChestData{ID: ulid.Make().String(), Items: []*world.ItemStack{}}
	}
	e.chunk.Blocks[key] = b
	s.markDirty(e)
	return cloneBlock(b), nil
}

func (s *Store) RemoveBlock(ctx context.Context, tileX, tileY int) (*world.Block, error) {
	e, err := s.load(ctx, world.ChunkOfTile(tileX, tileY))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := world.BlockKey(tileX, tileY)
	b, ok := e.chunk.Blocks[key]
	if !ok {
		return nil, ErrNoBlock
	}
	delete(e.chunk.Blocks, key)
	s.dropHolderLocked(blockTargetKey(key))
	s.markDirty(e)
	return b, nil
}

func (s *Store) BlockAt(ctx context.Context, tileX, tileY int) (*world.Block, bool) {
	e, err := s.load(ctx, world.ChunkOfTile(tileX, tileY))
	if err != nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := e.chunk.Blocks[world.BlockKey(tileX, tileY)]
	if !ok {
		return nil, false
	}
	return cloneBlock(b), true
}

// UpdateChest replaces the contents of the chest at a tile. Updates to the
// same chest are serialized on the chest id.
func (s *Store) UpdateChest(ctx context.Context, chestID string, tileX, tileY int, items []*world.ItemStack) (*world.Block, error) {
	unlock := s.chests.Lock(chestID)
	defer unlock()

	e, err := s.load(ctx, world.ChunkOfTile(tileX, tileY))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := e.chunk.Blocks[world.BlockKey(tileX, tileY)]
	if !ok || b.Chest == nil || b.Chest.ID != chestID {
		return nil, ErrNoBlock
	}
	cp := make([]*world.ItemStack, 0, len(items))
	for _, it := range items {
		if it == nil || it.Count <= 0 {
			continue
		}
		ic := *it
		cp = append(cp, &ic)
	}
	b.Chest.Items = cp
	s.markDirty(e)
	return cloneBlock(b), nil
}

func cloneBlock(b *world.Block) *world.Block {
	bc := *b
	if b.Chest != nil {
		chest := *b.Chest
		chest.Items = make([]*world.ItemStack, 0, len(b.Chest.Items))
		for _, it := range b.Chest.Items {
			ic := *it
			chest.Items = append(chest.Items, &ic)
		}
		bc.Chest = &chest
	}
	return &bc
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sq(v int) int { return v * v }
