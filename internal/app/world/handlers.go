package world

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/oklog/ulid/v2"

	"pokemeetup-server/internal/app/chunk"
	"pokemeetup-server/internal/app/session"
	"pokemeetup-server/internal/domain/player"
	"pokemeetup-server/internal/domain/protocol"
	domainworld "pokemeetup-server/internal/domain/world"
	"pokemeetup-server/internal/platform/mq"
)

const (
	pickupRange = 2 * domainworld.TileSize

	woodItemID   = "wood"
	woodItemName = "Wood"
)

func chunkOf(st *player.State) domainworld.ChunkCoord {
	return domainworld.ChunkOfPixel(st.X, st.Y)
}

func ownedBy(claimed, username string) error {
	if claimed != "" && !strings.EqualFold(claimed, username) {
		return fmt.Errorf("%w: %q", errForeignUsername, claimed)
	}
	return nil
}

func (s *Service) sendError(connID, message string) {
	s.send(connID, protocol.TypeError, protocol.Error{Message: message})
}

func (s *Service) handleChunkRequest(ctx context.Context, sess *session.Session, env protocol.Envelope) error {
	var req protocol.ChunkRequest
	if err := env.Into(&req); err != nil {
		return err
	}
	coord := domainworld.ChunkCoord{X: req.ChunkX, Y: req.ChunkY}
	ch, err := s.chunks.GetOrGenerate(ctx, coord)
	if err != nil {
		s.logger.Error().Err(err).Int("chunk_x", coord.X).Int("chunk_y", coord.Y).Msg("chunk unavailable")
		s.sendError(sess.ID(), "chunk unavailable")
		return nil
	}
	s.send(sess.ID(), protocol.TypeChunkData, s.chunkData(ch))
	return nil
}

func (s *Service) chunkData(ch *domainworld.Chunk) protocol.ChunkData {
	keys := make([]string, 0, len(ch.Blocks))
	for k := range ch.Blocks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	blocks := make([]*domainworld.Block, 0, len(keys))
	for _, k := range keys {
		blocks = append(blocks, ch.Blocks[k])
	}
	objects := ch.Objects
	if objects == nil {
		objects = []*domainworld.WorldObject{}
	}
	return protocol.ChunkData{
		ChunkX:                ch.Coord.X,
		ChunkY:                ch.Coord.Y,
		BiomeType:             ch.Biome,
		PrimaryBiomeType:      ch.Biome,
		SecondaryBiomeType:    ch.SecondaryBiome,
		BiomeTransitionFactor: ch.TransitionFactor,
		TileData:              ch.Tiles,
		BlockData:             blocks,
		WorldObjects:          objects,
		GenerationSeed:        ch.GenerationSeed,
		Timestamp:             s.stamp(),
	}
}

// handlePlayerUpdate records the new state. It reaches the other players
// with the next batched position broadcast.
func (s *Service) handlePlayerUpdate(_ context.Context, sess *session.Session, env protocol.Envelope) error {
	var u protocol.PlayerUpdate
	if err := env.Into(&u); err != nil {
		return err
	}
	name := sess.Username()
	if err := ownedBy(u.Username, name); err != nil {
		return err
	}
	if math.IsNaN(u.X) || math.IsNaN(u.Y) || math.IsInf(u.X, 0) || math.IsInf(u.Y, 0) {
		return fmt.Errorf("%w: non-finite position", protocol.ErrMalformed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.players[userKey(name)]
	if !ok || rt.connID != sess.ID() {
		return nil
	}
	st := rt.state
	st.X, st.Y = u.X, u.Y
	if player.ValidDirection(u.Direction) {
		st.Direction = u.Direction
	}
	st.IsMoving = u.IsMoving
	st.WantsToRun = u.WantsToRun
	if u.CharacterType != "" {
		st.CharacterType = u.CharacterType
	}
	// Lists of any length are accepted and fitted to the slot counts.
	if u.InventoryItems != nil || u.PartyPokemon != nil {
		if u.InventoryItems != nil {
			st.Inventory = u.InventoryItems
		}
		if u.PartyPokemon != nil {
			st.Party = u.PartyPokemon
		}
		st.Repair()
	}
	rt.chunk = chunkOf(st)
	rt.moved = true
	rt.touch()
	return nil
}

func playerUpdateOf(st *player.State, ts int64) protocol.PlayerUpdate {
	return protocol.PlayerUpdate{
		Username:      st.Username,
		X:             st.X,
		Y:             st.Y,
		Direction:     st.Direction,
		IsMoving:      st.IsMoving,
		WantsToRun:    st.WantsToRun,
		CharacterType: st.CharacterType,
		Timestamp:     ts,
	}
}

func (s *Service) handleChat(ctx context.Context, sess *session.Session, env protocol.Envelope) error {
	var msg protocol.ChatMessage
	if err := env.Into(&msg); err != nil {
		return err
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}
	msg.Sender = sess.Username()
	if msg.Type == "" || msg.Type == protocol.ChatSystem {
		msg.Type = protocol.ChatNormal
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = s.stamp()
	}
	s.broadcast(protocol.TypeChatMessage, msg, sess.ID())
	s.publish(ctx, mq.SubjectChat, msg)
	return nil
}

func (s *Service) handlePlayerAction(ctx context.Context, sess *session.Session, env protocol.Envelope) error {
	var a protocol.PlayerAction
	if err := env.Into(&a); err != nil {
		return err
	}
	name := sess.Username()
	if err := ownedBy(a.PlayerID, name); err != nil {
		return err
	}
	a.PlayerID = name

	switch a.ActionType {
	case protocol.ActionChopStart, protocol.ActionPunchStart:
		if a.TargetPosition == nil {
			return fmt.Errorf("%w: %s without target", protocol.ErrMalformed, a.ActionType)
		}
		t, err := s.chunks.ResolveTarget(ctx, a.TargetPosition.X, a.TargetPosition.Y)
		if err != nil {
			s.logger.Debug().Err(err).Str("username", name).Msg("action has no target")
			return nil
		}
		if err := s.chunks.AcquireTarget(name, t); err != nil {
			s.logger.Debug().Err(err).Str("username", name).Str("object_id", t.Key).Msg("action target busy")
			return nil
		}
		s.broadcast(protocol.TypePlayerAction, a, sess.ID())
	case protocol.ActionChopStop, protocol.ActionPunchStop:
		t, ok := s.chunks.ReleaseTarget(name)
		if !ok {
			return nil
		}
		s.broadcast(protocol.TypePlayerAction, a, sess.ID())
		s.completeAction(ctx, sess.ID(), name, t)
	default:
		return fmt.Errorf("%w: action %q", protocol.ErrMalformed, a.ActionType)
	}
	return nil
}

// completeAction removes the target of a finished chop or punch and drops
// what it yields. Only one caller can win the removal.
func (s *Service) completeAction(ctx context.Context, connID, name string, t chunk.Target) {
	if t.IsBlock() {
		b, err := s.chunks.RemoveBlock(ctx, t.TileX, t.TileY)
		if err != nil {
			return
		}
		placement := protocol.BlockPlacement{Username: name, Action: protocol.BlockRemove, BlockTypeID: b.Type, TileX: b.TileX, TileY: b.TileY}
		s.broadcast(protocol.TypeBlockPlacement, placement, connID)
		s.publish(ctx, mq.SubjectBlockChanged, placement)
		s.spawnDrop(b.Type, b.Type, 1, b.TileX, b.TileY)
		return
	}

	o, err := s.chunks.RemoveObject(ctx, t.ObjectID)
	if err != nil {
		return
	}
	update := protocol.WorldObjectUpdate{
		ObjectID: o.ID,
		Type:     protocol.ObjectRemove,
		Data:     map[string]any{"tileX": o.TileX, "tileY": o.TileY, "type": o.Type},
	}
	s.broadcast(protocol.TypeWorldObjectUpdate, update, connID)
	s.publish(ctx, mq.SubjectObjectRemoved, update)
	if o.Type.IsTree() {
		s.spawnDrop(woodItemID, woodItemName, 1, o.TileX, o.TileY)
	}
	s.logger.Debug().Str("username", name).Str("object_id", o.ID).Msg("object removed by action")
}

func (s *Service) spawnDrop(itemID, itemName string, count, tileX, tileY int) {
	d := &domainworld.ItemDrop{
		DropID:   ulid.Make().String(),
		ItemID:   itemID,
		ItemName: itemName,
		Count:    count,
		X:        (float64(tileX) + 0.5) * domainworld.TileSize,
		Y:        (float64(tileY) + 0.5) * domainworld.TileSize,
	}
	s.mu.Lock()
	s.drops[d.DropID] = d
	s.mu.Unlock()
	s.broadcast(protocol.TypeItemDrop, protocol.ItemDrop{ItemDrop: *d, Timestamp: s.stamp()})
}

func (s *Service) handleItemPickup(_ context.Context, sess *session.Session, env protocol.Envelope) error {
	var req protocol.ItemPickup
	if err := env.Into(&req); err != nil {
		return err
	}
	name := sess.Username()
	if err := ownedBy(req.Username, name); err != nil {
		return err
	}

	s.mu.Lock()
	rt, ok := s.players[userKey(name)]
	d, found := s.drops[req.DropID]
	if !ok || !found {
		s.mu.Unlock()
		return nil
	}
	dist := mgl64.Vec2{rt.state.X, rt.state.Y}.Sub(mgl64.Vec2{d.X, d.Y}).Len()
	if dist > pickupRange {
		s.mu.Unlock()
		s.logger.Debug().Str("username", name).Float64("distance", dist).Msg("item pickup out of range")
		return nil
	}
	if !rt.state.AddItem(d.ItemID, d.ItemName, d.Count) {
		s.mu.Unlock()
		s.sendError(sess.ID(), "inventory full")
		return nil
	}
	delete(s.drops, req.DropID)
	rt.touch()
	s.mu.Unlock()

	s.broadcast(protocol.TypeItemPickup, protocol.ItemPickup{DropID: req.DropID, Username: name})
	return nil
}

func (s *Service) handleBlockPlacement(ctx context.Context, sess *session.Session, env protocol.Envelope) error {
	var req protocol.BlockPlacement
	if err := env.Into(&req); err != nil {
		return err
	}
	name := sess.Username()
	if err := ownedBy(req.Username, name); err != nil {
		return err
	}
	req.Username = name

	switch req.Action {
	case protocol.BlockPlace:
		if req.BlockTypeID == "" {
			return fmt.Errorf("%w: block type missing", protocol.ErrMalformed)
		}
		if _, err := s.chunks.PlaceBlock(ctx, name, req.BlockTypeID, req.TileX, req.TileY, req.IsFlipped); err != nil {
			if errors.Is(err, chunk.ErrTileOccupied) {
				s.sendError(sess.ID(), "tile occupied")
				return nil
			}
			s.logger.Error().Err(err).Str("username", name).Msg("place block failed")
			return nil
		}
	case protocol.BlockRemove:
		b, err := s.chunks.RemoveBlock(ctx, req.TileX, req.TileY)
		if err != nil {
			if errors.Is(err, chunk.ErrNoBlock) {
				s.sendError(sess.ID(), "no block at tile")
				return nil
			}
			s.logger.Error().Err(err).Str("username", name).Msg("remove block failed")
			return nil
		}
		req.BlockTypeID = b.Type
	default:
		return fmt.Errorf("%w: block action %q", protocol.ErrMalformed, req.Action)
	}
	s.broadcast(protocol.TypeBlockPlacement, req, sess.ID())
	s.publish(ctx, mq.SubjectBlockChanged, req)
	return nil
}

func (s *Service) handleWorldObjectUpdate(ctx context.Context, sess *session.Session, env protocol.Envelope) error {
	var req protocol.WorldObjectUpdate
	if err := env.Into(&req); err != nil {
		return err
	}
	switch req.Type {
	case protocol.ObjectRemove:
		o, err := s.chunks.RemoveObject(ctx, req.ObjectID)
		if err != nil {
			return nil
		}
		req.Data = map[string]any{"tileX": o.TileX, "tileY": o.TileY, "type": o.Type}
		s.broadcast(protocol.TypeWorldObjectUpdate, req, sess.ID())
		s.publish(ctx, mq.SubjectObjectRemoved, req)
	case protocol.ObjectAdd:
		typ, _ := req.Data["type"].(string)
		tx, okX := req.Data["tileX"].(float64)
		ty, okY := req.Data["tileY"].(float64)
		if typ == "" || !okX || !okY {
			return fmt.Errorf("%w: object add needs type, tileX and tileY", protocol.ErrMalformed)
		}
		o, err := s.chunks.AddObject(ctx, domainworld.ObjectType(typ), int(tx), int(ty))
		if err != nil {
			s.sendError(sess.ID(), "tile occupied")
			return nil
		}
		req.ObjectID = o.ID
		req.Data = map[string]any{"tileX": o.TileX, "tileY": o.TileY, "type": o.Type, "spawnTime": o.SpawnTime}
		s.broadcast(protocol.TypeWorldObjectUpdate, req)
	case protocol.ObjectUpdate:
		if !s.chunks.HasObject(req.ObjectID) {
			return nil
		}
		s.broadcast(protocol.TypeWorldObjectUpdate, req, sess.ID())
	default:
		return fmt.Errorf("%w: object update %q", protocol.ErrMalformed, req.Type)
	}
	return nil
}

func (s *Service) handleChestUpdate(ctx context.Context, sess *session.Session, env protocol.Envelope) error {
	var req protocol.ChestUpdate
	if err := env.Into(&req); err != nil {
		return err
	}
	name := sess.Username()
	if err := ownedBy(req.Username, name); err != nil {
		return err
	}
	b, err := s.chunks.UpdateChest(ctx, req.ChestID, req.TileX, req.TileY, req.Items)
	if err != nil {
		s.sendError(sess.ID(), "no chest at tile")
		return nil
	}
	req.Username = name
	req.Items = b.Chest.Items
	s.broadcast(protocol.TypeChestUpdate, req, sess.ID())
	return nil
}

func (s *Service) handleServerInfo(_ context.Context, sess *session.Session, env protocol.Envelope) error {
	s.send(sess.ID(), protocol.TypeServerInfoResponse, protocol.ServerInfoResponse{ServerInfo: s.Info(), Timestamp: s.stamp()})
	return nil
}

func (s *Service) handlePing(_ context.Context, sess *session.Session, env protocol.Envelope) error {
	var req protocol.PingRequest
	if err := env.Into(&req); err != nil {
		return err
	}
	now := s.stamp()
	if name := sess.Username(); name != "" && req.Timestamp > 0 && req.Timestamp <= now {
		s.mu.Lock()
		if rt, ok := s.players[userKey(name)]; ok {
			rt.ping = now - req.Timestamp
		}
		s.mu.Unlock()
	}
	s.send(sess.ID(), protocol.TypePingResponse, protocol.PingResponse{ClientTimestamp: req.Timestamp, ServerTimestamp: now})
	return nil
}
