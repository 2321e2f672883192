package world

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/pixil98/go-errors"

	"pokemeetup-server/internal/domain/player"
	"pokemeetup-server/internal/domain/protocol"
	domainworld "pokemeetup-server/internal/domain/world"
)

// broadcastTick sends the positions of players that changed since the last
// tick, in batches, followed by creature movement.
func (s *Service) broadcastTick(_ context.Context) {
	ts := s.stamp()
	s.mu.Lock()
	var updates []protocol.PlayerUpdate
	for _, rt := range s.players {
		if rt.moved {
			rt.moved = false
			updates = append(updates, playerUpdateOf(rt.state, ts))
		}
	}
	s.mu.Unlock()

	sort.Slice(updates, func(i, j int) bool { return updates[i].Username < updates[j].Username })
	for start := 0; start < len(updates); start += s.opts.MovementBatchSize {
		end := min(start+s.opts.MovementBatchSize, len(updates))
		s.broadcast(protocol.TypePlayerPositionsUpdate, protocol.PlayerPositionsUpdate{Players: updates[start:end], Timestamp: ts})
	}

	if moved := s.creatures.step(s.now(), s.chunks.Walkable); len(moved) > 0 {
		s.broadcast(protocol.TypePokemonBatchUpdate, protocol.PokemonBatchUpdate{Updates: moved})
	}
}

func (s *Service) clockTick(_ context.Context) {
	now := s.now()
	s.mu.Lock()
	elapsed := now.Sub(s.lastTick).Seconds()
	s.lastTick = now
	s.mu.Unlock()

	s.broadcast(protocol.TypeWorldStateUpdate, s.advanceClock(elapsed))
}

// advanceClock moves world time forward by the given real seconds and
// refreshes the weather from where the players are.
func (s *Service) advanceClock(seconds float64) protocol.WorldStateUpdate {
	b := s.prevailingBiome()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.AdvanceTime(seconds)
	s.snap.Weather = domainworld.WeatherFor(b)
	return protocol.WorldStateUpdate{
		Seed:               s.snap.Seed,
		WorldTimeInMinutes: s.snap.WorldTimeInMinutes,
		DayLength:          s.snap.DayLength,
		PlayedTime:         s.snap.PlayedTime,
		Weather:            s.snap.Weather,
		Temperature:        domainworld.BaseTemperature(b),
		Timestamp:          s.stamp(),
	}
}

// prevailingBiome is the biome most online players stand in. Ties go to
// the alphabetically first biome.
func (s *Service) prevailingBiome() domainworld.BiomeType {
	s.mu.RLock()
	tiles := make([][2]int, 0, len(s.players))
	for _, rt := range s.players {
		tx, ty := domainworld.TileOfPixel(rt.state.X, rt.state.Y)
		tiles = append(tiles, [2]int{tx, ty})
	}
	s.mu.RUnlock()

	counts := map[domainworld.BiomeType]int{}
	for _, t := range tiles {
		if _, b, ok := s.chunks.TileInfo(t[0], t[1]); ok {
			counts[b]++
		}
	}
	best := domainworld.BiomePlains
	bestN := 0
	for b, n := range counts {
		if n > bestN || (n == bestN && b < best) {
			best, bestN = b, n
		}
	}
	return best
}

func (s *Service) cleanupTick(_ context.Context) {
	if n := s.sessions.CleanupDisconnects(); n > 0 {
		s.logger.Debug().Int("records", n).Msg("dropped stale disconnect records")
	}
	s.violMu.Lock()
	for id := range s.violations {
		if _, ok := s.sessions.Get(id); !ok {
			delete(s.violations, id)
		}
	}
	s.violMu.Unlock()
}

func (s *Service) autosaveTick(ctx context.Context) {
	if err := s.Save(ctx); err != nil {
		s.logger.Error().Err(err).Msg("autosave incomplete; will retry")
	}
	keep := make(map[domainworld.ChunkCoord]bool)
	for _, c := range s.occupiedChunks() {
		keep[c] = true
		for _, n := range c.Neighbors() {
			keep[n] = true
		}
	}
	if _, err := s.chunks.Evict(ctx, s.opts.ChunkEvictAfter, keep); err != nil {
		s.logger.Error().Err(err).Msg("chunk eviction could not save every chunk")
	}
}

type pendingSave struct {
	key     string
	state   *player.State
	version uint64
}

// Save persists modified players, the world snapshot and dirty chunks.
// Whatever fails stays dirty for the next attempt.
func (s *Service) Save(ctx context.Context) error {
	el := errors.NewErrorList()

	s.mu.RLock()
	var pending []pendingSave
	for key, rt := range s.players {
		if rt.version != rt.saved {
			pending = append(pending, pendingSave{key: key, state: rt.state.Clone(), version: rt.version})
		}
	}
	snap := *s.snap
	snap.Players = make(map[string]uuid.UUID, len(s.snap.Players))
	for k, v := range s.snap.Players {
		snap.Players[k] = v
	}
	s.mu.RUnlock()

	saved := 0
	for _, p := range pending {
		if err := s.repo.SavePlayer(ctx, p.state); err != nil {
			el.Add(fmt.Errorf("save player %s: %w", p.state.Username, err))
			continue
		}
		saved++
		s.mu.Lock()
		if rt, ok := s.players[p.key]; ok && rt.saved < p.version {
			rt.saved = p.version
		}
		s.mu.Unlock()
	}

	snap.LastPlayed = s.stamp()
	if err := s.repo.SaveWorld(ctx, &snap); err != nil {
		el.Add(fmt.Errorf("save world: %w", err))
	}
	chunks, err := s.chunks.SaveDirty(ctx)
	el.Add(err)

	s.logger.Debug().Int("players", saved).Int("chunks", chunks).Msg("world saved")
	return el.Err()
}
