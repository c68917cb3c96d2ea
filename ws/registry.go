package ws

import (
	"context"
	"log"
	"sync"
)

// RoomLoader builds a room config for a game that exists durably but has no
// in-memory room yet (first connection after process restart, or a game
// created on another path).
type RoomLoader func(ctx context.Context, gameID string) (*RoomConfig, error)

// Registry maps game ids to their live rooms. Rooms deregister themselves on
// completion, so a resolved room is always admitting.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	loader RoomLoader
}

func NewRegistry(loader RoomLoader) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		loader: loader,
	}
}

// Create builds, registers and starts a room for cfg. If a room already
// exists for the game id the existing room is returned untouched.
func (reg *Registry) Create(cfg RoomConfig) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.createLocked(cfg)
}

func (reg *Registry) createLocked(cfg RoomConfig) *Room {
	if existing, ok := reg.rooms[cfg.GameID]; ok {
		return existing
	}
	cfg.OnComplete = reg.remove
	room := NewRoom(cfg)
	reg.rooms[cfg.GameID] = room
	go room.Run()
	log.Printf("📋 Room %s registered (%d live rooms)", cfg.GameID, len(reg.rooms))
	return room
}

// Resolve returns the live room for gameID, or ErrRoomNotFound.
func (reg *Registry) Resolve(gameID string) (*Room, error) {
	reg.mu.RLock()
	room, ok := reg.rooms[gameID]
	reg.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// ResolveOrLoad resolves a live room, falling back to the loader to revive a
// durably-stored game whose room is not in memory.
func (reg *Registry) ResolveOrLoad(ctx context.Context, gameID string) (*Room, error) {
	if room, err := reg.Resolve(gameID); err == nil {
		return room, nil
	}
	if reg.loader == nil {
		return nil, ErrRoomNotFound
	}

	cfg, err := reg.loader(ctx, gameID)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	// A concurrent load may have won the race.
	if existing, ok := reg.rooms[gameID]; ok {
		return existing, nil
	}
	return reg.createLocked(*cfg), nil
}

// Snapshots returns a point-in-time view of every live room.
func (reg *Registry) Snapshots() []*RoomSnapshot {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.RUnlock()

	snaps := make([]*RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		if snap, err := room.Snapshot(); err == nil {
			snaps = append(snaps, snap)
		}
	}
	return snaps
}

// Count reports the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// remove deregisters a completed room. Called by the room itself from its
// completion path.
func (reg *Registry) remove(gameID string) {
	reg.mu.Lock()
	delete(reg.rooms, gameID)
	count := len(reg.rooms)
	reg.mu.Unlock()
	log.Printf("🗑️  Room %s deregistered (%d live rooms)", gameID, count)
}
