package call

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/videochat/groupcall/pkg/logger"
)

// Registry keeps the live rooms by their ids.
// Rooms are created on the first join and removed with the last leave.
// Lock order: registry, room, link.
type Registry struct {
	engine  Engine
	relay   Relay
	metrics Metrics
	log     *logger.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(engine Engine, opts ...Option) *Registry {
	r := &Registry{
		engine:  engine,
		relay:   nopRelay{},
		metrics: nopMetrics{},
		log:     logger.Default(),
		rooms:   make(map[string]*Room),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the room with the id, making a new empty one if needed.
func (r *Registry) GetOrCreate(roomID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[roomID]; ok {
		return room
	}
	room := newRoom(r, roomID)
	r.rooms[roomID] = room
	r.metrics.RoomOpened()
	room.log.Debug().Msg("room is created")
	return room
}

func (r *Registry) Get(roomID string) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[roomID]; ok {
		return room, nil
	}
	return nil, ErrRoomNotFound
}

// Join puts the session into the room, creating the room if needed.
// Joins that race with the removal of the room are repeated on a new one.
func (r *Registry) Join(ctx context.Context, roomID, sessionID string) (*Room, *Participant, error) {
	for {
		room := r.GetOrCreate(roomID)
		p, err := room.Join(ctx, sessionID)
		if errors.Is(err, ErrRoomClosed) {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return room, p, nil
	}
}

// RemoveIfEmpty removes the room if it has no participants.
// The check and the removal are atomic for the joins into the room.
func (r *Registry) RemoveIfEmpty(roomID string) bool {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	room.mu.Lock()
	if len(room.participants) > 0 {
		room.mu.Unlock()
		r.mu.Unlock()
		return false
	}
	room.closed = true
	room.mu.Unlock()
	delete(r.rooms, roomID)
	r.mu.Unlock()

	room.destroy()
	r.metrics.RoomClosed()
	room.log.Debug().Msg("room is removed")
	return true
}

// Rooms returns a sorted snapshot of the room ids.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Close makes everybody leave, which removes all the rooms.
func (r *Registry) Close(ctx context.Context) {
	for _, id := range r.Rooms() {
		room, err := r.Get(id)
		if err != nil {
			continue
		}
		for _, s := range room.sessions() {
			room.Leave(ctx, s)
		}
		r.RemoveIfEmpty(id)
	}
}
