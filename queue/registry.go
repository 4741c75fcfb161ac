package queue

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrRoomNotFound = errors.New("no room is bound to this channel")
	ErrNoRooms      = errors.New("no rooms configured")
)

type Option func(*Registry)

// WithPromRegistry registers the queue metrics on reg.
func WithPromRegistry(reg prometheus.Registerer) Option {
	return func(r *Registry) {
		r.promRegistry = reg
	}
}

// Registry owns every room's State and maps channel ids to them. It is
// immutable after NewRegistry returns.
type Registry struct {
	promRegistry prometheus.Registerer
	metrics      *metrics

	byChannel map[string]*State
	rooms     []*State
}

func NewRegistry(rooms []Room, opts ...Option) (*Registry, error) {
	if len(rooms) == 0 {
		return nil, ErrNoRooms
	}

	r := &Registry{
		byChannel: make(map[string]*State, len(rooms)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.metrics = newMetrics(r.promRegistry)

	names := make(map[string]bool, len(rooms))
	for i, room := range rooms {
		switch {
		case room.Name == "":
			return nil, fmt.Errorf("room %d: name is empty", i+1)
		case room.ChannelID == "":
			return nil, fmt.Errorf("room %s: channel id is empty", room.Name)
		case room.Capacity <= 0:
			return nil, fmt.Errorf("room %s: capacity must be positive, got %d", room.Name, room.Capacity)
		case names[room.Name]:
			return nil, fmt.Errorf("room %s: duplicate room name", room.Name)
		}
		if _, ok := r.byChannel[room.ChannelID]; ok {
			return nil, fmt.Errorf("room %s: channel %s is already bound", room.Name, room.ChannelID)
		}

		s := newState(room, r.metrics)
		names[room.Name] = true
		r.byChannel[room.ChannelID] = s
		r.rooms = append(r.rooms, s)
	}

	return r, nil
}

func (r *Registry) Resolve(channelID string) (*State, error) {
	s, ok := r.byChannel[channelID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s, nil
}

// Rooms returns the rooms in configuration order.
func (r *Registry) Rooms() []*State {
	rooms := make([]*State, len(r.rooms))
	copy(rooms, r.rooms)
	return rooms
}
