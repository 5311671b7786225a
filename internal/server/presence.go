package server

import (
	"time"

	"github.com/npezzotti/go-classroom/internal/types"
)

// Presence is always derived from live connection state. A room with no
// attached connections has no presence and no entry in the index.

func (ss *SignalServer) CountInRoom(roomId string) int {
	ss.roomsLock.RLock()
	defer ss.roomsLock.RUnlock()

	return len(ss.rooms[roomId])
}

func (ss *SignalServer) MembersOf(roomId string) []types.User {
	ss.roomsLock.RLock()
	defer ss.roomsLock.RUnlock()

	members := make([]types.User, 0, len(ss.rooms[roomId]))
	for c := range ss.rooms[roomId] {
		members = append(members, c.user)
	}

	return members
}

type RoomMetrics struct {
	RoomId       string `json:"room_id"`
	Participants int    `json:"participants"`
}

type Metrics struct {
	TotalConnections int           `json:"total_connections"`
	TotalRooms       int           `json:"total_rooms"`
	Rooms            []RoomMetrics `json:"rooms"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Metrics snapshots process-wide counts for the introspection endpoint.
// Read-only, no side effects.
func (ss *SignalServer) Metrics() Metrics {
	ss.clientsLock.Lock()
	totalConns := len(ss.clients)
	ss.clientsLock.Unlock()

	ss.roomsLock.RLock()
	defer ss.roomsLock.RUnlock()

	m := Metrics{
		TotalConnections: totalConns,
		TotalRooms:       len(ss.rooms),
		Rooms:            make([]RoomMetrics, 0, len(ss.rooms)),
		Timestamp:        Now(),
	}

	for roomId, members := range ss.rooms {
		m.Rooms = append(m.Rooms, RoomMetrics{
			RoomId:       roomId,
			Participants: len(members),
		})
	}

	return m
}
