package pgstore

import (
	"time"

	"github.com/DoyleJ11/rps-rooms/internal/engine"
	"github.com/DoyleJ11/rps-rooms/internal/store"
)

// roomRow is one room document. Path is the full document path.
type roomRow struct {
	Path        string `gorm:"primaryKey;size:512"`
	Namespace   string `gorm:"size:190;not null;index:idx_rps_rooms_ns_coll"`
	Collection  string `gorm:"size:190;not null;index:idx_rps_rooms_ns_coll"`
	RoomID      string `gorm:"size:190;not null"`
	Status      string `gorm:"size:16;not null"`
	Player1ID   string `gorm:"column:player1_id;size:190;not null"`
	Player2ID   string `gorm:"column:player2_id;size:190;not null"`
	Player1Move string `gorm:"column:player1_move;size:16;not null"`
	Player2Move string `gorm:"column:player2_move;size:16;not null"`
	Round       int    `gorm:"not null"`
	Version     int64  `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (roomRow) TableName() string { return store.DefaultCollection }

func newRow(key store.Key, room engine.Room) roomRow {
	collection := key.Collection
	if collection == "" {
		collection = store.DefaultCollection
	}
	r := roomRow{
		Path:       key.Path(),
		Namespace:  key.Namespace,
		Collection: collection,
		RoomID:     key.RoomID,
		Version:    1,
	}
	r.set(room)
	return r
}

func (r *roomRow) set(room engine.Room) {
	r.Status = string(room.Status)
	r.Player1ID = room.Player1ID
	r.Player2ID = room.Player2ID
	r.Player1Move = string(room.Player1Move)
	r.Player2Move = string(room.Player2Move)
	r.Round = room.Round
}

func (r roomRow) room() engine.Room {
	return engine.Room{
		Status:      engine.Status(r.Status),
		Player1ID:   r.Player1ID,
		Player2ID:   r.Player2ID,
		Player1Move: engine.Move(r.Player1Move),
		Player2Move: engine.Move(r.Player2Move),
		Round:       r.Round,
	}
}

func (r roomRow) snapshot() store.Snapshot {
	return store.Snapshot{Version: r.Version, Exists: true, Room: r.room()}
}
