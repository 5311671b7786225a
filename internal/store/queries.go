package store

import (
	"database/sql"
	"errors"
	"time"
)

func (db *PgClassroomStore) AppendChatMessage(rec ChatRecord) error {
	_, err := db.conn.Exec(
		"INSERT INTO chat_messages (id, room_id, user_id, user_name, role, message, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		rec.Id,
		rec.RoomId,
		rec.UserId,
		rec.UserName,
		rec.Role,
		rec.Message,
		rec.CreatedAt,
	)

	return err
}

func (db *PgClassroomStore) AppendDoubt(rec DoubtRecord) error {
	_, err := db.conn.Exec(
		"INSERT INTO doubts (id, room_id, user_id, user_name, text, resolved, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		rec.Id,
		rec.RoomId,
		rec.UserId,
		rec.UserName,
		rec.Text,
		rec.Resolved,
		rec.CreatedAt,
	)

	return err
}

func (db *PgClassroomStore) SaveCodeSnapshot(roomId, userId string, patch []byte) error {
	_, err := db.conn.Exec(
		"INSERT INTO code_snapshots (room_id, user_id, patch, updated_at) "+
			"VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (room_id) DO UPDATE SET user_id = $2, patch = $3, updated_at = $4",
		roomId,
		userId,
		patch,
		time.Now().UTC(),
	)

	return err
}

func (db *PgClassroomStore) SaveRoomState(roomId string, state []byte) error {
	_, err := db.conn.Exec(
		"INSERT INTO room_states (room_id, state, updated_at) "+
			"VALUES ($1, $2, $3) "+
			"ON CONFLICT (room_id) DO UPDATE SET state = $2, updated_at = $3",
		roomId,
		state,
		time.Now().UTC(),
	)

	return err
}

func (db *PgClassroomStore) GetChatHistory(roomId string, limit int) ([]ChatRecord, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, user_id, user_name, role, message, created_at FROM chat_messages "+
			"WHERE room_id = $1 ORDER BY created_at DESC LIMIT $2",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ChatRecord
	for rows.Next() {
		var rec ChatRecord
		if err := rows.Scan(
			&rec.Id,
			&rec.RoomId,
			&rec.UserId,
			&rec.UserName,
			&rec.Role,
			&rec.Message,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse into chronological order
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	return records, nil
}

func (db *PgClassroomStore) GetDoubts(roomId string, limit int) ([]DoubtRecord, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, user_id, user_name, text, resolved, created_at FROM doubts "+
			"WHERE room_id = $1 ORDER BY created_at DESC LIMIT $2",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []DoubtRecord
	for rows.Next() {
		var rec DoubtRecord
		if err := rows.Scan(
			&rec.Id,
			&rec.RoomId,
			&rec.UserId,
			&rec.UserName,
			&rec.Text,
			&rec.Resolved,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

func (db *PgClassroomStore) GetCodeSnapshot(roomId string) (*CodeSnapshot, error) {
	row := db.conn.QueryRow(
		"SELECT room_id, user_id, patch, updated_at FROM code_snapshots "+
			"WHERE room_id = $1 LIMIT 1",
		roomId,
	)

	var snap CodeSnapshot
	err := row.Scan(
		&snap.RoomId,
		&snap.UserId,
		&snap.Patch,
		&snap.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &snap, nil
}

func (db *PgClassroomStore) GetRoomState(roomId string) (*RoomStateRecord, error) {
	row := db.conn.QueryRow(
		"SELECT room_id, state, updated_at FROM room_states "+
			"WHERE room_id = $1 LIMIT 1",
		roomId,
	)

	var rec RoomStateRecord
	err := row.Scan(
		&rec.RoomId,
		&rec.State,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &rec, nil
}
