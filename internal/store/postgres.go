package store

import (
	"database/sql"
)

type PgClassroomStore struct {
	conn *sql.DB
}

func NewPgClassroomStore(dsn string) (*PgClassroomStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgClassroomStore{conn: db}, nil
}

func (db *PgClassroomStore) Ping() error {
	return db.conn.Ping()
}

func (db *PgClassroomStore) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
