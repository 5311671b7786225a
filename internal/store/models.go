package store

import "time"

type ChatRecord struct {
	Id        string
	RoomId    string
	UserId    string
	UserName  string
	Role      string
	Message   string
	CreatedAt time.Time
}

type DoubtRecord struct {
	Id        string
	RoomId    string
	UserId    string
	UserName  string
	Text      string
	Resolved  bool
	CreatedAt time.Time
}

type CodeSnapshot struct {
	RoomId    string
	UserId    string
	Patch     []byte
	UpdatedAt time.Time
}

type RoomStateRecord struct {
	RoomId    string
	State     []byte
	UpdatedAt time.Time
}
