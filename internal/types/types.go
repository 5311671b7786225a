package types

import (
	"time"
)

const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// User is the identity attached to a connection. Authentication happens
// upstream; the signal server carries the claims it was handed and nothing else.
type User struct {
	Id   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type ChatMessage struct {
	Id        string    `json:"id"`
	RoomId    string    `json:"room_id"`
	UserId    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Doubt struct {
	Id        string    `json:"id"`
	RoomId    string    `json:"room_id"`
	UserId    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Text      string    `json:"text"`
	Resolved  bool      `json:"resolved"`
	Timestamp time.Time `json:"timestamp"`
}
