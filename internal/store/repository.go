package store

// ClassroomStore is the durable sink for room documents. The signal server
// writes to it behind the realtime path and reads from it only to build the
// replay snapshot delivered at room join.
type ClassroomStore interface {
	Ping() error
	AppendChatMessage(rec ChatRecord) error
	AppendDoubt(rec DoubtRecord) error
	SaveCodeSnapshot(roomId, userId string, patch []byte) error
	SaveRoomState(roomId string, state []byte) error
	GetChatHistory(roomId string, limit int) ([]ChatRecord, error)
	GetDoubts(roomId string, limit int) ([]DoubtRecord, error)
	GetCodeSnapshot(roomId string) (*CodeSnapshot, error)
	GetRoomState(roomId string) (*RoomStateRecord, error)
}
