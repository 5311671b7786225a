package store

import (
	"github.com/stretchr/testify/mock"
)

type MockClassroomStore struct {
	mock.Mock
}

func (m *MockClassroomStore) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockClassroomStore) AppendChatMessage(rec ChatRecord) error {
	args := m.Called(rec)
	return args.Error(0)
}
func (m *MockClassroomStore) AppendDoubt(rec DoubtRecord) error {
	args := m.Called(rec)
	return args.Error(0)
}
func (m *MockClassroomStore) SaveCodeSnapshot(roomId, userId string, patch []byte) error {
	args := m.Called(roomId, userId, patch)
	return args.Error(0)
}
func (m *MockClassroomStore) SaveRoomState(roomId string, state []byte) error {
	args := m.Called(roomId, state)
	return args.Error(0)
}
func (m *MockClassroomStore) GetChatHistory(roomId string, limit int) ([]ChatRecord, error) {
	args := m.Called(roomId, limit)
	if records, ok := args.Get(0).([]ChatRecord); ok {
		return records, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockClassroomStore) GetDoubts(roomId string, limit int) ([]DoubtRecord, error) {
	args := m.Called(roomId, limit)
	if records, ok := args.Get(0).([]DoubtRecord); ok {
		return records, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockClassroomStore) GetCodeSnapshot(roomId string) (*CodeSnapshot, error) {
	args := m.Called(roomId)
	if snap, ok := args.Get(0).(*CodeSnapshot); ok {
		return snap, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockClassroomStore) GetRoomState(roomId string) (*RoomStateRecord, error) {
	args := m.Called(roomId)
	if rec, ok := args.Get(0).(*RoomStateRecord); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}
