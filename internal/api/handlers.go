package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-classroom/internal/server"
	"github.com/npezzotti/go-classroom/internal/types"
)

const historyPageSize = 50

func (s *ClassroomApp) writeJson(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Println("failed to encode response:", err)
	}
}

// metrics is the read-only introspection surface: process-wide connection
// and room counts for operational monitoring.
func (s *ClassroomApp) metrics(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, s.ss.Metrics())
}

type historyResponse struct {
	Chat   []types.ChatMessage `json:"chat"`
	Doubts []types.Doubt       `json:"doubts"`
}

func (s *ClassroomApp) history(w http.ResponseWriter, r *http.Request) {
	roomId := r.URL.Query().Get("room_id")
	if roomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := historyResponse{}

	chatRecords, err := s.store.GetChatHistory(roomId, historyPageSize)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	for _, rec := range chatRecords {
		resp.Chat = append(resp.Chat, types.ChatMessage{
			Id:        rec.Id,
			RoomId:    rec.RoomId,
			UserId:    rec.UserId,
			UserName:  rec.UserName,
			Role:      rec.Role,
			Message:   rec.Message,
			Timestamp: rec.CreatedAt,
		})
	}

	doubtRecords, err := s.store.GetDoubts(roomId, historyPageSize)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	for _, rec := range doubtRecords {
		resp.Doubts = append(resp.Doubts, types.Doubt{
			Id:        rec.Id,
			RoomId:    rec.RoomId,
			UserId:    rec.UserId,
			UserName:  rec.UserName,
			Text:      rec.Text,
			Resolved:  rec.Resolved,
			Timestamp: rec.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *ClassroomApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(user, conn, s.ss, s.log)

	s.ss.RegisterClient(client)
	go client.Write()
	go client.Read()
}
