package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-classroom/internal/config"
	"github.com/npezzotti/go-classroom/internal/server"
	"github.com/npezzotti/go-classroom/internal/stats"
	"github.com/npezzotti/go-classroom/internal/store"
	"github.com/npezzotti/go-classroom/internal/testutil"
	"github.com/npezzotti/go-classroom/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, st store.ClassroomStore) (*ClassroomApp, *server.SignalServer) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(8)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	logger := testutil.TestLogger(t)
	ss, err := server.NewSignalServer(logger, st, su)
	require.NoError(t, err, "failed to create signal server")

	app := NewClassroomApp(http.NewServeMux(), logger, ss, st, &config.Config{
		ServerAddr:     "localhost:8080",
		SigningKey:     testSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	return app, ss
}

func TestMetricsHandler(t *testing.T) {
	app, _ := newTestApp(t, &store.MockClassroomStore{})

	rr := httptest.NewRecorder()
	app.metrics(rr, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code, "expected 200 from the metrics endpoint")

	var m server.Metrics
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&m), "failed to decode metrics response")
	assert.Zero(t, m.TotalConnections, "expected no connections on a fresh server")
	assert.Zero(t, m.TotalRooms, "expected no rooms on a fresh server")
	assert.False(t, m.Timestamp.IsZero(), "expected a snapshot timestamp")
}

func TestHistoryHandler(t *testing.T) {
	t.Run("requires a room id", func(t *testing.T) {
		app, _ := newTestApp(t, &store.MockClassroomStore{})

		rr := httptest.NewRecorder()
		app.history(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected 400 without a room_id")
	})

	t.Run("returns stored chat and doubts", func(t *testing.T) {
		st := &store.MockClassroomStore{}
		st.On("GetChatHistory", "R1", historyPageSize).Return([]store.ChatRecord{
			{Id: "m1", RoomId: "R1", UserId: "u1", UserName: "alice", Message: "hello"},
		}, nil).Once()
		st.On("GetDoubts", "R1", historyPageSize).Return([]store.DoubtRecord{
			{Id: "d1", RoomId: "R1", UserId: "u2", UserName: "bob", Text: "why?", Resolved: true},
		}, nil).Once()
		defer st.AssertExpectations(t)

		app, _ := newTestApp(t, st)

		rr := httptest.NewRecorder()
		app.history(rr, httptest.NewRequest(http.MethodGet, "/api/history?room_id=R1", nil))

		assert.Equal(t, http.StatusOK, rr.Code, "expected 200 for a valid request")

		var resp historyResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp), "failed to decode history response")
		require.Len(t, resp.Chat, 1, "expected one chat message")
		assert.Equal(t, "hello", resp.Chat[0].Message, "expected the stored message")
		require.Len(t, resp.Doubts, 1, "expected one doubt")
		assert.Equal(t, "why?", resp.Doubts[0].Text, "expected the stored doubt")
		assert.True(t, resp.Doubts[0].Resolved, "expected the resolved flag to survive")
	})

	t.Run("store failure returns 500", func(t *testing.T) {
		st := &store.MockClassroomStore{}
		st.On("GetChatHistory", "R1", historyPageSize).Return(nil, assert.AnError).Once()
		defer st.AssertExpectations(t)

		app, _ := newTestApp(t, st)

		rr := httptest.NewRecorder()
		app.history(rr, httptest.NewRequest(http.MethodGet, "/api/history?room_id=R1", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected 500 when the store fails")
	})
}

func TestServeWs(t *testing.T) {
	t.Run("requires an authenticated user", func(t *testing.T) {
		app, _ := newTestApp(t, &store.MockClassroomStore{})

		rr := httptest.NewRecorder()
		app.serveWs(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code, "expected 401 without an identity")
	})

	t.Run("rejects disallowed origins", func(t *testing.T) {
		app, _ := newTestApp(t, &store.MockClassroomStore{})

		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Connection", "Upgrade")
		r.Header.Set("Upgrade", "websocket")
		r.Header.Set("Sec-WebSocket-Version", "13")
		r.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
		r.Header.Set("Origin", "http://evil.example.com")
		r = r.WithContext(WithUser(r.Context(), types.User{Id: "u1"}))

		rr := httptest.NewRecorder()
		app.serveWs(rr, r)

		assert.Equal(t, http.StatusForbidden, rr.Code, "expected the upgrade to be refused")
	})
}

func TestWebsocketSession(t *testing.T) {
	st := &store.MockClassroomStore{}
	st.On("GetChatHistory", "R1", mock.Anything).Return(nil, nil).Once()
	st.On("GetCodeSnapshot", "R1").Return(nil, nil).Once()
	st.On("GetRoomState", "R1").Return(nil, nil).Once()
	defer st.AssertExpectations(t)

	app, ss := newTestApp(t, st)
	go ss.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ss.Shutdown(ctx)
	}()

	srv := httptest.NewServer(app.mux.Handler)
	defer srv.Close()

	wsUrl := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+signedToken(t, testSigningKey, jwt.MapClaims{
		"user-id":   "u1",
		"user-name": "alice",
		"role":      types.RoleTeacher,
	}))

	conn, resp, err := websocket.DefaultDialer.Dial(wsUrl, header)
	require.NoError(t, err, "failed to open websocket session")
	defer conn.Close()
	if resp != nil {
		resp.Body.Close()
	}

	join := map[string]any{
		"id":        1,
		"timestamp": server.Now(),
		"join":      map[string]any{"room_id": "R1"},
	}
	require.NoError(t, conn.WriteJSON(join), "failed to send the join request")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var countMsg server.ServerMessage
	require.NoError(t, conn.ReadJSON(&countMsg), "failed to read the join reply")
	require.NotNil(t, countMsg.PresenceCount, "expected a presence count reply")
	assert.Equal(t, 1, countMsg.PresenceCount.ParticipantCount, "expected to be the only participant")

	var histMsg server.ServerMessage
	require.NoError(t, conn.ReadJSON(&histMsg), "failed to read the replay snapshot")
	assert.NotNil(t, histMsg.History, "expected a replay snapshot after the count")
}
