package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatserver/internal/auth"
	"chatserver/internal/config"
	"chatserver/internal/db"
	"chatserver/internal/pagination"
	"chatserver/internal/presence"
	"chatserver/internal/service"
	"chatserver/internal/store"
	"chatserver/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	hub    *ws.Hub
	deps   Deps
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb, err := db.OpenMemory()
	require.NoError(t, err)

	cfg := config.Config{Port: "0", JWTSecret: "secret", Env: "dev", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7}
	hub := ws.NewHub(presence.NewRegistry())
	rs := store.NewRoomStore(gdb)
	users := service.NewUserService(store.NewUserStore(gdb), gdb, cfg, nil)
	rooms := service.NewRoomService(rs, hub)
	msgs := service.NewMessageService(store.NewMessageStore(gdb), rs, users)
	chat := service.NewChat(users, rooms, msgs, hub)

	deps := Deps{Config: cfg, DB: gdb, Hub: hub, Chat: chat}
	return &testServer{t: t, engine: SetupRouter(deps), hub: hub, deps: deps}
}

// do 发送请求并解析统一响应信封。
func (s *testServer) do(method, path, token string, body any) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	var env envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// signup 注册并登录，返回用户 id 与 access token。
func (s *testServer) signup(first string) (string, string) {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{"firstName": first, "password": "secret1"})
	require.Equal(s.t, http.StatusCreated, code, env.Message)
	p := decode[service.UserProfile](s.t, env.Data)

	code, env = s.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"userId": p.ID, "password": "secret1"})
	require.Equal(s.t, http.StatusOK, code, env.Message)
	login := decode[service.LoginResult](s.t, env.Data)
	return p.ID, login.AccessToken
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Status   string          `json:"status"`
		Presence presence.Stats `json:"presence"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, presence.Stats{}, body.Presence)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	uid, _ := s.signup("Ann")

	code, env := s.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"userId": uid, "password": "wrong-pw"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, service.KindUnauthorized, env.Kind)

	code, env = s.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"userId": uid, "password": "secret1"})
	require.Equal(t, http.StatusOK, code)
	login := decode[service.LoginResult](t, env.Data)

	code, env = s.do(http.MethodPost, "/api/v1/auth/refresh", "", gin.H{"refresh_token": login.RefreshToken})
	require.Equal(t, http.StatusOK, code, env.Message)
	code, _ = s.do(http.MethodPost, "/api/v1/auth/refresh", "", gin.H{"refresh_token": login.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, code, "refresh token must rotate")

	code, env = s.do(http.MethodGet, "/api/v1/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)

	code, env = s.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{"firstName": "", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, service.KindValidation, env.Kind)
}

func TestUsersEndpoints(t *testing.T) {
	s := newTestServer(t)
	ann, token := s.signup("Ann")
	bob, _ := s.signup("Bob")

	code, env := s.do(http.MethodGet, "/api/v1/users", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]service.UserProfile](t, env.Data), 2)

	code, env = s.do(http.MethodGet, "/api/v1/users/"+ann, token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Ann", decode[service.UserProfile](t, env.Data).FirstName)

	code, _ = s.do(http.MethodDelete, "/api/v1/users/"+bob, token, nil)
	assert.Equal(t, http.StatusOK, code)
	code, env = s.do(http.MethodDelete, "/api/v1/users/"+bob, token, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, service.KindNotFound, env.Kind)
	code, _ = s.do(http.MethodGet, "/api/v1/users/"+bob, token, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRoomLifecycle(t *testing.T) {
	s := newTestServer(t)
	ann, annToken := s.signup("Ann")
	bob, bobToken := s.signup("Bob")

	code, env := s.do(http.MethodPost, "/api/v1/rooms", annToken, gin.H{"name": "general"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	room := decode[service.RoomView](t, env.Data)
	assert.Equal(t, []string{ann}, room.UserIDs)
	base := "/api/v1/rooms/" + room.ID

	code, env = s.do(http.MethodPost, base+"/join", bobToken, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	conv := decode[service.Conversation](t, env.Data)
	assert.Equal(t, []string{ann, bob}, conv.Room.UserIDs)
	assert.Len(t, conv.Users, 2)

	code, env = s.do(http.MethodPost, base+"/join", bobToken, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, service.KindAlreadyMember, env.Kind)

	code, env = s.do(http.MethodPost, base+"/message", annToken, gin.H{"messageText": "hello"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	posted := decode[service.PostedMessage](t, env.Data)
	assert.Equal(t, "hello", posted.Message.MessageText)
	assert.Equal(t, ann, posted.PostedByUser.ID)
	assert.Len(t, posted.UserProfiles, 2)

	code, env = s.do(http.MethodPost, base+"/message", annToken, gin.H{"messageText": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, service.KindValidation, env.Kind)

	code, env = s.do(http.MethodGet, base+"/messages?page=1&limit=10", bobToken, nil)
	require.Equal(t, http.StatusOK, code)
	page := decode[service.MessagePage](t, env.Data)
	assert.Len(t, page.Conversation, 1)
	assert.EqualValues(t, 1, page.Pagination.TotalItems)

	code, env = s.do(http.MethodGet, base+"/messages?page=-1", bobToken, nil)
	require.Equal(t, http.StatusOK, code)
	page = decode[service.MessagePage](t, env.Data)
	assert.Empty(t, page.Conversation)
	assert.False(t, page.Pagination.HasNextPage)
	assert.Equal(t, -1, page.Pagination.Page)

	for _, want := range []int64{1, 0} {
		code, env = s.do(http.MethodPut, base+"/mark-read", bobToken, nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, want, decode[struct {
			MarkedCount int64 `json:"markedCount"`
		}](t, env.Data).MarkedCount)
	}

	code, env = s.do(http.MethodGet, "/api/v1/rooms/recent?page=0", bobToken, nil)
	require.Equal(t, http.StatusOK, code)
	digest := decode[service.DigestPage](t, env.Data)
	require.Len(t, digest.Conversation, 1)
	assert.Equal(t, 1, digest.Pagination.Page)

	code, env = s.do(http.MethodGet, "/api/v1/rooms/mine", bobToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]service.RoomView](t, env.Data), 1)

	code, env = s.do(http.MethodGet, base, bobToken, nil)
	require.Equal(t, http.StatusOK, code)
	conv = decode[service.Conversation](t, env.Data)
	assert.Len(t, conv.Conversation, 1)

	code, _ = s.do(http.MethodPost, base+"/leave", bobToken, nil)
	assert.Equal(t, http.StatusOK, code)
	code, env = s.do(http.MethodPost, base+"/leave", bobToken, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, service.KindNotMember, env.Kind)

	code, env = s.do(http.MethodPost, base+"/message", bobToken, gin.H{"messageText": "still here?"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, service.KindNotMember, env.Kind)
}

func TestMissingRoom(t *testing.T) {
	s := newTestServer(t)
	_, token := s.signup("Ann")

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/rooms/nope"},
		{http.MethodPost, "/api/v1/rooms/nope/join"},
		{http.MethodPost, "/api/v1/rooms/nope/leave"},
		{http.MethodGet, "/api/v1/rooms/nope/messages"},
		{http.MethodPut, "/api/v1/rooms/nope/mark-read"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			code, env := s.do(tc.method, tc.path, token, nil)
			assert.Equal(t, http.StatusNotFound, code)
			assert.Equal(t, service.KindNotFound, env.Kind)
		})
	}
}

func TestInitiateChat(t *testing.T) {
	s := newTestServer(t)
	ann, annToken := s.signup("Ann")
	bob, bobToken := s.signup("Bob")

	code, env := s.do(http.MethodPost, "/api/v1/rooms/initiate", annToken, gin.H{"userIds": []string{bob}, "type": "consumer-to-consumer"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	first := decode[service.InitiateResult](t, env.Data)
	assert.True(t, first.IsNew)

	code, env = s.do(http.MethodPost, "/api/v1/rooms/initiate", bobToken, gin.H{"userIds": []string{ann}, "type": "consumer-to-consumer"})
	require.Equal(t, http.StatusOK, code, env.Message)
	again := decode[service.InitiateResult](t, env.Data)
	assert.False(t, again.IsNew)
	assert.Equal(t, first.ChatRoomID, again.ChatRoomID)

	code, env = s.do(http.MethodPost, "/api/v1/rooms/initiate", annToken, gin.H{"userIds": []string{}, "type": "consumer-to-consumer"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, service.KindValidation, env.Kind)

	code, env = s.do(http.MethodGet, "/api/v1/rooms?page=1&limit=5", annToken, nil)
	require.Equal(t, http.StatusOK, code)
	rooms := decode[service.RoomPage](t, env.Data)
	assert.Len(t, rooms.Rooms, 1)
}

// 认证通过后客户端断开（请求 context 被取消），写操作仍然完成。
func TestWritesSurviveClientDisconnect(t *testing.T) {
	s := newTestServer(t)
	ann, token := s.signup("Ann")

	code, env := s.do(http.MethodPost, "/api/v1/rooms", token, gin.H{"name": "general"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	room := decode[service.RoomView](t, env.Data)

	disconnect := func(c *gin.Context) {
		ctx, cancel := context.WithCancel(c.Request.Context())
		cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
	h := NewHandler(s.deps.Chat)
	r := gin.New()
	r.POST("/rooms/:roomId/message", auth.AuthMiddleware(s.deps.Config, s.deps.DB), disconnect, h.PostMessage)
	r.PUT("/rooms/:roomId/mark-read", auth.AuthMiddleware(s.deps.Config, s.deps.DB), disconnect, h.MarkRead)

	req := httptest.NewRequest(http.MethodPost, "/rooms/"+room.ID+"/message", bytes.NewBufferString(`{"messageText":"still saved"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	page, err := s.deps.Chat.GetMessages(context.Background(), ann, room.ID, pagination.Options{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Conversation, 1)
	assert.Equal(t, "still saved", page.Conversation[0].Message.MessageText)

	req = httptest.NewRequest(http.MethodPut, "/rooms/"+room.ID+"/mark-read", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestPostMessageRouteAlias(t *testing.T) {
	s := newTestServer(t)
	_, token := s.signup("Ann")
	code, env := s.do(http.MethodPost, "/api/v1/rooms", token, gin.H{"name": "general"})
	require.Equal(t, http.StatusCreated, code)
	room := decode[service.RoomView](t, env.Data)

	code, env = s.do(http.MethodPost, "/api/v1/rooms/"+room.ID+"/postmessage", token, gin.H{"messageText": "hi"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	assert.Equal(t, "hi", decode[service.PostedMessage](t, env.Data).Message.MessageText)
}
