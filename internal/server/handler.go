package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"chatserver/internal/auth"
	"chatserver/internal/pagination"
	"chatserver/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入编排层。
type Handler struct {
	chat *service.Chat
}

func NewHandler(chat *service.Chat) *Handler {
	return &Handler{chat: chat}
}

// ok 输出成功响应 {"success": true, "data": ...}。
func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// statusOf 把错误类别映射为 HTTP 状态码。
func statusOf(kind string) int {
	switch kind {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindValidation, service.KindAlreadyMember, service.KindNotMember:
		return http.StatusBadRequest
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// fail 输出错误响应。存储错误只记日志，不把底层信息返回给客户端。
func fail(c *gin.Context, op string, err error) {
	kind := service.KindOf(err)
	status := statusOf(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Str("user_id", auth.GetUserID(c)).Msg("request failed")
		msg = "internal error"
	}
	c.JSON(status, gin.H{"success": false, "message": msg, "kind": kind})
}

// writeCtx 用于写操作：客户端断开不取消已开始的持久化。
func writeCtx(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func badPayload(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid payload", "kind": service.KindValidation})
}

// Register 处理用户注册请求，公开接口。
func (h *Handler) Register(c *gin.Context) {
	var req service.CreateUserInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	p, err := h.chat.Users.Create(writeCtx(c), req)
	if err != nil {
		fail(c, "register", err)
		return
	}
	ok(c, http.StatusCreated, p)
}

// Login 用用户 id 与密码换取 token 对。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		UserID   string `json:"userId"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Password == "" {
		badPayload(c)
		return
	}
	result, err := h.chat.Users.Login(writeCtx(c), req.UserID, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid credentials", "kind": service.KindUnauthorized})
			return
		}
		fail(c, "login", err)
		return
	}
	ok(c, http.StatusOK, result)
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		badPayload(c)
		return
	}
	result, err := h.chat.Users.RefreshTokens(writeCtx(c), req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			log.Warn().Err(err).Msg("refresh token")
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid refresh token", "kind": service.KindUnauthorized})
			return
		}
		fail(c, "refresh", err)
		return
	}
	ok(c, http.StatusOK, result)
}

func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.chat.Users.List(c.Request.Context())
	if err != nil {
		fail(c, "list users", err)
		return
	}
	ok(c, http.StatusOK, users)
}

func (h *Handler) GetUser(c *gin.Context) {
	p, err := h.chat.Users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "get user", err)
		return
	}
	ok(c, http.StatusOK, p)
}

// DeleteUser 删除用户，其发送过的消息保留。
func (h *Handler) DeleteUser(c *gin.Context) {
	id := c.Param("id")
	if err := h.chat.Users.Delete(writeCtx(c), id); err != nil {
		fail(c, "delete user", err)
		return
	}
	ok(c, http.StatusOK, gin.H{"deletedId": id})
}

// CreateRoom 创建群聊房间，创建者为唯一成员。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	room, err := h.chat.CreateRoom(writeCtx(c), auth.GetUserID(c), req.Name)
	if err != nil {
		fail(c, "create room", err)
		return
	}
	ok(c, http.StatusCreated, room)
}

// InitiateChat 为固定成员集合找到或创建私聊房间。
func (h *Handler) InitiateChat(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"userIds"`
		Type    string   `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	result, err := h.chat.InitiateChat(writeCtx(c), auth.GetUserID(c), req.UserIDs, req.Type)
	if err != nil {
		fail(c, "initiate chat", err)
		return
	}
	status := http.StatusOK
	if result.IsNew {
		status = http.StatusCreated
	}
	ok(c, status, result)
}

func (h *Handler) ListRooms(c *gin.Context) {
	page, err := h.chat.ListRooms(c.Request.Context(), auth.GetUserID(c), pagination.Parse(c.Query("page"), c.Query("limit")))
	if err != nil {
		fail(c, "list rooms", err)
		return
	}
	ok(c, http.StatusOK, page)
}

// MyRooms 返回当前用户所在的房间，按最近更新排序。
func (h *Handler) MyRooms(c *gin.Context) {
	rooms, err := h.chat.RoomsForUser(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, "my rooms", err)
		return
	}
	ok(c, http.StatusOK, rooms)
}

// RecentConversations 返回当前用户各房间的最新一条消息；page 从 0 开始。
func (h *Handler) RecentConversations(c *gin.Context) {
	opts := pagination.ParseZeroBased(c.Query("page"), c.Query("limit"))
	page, err := h.chat.GetRecentConversations(c.Request.Context(), auth.GetUserID(c), opts)
	if err != nil {
		fail(c, "recent conversations", err)
		return
	}
	ok(c, http.StatusOK, page)
}

// GetRoom 返回房间、成员资料与一页消息。
func (h *Handler) GetRoom(c *gin.Context) {
	opts := pagination.Parse(c.Query("page"), c.Query("limit"))
	conv, err := h.chat.GetConversationByRoom(c.Request.Context(), auth.GetUserID(c), c.Param("roomId"), opts)
	if err != nil {
		fail(c, "get room", err)
		return
	}
	ok(c, http.StatusOK, conv)
}

func (h *Handler) JoinRoom(c *gin.Context) {
	conv, err := h.chat.JoinRoom(writeCtx(c), auth.GetUserID(c), c.Param("roomId"))
	if err != nil {
		fail(c, "join room", err)
		return
	}
	ok(c, http.StatusOK, conv)
}

func (h *Handler) LeaveRoom(c *gin.Context) {
	room, err := h.chat.LeaveRoom(writeCtx(c), auth.GetUserID(c), c.Param("roomId"))
	if err != nil {
		fail(c, "leave room", err)
		return
	}
	ok(c, http.StatusOK, room)
}

// PostMessage 持久化消息并广播给房间订阅者。
func (h *Handler) PostMessage(c *gin.Context) {
	var req struct {
		MessageText string `json:"messageText"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	posted, err := h.chat.PostMessage(writeCtx(c), auth.GetUserID(c), c.Param("roomId"), req.MessageText, "http")
	if err != nil {
		fail(c, "post message", err)
		return
	}
	ok(c, http.StatusCreated, posted)
}

func (h *Handler) ListMessages(c *gin.Context) {
	opts := pagination.Parse(c.Query("page"), c.Query("limit"))
	page, err := h.chat.GetMessages(c.Request.Context(), auth.GetUserID(c), c.Param("roomId"), opts)
	if err != nil {
		fail(c, "list messages", err)
		return
	}
	ok(c, http.StatusOK, page)
}

// MarkRead 把房间内当前用户未读的消息全部标记为已读。
func (h *Handler) MarkRead(c *gin.Context) {
	n, err := h.chat.MarkRead(writeCtx(c), auth.GetUserID(c), c.Param("roomId"))
	if err != nil {
		fail(c, "mark read", err)
		return
	}
	ok(c, http.StatusOK, gin.H{"markedCount": n})
}
