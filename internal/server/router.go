package server

import (
	"net/http"

	"chatserver/internal/auth"
	"chatserver/internal/cache"
	"chatserver/internal/config"
	"chatserver/internal/metrics"
	"chatserver/internal/mw"
	"chatserver/internal/service"
	"chatserver/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps 是路由需要的全部依赖。Limiter 与 Cache 可为空。
type Deps struct {
	Config  config.Config
	DB      *gorm.DB
	Hub     *ws.Hub
	Chat    *service.Chat
	Limiter *mw.RL
	Cache   *cache.Cache
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(d.Config.Env))
	if d.Limiter != nil {
		r.Use(mw.RateLimit(d.Limiter))
	}

	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok", "presence": d.Hub.Presence().Stats()}
		if d.Cache != nil {
			body["cache"] = d.Cache.Snapshot()
		}
		c.JSON(http.StatusOK, body)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(d.Chat)
	api := r.Group("/api/v1")

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(d.Config, d.DB))

	authed.GET("/users", h.ListUsers)
	authed.POST("/users", h.Register)
	authed.GET("/users/:id", h.GetUser)
	authed.DELETE("/users/:id", h.DeleteUser)

	authed.GET("/rooms", h.ListRooms)
	authed.POST("/rooms", h.CreateRoom)
	authed.POST("/rooms/initiate", h.InitiateChat)
	authed.GET("/rooms/mine", h.MyRooms)
	authed.GET("/rooms/recent", h.RecentConversations)
	authed.GET("/rooms/:roomId", h.GetRoom)
	authed.POST("/rooms/:roomId/join", h.JoinRoom)
	authed.POST("/rooms/:roomId/leave", h.LeaveRoom)
	authed.POST("/rooms/:roomId/message", h.PostMessage)
	authed.POST("/rooms/:roomId/postmessage", h.PostMessage)
	authed.GET("/rooms/:roomId/messages", h.ListMessages)
	authed.PUT("/rooms/:roomId/mark-read", h.MarkRead)

	r.GET("/ws", ws.Serve(d.Hub, d.Chat, d.DB, d.Config))
	return r
}
