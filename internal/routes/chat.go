package routes

import (
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/handlers"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterChatRoutes wires the request/response chat API.
func RegisterChatRoutes(rg *gin.RouterGroup, chat *handlers.ChatHandler) {
	api := rg.Group("/chat")
	api.Use(middleware.IdentityMiddleware())

	api.GET("/rooms", chat.GetMyRooms)
	api.GET("/rooms/:roomId", chat.GetRoomDetail)
	api.POST("/rooms/with/:partnerId", chat.OpenRoomWithPartner)
	api.DELETE("/rooms/:roomId/membership", chat.LeaveRoom)
	api.GET("/unread-count", chat.GetUnreadTotal)
}

// RegisterInternalRoutes wires service-to-service endpoints. These are not
// exposed through the gateway.
func RegisterInternalRoutes(r *gin.Engine, chat *handlers.ChatHandler) {
	internal := r.Group("/internal/chat")
	internal.Use(middleware.InternalRateLimit())

	internal.POST("/send", chat.SendInternalMessage)
}

// RegisterSocketRoutes wires the websocket upgrade endpoint.
func RegisterSocketRoutes(r *gin.Engine, gateway *handlers.SocketGateway) {
	r.GET("/ws/chat/:roomId", gateway.ServeWS)
}
