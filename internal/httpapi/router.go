package httpapi

import (
	"github.com/gin-gonic/gin"

	"sudooom.social.dm/pkg/jwt"
)

// SetupRouter 设置 REST 路由
func SetupRouter(
	jwtService *jwt.Service,
	convHandler *ConversationHandler,
	msgHandler *MessageHandler,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	v1.Use(JWTAuth(jwtService))
	{
		conversations := v1.Group("/conversations")
		{
			conversations.POST("", convHandler.GetOrCreate)
			conversations.GET("", convHandler.List)
			conversations.GET("/requests", convHandler.ListRequests)
			conversations.GET("/:id", convHandler.Get)
			conversations.POST("/:id/accept", convHandler.Accept)
			conversations.POST("/:id/reject", convHandler.Reject)
			conversations.GET("/:id/messages", convHandler.Messages)
		}

		messages := v1.Group("/messages")
		{
			messages.POST("", msgHandler.Send)
			messages.POST("/delivered", msgHandler.MarkDelivered)
			messages.POST("/read", msgHandler.MarkRead)
			messages.GET("/unread", msgHandler.Unread)
			messages.DELETE("/:id", msgHandler.DeleteForMe)
			messages.POST("/delete", msgHandler.DeleteForEveryone)
		}
	}

	return r
}
