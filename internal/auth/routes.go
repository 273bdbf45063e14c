package auth

import "github.com/gin-gonic/gin"

// RegisterRoutes registers Auth routes. requireAuth guards /me.
func RegisterRoutes(rg *gin.RouterGroup, handler *Handler, requireAuth gin.HandlerFunc) {
	authGroup := rg.Group("/auth")
	{
		authGroup.GET("/ping", handler.Ping)
		authGroup.POST("/register", handler.Register)
		authGroup.POST("/login", handler.Login)
		authGroup.GET("/me", requireAuth, handler.Me)
	}
}
