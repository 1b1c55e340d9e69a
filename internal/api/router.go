package api

import (
	"github.com/gin-gonic/gin"
	"github.com/pccr10001/softphone/internal/calling"
	"github.com/pccr10001/softphone/internal/repository"
)

// NewRouter wires every dashboard route onto a fresh engine.
func NewRouter(users *repository.UserRepository, phones *calling.Manager, callerName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	uh := NewUserHandler(users, phones)
	ph := NewPhoneHandler(phones, users, callerName)

	apiGroup := r.Group("/api/v1")
	{
		apiGroup.POST("/login", uh.Login)
		apiGroup.GET("/phone/ws", ph.WS)

		// Authenticated Routes
		authGroup := apiGroup.Group("/")
		authGroup.Use(AuthMiddleware(users))
		{
			authGroup.GET("/me", uh.Me)
			authGroup.PUT("/me/sip", uh.UpdateSIP)
			authGroup.POST("/change_password", uh.ChangePassword)

			authGroup.GET("/phone", ph.Snapshot)
			authGroup.GET("/phone/history", ph.History)
			authGroup.POST("/phone/connect", ph.Connect)
			authGroup.POST("/phone/disconnect", ph.Disconnect)
			authGroup.POST("/phone/dial", ph.Dial)
			authGroup.POST("/phone/answer", ph.Answer)
			authGroup.POST("/phone/decline", ph.Decline)
			authGroup.POST("/phone/hangup", ph.Hangup)
			authGroup.POST("/phone/mute", ph.Mute)
			authGroup.POST("/phone/hold", ph.Hold)
			authGroup.POST("/phone/dtmf", ph.DTMF)
			authGroup.POST("/phone/transfer", ph.Transfer)

			// Admin Only
			adminGroup := authGroup.Group("/")
			adminGroup.Use(AdminOnly())
			{
				adminGroup.GET("/users", uh.ListUsers)
				adminGroup.POST("/users", uh.CreateUser)
				adminGroup.DELETE("/users/:id", uh.DeleteUser)
			}
		}
	}
	return r
}
