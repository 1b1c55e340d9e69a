package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pccr10001/softphone/internal/auth"
	"github.com/pccr10001/softphone/internal/model"
	"github.com/pccr10001/softphone/internal/repository"
	"github.com/pccr10001/softphone/pkg/logger"
)

const (
	ctxUser   = "user"
	ctxUserID = "userID"
	ctxRole   = "role"
)

func AuthMiddleware(users *repository.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Log.Warn("Auth Middleware: Missing Authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			logger.Log.Warn("Auth Middleware: Invalid header format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		if !authenticate(c, users, parts[1]) {
			return
		}
		c.Next()
	}
}

// authenticate validates token and loads its user into the context. On
// failure the request is aborted.
func authenticate(c *gin.Context, users *repository.UserRepository, token string) bool {
	claims, err := auth.ValidateToken(token)
	if err != nil {
		logger.Log.Warnf("Auth Middleware: Token validation failed: %v", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
		return false
	}

	// Reload so SIP profile edits apply without a new token.
	user, err := users.FindByID(claims.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return false
	}

	c.Set(ctxUser, user)
	c.Set(ctxUserID, user.ID)
	c.Set(ctxRole, user.Role)
	return true
}

func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ctxRole)
		if !exists || role != model.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) (*model.User, bool) {
	obj, exists := c.Get(ctxUser)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, false
	}
	return obj.(*model.User), true
}
