package http

import (
	"github.com/gin-gonic/gin"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
)

const userContextKey = "authenticated_user"

func setUser(c *gin.Context, user catalog.User) {
	c.Set(userContextKey, user)
}

func getUser(c *gin.Context) (catalog.User, bool) {
	val, ok := c.Get(userContextKey)
	if !ok {
		return catalog.User{}, false
	}
	user, ok := val.(catalog.User)
	return user, ok
}
