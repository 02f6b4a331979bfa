package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
)

// authMiddleware resolves the X-API-Key header against the Catalog and
// stores the matched User on the gin context. It is applied to every route
// except /health and POST /users, which have no authenticated party yet.
func authMiddleware(cat catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			abortWithError(c, NewHTTPError(http.StatusUnauthorized, "client_input", "missing X-API-Key header", nil))
			return
		}

		user, err := cat.FindUserByAPIKey(c.Request.Context(), apiKey)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				abortWithError(c, NewHTTPError(http.StatusUnauthorized, "client_input", "invalid api key", nil))
				return
			}
			abortWithError(c, NewHTTPError(http.StatusInternalServerError, "internal_error", "failed to resolve api key", err))
			return
		}

		setUser(c, user)
		c.Next()
	}
}

// requireMatchingUser verifies the authenticated caller is the same user the
// request names via a user_id path/query parameter. A mismatch is reported
// as not_found rather than forbidden, matching catalog.ErrNotFound's
// existence-oracle-avoidance policy.
func requireMatchingUser(c *gin.Context, userID int64) bool {
	user, ok := getUser(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "client_input", "missing authenticated user", nil))
		return false
	}
	if user.ID != userID {
		abortWithError(c, NewHTTPError(http.StatusNotFound, "not_found", "user not found", nil))
		return false
	}
	return true
}
