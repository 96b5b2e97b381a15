package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"knowledge_server/server/common/transport/httpresp"
)

type tokenAuth interface {
	ParseOwner(token string) (ownerID string, err error)
}

// AuthRequired resolves the owner identity from the bearer token and stores
// it in the gin context for handlers to scope their queries by.
func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		ownerID, err := auth.ParseOwner(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set("auth_owner_id", ownerID)
		c.Next()
	}
}

// bearerToken also accepts a token query parameter so browser websocket
// clients, which cannot set headers, can authenticate the stream endpoint.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return strings.TrimSpace(c.Query("token"))
}

func OwnerFromContext(c *gin.Context) (string, bool) {
	raw, ok := c.Get("auth_owner_id")
	if !ok {
		return "", false
	}
	ownerID, ok := raw.(string)
	if !ok || ownerID == "" {
		return "", false
	}
	return ownerID, true
}
