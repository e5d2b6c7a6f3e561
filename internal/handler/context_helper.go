package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/siga-edu/siga-api/internal/middleware"
	"github.com/siga-edu/siga-api/internal/models"
	appErrors "github.com/siga-edu/siga-api/pkg/errors"
	"github.com/siga-edu/siga-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func actorID(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}

// idParam parses the :id path segment. On failure it writes the error
// response and returns ok=false.
func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid id"))
		return 0, false
	}
	return id, true
}
