package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminTokenRequired accepts only `Authorization: Bearer <ADMIN_API_TOKEN>`.
func (s *Server) AdminTokenRequired() gin.HandlerFunc {
	expected := []byte(s.cfg.AdminToken)
	return func(c *gin.Context) {
		parts := strings.Fields(c.GetHeader("Authorization"))
		if len(expected) == 0 || len(parts) != 2 || parts[0] != "Bearer" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), expected) != 1 {
			s.log.Warn("admin token rejected", zap.String("path", c.FullPath()))
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
