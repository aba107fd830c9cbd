package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/admitpay/internal/audit/domain"
)

type listAuditLogsQuery struct {
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
}

// ListAuditLogs returns the audit trail of one payment or user in the order it
// was written.
func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	targetType := strings.ToLower(strings.TrimSpace(query.TargetType))
	switch targetType {
	case auditdomain.TargetTypePayment, auditdomain.TargetTypeUser:
	default:
		AbortWithError(c, newValidationError("target_type", "invalid_target_type", "target_type must be payment or user"))
		return
	}
	targetID := strings.TrimSpace(query.TargetID)
	if targetID == "" {
		AbortWithError(c, newValidationError("target_id", "invalid_target_id", "target_id is required"))
		return
	}

	logs, err := s.auditSvc.ListByTarget(c.Request.Context(), targetType, targetID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": logs})
}
