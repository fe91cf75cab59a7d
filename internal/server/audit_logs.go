package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/folio/internal/audit/domain"
	"github.com/smallbiznis/folio/pkg/db/pagination"
	"go.uber.org/zap"
)

// recordAudit writes an audit entry for the current operator. Failures are
// logged and never fail the request.
func (s *Server) recordAudit(c *gin.Context, action, targetType, targetID string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	actor := c.GetString(adminActorKey)
	err := s.audit.Record(c.Request.Context(), auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeAdmin,
		ActorID:    actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		s.log.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	if s.audit == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	startAt, err := parseOptionalTime(c.Query("start_at"), false)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	endAt, err := parseOptionalTime(c.Query("end_at"), true)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.audit.List(c.Request.Context(), auditdomain.ListRequest{
		Pagination: page,
		Action:     strings.TrimSpace(c.Query("action")),
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
