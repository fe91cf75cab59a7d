package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/folio/internal/audit/domain"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	"github.com/smallbiznis/folio/pkg/db/pagination"
	"go.uber.org/zap"
)

func (s *Server) ListPurchases(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.purchaseSvc.List(c.Request.Context(), purchasedomain.ListRequest{
		Status:     strings.TrimSpace(c.Query("status")),
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetPurchase(c *gin.Context) {
	detail, err := s.purchaseSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) ResendConfirmation(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, purchasedomain.ErrInvalidID)
		return
	}

	if err := s.resender.Resend(c.Request.Context(), id); err != nil {
		s.log.Warn("confirmation resend failed", zap.String("purchase_id", id.String()), zap.Error(err))
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionConfirmationResent, "purchase", id.String(), nil)
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) PurgeFailedPurchases(c *gin.Context) {
	before, err := parseOptionalTime(c.Query("before"), false)
	if err != nil || before == nil {
		AbortWithError(c, purchasedomain.ErrInvalidPurgeCutoff)
		return
	}

	deleted, err := s.purchaseSvc.PurgeFailed(c.Request.Context(), *before)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.log.Info("failed purchases purged", zap.Time("before", *before), zap.Int64("deleted", deleted))
	s.recordAudit(c, auditdomain.ActionFailedPurchasesPurged, "purchase", "", map[string]any{
		"before":  before.UTC().Format(time.RFC3339),
		"deleted": deleted,
	})
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *Server) GetSalesSummary(c *gin.Context) {
	summary, err := s.purchaseSvc.Summary(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
