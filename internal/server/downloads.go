package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	downloaddomain "github.com/smallbiznis/folio/internal/download/domain"
	obslogger "github.com/smallbiznis/folio/internal/observability/logger"
	"go.uber.org/zap"
)

func (s *Server) Download(c *gin.Context) {
	asset, err := s.downloadSvc.Download(c.Request.Context(), downloaddomain.Request{
		Token:     c.Param("token"),
		BookID:    c.Param("book_id"),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer asset.Body.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", asset.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, asset.Size, asset.ContentType, asset.Body, nil)
}

func (s *Server) GetReceipt(c *gin.Context) {
	receipt, filename, err := s.receipts.ReceiptForToken(c.Request.Context(), c.Query("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	body, err := io.ReadAll(receipt)
	if err != nil {
		obslogger.FromContext(c.Request.Context()).Error("receipt render failed", zap.Error(err))
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	c.Header("Content-Length", strconv.Itoa(len(body)))
	c.Data(http.StatusOK, "application/pdf", body)
}
